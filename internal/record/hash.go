package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gowebpki/jcs"
)

// Domain prefixes for hash chaining.
// Version suffix enables future algorithm migration.
const (
	DomainEvent = "diarystore/event/v1"
)

// GenesisHash is the previous_hash of the first event in a log.
const GenesisHash = "genesis"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventHash computes the chained hash of an event.
//
// Every persisted field except Hash itself is covered, including
// PreviousHash, so a retroactive edit anywhere in the log breaks every later
// hash. Integers and timestamps are hashed as strings: RFC 8785 numbers are
// IEEE doubles and cannot carry nanosecond timestamps exactly.
func EventHash(d EventData) (string, error) {
	parent := ""
	if d.ParentSequenceID != nil {
		parent = strconv.FormatInt(*d.ParentSequenceID, 10)
	}
	supersedes := make([]string, len(d.Supersedes))
	for i, s := range d.Supersedes {
		supersedes[i] = strconv.FormatInt(s, 10)
	}
	payload := d.Payload
	if len(payload) == 0 {
		payload = Payload(emptyPayload)
	}

	obj := map[string]any{
		"entity_id":          d.EntityID,
		"sequence_id":        strconv.FormatInt(d.SequenceID, 10),
		"parent_sequence_id": parent,
		"operation":          string(d.Operation),
		"payload":            json.RawMessage(payload),
		"actor_id":           d.ActorID,
		"actor_role":         string(d.ActorRole),
		"owner_id":           d.OwnerID,
		"site_id":            d.SiteID,
		"client_timestamp":   FormatTime(d.ClientTimestamp),
		"server_timestamp":   FormatTime(d.ServerTimestamp),
		"change_reason":      d.ChangeReason,
		"supersedes":         supersedes,
		"previous_hash":      d.PreviousHash,
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("EventHash: failed to marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("EventHash: failed to canonicalize: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// FormatTime renders t for hashing. The zero time renders as "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Nanos converts t to Unix nanoseconds for storage. The zero time maps to 0.
func Nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// FromNanos is the inverse of Nanos.
func FromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
