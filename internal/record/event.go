package record

import (
	"encoding/json"
	"slices"
	"time"
)

// EventData is the plain form of an event.
//
// It is what callers fill in (minus the store-assigned fields) and what the
// store scans rows into. It is converted to an immutable Event with NewEvent.
type EventData struct {
	EntityID         string    `json:"entity_id"`
	SequenceID       int64     `json:"sequence_id"`
	ParentSequenceID *int64    `json:"parent_sequence_id"`
	Operation        Operation `json:"operation"`
	Payload          Payload   `json:"payload"`
	ActorID          string    `json:"actor_id"`
	ActorRole        Role      `json:"actor_role"`
	OwnerID          string    `json:"owner_id"`
	SiteID           string    `json:"site_id"`
	ClientTimestamp  time.Time `json:"client_timestamp"`
	ServerTimestamp  time.Time `json:"server_timestamp"`
	ChangeReason     string    `json:"change_reason,omitempty"`
	Supersedes       []int64   `json:"supersedes,omitempty"`
	PreviousHash     string    `json:"previous_hash"`
	Hash             string    `json:"hash"`
}

// Event is an immutable fact in the log.
//
// Event has no exported fields and no mutators. Every accessor that returns a
// reference type returns a copy.
type Event struct {
	d EventData
}

// NewEvent builds an Event from d. The input is copied.
func NewEvent(d EventData) Event {
	d.Payload = d.Payload.Clone()
	d.Supersedes = slices.Clone(d.Supersedes)
	if d.ParentSequenceID != nil {
		p := *d.ParentSequenceID
		d.ParentSequenceID = &p
	}
	return Event{d: d}
}

// Data returns a copy of the event's plain form.
func (e Event) Data() EventData {
	return NewEvent(e.d).d
}

func (e Event) EntityID() string           { return e.d.EntityID }
func (e Event) SequenceID() int64          { return e.d.SequenceID }
func (e Event) Operation() Operation       { return e.d.Operation }
func (e Event) Payload() Payload           { return e.d.Payload.Clone() }
func (e Event) ActorID() string            { return e.d.ActorID }
func (e Event) ActorRole() Role            { return e.d.ActorRole }
func (e Event) OwnerID() string            { return e.d.OwnerID }
func (e Event) SiteID() string             { return e.d.SiteID }
func (e Event) ClientTimestamp() time.Time { return e.d.ClientTimestamp }
func (e Event) ServerTimestamp() time.Time { return e.d.ServerTimestamp }
func (e Event) ChangeReason() string       { return e.d.ChangeReason }
func (e Event) Supersedes() []int64        { return slices.Clone(e.d.Supersedes) }
func (e Event) PreviousHash() string       { return e.d.PreviousHash }
func (e Event) Hash() string               { return e.d.Hash }

// ParentSequenceID returns the parent pointer; ok is false for a root event.
func (e Event) ParentSequenceID() (seq int64, ok bool) {
	if e.d.ParentSequenceID == nil {
		return 0, false
	}
	return *e.d.ParentSequenceID, true
}

// IsRoot reports whether e starts its entity's chain.
func (e Event) IsRoot() bool {
	return e.d.ParentSequenceID == nil
}

// SupersedesSeq reports whether e closes the branch ending at seq.
func (e Event) SupersedesSeq(seq int64) bool {
	return slices.Contains(e.d.Supersedes, seq)
}

// AccessScope implements access.Scoped.
func (e Event) AccessScope() Scope {
	return Scope{OwnerID: e.d.OwnerID, SiteID: e.d.SiteID}
}

// MarshalJSON renders the event's plain form.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.d)
}

// Seq returns a pointer to seq, for building EventData parent pointers.
func Seq(seq int64) *int64 {
	return &seq
}
