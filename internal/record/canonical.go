package record

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// Payload is an opaque clinical document stored as RFC 8785 canonical JSON.
// The core only ever inspects it for required-field presence.
type Payload json.RawMessage

// emptyPayload is the canonical form of a missing payload.
const emptyPayload = "{}"

// CanonicalPayload validates raw as a JSON object and returns its canonical form.
// An empty input yields the empty object.
//
// Key properties of the canonical form:
// 1. Object keys sorted by UTF-16 code units
// 2. No insignificant whitespace
// 3. Numbers in shortest round-trip form (floats are allowed, unlike sequence ids)
func CanonicalPayload(raw []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Payload(emptyPayload), nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("payload must be a JSON object")
	}
	out, err := jcs.Transform(trimmed)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return Payload(out), nil
}

// MustPayload is like CanonicalPayload but panics on error.
// Use only in tests or with literal documents.
func MustPayload(raw string) Payload {
	p, err := CanonicalPayload([]byte(raw))
	if err != nil {
		panic(err)
	}
	return p
}

// Empty reports whether p carries no fields.
func (p Payload) Empty() bool {
	return len(p) == 0 || string(p) == emptyPayload
}

// Clone returns a copy of p that shares no memory with it.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	return append(Payload(nil), p...)
}

// String returns the canonical JSON text.
func (p Payload) String() string {
	if len(p) == 0 {
		return emptyPayload
	}
	return string(p)
}

// Fields decodes the top-level members of p.
func (p Payload) Fields() (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(p) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(p, &fields); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return fields, nil
}

// Missing returns the names in required that are absent or null in p,
// preserving the order of required.
func (p Payload) Missing(required []string) ([]string, error) {
	if len(required) == 0 {
		return nil, nil
	}
	fields, err := p.Fields()
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, name := range required {
		v, ok := fields[name]
		if !ok || string(bytes.TrimSpace(v)) == "null" {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// MarshalJSON embeds the canonical document verbatim.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte(emptyPayload), nil
	}
	return p.Clone(), nil
}

// UnmarshalJSON canonicalizes the incoming document.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*p = Payload(emptyPayload)
		return nil
	}
	canonical, err := CanonicalPayload(data)
	if err != nil {
		return err
	}
	*p = canonical
	return nil
}

// NormalizeText NFC-normalizes free text at the storage boundary so that
// visually identical strings hash identically.
func NormalizeText(s string) string {
	return norm.NFC.String(s)
}
