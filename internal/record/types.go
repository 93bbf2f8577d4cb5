package record

import (
	"fmt"
	"slices"
	"time"
)

// Operation is the tagged kind of an event.
type Operation string

const (
	OpCreate               Operation = "CREATE"
	OpUpdate               Operation = "UPDATE"
	OpCorrection           Operation = "CORRECTION"
	OpDelete               Operation = "DELETE"
	OpLock                 Operation = "LOCK"
	OpUnlock               Operation = "UNLOCK"
	OpComplete             Operation = "COMPLETE"
	OpAnnotationResolution Operation = "ANNOTATION_RESOLUTION"
)

// ValidOperations lists every recognized operation kind.
var ValidOperations = []Operation{
	OpCreate,
	OpUpdate,
	OpCorrection,
	OpDelete,
	OpLock,
	OpUnlock,
	OpComplete,
	OpAnnotationResolution,
}

// Valid reports whether o is a recognized operation kind.
func (o Operation) Valid() bool {
	return slices.Contains(ValidOperations, o)
}

// ParseOperation converts s to an Operation, rejecting unknown kinds.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return op, nil
}

// Role is the role an actor operates under.
type Role string

const (
	RolePatient      Role = "PATIENT"
	RoleInvestigator Role = "INVESTIGATOR"
	RoleAnalyst      Role = "ANALYST"
	RoleAdmin        Role = "ADMIN"
)

// ValidRoles lists every recognized role.
var ValidRoles = []Role{RolePatient, RoleInvestigator, RoleAnalyst, RoleAdmin}

// Valid reports whether r is a recognized role.
func (r Role) Valid() bool {
	return slices.Contains(ValidRoles, r)
}

// ParseRole converts s to a Role, rejecting unknown roles.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Oversight reports whether r is a role that may author annotations.
func (r Role) Oversight() bool {
	return r == RoleInvestigator || r == RoleAnalyst || r == RoleAdmin
}

// ActorContext is the authenticated identity a request runs under.
// It is produced by the authentication layer and trusted as-is.
type ActorContext struct {
	ActorID string   `json:"actor_id"`
	Role    Role     `json:"role"`
	Sites   []string `json:"sites"` // active site assignments
}

// HasSite reports whether site is one of the actor's active assignments.
func (a ActorContext) HasSite(site string) bool {
	return site != "" && slices.Contains(a.Sites, site)
}

// Scope is the ownership and tenancy of a row, used by access control.
type Scope struct {
	OwnerID string `json:"owner_id"`
	SiteID  string `json:"site_id"`
}

// CurrentState is the derived projection of one entity's event chain.
//
// It is produced only by the state projector. Locked, Deleted, Complete and
// Conflicted are computed from the operations in the chain and have no setter
// anywhere in the store API.
type CurrentState struct {
	EntityID         string    `json:"entity_id"`
	LatestSequenceID int64     `json:"latest_sequence_id"` // canonical tip
	CurrentPayload   Payload   `json:"current_payload"`
	VersionCount     int64     `json:"version_count"`
	Locked           bool      `json:"locked"`
	Deleted          bool      `json:"deleted"`
	Complete         bool      `json:"complete"`
	Conflicted       bool      `json:"conflicted"`
	Tips             []int64   `json:"tips"` // live leaves, ascending
	OwnerID          string    `json:"owner_id"`
	SiteID           string    `json:"site_id"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AccessScope implements access.Scoped.
func (s CurrentState) AccessScope() Scope {
	return Scope{OwnerID: s.OwnerID, SiteID: s.SiteID}
}

// HasTip reports whether seq is one of the entity's live tips.
func (s CurrentState) HasTip(seq int64) bool {
	return slices.Contains(s.Tips, seq)
}

// Clone returns a deep copy of s.
func (s CurrentState) Clone() CurrentState {
	out := s
	out.CurrentPayload = s.CurrentPayload.Clone()
	out.Tips = slices.Clone(s.Tips)
	return out
}

// ConflictMarker describes one branch point in an entity's event tree.
type ConflictMarker struct {
	EntityID                 string  `json:"entity_id"`
	CommonAncestorSequenceID int64   `json:"common_ancestor_sequence_id"`
	LeafSequenceIDs          []int64 `json:"leaf_sequence_ids"` // ascending
	Resolved                 bool    `json:"resolved"`
	ResolvedBySequenceID     int64   `json:"resolved_by_sequence_id,omitempty"`
	OwnerID                  string  `json:"owner_id"`
	SiteID                   string  `json:"site_id"`
}

// AccessScope implements access.Scoped.
func (m ConflictMarker) AccessScope() Scope {
	return Scope{OwnerID: m.OwnerID, SiteID: m.SiteID}
}

// AnnotationKind categorizes oversight commentary.
type AnnotationKind string

const (
	KindNote          AnnotationKind = "NOTE"
	KindQuery         AnnotationKind = "QUERY"
	KindCorrection    AnnotationKind = "CORRECTION"
	KindClarification AnnotationKind = "CLARIFICATION"
)

// ValidAnnotationKinds lists every recognized annotation kind.
var ValidAnnotationKinds = []AnnotationKind{KindNote, KindQuery, KindCorrection, KindClarification}

// Valid reports whether k is a recognized annotation kind.
func (k AnnotationKind) Valid() bool {
	return slices.Contains(ValidAnnotationKinds, k)
}

// Annotation is oversight commentary attached to an entity.
// It references the entity but is never part of its event chain.
type Annotation struct {
	AnnotationID       string         `json:"annotation_id"`
	EntityID           string         `json:"entity_id"`
	AuthorID           string         `json:"author_id"`
	AuthorRole         Role           `json:"author_role"`
	SiteID             string         `json:"site_id"`
	OwnerID            string         `json:"owner_id"` // owner of the referenced entity
	Kind               AnnotationKind `json:"kind"`
	Text               string         `json:"text"`
	RequiresResponse   bool           `json:"requires_response"`
	ParentAnnotationID string         `json:"parent_annotation_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	Resolved           bool           `json:"resolved"`
	ResolvedBy         string         `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time     `json:"resolved_at,omitempty"`
	ResolutionNote     string         `json:"resolution_note,omitempty"`
	ResolvedSequenceID int64          `json:"resolved_sequence_id,omitempty"`
}

// AccessScope implements access.Scoped.
func (a Annotation) AccessScope() Scope {
	return Scope{OwnerID: a.OwnerID, SiteID: a.SiteID}
}
