package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/diarystore/internal/record"
)

// Patient returns the actor context of a patient.
func Patient(id string) record.ActorContext {
	return record.ActorContext{ActorID: id, Role: record.RolePatient}
}

// Investigator returns the actor context of an investigator assigned to sites.
func Investigator(id string, sites ...string) record.ActorContext {
	return record.ActorContext{ActorID: id, Role: record.RoleInvestigator, Sites: sites}
}

// Analyst returns the actor context of an analyst assigned to sites.
func Analyst(id string, sites ...string) record.ActorContext {
	return record.ActorContext{ActorID: id, Role: record.RoleAnalyst, Sites: sites}
}

// Admin returns the actor context of an administrator.
func Admin(id string) record.ActorContext {
	return record.ActorContext{ActorID: id, Role: record.RoleAdmin}
}

// SequentialIDs generates predictable identifiers: "<prefix>-0001",
// "<prefix>-0002", and so on. Safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix defaults to "id".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix}
}

// NewID returns the next identifier.
func (g *SequentialIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
