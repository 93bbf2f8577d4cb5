package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/diarystore/internal/record"
	"github.com/roach88/diarystore/internal/testutil"
)

// createTestStore creates a new SQLite store in a temp dir with a
// deterministic clock.
func createTestStore(t *testing.T) (*Store, *testutil.DeterministicClock) {
	t.Helper()
	clock := testutil.NewDeterministicClock()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(DriverSQLite, path, WithClock(clock))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// candidate builds a candidate for an entity owned by patient-1 at site-a.
func candidate(entityID string, op record.Operation, payload string) Candidate {
	return Candidate{
		EntityID:  entityID,
		Operation: op,
		Payload:   record.Payload(payload),
		ActorID:   "patient-1",
		ActorRole: record.RolePatient,
		OwnerID:   "patient-1",
		SiteID:    "site-a",
	}
}

// mustAppend appends and fails the test on error.
func mustAppend(t *testing.T, s *Store, c Candidate, parent *int64) record.Event {
	t.Helper()
	e, err := s.Append(context.Background(), c, parent)
	require.NoError(t, err)
	return e
}

// seedE1 creates entity E1 with a CREATE and one UPDATE (sequence 1 and 2).
func seedE1(t *testing.T, s *Store) {
	t.Helper()
	mustAppend(t, s, candidate("E1", record.OpCreate, `{"severity":5}`), nil)
	mustAppend(t, s, candidate("E1", record.OpUpdate, `{"severity":4}`), record.Seq(1))
}

// snapshot captures every row the store holds, for unchanged-store checks.
type snapshot struct {
	events []record.Event
	states []record.CurrentState
	head   Head
}

func takeSnapshot(t *testing.T, s *Store) snapshot {
	t.Helper()
	ctx := context.Background()
	events, err := s.ReadAllEvents(ctx)
	require.NoError(t, err)
	states, err := s.ListStates(ctx)
	require.NoError(t, err)
	head, err := s.ReadHead(ctx)
	require.NoError(t, err)
	return snapshot{events: events, states: states, head: head}
}
