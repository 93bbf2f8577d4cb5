package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diarystore/internal/record"
	"github.com/roach88/diarystore/internal/testutil"
)

func seqsOf(events []record.Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.SequenceID()
	}
	return out
}

func TestReadChain(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	seedE1(t, s)
	mustAppend(t, s, candidate("E2", record.OpCreate, `{"b":1}`), nil)
	mustAppend(t, s, candidate("E1", record.OpComplete, `{}`), record.Seq(2))

	chain, err := s.ReadChain(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 4}, seqsOf(chain))

	_, err = s.ReadChain(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadCurrentStateNotFound(t *testing.T) {
	s, _ := createTestStore(t)
	_, err := s.ReadCurrentState(context.Background(), "E1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ReadEvent(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListStatesOrdered(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	states, err := s.ListStates(ctx)
	require.NoError(t, err)
	assert.NotNil(t, states)
	assert.Empty(t, states)

	mustAppend(t, s, candidate("E2", record.OpCreate, `{"b":1}`), nil)
	mustAppend(t, s, candidate("E1", record.OpCreate, `{"a":1}`), nil)

	states, err = s.ListStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "E1", states[0].EntityID)
	assert.Equal(t, "E2", states[1].EntityID)
}

func TestReadAsOf(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	epoch := testutil.DefaultEpoch

	seedE1(t, s) // server times epoch, epoch+1s
	mustAppend(t, s, candidate("E1", record.OpUpdate, `{"severity":3}`), record.Seq(2)) // epoch+2s

	tests := []struct {
		at   time.Time
		want int64
	}{
		{epoch, 1},
		{epoch.Add(500 * time.Millisecond), 1},
		{epoch.Add(time.Second), 2},
		{epoch.Add(2 * time.Second), 3},
		{epoch.Add(time.Hour), 3},
	}
	for _, tt := range tests {
		e, err := s.ReadAsOf(ctx, "E1", tt.at)
		require.NoError(t, err, tt.at)
		assert.Equal(t, tt.want, e.SequenceID(), tt.at)
	}

	_, err := s.ReadAsOf(ctx, "E1", epoch.Add(-time.Second))
	assert.ErrorIs(t, err, ErrNotFound, "the entity did not exist yet")
}

// TestReadAsOfFollowsCanonicalBranch: as-of answers come from the branch that
// is canonical now. The event a resolution abandoned is never returned.
func TestReadAsOfFollowsCanonicalBranch(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	epoch := testutil.DefaultEpoch

	seedE1(t, s)                                                                        // 1, 2 at +0s, +1s
	_, err := s.AppendBranch(ctx, candidate("E1", record.OpUpdate, `{"severity":6}`), 1) // 3 at +2s
	require.NoError(t, err)

	e, err := s.ReadAsOf(ctx, "E1", epoch.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.SequenceID(), "a retained branch is not canonical")

	mustAppend(t, s, candidate("E1", record.OpUpdate, `{"severity":6}`), record.Seq(3)) // 4 at +3s

	tests := []struct {
		at   time.Time
		want int64
	}{
		{epoch, 1},
		{epoch.Add(time.Second), 1},
		{epoch.Add(2 * time.Second), 3},
		{epoch.Add(3 * time.Second), 4},
	}
	for _, tt := range tests {
		e, err := s.ReadAsOf(ctx, "E1", tt.at)
		require.NoError(t, err, tt.at)
		assert.Equal(t, tt.want, e.SequenceID(), tt.at)
	}
}

// TestReadsProceedWhileAppendHeld: an open write transaction does not block
// reads, and they see the last committed state.
func TestReadsProceedWhileAppendHeld(t *testing.T) {
	s, _ := createTestStore(t)
	seedE1(t, s)

	tx, err := s.DB().BeginTx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.Exec(`UPDATE log_head SET last_sequence_id = last_sequence_id + 1 WHERE id = 1`)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st, err := s.ReadCurrentState(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.LatestSequenceID)

	err = s.View(ctx, func(r *Snapshot) error {
		head, err := r.ReadHead(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(2), head.LastSequenceID, "uncommitted head claim is invisible")
		chain, err := r.ReadChain(ctx, "E1")
		if err != nil {
			return err
		}
		assert.Equal(t, []int64{1, 2}, seqsOf(chain))
		return nil
	})
	require.NoError(t, err)

	_, err = s.ReadAsOf(ctx, "E1", testutil.DefaultEpoch.Add(time.Hour))
	require.NoError(t, err)
}

// TestViewIsOneSnapshot: an append committed during a View is not seen by
// the rest of it.
func TestViewIsOneSnapshot(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	seedE1(t, s)

	err := s.View(ctx, func(r *Snapshot) error {
		before, err := r.ReadCurrentState(ctx, "E1")
		require.NoError(t, err)

		mustAppend(t, s, candidate("E1", record.OpUpdate, `{"severity":3}`), record.Seq(2))

		after, err := r.ReadCurrentState(ctx, "E1")
		require.NoError(t, err)
		assert.Equal(t, before, after)
		chain, err := r.ReadChain(ctx, "E1")
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, seqsOf(chain))
		return nil
	})
	require.NoError(t, err)

	st, err := s.ReadCurrentState(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.LatestSequenceID)
}

func TestListBranchedEntities(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	ids, err := s.ListBranchedEntities(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	seedE1(t, s)
	mustAppend(t, s, candidate("E2", record.OpCreate, `{"b":1}`), nil)
	_, err = s.AppendBranch(ctx, candidate("E1", record.OpUpdate, `{"severity":6}`), 1)
	require.NoError(t, err)
	_, err = s.AppendBranch(ctx, candidate("E1", record.OpUpdate, `{"severity":7}`), 1)
	require.NoError(t, err)

	ids, err = s.ListBranchedEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"E1"}, ids, "one entry per entity however many siblings")
}
