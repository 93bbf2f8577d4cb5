package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diarystore/internal/record"
)

// ev builds a minimal event for entity E1. parent <= 0 means root.
func ev(seq, parent int64, supersedes ...int64) record.Event {
	d := record.EventData{
		EntityID:   "E1",
		SequenceID: seq,
		Operation:  record.OpUpdate,
		OwnerID:    "patient-1",
		SiteID:     "site-a",
		Supersedes: supersedes,
	}
	if parent > 0 {
		d.ParentSequenceID = record.Seq(parent)
	} else {
		d.Operation = record.OpCreate
	}
	return record.NewEvent(d)
}

func seqs(events []record.Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.SequenceID()
	}
	return out
}

func TestLinearChainHasNoConflict(t *testing.T) {
	events := []record.Event{ev(1, 0), ev(2, 1), ev(5, 2)}

	m, err := Detect(events)
	require.NoError(t, err)
	assert.Nil(t, m)

	all, err := DetectAll(events)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSiblingsProduceOneMarker(t *testing.T) {
	events := []record.Event{ev(1, 0), ev(2, 1), ev(3, 1)}

	all, err := DetectAll(events)
	require.NoError(t, err)
	require.Len(t, all, 1)

	m := all[0]
	assert.Equal(t, "E1", m.EntityID)
	assert.Equal(t, int64(1), m.CommonAncestorSequenceID)
	assert.Equal(t, []int64{2, 3}, m.LeafSequenceIDs)
	assert.False(t, m.Resolved)
	assert.Zero(t, m.ResolvedBySequenceID)
	assert.Equal(t, "patient-1", m.OwnerID)
	assert.Equal(t, "site-a", m.SiteID)

	open, err := Detect(events)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, m, *open)
}

func TestLeavesFollowBranchGrowth(t *testing.T) {
	// 1 -> 2 -> 4, 1 -> 3: the branch point is 1, leaves are 3 and 4.
	events := []record.Event{ev(1, 0), ev(2, 1), ev(3, 1), ev(4, 2)}
	m, err := Detect(events)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, []int64{3, 4}, m.LeafSequenceIDs)
}

func TestResolutionClosesMarker(t *testing.T) {
	events := []record.Event{ev(1, 0), ev(2, 1), ev(3, 1), ev(4, 3, 2)}

	all, err := DetectAll(events)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Resolved)
	assert.Equal(t, int64(4), all[0].ResolvedBySequenceID)
	assert.Equal(t, []int64{2, 4}, all[0].LeafSequenceIDs)

	open, err := Detect(events)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestNestedBranchPoints(t *testing.T) {
	// 1 -> {2, 3}; 2 -> {4, 5}
	events := []record.Event{ev(1, 0), ev(2, 1), ev(3, 1), ev(4, 2), ev(5, 2)}

	all, err := DetectAll(events)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].CommonAncestorSequenceID)
	assert.Equal(t, []int64{3, 4, 5}, all[0].LeafSequenceIDs)
	assert.Equal(t, int64(2), all[1].CommonAncestorSequenceID)
	assert.Equal(t, []int64{4, 5}, all[1].LeafSequenceIDs)

	// Closing 5 resolves the inner point but the outer one still has 3 and 4 live.
	all, err = DetectAll(append(events, ev(6, 4, 5)))
	require.NoError(t, err)
	assert.False(t, all[0].Resolved)
	assert.True(t, all[1].Resolved)
}

func TestBranchesCanonicalFirst(t *testing.T) {
	tree, err := NewTree([]record.Event{ev(1, 0), ev(2, 1), ev(3, 1), ev(4, 3)})
	require.NoError(t, err)

	branches := tree.Branches(4)
	require.Len(t, branches, 2)
	assert.Equal(t, []int64{1, 3, 4}, seqs(branches[0]))
	assert.Equal(t, []int64{1, 2}, seqs(branches[1]))

	branches = tree.Branches(2)
	assert.Equal(t, []int64{1, 2}, seqs(branches[0]))
	assert.Equal(t, []int64{1, 3, 4}, seqs(branches[1]))
}

func TestTreeLeaves(t *testing.T) {
	tree, err := NewTree([]record.Event{ev(4, 3, 2), ev(1, 0), ev(3, 1), ev(2, 1)})
	require.NoError(t, err, "input order does not matter")

	assert.Equal(t, []int64{2, 4}, tree.Leaves())
	assert.Equal(t, []int64{4}, tree.LiveLeaves())
	assert.Equal(t, []int64{2, 3}, tree.Children(1))
	assert.Equal(t, int64(1), tree.Root().SequenceID())
}

func TestTreeRejectsDamagedChains(t *testing.T) {
	_, err := NewTree(nil)
	assert.ErrorIs(t, err, ErrNoRoot)

	_, err = NewTree([]record.Event{ev(1, 0), ev(3, 2)})
	assert.ErrorIs(t, err, ErrDanglingParent)

	_, err = NewTree([]record.Event{ev(1, 0), ev(2, 0)})
	assert.ErrorIs(t, err, ErrMultipleRoots)
}
