package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/diarystore/internal/projection"
	"github.com/roach88/diarystore/internal/record"
	"github.com/roach88/diarystore/internal/store"
)

func TestAppendCreateDefaultsOwnerToPatient(t *testing.T) {
	f := setupEngine(t)
	ev := f.createFor(t, "E1", "patient-1", "site-a", `{"severity":5}`)

	assert.Equal(t, int64(1), ev.SequenceID())
	assert.Equal(t, "patient-1", ev.OwnerID())
	assert.Equal(t, "site-a", ev.SiteID())
	assert.Equal(t, record.RolePatient, ev.ActorRole())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.engine.metrics.Appends.WithLabelValues("CREATE")))
}

func TestAppendValidation(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.createFor(t, "E1", "patient-1", "site-a", `{"severity":5}`)
	before, err := f.store.ReadHead(ctx)
	require.NoError(t, err)

	tests := []struct {
		name  string
		actor record.ActorContext
		req   func() AppendRequest
	}{
		{"missing entity id", patient1, func() AppendRequest {
			return req("", record.OpCreate, `{"a":1}`, nil)
		}},
		{"blank entity id", patient1, func() AppendRequest {
			return req("  ", record.OpCreate, `{"a":1}`, nil)
		}},
		{"unknown operation", patient1, func() AppendRequest {
			return req("E1", record.Operation("MERGE"), `{"a":1}`, record.Seq(1))
		}},
		{"missing client timestamp", patient1, func() AppendRequest {
			r := req("E1", record.OpUpdate, `{"a":1}`, record.Seq(1))
			r.ClientTimestamp = time.Time{}
			return r
		}},
		{"payload not an object", patient1, func() AppendRequest {
			return req("E1", record.OpUpdate, `[1,2]`, record.Seq(1))
		}},
		{"update without payload", patient1, func() AppendRequest {
			return req("E1", record.OpUpdate, ``, record.Seq(1))
		}},
		{"correction without reason", patient1, func() AppendRequest {
			return req("E1", record.OpCorrection, `{"severity":3}`, record.Seq(1))
		}},
		{"delete without reason", patient1, func() AppendRequest {
			return req("E1", record.OpDelete, ``, record.Seq(1))
		}},
		{"actor without id", record.ActorContext{Role: record.RolePatient}, func() AppendRequest {
			return req("E2", record.OpCreate, `{"a":1}`, nil)
		}},
		{"actor with unknown role", record.ActorContext{ActorID: "x", Role: "NURSE"}, func() AppendRequest {
			return req("E2", record.OpCreate, `{"a":1}`, nil)
		}},
		{"create without site", patient1, func() AppendRequest {
			return req("E2", record.OpCreate, `{"a":1}`, nil)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Append(ctx, tt.actor, tt.req())
			require.Error(t, err)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}

	after, err := f.store.ReadHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "rejected requests persist nothing")
}

func TestAppendStaleParentConflicts(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.createFor(t, "E1", "patient-1", "site-a", `{"severity":5}`)
	f.mustAppend(t, patient1, req("E1", record.OpUpdate, `{"severity":4}`, record.Seq(1)))

	_, err := f.engine.Append(ctx, patient1, req("E1", record.OpUpdate, `{"severity":6}`, record.Seq(1)))
	require.True(t, IsConflict(err), "got %v", err)

	var ce *store.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, int64(2), ce.Tip)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.engine.metrics.Conflicts))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.engine.metrics.Rejections.WithLabelValues("CONFLICT")))

	st, err := f.engine.GetCurrentState(ctx, patient1, "E1")
	require.NoError(t, err)
	assert.Equal(t, `{"severity":4}`, st.CurrentPayload.String())
}

// TestSeverityScenario follows two devices of one patient editing E1. Device
// B loses the optimistic check, re-reads, and lands its edit on the new tip.
func TestSeverityScenario(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	create := f.createFor(t, "E1", "patient-1", "site-a", `{"severity":5}`)
	a := f.mustAppend(t, patient1, req("E1", record.OpUpdate, `{"severity":4}`, record.Seq(create.SequenceID())))

	_, err := f.engine.Append(ctx, patient1, req("E1", record.OpUpdate, `{"severity":6}`, record.Seq(create.SequenceID())))
	require.True(t, IsConflict(err))

	b := f.mustAppend(t, patient1, req("E1", record.OpUpdate, `{"severity":6}`, record.Seq(a.SequenceID())))
	assert.Equal(t, int64(3), b.SequenceID())

	st, err := f.engine.GetCurrentState(ctx, patient1, "E1")
	require.NoError(t, err)
	assert.Equal(t, `{"severity":6}`, st.CurrentPayload.String())
	assert.Equal(t, int64(3), st.VersionCount)
	assert.False(t, st.Conflicted)
}

func TestConcurrentAppendsOnOneTip(t *testing.T) {
	f := setupEngine(t)
	f.createFor(t, "E1", "patient-1", "site-a", `{"severity":5}`)

	const writers = 8
	results := make([]error, writers)
	var g errgroup.Group
	for i := range writers {
		g.Go(func() error {
			r := req("E1", record.OpUpdate, `{"severity":1}`, record.Seq(1))
			_, results[i] = f.engine.Append(context.Background(), patient1, r)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, conflicts)
}

func TestAppendWriteScope(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.createFor(t, "E1", "patient-1", "site-a", `{"severity":5}`)

	t.Run("other patient sees not found", func(t *testing.T) {
		_, err := f.engine.Append(ctx, patient2, req("E1", record.OpUpdate, `{"severity":1}`, record.Seq(1)))
		assert.True(t, IsNotFound(err), "got %v", err)
	})

	t.Run("investigator at another site sees not found", func(t *testing.T) {
		_, err := f.engine.Append(ctx, outsider, req("E1", record.OpUpdate, `{"severity":1}`, record.Seq(1)))
		assert.True(t, IsNotFound(err), "got %v", err)
	})

	t.Run("missing entity is not found", func(t *testing.T) {
		_, err := f.engine.Append(ctx, patient1, req("E9", record.OpUpdate, `{"severity":1}`, record.Seq(1)))
		assert.True(t, IsNotFound(err), "got %v", err)
	})

	t.Run("patient cannot create for another owner", func(t *testing.T) {
		r := req("E2", record.OpCreate, `{"a":1}`, nil)
		r.OwnerID, r.SiteID = "patient-2", "site-a"
		_, err := f.engine.Append(ctx, patient1, r)
		assert.True(t, IsForbidden(err), "got %v", err)
	})

	t.Run("investigator creates at own site", func(t *testing.T) {
		r := req("E3", record.OpCreate, `{"a":1}`, nil)
		r.OwnerID, r.SiteID = "patient-3", "site-a"
		ev, err := f.engine.Append(ctx, investigator, r)
		require.NoError(t, err)
		assert.Equal(t, "patient-3", ev.OwnerID())
	})

	t.Run("investigator must name the owner", func(t *testing.T) {
		r := req("E4", record.OpCreate, `{"a":1}`, nil)
		r.SiteID = "site-a"
		_, err := f.engine.Append(ctx, investigator, r)
		assert.True(t, IsValidation(err), "got %v", err)
	})

	t.Run("taken id is a bare conflict for outsiders", func(t *testing.T) {
		r := req("E1", record.OpCreate, `{"a":1}`, nil)
		r.SiteID = "site-b"
		_, err := f.engine.Append(ctx, patient2, r)
		require.True(t, IsConflict(err), "got %v", err)
		var ce *store.ConflictError
		assert.False(t, errors.As(err, &ce), "no tip details leak")
	})

	t.Run("patients cannot lock", func(t *testing.T) {
		_, err := f.engine.Append(ctx, patient1, req("E1", record.OpLock, ``, record.Seq(1)))
		assert.True(t, IsForbidden(err), "got %v", err)
	})
}

func TestAppendProjectionRejection(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.createFor(t, "E1", "patient-1", "site-a", `{"severity":5}`)
	lock := f.mustAppend(t, investigator, req("E1", record.OpLock, ``, record.Seq(1)))

	_, err := f.engine.Append(ctx, patient1, req("E1", record.OpUpdate, `{"severity":2}`, record.Seq(lock.SequenceID())))
	require.True(t, IsProjection(err), "got %v", err)
	assert.ErrorIs(t, err, projection.ErrLocked)

	r := req("E1", record.OpCorrection, `{"severity":2}`, record.Seq(lock.SequenceID()))
	r.ChangeReason = "transcription error"
	corrected := f.mustAppend(t, investigator, r)

	st, err := f.engine.GetCurrentState(ctx, patient1, "E1")
	require.NoError(t, err)
	assert.Equal(t, corrected.SequenceID(), st.LatestSequenceID)
	assert.True(t, st.Locked)
	assert.Equal(t, `{"severity":2}`, st.CurrentPayload.String())
}

func TestRetainBranchAndResolve(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.createFor(t, "E1", "patient-1", "site-a", `{"severity":5}`)
	f.mustAppend(t, patient1, req("E1", record.OpUpdate, `{"severity":4}`, record.Seq(1)))

	branch, err := f.engine.RetainBranch(ctx, patient1, req("E1", record.OpUpdate, `{"severity":6}`, record.Seq(1)))
	require.NoError(t, err)
	assert.Equal(t, int64(3), branch.SequenceID())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.engine.metrics.Branches))

	st, err := f.engine.GetCurrentState(ctx, patient1, "E1")
	require.NoError(t, err)
	assert.True(t, st.Conflicted)
	assert.Equal(t, []int64{2, 3}, st.Tips)
	assert.Equal(t, `{"severity":4}`, st.CurrentPayload.String(), "canonical content is unchanged")

	merged := f.mustAppend(t, patient1, req("E1", record.OpUpdate, `{"severity":5}`, record.Seq(3)))
	assert.Equal(t, []int64{2}, merged.Supersedes())

	st, err = f.engine.GetCurrentState(ctx, patient1, "E1")
	require.NoError(t, err)
	assert.False(t, st.Conflicted)
	assert.Equal(t, []int64{4}, st.Tips)
	assert.Equal(t, `{"severity":5}`, st.CurrentPayload.String())
}

// A resolution onto the retained branch that does not carry a payload must
// still make that branch's content current.
func TestResolveOntoRetainedBranch(t *testing.T) {
	tests := []struct {
		name     string
		actor    record.ActorContext
		op       record.Operation
		locked   bool
		complete bool
	}{
		{"lock", investigator, record.OpLock, true, false},
		{"complete", patient1, record.OpComplete, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupEngine(t)
			ctx := context.Background()
			f.createFor(t, "E1", "patient-1", "site-a", `{"severity":5}`)
			f.mustAppend(t, patient1, req("E1", record.OpUpdate, `{"severity":6}`, record.Seq(1)))
			_, err := f.engine.RetainBranch(ctx, patient1, req("E1", record.OpUpdate, `{"severity":7}`, record.Seq(1)))
			require.NoError(t, err)

			resolved := f.mustAppend(t, tt.actor, req("E1", tt.op, ``, record.Seq(3)))
			assert.Equal(t, []int64{2}, resolved.Supersedes())

			st, err := f.engine.GetCurrentState(ctx, patient1, "E1")
			require.NoError(t, err)
			assert.Equal(t, `{"severity":7}`, st.CurrentPayload.String(), "content of the chosen branch")
			assert.Equal(t, tt.locked, st.Locked)
			assert.Equal(t, tt.complete, st.Complete)
			assert.Equal(t, int64(4), st.LatestSequenceID)
			assert.Equal(t, int64(3), st.VersionCount)
			assert.False(t, st.Conflicted)

			h, err := f.engine.GetHistory(ctx, patient1, "E1")
			require.NoError(t, err)
			require.NotEmpty(t, h.Branches)
			folded, err := projection.Fold(h.Branches[0])
			require.NoError(t, err)
			assert.True(t, projection.Equal(st, *folded), "state is the fold of the canonical branch")

			report, err := f.engine.Verify(ctx, admin)
			require.NoError(t, err)
			assert.True(t, report.OK(), "%v", report.Anomalies)
		})
	}
}

func TestRetainBranchValidation(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.createFor(t, "E1", "patient-1", "site-a", `{"severity":5}`)
	f.mustAppend(t, patient1, req("E1", record.OpUpdate, `{"severity":4}`, record.Seq(1)))
	f.createFor(t, "E2", "patient-1", "site-a", `{"mood":"ok"}`)

	tests := []struct {
		name   string
		parent *int64
		op     record.Operation
	}{
		{"no parent", nil, record.OpUpdate},
		{"parent is the tip", record.Seq(2), record.OpUpdate},
		{"parent on another entity", record.Seq(3), record.OpUpdate},
		{"parent does not exist", record.Seq(99), record.OpUpdate},
		{"create", record.Seq(1), record.OpCreate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.RetainBranch(ctx, patient1, req("E1", tt.op, `{"severity":6}`, tt.parent))
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}
}
