package engine

import (
	"context"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diarystore/internal/record"
	"github.com/roach88/diarystore/internal/testutil"
)

// TestInvestigatorQueryScenario: an investigator queries an entry, the
// patient answers with a CORRECTION event, and the investigator closes the
// query pointing at that event. The entity's chain never contains the
// annotation itself.
func TestInvestigatorQueryScenario(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.createFor(t, "E1", "patient-1", "site-a", `{"severity":9}`)

	q, err := f.engine.AddAnnotation(ctx, investigator, AnnotationRequest{
		EntityID:         "E1",
		Kind:             record.KindQuery,
		Text:             "Severity 9 seems high, please confirm.",
		RequiresResponse: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "ann-0001", q.AnnotationID)
	assert.Equal(t, "inv-a", q.AuthorID)
	assert.Equal(t, record.RoleInvestigator, q.AuthorRole)
	assert.Equal(t, "site-a", q.SiteID)
	assert.Equal(t, "patient-1", q.OwnerID)
	assert.False(t, q.Resolved)

	open, err := f.engine.ListAnnotations(ctx, patient1, "E1", true)
	require.NoError(t, err)
	require.Len(t, open, 1, "the owner sees queries on their record")

	fix := req("E1", record.OpCorrection, `{"severity":3}`, record.Seq(1))
	fix.ChangeReason = "typed 9 instead of 3"
	correction := f.mustAppend(t, patient1, fix)

	resolved, err := f.engine.ResolveAnnotation(ctx, investigator, ResolveRequest{
		AnnotationID: q.AnnotationID,
		Note:         "confirmed by correction",
		SequenceID:   correction.SequenceID(),
	})
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, "inv-a", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, correction.SequenceID(), resolved.ResolvedSequenceID)
	assert.Equal(t, "confirmed by correction", resolved.ResolutionNote)

	_, err = f.engine.ResolveAnnotation(ctx, investigator, ResolveRequest{AnnotationID: q.AnnotationID})
	assert.True(t, IsValidation(err), "second resolve: %v", err)

	open, err = f.engine.ListAnnotations(ctx, investigator, "E1", true)
	require.NoError(t, err)
	assert.Empty(t, open)

	h, err := f.engine.GetHistory(ctx, investigator, "E1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, seqsOf(h.Events), "annotations are not chain events")

	assert.Equal(t, 1.0, promtest.ToFloat64(f.engine.metrics.Annotations.WithLabelValues("added")))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.engine.metrics.Annotations.WithLabelValues("resolved")))
}

func TestAddAnnotationRules(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.createFor(t, "E1", "patient-1", "site-a", `{"severity":5}`)
	f.createFor(t, "E2", "patient-1", "site-a", `{"severity":5}`)

	note := func(entity string) AnnotationRequest {
		return AnnotationRequest{EntityID: entity, Kind: record.KindNote, Text: "note"}
	}

	_, err := f.engine.AddAnnotation(ctx, patient1, note("E1"))
	assert.True(t, IsForbidden(err), "patients do not annotate: %v", err)

	_, err = f.engine.AddAnnotation(ctx, outsider, note("E1"))
	assert.True(t, IsNotFound(err), "invisible entity: %v", err)

	_, err = f.engine.AddAnnotation(ctx, investigator, note("E-missing"))
	assert.True(t, IsNotFound(err))

	bad := note("E1")
	bad.Kind = "COMPLAINT"
	_, err = f.engine.AddAnnotation(ctx, investigator, bad)
	assert.True(t, IsValidation(err))

	blank := note("E1")
	blank.Text = "   "
	_, err = f.engine.AddAnnotation(ctx, investigator, blank)
	assert.True(t, IsValidation(err))

	root, err := f.engine.AddAnnotation(ctx, analyst, note("E1"))
	require.NoError(t, err)

	reply := note("E1")
	reply.Kind = record.KindClarification
	reply.ParentAnnotationID = root.AnnotationID
	threaded, err := f.engine.AddAnnotation(ctx, investigator, reply)
	require.NoError(t, err)
	assert.Equal(t, root.AnnotationID, threaded.ParentAnnotationID)

	cross := note("E2")
	cross.ParentAnnotationID = root.AnnotationID
	_, err = f.engine.AddAnnotation(ctx, investigator, cross)
	assert.True(t, IsValidation(err), "parent on another entity: %v", err)

	dangling := note("E1")
	dangling.ParentAnnotationID = "ann-9999"
	_, err = f.engine.AddAnnotation(ctx, investigator, dangling)
	assert.True(t, IsValidation(err))

	all, err := f.engine.ListAnnotations(ctx, admin, "E1", false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, root.AnnotationID, all[0].AnnotationID)
	assert.Equal(t, threaded.AnnotationID, all[1].AnnotationID)
}

func TestResolveAnnotationRules(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.createFor(t, "E1", "patient-1", "site-a", `{"severity":5}`)
	f.createFor(t, "E2", "patient-1", "site-a", `{"severity":5}`)

	q, err := f.engine.AddAnnotation(ctx, investigator, AnnotationRequest{EntityID: "E1", Kind: record.KindQuery, Text: "?"})
	require.NoError(t, err)

	_, err = f.engine.ResolveAnnotation(ctx, outsider, ResolveRequest{AnnotationID: q.AnnotationID})
	assert.True(t, IsNotFound(err), "invisible annotation: %v", err)

	_, err = f.engine.ResolveAnnotation(ctx, investigator, ResolveRequest{AnnotationID: "ann-9999"})
	assert.True(t, IsNotFound(err))

	_, err = f.engine.ResolveAnnotation(ctx, patient1, ResolveRequest{AnnotationID: q.AnnotationID})
	assert.True(t, IsForbidden(err), "patients answer with events: %v", err)

	_, err = f.engine.ResolveAnnotation(ctx, investigator, ResolveRequest{AnnotationID: q.AnnotationID, SequenceID: 2})
	assert.True(t, IsValidation(err), "sequence 2 belongs to E2: %v", err)

	_, err = f.engine.ResolveAnnotation(ctx, investigator, ResolveRequest{AnnotationID: q.AnnotationID, SequenceID: 99})
	assert.True(t, IsValidation(err))

	a, err := f.engine.ResolveAnnotation(ctx, testutil.Admin("admin-2"), ResolveRequest{AnnotationID: q.AnnotationID, SequenceID: 1})
	require.NoError(t, err)
	assert.Equal(t, "admin-2", a.ResolvedBy)
}
