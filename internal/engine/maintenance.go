package engine

import (
	"context"

	"github.com/roach88/diarystore/internal/record"
	"github.com/roach88/diarystore/internal/store"
)

// Verify checks the hash chain, the log head and the projection against a
// replay of the log. Anomalies are logged at error level and returned in the
// report; nothing is repaired.
//
// A report with anomalies is returned together with an INTEGRITY error.
// Only administrators may verify.
func (e *Engine) Verify(ctx context.Context, actor record.ActorContext) (store.IntegrityReport, error) {
	ctx, span := e.start(ctx, "Verify", actor)
	report, err := e.verify(ctx, actor)
	return report, finish(span, err)
}

func (e *Engine) verify(ctx context.Context, actor record.ActorContext) (store.IntegrityReport, error) {
	if actor.Role != record.RoleAdmin || actor.ActorID == "" {
		return store.IntegrityReport{}, forbiddenError("", "verification requires the ADMIN role")
	}

	report, err := e.store.VerifyChain(ctx)
	if err != nil {
		return store.IntegrityReport{}, classify("", err)
	}
	projection, err := e.store.VerifyProjection(ctx)
	if err != nil {
		return store.IntegrityReport{}, classify("", err)
	}
	report.Merge(projection)

	if report.OK() {
		e.log.Info("integrity verified",
			"events", report.EventsChecked,
			"entities", report.EntitiesChecked,
		)
		return report, nil
	}

	for _, a := range report.Anomalies {
		e.metrics.Anomalies.WithLabelValues(string(a.Kind)).Inc()
		e.log.Error("integrity anomaly",
			"kind", a.Kind,
			"entity_id", a.EntityID,
			"sequence_id", a.SequenceID,
			"detail", a.Detail,
		)
	}
	return report, &Error{
		Code:    CodeIntegrity,
		Message: (&store.IntegrityError{Report: report}).Error(),
		Err:     &store.IntegrityError{Report: report},
	}
}

// Rebuild recomputes the whole projection from the log and returns the
// number of entities written. Only administrators may rebuild.
func (e *Engine) Rebuild(ctx context.Context, actor record.ActorContext) (int, error) {
	ctx, span := e.start(ctx, "Rebuild", actor)
	n, err := e.rebuild(ctx, actor)
	return n, finish(span, err)
}

func (e *Engine) rebuild(ctx context.Context, actor record.ActorContext) (int, error) {
	if actor.Role != record.RoleAdmin || actor.ActorID == "" {
		return 0, forbiddenError("", "rebuild requires the ADMIN role")
	}
	n, err := e.store.Rebuild(ctx)
	if err != nil {
		e.log.Error("projection rebuild failed", "error", err)
		return 0, classify("", err)
	}
	e.log.Info("projection rebuilt", "entities", n, "actor_id", actor.ActorID)
	return n, nil
}
