package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/roach88/diarystore/internal/access"
	"github.com/roach88/diarystore/internal/record"
	"github.com/roach88/diarystore/internal/store"
)

// AnnotationRequest is new oversight commentary on an entity.
type AnnotationRequest struct {
	EntityID           string                `json:"entity_id"`
	Kind               record.AnnotationKind `json:"kind"`
	Text               string                `json:"text"`
	RequiresResponse   bool                  `json:"requires_response"`
	ParentAnnotationID string                `json:"parent_annotation_id,omitempty"`
}

// ResolveRequest closes an annotation.
type ResolveRequest struct {
	AnnotationID string `json:"annotation_id"`
	Note         string `json:"note,omitempty"`

	// SequenceID optionally names the event that answered the annotation,
	// typically a CORRECTION. It must belong to the annotated entity.
	SequenceID int64 `json:"sequence_id,omitempty"`
}

// AddAnnotation attaches commentary to an entity without touching its event
// chain.
//
// The entity must be visible to the actor (else NOT_FOUND) and the actor must
// hold an oversight role (else FORBIDDEN).
func (e *Engine) AddAnnotation(ctx context.Context, actor record.ActorContext, req AnnotationRequest) (record.Annotation, error) {
	ctx, span := e.start(ctx, "AddAnnotation", actor, AttrEntityID.String(req.EntityID))
	a, err := e.addAnnotation(ctx, actor, req)
	return a, finish(span, err)
}

func (e *Engine) addAnnotation(ctx context.Context, actor record.ActorContext, req AnnotationRequest) (record.Annotation, error) {
	st, err := e.visibleState(ctx, actor, req.EntityID)
	if err != nil {
		return record.Annotation{}, err
	}
	if !actor.Role.Oversight() {
		return record.Annotation{}, forbiddenError(req.EntityID, "%s may not annotate records", actor.Role)
	}
	if !req.Kind.Valid() {
		return record.Annotation{}, validationError(req.EntityID, "unknown annotation kind %q", req.Kind)
	}
	if strings.TrimSpace(req.Text) == "" {
		return record.Annotation{}, validationError(req.EntityID, "annotation text is required")
	}
	if req.ParentAnnotationID != "" {
		parent, err := e.store.ReadAnnotation(ctx, req.ParentAnnotationID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && parent.EntityID != req.EntityID) {
			return record.Annotation{}, validationError(req.EntityID, "parent annotation %s is not on this entity", req.ParentAnnotationID)
		}
		if err != nil {
			return record.Annotation{}, classify(req.EntityID, err)
		}
	}

	a := record.Annotation{
		AnnotationID:       e.ids.NewID(),
		EntityID:           st.EntityID,
		AuthorID:           actor.ActorID,
		AuthorRole:         actor.Role,
		SiteID:             st.SiteID,
		OwnerID:            st.OwnerID,
		Kind:               req.Kind,
		Text:               record.NormalizeText(req.Text),
		RequiresResponse:   req.RequiresResponse,
		ParentAnnotationID: req.ParentAnnotationID,
		CreatedAt:          e.clock.Now().UTC(),
	}
	if err := e.store.InsertAnnotation(ctx, a); err != nil {
		return record.Annotation{}, classify(req.EntityID, err)
	}

	e.metrics.Annotations.WithLabelValues("added").Inc()
	e.log.Info("annotation added",
		"annotation_id", a.AnnotationID,
		"entity_id", a.EntityID,
		"kind", a.Kind,
		"actor_id", actor.ActorID,
	)
	return a, nil
}

// ResolveAnnotation closes an annotation exactly once. A second resolve is a
// VALIDATION error. Data corrections are never made here; they are CORRECTION
// events appended through Append and referenced by req.SequenceID.
func (e *Engine) ResolveAnnotation(ctx context.Context, actor record.ActorContext, req ResolveRequest) (record.Annotation, error) {
	ctx, span := e.start(ctx, "ResolveAnnotation", actor)
	a, err := e.resolveAnnotation(ctx, actor, req)
	if err == nil {
		span.SetAttributes(AttrEntityID.String(a.EntityID))
	}
	return a, finish(span, err)
}

func (e *Engine) resolveAnnotation(ctx context.Context, actor record.ActorContext, req ResolveRequest) (record.Annotation, error) {
	a, err := e.store.ReadAnnotation(ctx, req.AnnotationID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !access.CanRead(actor, a)) {
		return record.Annotation{}, notFoundError("annotation", req.AnnotationID)
	}
	if err != nil {
		return record.Annotation{}, classify("", err)
	}
	if !actor.Role.Oversight() {
		return record.Annotation{}, forbiddenError(a.EntityID, "%s may not resolve annotations", actor.Role)
	}
	if a.Resolved {
		return record.Annotation{}, validationError(a.EntityID, "annotation %s is already resolved", a.AnnotationID)
	}
	if req.SequenceID != 0 {
		ev, err := e.store.ReadEvent(ctx, req.SequenceID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && ev.EntityID() != a.EntityID) {
			return record.Annotation{}, validationError(a.EntityID, "event %d is not on this entity", req.SequenceID)
		}
		if err != nil {
			return record.Annotation{}, classify(a.EntityID, err)
		}
	}

	resolved, err := e.store.ResolveAnnotation(ctx, a.AnnotationID, store.Resolution{
		ResolvedBy: actor.ActorID,
		ResolvedAt: e.clock.Now().UTC(),
		Note:       req.Note,
		SequenceID: req.SequenceID,
	})
	if err != nil {
		return record.Annotation{}, classify(a.EntityID, err)
	}

	e.metrics.Annotations.WithLabelValues("resolved").Inc()
	e.log.Info("annotation resolved",
		"annotation_id", resolved.AnnotationID,
		"entity_id", resolved.EntityID,
		"sequence_id", resolved.ResolvedSequenceID,
		"actor_id", actor.ActorID,
	)
	return resolved, nil
}

// ListAnnotations returns the annotations of an entity visible to actor, in
// creation order. With openOnly, resolved annotations are skipped.
func (e *Engine) ListAnnotations(ctx context.Context, actor record.ActorContext, entityID string, openOnly bool) ([]record.Annotation, error) {
	ctx, span := e.start(ctx, "ListAnnotations", actor, AttrEntityID.String(entityID))
	list, err := e.listAnnotations(ctx, actor, entityID, openOnly)
	return list, finish(span, err)
}

func (e *Engine) listAnnotations(ctx context.Context, actor record.ActorContext, entityID string, openOnly bool) ([]record.Annotation, error) {
	var list []record.Annotation
	err := e.store.View(ctx, func(r *store.Snapshot) error {
		if _, err := visibleIn(ctx, r, actor, entityID); err != nil {
			return err
		}
		var err error
		list, err = r.ListAnnotations(ctx, entityID, openOnly)
		return err
	})
	if err != nil {
		return nil, classify(entityID, err)
	}
	return access.Filter(actor, list), nil
}
