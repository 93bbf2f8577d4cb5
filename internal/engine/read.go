package engine

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/diarystore/internal/access"
	"github.com/roach88/diarystore/internal/conflict"
	"github.com/roach88/diarystore/internal/record"
	"github.com/roach88/diarystore/internal/store"
)

// History is the full event tree of one entity.
type History struct {
	EntityID string `json:"entity_id"`

	// Events holds every event of the entity in sequence order.
	Events []record.Event `json:"events"`

	// Branches holds one root-to-leaf path per leaf, the canonical branch first.
	Branches [][]record.Event `json:"branches"`

	// Conflicts holds one marker per branch point, resolved or not.
	Conflicts []record.ConflictMarker `json:"conflicts"`

	// Conflicted reports an unresolved branch point.
	Conflicted bool `json:"conflicted"`
}

// ConflictFilter narrows ListConflicts.
type ConflictFilter struct {
	SiteID          string // empty matches every site
	EntityID        string // empty matches every entity
	IncludeResolved bool
}

// GetCurrentState returns the projection of an entity.
// Missing and invisible entities both return NOT_FOUND.
func (e *Engine) GetCurrentState(ctx context.Context, actor record.ActorContext, entityID string) (record.CurrentState, error) {
	ctx, span := e.start(ctx, "GetCurrentState", actor, AttrEntityID.String(entityID))
	st, err := e.visibleState(ctx, actor, entityID)
	return st, finish(span, err)
}

// stateReader is satisfied by *store.Store and *store.Snapshot.
type stateReader interface {
	ReadCurrentState(ctx context.Context, entityID string) (record.CurrentState, error)
}

// visibleState reads the projection of an entity and checks actor can see it.
func (e *Engine) visibleState(ctx context.Context, actor record.ActorContext, entityID string) (record.CurrentState, error) {
	return visibleIn(ctx, e.store, actor, entityID)
}

func visibleIn(ctx context.Context, r stateReader, actor record.ActorContext, entityID string) (record.CurrentState, error) {
	st, err := r.ReadCurrentState(ctx, entityID)
	if errors.Is(err, store.ErrNotFound) {
		return record.CurrentState{}, notFoundError("entity", entityID)
	}
	if err != nil {
		return record.CurrentState{}, classify(entityID, err)
	}
	rows := access.Filter(actor, []record.CurrentState{st})
	if len(rows) == 0 {
		return record.CurrentState{}, notFoundError("entity", entityID)
	}
	return rows[0], nil
}

// GetHistory returns every event of an entity with its branches.
func (e *Engine) GetHistory(ctx context.Context, actor record.ActorContext, entityID string) (History, error) {
	ctx, span := e.start(ctx, "GetHistory", actor, AttrEntityID.String(entityID))
	h, err := e.history(ctx, actor, entityID)
	return h, finish(span, err)
}

// history reads the projection and the event tree in one snapshot, so the
// canonical tip always belongs to the tree it is drawn from.
func (e *Engine) history(ctx context.Context, actor record.ActorContext, entityID string) (History, error) {
	var h History
	err := e.store.View(ctx, func(r *store.Snapshot) error {
		st, err := visibleIn(ctx, r, actor, entityID)
		if err != nil {
			return err
		}
		events, err := r.ReadChain(ctx, entityID)
		if err != nil {
			return classify(entityID, err)
		}
		events = access.Filter(actor, events)

		tree, err := conflict.NewTree(events)
		if err != nil {
			return &Error{Code: CodeIntegrity, Message: err.Error(), EntityID: entityID, Err: err}
		}
		h = History{
			EntityID:   entityID,
			Events:     events,
			Branches:   tree.Branches(st.LatestSequenceID),
			Conflicts:  tree.DetectAll(),
			Conflicted: st.Conflicted,
		}
		return nil
	})
	if err != nil {
		return History{}, classify(entityID, err)
	}
	return h, nil
}

// GetAsOf returns the last event at or before ts on the entity's current
// canonical branch, the first branch GetHistory returns.
// Returns NOT_FOUND when the entity did not exist yet at ts.
func (e *Engine) GetAsOf(ctx context.Context, actor record.ActorContext, entityID string, ts time.Time) (record.Event, error) {
	ctx, span := e.start(ctx, "GetAsOf", actor, AttrEntityID.String(entityID))
	ev, err := e.asOf(ctx, actor, entityID, ts)
	return ev, finish(span, err)
}

func (e *Engine) asOf(ctx context.Context, actor record.ActorContext, entityID string, ts time.Time) (record.Event, error) {
	var ev record.Event
	err := e.store.View(ctx, func(r *store.Snapshot) error {
		if _, err := visibleIn(ctx, r, actor, entityID); err != nil {
			return err
		}
		var err error
		ev, err = r.ReadAsOf(ctx, entityID, ts)
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("entity", entityID)
		}
		return err
	})
	if err != nil {
		return record.Event{}, classify(entityID, err)
	}
	if !access.CanRead(actor, ev) {
		return record.Event{}, notFoundError("entity", entityID)
	}
	return ev, nil
}

// ListConflicts returns the branch points visible to actor, in entity order.
// Resolved branch points are included only when f.IncludeResolved is set.
func (e *Engine) ListConflicts(ctx context.Context, actor record.ActorContext, f ConflictFilter) ([]record.ConflictMarker, error) {
	ctx, span := e.start(ctx, "ListConflicts", actor)
	markers, err := e.listConflicts(ctx, actor, f)
	return markers, finish(span, err)
}

func (e *Engine) listConflicts(ctx context.Context, actor record.ActorContext, f ConflictFilter) ([]record.ConflictMarker, error) {
	var markers []record.ConflictMarker
	err := e.store.View(ctx, func(r *store.Snapshot) error {
		ids, err := r.ListBranchedEntities(ctx)
		if err != nil {
			return classify("", err)
		}
		for _, id := range ids {
			if f.EntityID != "" && id != f.EntityID {
				continue
			}
			events, err := r.ReadChain(ctx, id)
			if err != nil {
				return classify(id, err)
			}
			found, err := conflict.DetectAll(events)
			if err != nil {
				return &Error{Code: CodeIntegrity, Message: err.Error(), EntityID: id, Err: err}
			}
			for _, m := range found {
				if f.SiteID != "" && m.SiteID != f.SiteID {
					continue
				}
				if m.Resolved && !f.IncludeResolved {
					continue
				}
				markers = append(markers, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify("", err)
	}
	return access.Filter(actor, markers), nil
}
