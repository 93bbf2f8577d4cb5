package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/roach88/diarystore/internal/access"
	"github.com/roach88/diarystore/internal/record"
	"github.com/roach88/diarystore/internal/store"
)

// AppendRequest is a candidate event submitted by an external collaborator.
type AppendRequest struct {
	EntityID        string           `json:"entity_id"`
	Operation       record.Operation `json:"operation"`
	Payload         json.RawMessage  `json:"payload,omitempty"`
	ExpectedParent  *int64           `json:"expected_parent,omitempty"`
	ClientTimestamp time.Time        `json:"client_timestamp"`
	ChangeReason    string           `json:"change_reason,omitempty"`

	// OwnerID and SiteID place a new entity. They are read for CREATE only;
	// later events inherit the entity's. OwnerID defaults to the actor when
	// the actor is a patient.
	OwnerID string `json:"owner_id,omitempty"`
	SiteID  string `json:"site_id,omitempty"`
}

// Append validates req and appends it to the log as an extension of
// req.ExpectedParent, which must be a live tip of the entity (nil for a
// CREATE).
//
// Returns a CONFLICT error when the expected parent is stale, VALIDATION for
// malformed input, NOT_FOUND when the entity is missing or invisible to the
// actor, FORBIDDEN when the actor may not write it, and PROJECTION when the
// operation is illegal in the entity's current state. Nothing is persisted on
// any error.
func (e *Engine) Append(ctx context.Context, actor record.ActorContext, req AppendRequest) (record.Event, error) {
	ctx, span := e.start(ctx, "Append", actor,
		AttrEntityID.String(req.EntityID),
		AttrOperation.String(string(req.Operation)),
	)
	ev, err := e.write(ctx, actor, req, false)
	if err == nil {
		span.SetAttributes(AttrSequenceID.Int64(ev.SequenceID()))
	}
	return ev, finish(span, err)
}

// RetainBranch records an edit that lost the optimistic check as a sibling
// branch, instead of discarding it. req.ExpectedParent names the event the
// edit was based on; it must belong to the entity and must no longer be a
// live tip.
//
// The entity becomes conflicted and its content is unchanged. A later Append
// that extends one of the tips resolves the conflict.
func (e *Engine) RetainBranch(ctx context.Context, actor record.ActorContext, req AppendRequest) (record.Event, error) {
	ctx, span := e.start(ctx, "RetainBranch", actor,
		AttrEntityID.String(req.EntityID),
		AttrOperation.String(string(req.Operation)),
	)
	ev, err := e.write(ctx, actor, req, true)
	if err == nil {
		span.SetAttributes(AttrSequenceID.Int64(ev.SequenceID()))
	}
	return ev, finish(span, err)
}

func (e *Engine) write(ctx context.Context, actor record.ActorContext, req AppendRequest, branch bool) (record.Event, error) {
	started := time.Now()

	ev, err := e.appendCandidate(ctx, actor, req, branch)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		code := CodeOf(err)
		e.metrics.Rejections.WithLabelValues(string(code)).Inc()
		if code == CodeConflict {
			e.metrics.Conflicts.Inc()
			e.log.Warn("append conflict",
				"entity_id", req.EntityID,
				"operation", req.Operation,
				"actor_id", actor.ActorID,
				"error", err,
			)
		} else {
			e.log.Debug("append rejected",
				"entity_id", req.EntityID,
				"operation", req.Operation,
				"actor_id", actor.ActorID,
				"code", code,
				"error", err,
			)
		}
	} else {
		e.metrics.Appends.WithLabelValues(string(ev.Operation())).Inc()
		if branch {
			e.metrics.Branches.Inc()
		}
		e.log.Info("event appended",
			"entity_id", ev.EntityID(),
			"sequence_id", ev.SequenceID(),
			"operation", ev.Operation(),
			"actor_id", ev.ActorID(),
			"branch", branch,
		)
	}
	e.metrics.AppendLatency.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	return ev, err
}

func (e *Engine) appendCandidate(ctx context.Context, actor record.ActorContext, req AppendRequest, branch bool) (record.Event, error) {
	c, err := e.candidate(ctx, actor, req)
	if err != nil {
		return record.Event{}, err
	}

	if !branch {
		ev, err := e.store.Append(ctx, c, req.ExpectedParent)
		return ev, classify(req.EntityID, err)
	}

	if req.Operation == record.OpCreate {
		return record.Event{}, validationError(req.EntityID, "a branch cannot be a CREATE")
	}
	if req.ExpectedParent == nil {
		return record.Event{}, validationError(req.EntityID, "expected_parent is required for a branch")
	}
	ev, err := e.store.AppendBranch(ctx, c, *req.ExpectedParent)
	if errors.Is(err, store.ErrNotFound) {
		// The entity was checked by candidate, so the missing row is the parent.
		return record.Event{}, &Error{
			Code:     CodeValidation,
			Message:  "expected_parent is not an event of this entity",
			EntityID: req.EntityID,
			Err:      err,
		}
	}
	return ev, classify(req.EntityID, err)
}

// candidate validates req and checks the actor's write scope.
func (e *Engine) candidate(ctx context.Context, actor record.ActorContext, req AppendRequest) (store.Candidate, error) {
	id := req.EntityID
	if actor.ActorID == "" {
		return store.Candidate{}, validationError(id, "actor_id is required")
	}
	if !actor.Role.Valid() {
		return store.Candidate{}, validationError(id, "unknown role %q", actor.Role)
	}
	if strings.TrimSpace(id) == "" {
		return store.Candidate{}, validationError(id, "entity_id is required")
	}
	if !req.Operation.Valid() {
		return store.Candidate{}, validationError(id, "unknown operation %q", req.Operation)
	}
	if req.ClientTimestamp.IsZero() {
		return store.Candidate{}, validationError(id, "client_timestamp is required")
	}

	payload, err := record.CanonicalPayload(req.Payload)
	if err != nil {
		return store.Candidate{}, validationError(id, "payload: %v", err)
	}
	if err := e.rules.Check(req.Operation, payload, req.ChangeReason); err != nil {
		return store.Candidate{}, classify(id, err)
	}

	if (req.Operation == record.OpLock || req.Operation == record.OpUnlock) && !actor.Role.Oversight() {
		return store.Candidate{}, forbiddenError(id, "%s requires an oversight role", req.Operation)
	}

	c := store.Candidate{
		EntityID:        id,
		Operation:       req.Operation,
		Payload:         payload,
		ActorID:         actor.ActorID,
		ActorRole:       actor.Role,
		ClientTimestamp: req.ClientTimestamp,
		ChangeReason:    req.ChangeReason,
	}

	existing, err := e.store.ReadCurrentState(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if req.Operation != record.OpCreate {
			return store.Candidate{}, notFoundError("entity", id)
		}
	case err != nil:
		return store.Candidate{}, classify(id, err)
	case !access.CanRead(actor, existing):
		if req.Operation == record.OpCreate {
			// The id is taken by a record this actor cannot see; say no more.
			return store.Candidate{}, &Error{Code: CodeConflict, Message: "entity_id is already in use", EntityID: id}
		}
		return store.Candidate{}, notFoundError("entity", id)
	}

	if req.Operation != record.OpCreate {
		return c, nil
	}

	c.OwnerID, c.SiteID = req.OwnerID, req.SiteID
	if c.OwnerID == "" && actor.Role == record.RolePatient {
		c.OwnerID = actor.ActorID
	}
	if c.OwnerID == "" {
		return store.Candidate{}, validationError(id, "owner_id is required")
	}
	if c.SiteID == "" {
		return store.Candidate{}, validationError(id, "site_id is required")
	}
	if access.Evaluate(actor, record.Scope{OwnerID: c.OwnerID, SiteID: c.SiteID}) == access.RuleNone {
		return store.Candidate{}, forbiddenError(id, "actor may not create records for %s at %s", c.OwnerID, c.SiteID)
	}
	return c, nil
}
