package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/diarystore/internal/engine"
	"github.com/roach88/diarystore/internal/record"
	"github.com/roach88/diarystore/internal/store"
	"github.com/roach88/diarystore/internal/testutil"
)

// caseError marks a step that failed with an error the engine did not
// classify.
const caseError = "ERROR"

// overseer reads final state when an assertion names no actor.
var overseer = record.ActorContext{ActorID: "harness", Role: record.RoleAdmin}

// Harness runs scenarios against a real engine with a deterministic clock
// and deterministic annotation ids.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.DeterministicClock
	actors map[string]record.ActorContext
}

// Option configures a scenario run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger routes engine logs to logger. Logs are discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) { c.logger = logger }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database, so scenarios never see
// each other's entities. Server timestamps start at testutil.DefaultEpoch and
// advance one second per accepted write; annotation ids are ann-0001,
// ann-0002 and so on.
//
// A non-nil error means the scenario could not be executed at all. Step and
// assertion mismatches are reported through Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := testutil.NewDeterministicClock()
	st, err := store.Open(store.DriverSQLite, ":memory:", store.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store: st,
		engine: engine.New(st,
			engine.WithClock(clock),
			engine.WithIDGenerator(testutil.NewSequentialIDs("ann")),
			engine.WithLogger(cfg.logger),
		),
		clock:  clock,
		actors: make(map[string]record.ActorContext, len(scenario.Actors)),
	}
	for handle, spec := range scenario.Actors {
		h.actors[handle] = spec.Context()
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for _, msg := range h.evaluate(ctx, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep performs one engine call, records it in the trace and checks
// the expect clause.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	actor := h.actors[step.As]
	ev := TraceEvent{Step: i + 1, Action: step.action(), Actor: actor.ActorID}

	var stepErr error
	switch {
	case step.Append != nil, step.Branch != nil:
		a := step.Append
		if a == nil {
			a = step.Branch
		}
		req, err := a.request()
		if err != nil {
			return err
		}
		req.ClientTimestamp = h.clock.Peek()
		ev.EntityID = req.EntityID
		ev.Operation = string(req.Operation)

		var out record.Event
		if step.Append != nil {
			out, stepErr = h.engine.Append(ctx, actor, req)
		} else {
			out, stepErr = h.engine.RetainBranch(ctx, actor, req)
		}
		if stepErr == nil {
			ev.SequenceID = out.SequenceID()
			if parent, ok := out.ParentSequenceID(); ok {
				ev.ParentSequence = parent
			}
			ev.Supersedes = out.Supersedes()
			ev.Payload = out.Payload().String()
			ev.ServerTimestamp = out.ServerTimestamp().UTC().Format(time.RFC3339Nano)
		}

	case step.Annotate != nil:
		a := step.Annotate
		ev.EntityID = a.EntityID
		var out record.Annotation
		out, stepErr = h.engine.AddAnnotation(ctx, actor, engine.AnnotationRequest{
			EntityID:           a.EntityID,
			Kind:               record.AnnotationKind(a.Kind),
			Text:               a.Text,
			RequiresResponse:   a.RequiresResponse,
			ParentAnnotationID: a.ParentAnnotationID,
		})
		if stepErr == nil {
			ev.AnnotationID = out.AnnotationID
		}

	case step.Resolve != nil:
		r := step.Resolve
		ev.AnnotationID = r.AnnotationID
		var out record.Annotation
		out, stepErr = h.engine.ResolveAnnotation(ctx, actor, engine.ResolveRequest{
			AnnotationID: r.AnnotationID,
			Note:         r.Note,
			SequenceID:   r.SequenceID,
		})
		if stepErr == nil {
			ev.EntityID = out.EntityID
			ev.SequenceID = out.ResolvedSequenceID
		}
	}

	ev.Case = caseOf(stepErr)
	result.AddTrace(ev)
	checkExpect(i, step.Expect, ev, stepErr, result)
	return nil
}

func caseOf(err error) string {
	if err == nil {
		return CaseOK
	}
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	return caseError
}

// checkExpect compares a step outcome with its expect clause. A step without
// one must succeed.
func checkExpect(i int, want *ExpectClause, ev TraceEvent, stepErr error, result *Result) {
	wantCase := CaseOK
	if want != nil {
		wantCase = want.Case
	}
	if ev.Case != wantCase {
		msg := fmt.Sprintf("steps[%d] (%s): expected case %s, got %s", i, ev.Action, wantCase, ev.Case)
		if stepErr != nil {
			msg += ": " + stepErr.Error()
		}
		result.AddError(msg)
		return
	}
	if want == nil {
		return
	}
	if want.SequenceID != 0 && want.SequenceID != ev.SequenceID {
		result.AddError(fmt.Sprintf("steps[%d] (%s): expected sequence_id %d, got %d", i, ev.Action, want.SequenceID, ev.SequenceID))
	}
	if want.AnnotationID != "" && want.AnnotationID != ev.AnnotationID {
		result.AddError(fmt.Sprintf("steps[%d] (%s): expected annotation_id %s, got %s", i, ev.Action, want.AnnotationID, ev.AnnotationID))
	}
}

// actorFor resolves an assertion's actor handle.
func (h *Harness) actorFor(handle string) record.ActorContext {
	if handle == "" {
		return overseer
	}
	return h.actors[handle]
}

// jsonObject encodes a YAML-decoded map as a JSON object.
func jsonObject(m map[string]any) (json.RawMessage, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
