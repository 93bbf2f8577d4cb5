package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/diarystore/internal/engine"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s -> %s\n", ev.Step, ev.Actor, ev.Action, ev.EntityID, ev.Case)
		}
	}
	return buf.String()
}

// assertTraceCount checks that the action occurs exactly Count times,
// restricted to one outcome when Case is set.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	r := Result{Trace: trace}
	got := r.Count(a.Action, a.Case)
	if got == a.Count {
		return nil
	}
	what := a.Action
	if a.Case != "" {
		what += " " + a.Case
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%s occurs %d times", what, a.Count),
		Actual:   fmt.Sprintf("%s occurs %d times", what, got),
		Trace:    trace,
	}
}

// assertTraceOrder checks that actions appear in the specified order.
// Actions don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Actions) && ev.Action == a.Actions[next] {
			next++
		}
	}
	if next == len(a.Actions) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: strings.Join(a.Actions, " -> "),
		Actual:   fmt.Sprintf("%q not found after position %d", a.Actions[next], next),
		Trace:    trace,
	}
}

// assertFinalState reads the entity's current state and checks the expected
// fields using subset semantics.
func (h *Harness) assertFinalState(ctx context.Context, a Assertion) error {
	st, err := h.engine.GetCurrentState(ctx, h.actorFor(a.As), a.EntityID)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("state for %s", a.EntityID),
			Actual:   err.Error(),
		}
	}

	actual, err := asJSONMap(st)
	if err != nil {
		return err
	}
	expected, err := asJSONMap(a.Expect)
	if err != nil {
		return fmt.Errorf("final_state expect: %w", err)
	}

	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s present", a.EntityID, k),
				Actual:   "field not in current state",
			}
		}
		if !reflect.DeepEqual(got, expected[k]) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %v", a.EntityID, k, expected[k]),
				Actual:   fmt.Sprintf("%s.%s = %v", a.EntityID, k, got),
			}
		}
	}
	return nil
}

// assertOpenConflicts counts unresolved conflict markers visible to the actor.
func (h *Harness) assertOpenConflicts(ctx context.Context, a Assertion) error {
	markers, err := h.engine.ListConflicts(ctx, h.actorFor(a.As), engine.ConflictFilter{EntityID: a.EntityID})
	if err != nil {
		return err
	}
	if len(markers) != a.Count {
		return &AssertionError{
			Type:     AssertOpenConflicts,
			Expected: fmt.Sprintf("%d open conflicts", a.Count),
			Actual:   fmt.Sprintf("%d open conflicts", len(markers)),
		}
	}
	return nil
}

// assertOpenAnnotations counts unresolved annotations on an entity.
func (h *Harness) assertOpenAnnotations(ctx context.Context, a Assertion) error {
	open, err := h.engine.ListAnnotations(ctx, h.actorFor(a.As), a.EntityID, true)
	if err != nil {
		return err
	}
	if len(open) != a.Count {
		return &AssertionError{
			Type:     AssertOpenAnnotations,
			Expected: fmt.Sprintf("%d open annotations on %s", a.Count, a.EntityID),
			Actual:   fmt.Sprintf("%d open annotations on %s", len(open), a.EntityID),
		}
	}
	return nil
}

// assertNotVisible checks that the actor gets NOT_FOUND for the entity.
func (h *Harness) assertNotVisible(ctx context.Context, a Assertion) error {
	_, err := h.engine.GetCurrentState(ctx, h.actorFor(a.As), a.EntityID)
	if engine.IsNotFound(err) {
		return nil
	}
	actual := "state returned"
	if err != nil {
		actual = err.Error()
	}
	return &AssertionError{
		Type:     AssertNotVisible,
		Expected: fmt.Sprintf("%s hidden from %s", a.EntityID, a.As),
		Actual:   actual,
	}
}

// evaluate runs every assertion and returns messages for the failed ones.
func (h *Harness) evaluate(ctx context.Context, result *Result, assertions []Assertion) []string {
	var errors []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertFinalState:
			err = h.assertFinalState(ctx, a)
		case AssertOpenConflicts:
			err = h.assertOpenConflicts(ctx, a)
		case AssertOpenAnnotations:
			err = h.assertOpenAnnotations(ctx, a)
		case AssertNotVisible:
			err = h.assertNotVisible(ctx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errors = append(errors, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errors
}

// asJSONMap round-trips v through JSON so YAML and engine values compare
// with the same types (float64 numbers, []any lists).
func asJSONMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
