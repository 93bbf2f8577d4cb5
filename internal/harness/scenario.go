package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/diarystore/internal/engine"
	"github.com/roach88/diarystore/internal/record"
)

// Scenario defines a conformance scenario: a cast of actors, a sequence of
// engine calls made on their behalf, and assertions over the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Actors maps the handles used by steps to actor contexts.
	Actors map[string]ActorSpec `yaml:"actors"`

	// Steps are executed in order against a fresh store.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// ActorSpec describes an actor context.
type ActorSpec struct {
	ID    string   `yaml:"id"`
	Role  string   `yaml:"role"`
	Sites []string `yaml:"sites,omitempty"`
}

// Context converts the spec to an actor context.
func (a ActorSpec) Context() record.ActorContext {
	return record.ActorContext{ActorID: a.ID, Role: record.Role(a.Role), Sites: slices.Clone(a.Sites)}
}

// Step is one engine call. Exactly one of Append, Branch, Annotate and
// Resolve is set.
type Step struct {
	// As is the actor handle the call is made for.
	As string `yaml:"as"`

	Append   *AppendStep   `yaml:"append,omitempty"`
	Branch   *AppendStep   `yaml:"branch,omitempty"`
	Annotate *AnnotateStep `yaml:"annotate,omitempty"`
	Resolve  *ResolveStep  `yaml:"resolve,omitempty"`

	// Expect specifies the expected outcome. If nil the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// action names the populated step kind.
func (s Step) action() string {
	switch {
	case s.Append != nil:
		return ActionAppend
	case s.Branch != nil:
		return ActionBranch
	case s.Annotate != nil:
		return ActionAnnotate
	case s.Resolve != nil:
		return ActionResolve
	}
	return ""
}

func (s Step) kinds() int {
	n := 0
	for _, set := range []bool{s.Append != nil, s.Branch != nil, s.Annotate != nil, s.Resolve != nil} {
		if set {
			n++
		}
	}
	return n
}

// AppendStep is an append or retain-branch request.
type AppendStep struct {
	EntityID       string         `yaml:"entity_id"`
	Operation      string         `yaml:"operation"`
	Payload        map[string]any `yaml:"payload,omitempty"`
	ExpectedParent *int64         `yaml:"expected_parent,omitempty"`
	ChangeReason   string         `yaml:"change_reason,omitempty"`
	OwnerID        string         `yaml:"owner_id,omitempty"`
	SiteID         string         `yaml:"site_id,omitempty"`
}

// AnnotateStep adds an annotation.
type AnnotateStep struct {
	EntityID           string `yaml:"entity_id"`
	Kind               string `yaml:"kind"`
	Text               string `yaml:"text"`
	RequiresResponse   bool   `yaml:"requires_response,omitempty"`
	ParentAnnotationID string `yaml:"parent_annotation_id,omitempty"`
}

// ResolveStep resolves an annotation.
type ResolveStep struct {
	AnnotationID string `yaml:"annotation_id"`
	Note         string `yaml:"note,omitempty"`
	SequenceID   int64  `yaml:"sequence_id,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Case is "OK" or an engine error code such as "CONFLICT".
	Case string `yaml:"case"`

	// SequenceID, if set, must equal the assigned sequence id.
	SequenceID int64 `yaml:"sequence_id,omitempty"`

	// AnnotationID, if set, must equal the assigned annotation id.
	AnnotationID string `yaml:"annotation_id,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// As is the actor handle reads are made for. Defaults to a built-in
	// administrator that sees everything.
	As string `yaml:"as,omitempty"`

	// EntityID selects the entity (final_state, not_visible, open_annotations,
	// open_conflicts).
	EntityID string `yaml:"entity_id,omitempty"`

	// Expect contains expected current-state fields (final_state).
	// Subset match; current_payload is compared as a nested object.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Action and Case select trace events (trace_count).
	Action string `yaml:"action,omitempty"`
	Case   string `yaml:"case,omitempty"`

	// Count is the expected number of matches.
	Count int `yaml:"count,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState      = "final_state"
	AssertTraceCount      = "trace_count"
	AssertTraceOrder      = "trace_order"
	AssertOpenConflicts   = "open_conflicts"
	AssertOpenAnnotations = "open_annotations"
	AssertNotVisible      = "not_visible"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Actors) == 0 {
		return fmt.Errorf("actors map is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for handle, a := range s.Actors {
		if a.ID == "" {
			return fmt.Errorf("actors[%s]: id is required", handle)
		}
		if _, err := record.ParseRole(a.Role); err != nil {
			return fmt.Errorf("actors[%s]: %w", handle, err)
		}
	}

	for i, step := range s.Steps {
		if _, ok := s.Actors[step.As]; !ok {
			return fmt.Errorf("steps[%d]: unknown actor %q", i, step.As)
		}
		if step.kinds() != 1 {
			return fmt.Errorf("steps[%d]: exactly one of append, branch, annotate, resolve is required", i)
		}
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("steps[%d].expect: case is required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], s.Actors); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch {
	case step.Append != nil:
		return validateAppendStep(step.Append)
	case step.Branch != nil:
		return validateAppendStep(step.Branch)
	case step.Annotate != nil:
		if step.Annotate.EntityID == "" {
			return fmt.Errorf("annotate: entity_id is required")
		}
	case step.Resolve != nil:
		if step.Resolve.AnnotationID == "" {
			return fmt.Errorf("resolve: annotation_id is required")
		}
	}
	return nil
}

func validateAppendStep(a *AppendStep) error {
	if a.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if _, err := record.ParseOperation(a.Operation); err != nil {
		return err
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, actors map[string]ActorSpec) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.As != "" {
		if _, ok := actors[a.As]; !ok {
			return fmt.Errorf("assertions[%d]: unknown actor %q", index, a.As)
		}
	}

	switch a.Type {
	case AssertFinalState:
		if a.EntityID == "" {
			return fmt.Errorf("assertions[%d]: entity_id is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertOpenConflicts, AssertOpenAnnotations:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
		if a.Type == AssertOpenAnnotations && a.EntityID == "" {
			return fmt.Errorf("assertions[%d]: entity_id is required for open_annotations", index)
		}
	case AssertNotVisible:
		if a.EntityID == "" || a.As == "" {
			return fmt.Errorf("assertions[%d]: entity_id and as are required for not_visible", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// request converts an append step to an engine request.
func (a *AppendStep) request() (engine.AppendRequest, error) {
	req := engine.AppendRequest{
		EntityID:       a.EntityID,
		Operation:      record.Operation(a.Operation),
		ExpectedParent: a.ExpectedParent,
		ChangeReason:   a.ChangeReason,
		OwnerID:        a.OwnerID,
		SiteID:         a.SiteID,
	}
	if a.Payload != nil {
		raw, err := jsonObject(a.Payload)
		if err != nil {
			return engine.AppendRequest{}, fmt.Errorf("payload: %w", err)
		}
		req.Payload = raw
	}
	return req, nil
}
