package harness

// Step outcomes recorded in TraceEvent.Case. Failed steps carry the engine
// error code instead (e.g. "CONFLICT", "NOT_FOUND").
const (
	CaseOK = "OK"
)

// Trace actions, one per step kind.
const (
	ActionAppend   = "append"
	ActionBranch   = "branch"
	ActionAnnotate = "annotate"
	ActionResolve  = "resolve"
)

// TraceEvent records one executed step and what the engine answered.
// Fields are flat and omit hashes so golden output stays readable.
type TraceEvent struct {
	Step            int     `json:"step"`
	Action          string  `json:"action"`
	Actor           string  `json:"actor"`
	EntityID        string  `json:"entity_id,omitempty"`
	Operation       string  `json:"operation,omitempty"`
	Case            string  `json:"case"`
	SequenceID      int64   `json:"sequence_id,omitempty"`
	ParentSequence  int64   `json:"parent_sequence_id,omitempty"`
	Supersedes      []int64 `json:"supersedes,omitempty"`
	Payload         string  `json:"payload,omitempty"`
	ServerTimestamp string  `json:"server_timestamp,omitempty"`
	AnnotationID    string  `json:"annotation_id,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends ev to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// Count returns how many trace events have the given action and case.
// An empty case matches any outcome.
func (r *Result) Count(action, outcome string) int {
	n := 0
	for _, ev := range r.Trace {
		if ev.Action == action && (outcome == "" || ev.Case == outcome) {
			n++
		}
	}
	return n
}
