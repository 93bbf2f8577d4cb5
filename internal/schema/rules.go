// Package schema loads the payload rules that gate appends.
//
// Rules are written in CUE. Each operation may demand a non-empty payload, a
// change reason, and a list of payload fields that must be present. Nothing
// beyond field presence is checked: payload content stays opaque.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/diarystore/internal/record"
)

//go:embed default.cue
var defaultRules []byte

// OperationRule is the set of checks applied to one operation kind.
type OperationRule struct {
	Payload  bool
	Reason   bool
	Required []string
}

// Rules maps operation kinds to their checks. Operations without an entry
// are accepted as-is.
type Rules struct {
	ops map[record.Operation]OperationRule
}

// Default returns the embedded rule set.
func Default() *Rules {
	r, err := Compile("default.cue", defaultRules)
	if err != nil {
		panic(fmt.Sprintf("schema: embedded rules: %v", err))
	}
	return r
}

// Load compiles the rules file at path. An empty path yields Default.
func Load(path string) (*Rules, error) {
	if path == "" {
		return Default(), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Compile(path, src)
}

// Compile parses CUE source into Rules.
func Compile(filename string, src []byte) (*Rules, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rules := &Rules{ops: map[record.Operation]OperationRule{}}

	opsVal := v.LookupPath(cue.ParsePath("operations"))
	if !opsVal.Exists() {
		return rules, nil
	}

	iter, err := opsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Label()
		op := record.Operation(name)
		if !op.Valid() {
			return nil, &CompileError{
				Field:   "operations." + name,
				Message: "unknown operation",
				Pos:     iter.Value().Pos(),
			}
		}
		rule, err := parseRule(iter.Value())
		if err != nil {
			return nil, err
		}
		rules.ops[op] = rule
	}
	return rules, nil
}

func parseRule(v cue.Value) (OperationRule, error) {
	var rule OperationRule

	for _, flag := range []struct {
		name string
		dst  *bool
	}{
		{"payload", &rule.Payload},
		{"reason", &rule.Reason},
	} {
		fv := v.LookupPath(cue.ParsePath(flag.name))
		if !fv.Exists() {
			continue
		}
		b, err := fv.Bool()
		if err != nil {
			return rule, formatCUEError(err)
		}
		*flag.dst = b
	}

	reqVal := v.LookupPath(cue.ParsePath("required"))
	if reqVal.Exists() {
		list, err := reqVal.List()
		if err != nil {
			return rule, formatCUEError(err)
		}
		for list.Next() {
			s, err := list.Value().String()
			if err != nil {
				return rule, formatCUEError(err)
			}
			rule.Required = append(rule.Required, s)
		}
	}
	return rule, nil
}

// Rule returns the checks for op.
func (r *Rules) Rule(op record.Operation) OperationRule {
	return r.ops[op]
}

// Operations lists the operations that carry rules, sorted.
func (r *Rules) Operations() []record.Operation {
	out := make([]record.Operation, 0, len(r.ops))
	for op := range r.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Check applies the rule for op to a candidate's payload and change reason.
// It returns a *Violation listing every failed check, or nil.
func (r *Rules) Check(op record.Operation, payload record.Payload, reason string) error {
	rule := r.Rule(op)
	var problems []string

	if rule.Payload && payload.Empty() {
		problems = append(problems, "payload is required")
	}
	if rule.Reason && strings.TrimSpace(reason) == "" {
		problems = append(problems, "change_reason is required")
	}
	missing, err := payload.Missing(rule.Required)
	if err != nil {
		return err
	}
	for _, name := range missing {
		problems = append(problems, fmt.Sprintf("payload field %q is required", name))
	}

	if len(problems) == 0 {
		return nil
	}
	return &Violation{Operation: op, Problems: problems}
}

// Violation reports a candidate event that failed its operation's rules.
type Violation struct {
	Operation record.Operation
	Problems  []string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Operation, strings.Join(v.Problems, "; "))
}

// CompileError reports a malformed rules file.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
