package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/diarystore/internal/engine"
	"github.com/roach88/diarystore/internal/store"
)

// Process exit codes.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected request, failed scenario, integrity anomaly
	ExitCommandError = 2 // Bad flags, unreadable config, database unavailable
	ExitConflict     = 3 // Stale parent; re-read the tip and retry
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error

	// Reported is set when the command already wrote the error to its output.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError creates an ExitError without an underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code and context to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code carried by err, or ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// exitCodeFor maps an engine error code to a process exit code.
func exitCodeFor(code engine.ErrorCode) int {
	switch code {
	case engine.CodeConflict:
		return ExitConflict
	case engine.CodeInternal:
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// CLIResponse is the envelope of every JSON-format result.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error half of CLIResponse.
type CLIError struct {
	Code    string `json:"code"` // engine error code, e.g. "CONFLICT"
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as text or JSON. Diagnostics go to
// ErrWriter so they never interleave with JSON on Writer.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// Success writes data. In text mode data is printed with %v; commands with
// their own text layout call Success only for JSON.
func (f *OutputFormatter) Success(data any) error {
	if f.isJSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes a coded error. Text mode shows details only when verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.isJSON() {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog writes a diagnostic line when verbose output is on.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// Fail reports an engine error and returns an ExitError with the matching
// exit code. Errors without an engine code come back unchanged so Execute
// prints them.
func (f *OutputFormatter) Fail(err error) error {
	code := engine.CodeOf(err)
	if code == "" {
		return err
	}
	if werr := f.Error(string(code), err.Error(), errorDetails(err)); werr != nil {
		return werr
	}
	return &ExitError{Code: exitCodeFor(code), Message: string(code), Err: err, Reported: true}
}

// errorDetails extracts the structured part of conflict and integrity errors.
func errorDetails(err error) any {
	var ce *store.ConflictError
	if errors.As(err, &ce) {
		return map[string]any{"tip": ce.Tip, "tips": ce.Tips}
	}
	var ie *store.IntegrityError
	if errors.As(err, &ie) {
		return ie.Report.Anomalies
	}
	return nil
}
