package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diarystore/internal/engine"
	"github.com/roach88/diarystore/internal/store"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]int{"entities": 2}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"entities": 2.0}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("CONFLICT", "expected parent 1, tip is 2", map[string]any{"tip": 2}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CONFLICT", resp.Error.Code)
	assert.Equal(t, "expected parent 1, tip is 2", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error("NOT_FOUND", "entity not found", map[string]string{"hidden": "yes"}))
	assert.Equal(t, "Error [NOT_FOUND]: entity not found\n", buf.String(), "details only in verbose mode")

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error("NOT_FOUND", "entity not found", map[string]string{"k": "v"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, diag := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: tt.verbose}

			formatter.VerboseLog("exported to %s", "backup.yaml")

			assert.Empty(t, out.String(), "diagnostics never corrupt stdout")
			if tt.wantLog {
				assert.Equal(t, "exported to backup.yaml\n", diag.String())
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestFailMapsEngineCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		exit int
	}{
		{"conflict", &engine.Error{Code: engine.CodeConflict, Message: "stale", Err: &store.ConflictError{EntityID: "E1", Tip: 2, Tips: []int64{2}}}, ExitConflict},
		{"not found", &engine.Error{Code: engine.CodeNotFound, Message: "entity not found"}, ExitFailure},
		{"forbidden", &engine.Error{Code: engine.CodeForbidden, Message: "no"}, ExitFailure},
		{"internal", &engine.Error{Code: engine.CodeInternal, Message: "disk"}, ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: buf}

			err := formatter.Fail(tt.err)
			assert.Equal(t, tt.exit, GetExitCode(err))
			assert.ErrorIs(t, err, tt.err)

			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.True(t, exitErr.Reported)

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, string(engine.CodeOf(tt.err)), resp.Error.Code)
		})
	}
}

func TestFailConflictDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}
	_ = formatter.Fail(&engine.Error{Code: engine.CodeConflict, Message: "stale", Err: &store.ConflictError{EntityID: "E1", Tip: 2, Tips: []int64{2}}})

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, map[string]any{"tip": 2.0, "tips": []any{2.0}}, resp.Error.Details)
}

func TestFailPassesThroughPlainErrors(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	plain := errors.New("boom")
	assert.Same(t, plain, formatter.Fail(plain))
	assert.Empty(t, buf.String())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	wrapped := WrapExitError(ExitConflict, "append", errors.New("stale"))
	assert.Equal(t, "append: stale", wrapped.Error())
	assert.Equal(t, ExitConflict, GetExitCode(wrapped))
}
