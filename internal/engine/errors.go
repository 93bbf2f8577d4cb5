package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/diarystore/internal/projection"
	"github.com/roach88/diarystore/internal/schema"
	"github.com/roach88/diarystore/internal/store"
)

// Error is the error returned by every engine operation.
//
// Callers branch on Code; the wrapped Err keeps the underlying cause
// (a *store.ConflictError, a *projection.Error, a *store.IntegrityError)
// reachable through errors.As.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// EntityID identifies the affected entity, if any.
	EntityID string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeValidation indicates a malformed request. Nothing was persisted.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeConflict indicates a stale expected parent. The request is retryable.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeNotFound indicates a missing or out-of-scope row. The two cases are
	// indistinguishable to the caller.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeForbidden indicates a role that may see a record but not perform
	// the requested action on it.
	CodeForbidden ErrorCode = "FORBIDDEN"

	// CodeProjection indicates the reducer rejected the event.
	CodeProjection ErrorCode = "PROJECTION"

	// CodeIntegrity indicates the log or projection failed verification.
	CodeIntegrity ErrorCode = "INTEGRITY"

	// CodeInternal indicates a storage failure.
	CodeInternal ErrorCode = "INTERNAL"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s (entity=%s)", e.Code, e.Message, e.EntityID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsForbidden reports whether err is a forbidden error.
func IsForbidden(err error) bool { return CodeOf(err) == CodeForbidden }

// IsProjection reports whether err is a projection error.
func IsProjection(err error) bool { return CodeOf(err) == CodeProjection }

// IsIntegrity reports whether err is an integrity error.
func IsIntegrity(err error) bool { return CodeOf(err) == CodeIntegrity }

func validationError(entityID, format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...), EntityID: entityID}
}

func forbiddenError(entityID, format string, args ...any) *Error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...), EntityID: entityID}
}

// notFoundError is returned for both missing and invisible rows, so the
// message never depends on which one it was.
func notFoundError(kind, id string) *Error {
	e := &Error{Code: CodeNotFound, Message: kind + " not found", Err: store.ErrNotFound}
	if kind == "entity" {
		e.EntityID = id
	}
	return e
}

// classify maps a store, projection or rules error onto an engine Error.
func classify(entityID string, err error) error {
	if err == nil {
		return nil
	}
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}

	var (
		ce *store.ConflictError
		pe *projection.Error
		ie *store.IntegrityError
		ve *schema.Violation
	)
	switch {
	case errors.As(err, &ce):
		return &Error{Code: CodeConflict, Message: ce.Error(), EntityID: entityID, Err: err}
	case errors.As(err, &pe):
		return &Error{Code: CodeProjection, Message: pe.Error(), EntityID: entityID, Err: err}
	case errors.As(err, &ie):
		return &Error{Code: CodeIntegrity, Message: ie.Error(), EntityID: entityID, Err: err}
	case errors.As(err, &ve):
		return &Error{Code: CodeValidation, Message: ve.Error(), EntityID: entityID, Err: err}
	case errors.Is(err, store.ErrNotFound):
		return &Error{Code: CodeNotFound, Message: "entity not found", EntityID: entityID, Err: store.ErrNotFound}
	case errors.Is(err, store.ErrParentIsTip),
		errors.Is(err, store.ErrAlreadyResolved),
		errors.Is(err, store.ErrNotEmpty):
		return &Error{Code: CodeValidation, Message: err.Error(), EntityID: entityID, Err: err}
	default:
		return &Error{Code: CodeInternal, Message: err.Error(), EntityID: entityID, Err: err}
	}
}
