package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNotFound is returned when an entity, event or annotation does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotEmpty is returned by ImportEvents when the log already holds events.
	ErrNotEmpty = errors.New("store is not empty")

	// ErrParentIsTip is returned by AppendBranch when the named parent is a
	// live tip; extending a tip is an ordinary Append.
	ErrParentIsTip = errors.New("parent is a current tip")

	// ErrAlreadyResolved is returned when resolving an annotation twice.
	ErrAlreadyResolved = errors.New("annotation already resolved")
)

// ConflictError reports an append whose expected parent is not a live tip
// of the entity. Nothing was persisted.
type ConflictError struct {
	EntityID string
	Expected *int64  // nil when the caller expected a new entity
	Tip      int64   // canonical tip; 0 when the entity does not exist
	Tips     []int64 // every live tip
}

func (e *ConflictError) Error() string {
	expected := "none"
	if e.Expected != nil {
		expected = strconv.FormatInt(*e.Expected, 10)
	}
	tip := "none"
	if e.Tip != 0 {
		tip = strconv.FormatInt(e.Tip, 10)
	}
	msg := fmt.Sprintf("conflict on %s: expected parent %s, tip is %s", e.EntityID, expected, tip)
	if len(e.Tips) > 1 {
		ids := make([]string, len(e.Tips))
		for i, t := range e.Tips {
			ids[i] = strconv.FormatInt(t, 10)
		}
		msg += " (tips " + strings.Join(ids, ", ") + ")"
	}
	return msg
}

// IsConflict reports whether err is or wraps a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
