package projection

import (
	"errors"
	"fmt"
)

// Sentinel reasons for a rejected event.
var (
	ErrNoRoot         = errors.New("first event of an entity must be a CREATE without parent")
	ErrAlreadyCreated = errors.New("entity already created")
	ErrEntityMismatch = errors.New("event belongs to a different entity")
	ErrOutOfOrder     = errors.New("event sequence is not after the entity's tips")
	ErrLocked         = errors.New("record is locked")
	ErrNotLocked      = errors.New("record is not locked")
	ErrDeleted        = errors.New("record is deleted")
	ErrBranchPath     = errors.New("resolution onto another branch needs that branch's path")
)

// Error reports why the reducer rejected an event.
type Error struct {
	EntityID   string
	SequenceID int64
	Reason     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("projection of %s@%d: %v", e.EntityID, e.SequenceID, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Reason
}
