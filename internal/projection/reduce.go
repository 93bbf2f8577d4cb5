package projection

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/roach88/diarystore/internal/record"
)

// PathFunc returns an entity's events from its root to seq, in order.
type PathFunc func(seq int64) ([]record.Event, error)

// Reduce folds one event into the previous state of its entity.
//
// prev is nil for the entity's first event. Reduce never modifies prev and
// returns the complete replacement state. The same (prev, e) pair always
// yields the same result.
//
// An event that moves the canonical branch (see MovesCanonical) cannot be
// folded from prev alone; Reduce rejects it with ErrBranchPath and callers
// use ReduceWith.
func Reduce(prev *record.CurrentState, e record.Event) (record.CurrentState, error) {
	return ReduceWith(prev, e, nil)
}

// ReduceWith is Reduce with access to the entity's branches. path is called
// only when e moves the canonical branch; the content is then refolded along
// the root-to-parent path of e before e applies.
func ReduceWith(prev *record.CurrentState, e record.Event, path PathFunc) (record.CurrentState, error) {
	if prev == nil {
		return reduceRoot(e)
	}
	if e.EntityID() != prev.EntityID {
		return record.CurrentState{}, reject(e, ErrEntityMismatch)
	}
	parent, ok := e.ParentSequenceID()
	if !ok {
		return record.CurrentState{}, reject(e, ErrAlreadyCreated)
	}
	if n := len(prev.Tips); n > 0 && e.SequenceID() <= prev.Tips[n-1] {
		return record.CurrentState{}, reject(e, ErrOutOfOrder)
	}

	next := prev.Clone()
	next.Tips = nextTips(prev.Tips, parent, e)

	switch {
	case parent == prev.LatestSequenceID:
	case MovesCanonical(prev, e):
		if path == nil {
			return record.CurrentState{}, reject(e, ErrBranchPath)
		}
		events, err := path(parent)
		if err != nil {
			return record.CurrentState{}, reject(e, err)
		}
		base, err := foldPath(events, parent)
		if err != nil {
			return record.CurrentState{}, reject(e, err)
		}
		next.CurrentPayload = base.CurrentPayload
		next.VersionCount = base.VersionCount
		next.Locked, next.Deleted, next.Complete = base.Locked, base.Deleted, base.Complete
	default:
		if e.Operation() == record.OpCreate {
			return record.CurrentState{}, reject(e, ErrAlreadyCreated)
		}
		next.Conflicted = len(next.Tips) > 1
		return next, nil
	}

	if err := apply(&next, e); err != nil {
		return record.CurrentState{}, reject(e, err)
	}
	next.LatestSequenceID = e.SequenceID()
	next.VersionCount++
	next.UpdatedAt = e.ServerTimestamp()
	next.Conflicted = len(next.Tips) > 1
	return next, nil
}

// MovesCanonical reports whether folding e into prev makes a branch other
// than prev's canonical one canonical: e extends a sibling tip and
// supersedes the canonical tip.
func MovesCanonical(prev *record.CurrentState, e record.Event) bool {
	if prev == nil {
		return false
	}
	parent, ok := e.ParentSequenceID()
	return ok && parent != prev.LatestSequenceID && e.SupersedesSeq(prev.LatestSequenceID)
}

// foldPath folds a linear root-to-tip path, every event applied as canonical.
func foldPath(path []record.Event, tip int64) (record.CurrentState, error) {
	if len(path) == 0 || path[len(path)-1].SequenceID() != tip {
		return record.CurrentState{}, fmt.Errorf("%w: path does not end at %d", ErrBranchPath, tip)
	}
	s, err := reduceRoot(path[0])
	if err != nil {
		return record.CurrentState{}, err
	}
	for _, e := range path[1:] {
		if p, ok := e.ParentSequenceID(); !ok || p != s.LatestSequenceID || e.EntityID() != s.EntityID {
			return record.CurrentState{}, fmt.Errorf("%w: event %d does not extend %d", ErrBranchPath, e.SequenceID(), s.LatestSequenceID)
		}
		if err := apply(&s, e); err != nil {
			return record.CurrentState{}, fmt.Errorf("branch event %d: %w", e.SequenceID(), err)
		}
		s.LatestSequenceID = e.SequenceID()
		s.VersionCount++
	}
	return s, nil
}

// Path returns the events from the root of the tree to seq, following
// parent links. events may be any subset of one entity's log that contains
// the path.
func Path(events []record.Event, seq int64) ([]record.Event, error) {
	byID := make(map[int64]record.Event, len(events))
	for _, e := range events {
		byID[e.SequenceID()] = e
	}
	return pathIn(byID, seq)
}

func pathIn(byID map[int64]record.Event, seq int64) ([]record.Event, error) {
	var path []record.Event
	for {
		e, ok := byID[seq]
		if !ok {
			return nil, fmt.Errorf("%w: event %d not found", ErrBranchPath, seq)
		}
		path = append(path, e)
		parent, ok := e.ParentSequenceID()
		if !ok {
			break
		}
		if parent >= seq {
			return nil, fmt.Errorf("%w: event %d has parent %d", ErrBranchPath, seq, parent)
		}
		seq = parent
	}
	slices.Reverse(path)
	return path, nil
}

func reduceRoot(e record.Event) (record.CurrentState, error) {
	if e.Operation() != record.OpCreate || !e.IsRoot() {
		return record.CurrentState{}, reject(e, ErrNoRoot)
	}
	return record.CurrentState{
		EntityID:         e.EntityID(),
		LatestSequenceID: e.SequenceID(),
		CurrentPayload:   e.Payload(),
		VersionCount:     1,
		Tips:             []int64{e.SequenceID()},
		OwnerID:          e.OwnerID(),
		SiteID:           e.SiteID(),
		UpdatedAt:        e.ServerTimestamp(),
	}, nil
}

// apply changes the canonical content of s according to e's operation.
func apply(s *record.CurrentState, e record.Event) error {
	switch e.Operation() {
	case record.OpCreate:
		return ErrAlreadyCreated
	case record.OpUpdate:
		if s.Locked {
			return ErrLocked
		}
		if s.Deleted {
			return ErrDeleted
		}
		s.CurrentPayload = e.Payload()
	case record.OpCorrection:
		s.CurrentPayload = e.Payload()
	case record.OpDelete:
		if s.Locked {
			return ErrLocked
		}
		if s.Deleted {
			return ErrDeleted
		}
		s.Deleted = true
	case record.OpLock:
		if s.Locked {
			return ErrLocked
		}
		s.Locked = true
	case record.OpUnlock:
		if !s.Locked {
			return ErrNotLocked
		}
		s.Locked = false
	case record.OpComplete:
		if s.Deleted {
			return ErrDeleted
		}
		s.Complete = true
	case record.OpAnnotationResolution:
		// Links an answered query into the chain; content is unchanged.
	default:
		return fmt.Errorf("unknown operation %q", e.Operation())
	}
	return nil
}

// nextTips removes the parent and every superseded tip, then adds e.
func nextTips(tips []int64, parent int64, e record.Event) []int64 {
	out := make([]int64, 0, len(tips)+1)
	for _, t := range tips {
		if t == parent || e.SupersedesSeq(t) {
			continue
		}
		out = append(out, t)
	}
	out = append(out, e.SequenceID())
	slices.Sort(out)
	return out
}

func reject(e record.Event, reason error) error {
	return &Error{EntityID: e.EntityID(), SequenceID: e.SequenceID(), Reason: reason}
}

// Fold reduces one entity's events, given in sequence order.
// Returns nil for an empty input.
func Fold(events []record.Event) (*record.CurrentState, error) {
	var state *record.CurrentState
	seen := make(map[int64]record.Event, len(events))
	path := func(seq int64) ([]record.Event, error) { return pathIn(seen, seq) }
	for _, e := range events {
		next, err := ReduceWith(state, e, path)
		if err != nil {
			return nil, err
		}
		seen[e.SequenceID()] = e
		state = &next
	}
	return state, nil
}

// ReplayAll reduces an entire log, given in sequence order, into one state
// per entity.
func ReplayAll(events []record.Event) (map[string]record.CurrentState, error) {
	states := make(map[string]record.CurrentState)
	seen := make(map[string]map[int64]record.Event)
	for _, e := range events {
		id := e.EntityID()
		var prev *record.CurrentState
		if s, ok := states[id]; ok {
			prev = &s
		}
		if seen[id] == nil {
			seen[id] = make(map[int64]record.Event)
		}
		byID := seen[id]
		next, err := ReduceWith(prev, e, func(seq int64) ([]record.Event, error) {
			return pathIn(byID, seq)
		})
		if err != nil {
			return nil, err
		}
		byID[e.SequenceID()] = e
		states[id] = next
	}
	return states, nil
}

// Equal reports whether two states are identical, comparing payload bytes
// and timestamps by instant.
func Equal(a, b record.CurrentState) bool {
	return a.EntityID == b.EntityID &&
		a.LatestSequenceID == b.LatestSequenceID &&
		bytes.Equal([]byte(a.CurrentPayload), []byte(b.CurrentPayload)) &&
		a.VersionCount == b.VersionCount &&
		a.Locked == b.Locked &&
		a.Deleted == b.Deleted &&
		a.Complete == b.Complete &&
		a.Conflicted == b.Conflicted &&
		slices.Equal(a.Tips, b.Tips) &&
		a.OwnerID == b.OwnerID &&
		a.SiteID == b.SiteID &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}
