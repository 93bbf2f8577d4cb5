package conflict

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/diarystore/internal/record"
)

// Tree construction errors. Both indicate a damaged log.
var (
	ErrDanglingParent = errors.New("parent event not found in entity chain")
	ErrMultipleRoots  = errors.New("entity chain has more than one root")
	ErrNoRoot         = errors.New("entity chain has no root")
)

// Tree is the parent-link tree of one entity's events.
type Tree struct {
	events     map[int64]record.Event
	children   map[int64][]int64
	superseded map[int64]int64 // leaf -> superseding event
	order      []int64         // ascending sequence ids
	root       int64
}

// NewTree indexes events, which must all belong to one entity.
// Input order does not matter.
func NewTree(events []record.Event) (*Tree, error) {
	if len(events) == 0 {
		return nil, ErrNoRoot
	}
	t := &Tree{
		events:     make(map[int64]record.Event, len(events)),
		children:   make(map[int64][]int64),
		superseded: make(map[int64]int64),
		order:      make([]int64, 0, len(events)),
	}
	for _, e := range events {
		t.events[e.SequenceID()] = e
		t.order = append(t.order, e.SequenceID())
	}
	slices.Sort(t.order)

	roots := 0
	for _, seq := range t.order {
		e := t.events[seq]
		parent, ok := e.ParentSequenceID()
		if !ok {
			roots++
			t.root = seq
		} else {
			if _, exists := t.events[parent]; !exists {
				return nil, fmt.Errorf("%w: %s@%d -> %d", ErrDanglingParent, e.EntityID(), seq, parent)
			}
			t.children[parent] = append(t.children[parent], seq)
		}
		for _, s := range e.Supersedes() {
			t.superseded[s] = seq
		}
	}
	switch {
	case roots == 0:
		return nil, ErrNoRoot
	case roots > 1:
		return nil, ErrMultipleRoots
	}
	return t, nil
}

// Root returns the entity's root event.
func (t *Tree) Root() record.Event {
	return t.events[t.root]
}

// Event returns the event with the given sequence id.
func (t *Tree) Event(seq int64) (record.Event, bool) {
	e, ok := t.events[seq]
	return e, ok
}

// Children returns the direct children of seq, ascending.
func (t *Tree) Children(seq int64) []int64 {
	return slices.Clone(t.children[seq])
}

// Leaves returns every event without children, ascending.
func (t *Tree) Leaves() []int64 {
	var leaves []int64
	for _, seq := range t.order {
		if len(t.children[seq]) == 0 {
			leaves = append(leaves, seq)
		}
	}
	return leaves
}

// LiveLeaves returns the leaves that have not been superseded. These are
// the entity's tips.
func (t *Tree) LiveLeaves() []int64 {
	var live []int64
	for _, seq := range t.Leaves() {
		if _, gone := t.superseded[seq]; !gone {
			live = append(live, seq)
		}
	}
	return live
}

// Path returns the events from the root to seq, in chain order.
func (t *Tree) Path(seq int64) []record.Event {
	var path []record.Event
	for {
		e, ok := t.events[seq]
		if !ok {
			break
		}
		path = append(path, e)
		parent, ok := e.ParentSequenceID()
		if !ok {
			break
		}
		seq = parent
	}
	slices.Reverse(path)
	return path
}

// Branches returns one root-to-leaf path per leaf. The path ending at
// canonicalTip comes first; the rest follow in ascending leaf order.
func (t *Tree) Branches(canonicalTip int64) [][]record.Event {
	leaves := t.Leaves()
	branches := make([][]record.Event, 0, len(leaves))
	if _, ok := t.events[canonicalTip]; ok && len(t.children[canonicalTip]) == 0 {
		branches = append(branches, t.Path(canonicalTip))
	}
	for _, leaf := range leaves {
		if leaf == canonicalTip {
			continue
		}
		branches = append(branches, t.Path(leaf))
	}
	return branches
}

// subtreeLeaves returns the leaves strictly below seq, ascending.
func (t *Tree) subtreeLeaves(seq int64) []int64 {
	var leaves []int64
	stack := slices.Clone(t.children[seq])
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		kids := t.children[n]
		if len(kids) == 0 {
			leaves = append(leaves, n)
			continue
		}
		stack = append(stack, kids...)
	}
	slices.Sort(leaves)
	return leaves
}
