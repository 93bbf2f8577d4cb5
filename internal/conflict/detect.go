package conflict

import (
	"github.com/roach88/diarystore/internal/record"
)

// DetectAll returns one marker per branch point, in ascending order of the
// branch point's sequence id. Resolved markers are included.
func (t *Tree) DetectAll() []record.ConflictMarker {
	root := t.Root()
	var markers []record.ConflictMarker
	for _, seq := range t.order {
		if len(t.children[seq]) < 2 {
			continue
		}
		leaves := t.subtreeLeaves(seq)
		live := 0
		var resolvedBy int64
		for _, leaf := range leaves {
			by, gone := t.superseded[leaf]
			if !gone {
				live++
				continue
			}
			if by > resolvedBy {
				resolvedBy = by
			}
		}
		m := record.ConflictMarker{
			EntityID:                 root.EntityID(),
			CommonAncestorSequenceID: seq,
			LeafSequenceIDs:          leaves,
			Resolved:                 live <= 1,
			OwnerID:                  root.OwnerID(),
			SiteID:                   root.SiteID(),
		}
		if m.Resolved {
			m.ResolvedBySequenceID = resolvedBy
		}
		markers = append(markers, m)
	}
	return markers
}

// Detect returns the earliest unresolved marker, or nil when the entity has
// no open conflict.
func (t *Tree) Detect() *record.ConflictMarker {
	for _, m := range t.DetectAll() {
		if !m.Resolved {
			return &m
		}
	}
	return nil
}

// DetectAll builds the tree for one entity's events and returns its markers.
func DetectAll(events []record.Event) ([]record.ConflictMarker, error) {
	t, err := NewTree(events)
	if err != nil {
		return nil, err
	}
	return t.DetectAll(), nil
}

// Detect builds the tree for one entity's events and returns its earliest
// unresolved marker, or nil.
func Detect(events []record.Event) (*record.ConflictMarker, error) {
	t, err := NewTree(events)
	if err != nil {
		return nil, err
	}
	return t.Detect(), nil
}
