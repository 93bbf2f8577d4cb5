// Package conflict detects branching in an entity's version chain.
//
// An entity's events form a tree through their parent pointers. Normally the
// tree is a single chain; an event with two or more children is a branch
// point, produced when two writers extended the same tip and the losing write
// was retained rather than discarded. Each branch point yields one
// ConflictMarker.
//
// A branch point is resolved once at most one of the leaves beneath it is
// still live, that is, every other leaf has been superseded by a later,
// attributable event. The package never merges payloads; the content of the
// resolving event is entirely the caller's.
package conflict
