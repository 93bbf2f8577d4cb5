// Package projection implements the state projector: a pure, deterministic
// reducer from (previous state, event) to the next CurrentState.
//
// The store calls Reduce inside the append transaction, so an error here
// aborts the append and nothing is written. Fold and ReplayAll apply the same
// reducer to an event sequence and are used for replay, rebuild and
// verification.
//
// Canonical branch rule: an event changes the entity's content only when it
// extends the canonical tip (its parent is LatestSequenceID) or supersedes
// it. Any other event is a retained sibling branch: it adds a live tip and
// marks the entity conflicted without touching the content.
//
// A resolution that extends a sibling tip moves the canonical branch. The
// content is then refolded along the root-to-parent path of the resolution,
// so CurrentState always equals the fold of its canonical path.
package projection
