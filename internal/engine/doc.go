// Package engine implements the operations of the diary record store.
//
// The engine is the only entry point external collaborators use. It sits
// between them and the store and enforces what the store cannot know about:
// who is asking.
//
// ARCHITECTURE:
//
// Write path:
// 1. The request is validated (required fields, operation kind, payload rules)
// 2. The actor's write scope is checked with the access evaluator
// 3. store.Append opens one transaction that checks the expected parent,
// assigns sequence id and server timestamp, inserts the event and replaces
// the projection row through projection.Reduce
// 4. Any failure rolls the whole transaction back and nothing is persisted
//
// Read path:
// Every row leaving the engine passes through access.Filter. An entity that
// exists but is out of the actor's scope returns the same NOT_FOUND error as
// one that does not exist.
//
// Conflicts:
// A stale expected parent returns a CONFLICT error. The caller either
// re-reads and retries, or keeps the losing edit with RetainBranch. A later
// Append that extends one tip of a conflicted entity closes every other tip.
// The engine never merges payloads: the resolving event carries whatever
// content the caller chose.
//
// All errors are *Error values carrying a Code. Every operation opens an
// OpenTelemetry span and updates the engine's Prometheus collectors.
package engine
