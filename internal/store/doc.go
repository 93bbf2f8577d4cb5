// Package store provides SQL-backed durable storage for the clinical event log.
//
// The store holds four tables:
//   - events: the append-only log, the sole source of truth
//   - current_state: one projection row per entity, replaced on every append
//   - log_head: the single-row allocator for sequence ids, timestamps and hashes
//   - annotations: oversight commentary, never joined into an event chain
//
// # Invariants
//
// Append-only log
//   - The package exposes no update or delete of events
//   - Database triggers reject UPDATE and DELETE on events as a second line
//
// Atomic projection
//   - Append inserts the event and replaces the projection row in one transaction
//   - The projection is computed by an explicit projection.Reduce call
//   - Any reducer error or guard miss rolls back both writes
//
// Optimistic concurrency
//   - Append names the tip it extends; a stale tip returns *ConflictError
//   - A failed append consumes no sequence id
//
// Lock order
//   - Append reads the projection and any branch path before it claims log_head
//   - log_head stays locked from the claim to commit, since each hash chains
//     to the one before it
//   - A stale parent is rejected without touching log_head
//
// Snapshot reads
//   - View runs a callback in one read-only transaction
//   - Reads go through a separate pool and never wait for an append
//
// Deterministic ordering
//   - sequence_id is global and strictly increasing
//   - server_ts never decreases with sequence_id
//   - All multi-row reads use ORDER BY sequence_id ASC
//
// Tamper evidence
//   - Every event carries previous_hash and hash (see record.EventHash)
//   - VerifyChain recomputes the chain and reports anomalies, never repairs them
//
// # Database Configuration
//
// SQLite (github.com/mattn/go-sqlite3) is the default backend:
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - One write connection, plus a _query_only pool for reads on file databases
//
// Postgres is reached through github.com/jackc/pgx/v5/stdlib.
package store
