package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/diarystore/internal/record"
)

// Snapshot is a read-only view of the store. Every read through a Snapshot
// opened by View observes the same committed state.
type Snapshot struct {
	q querier
}

// View runs fn against a read-only snapshot and releases it afterwards.
//
// On SQLite the snapshot is a WAL read transaction on the reader pool, so it
// neither waits for nor delays an append in progress. On Postgres it is a
// READ ONLY, REPEATABLE READ transaction.
func (s *Store) View(ctx context.Context, fn func(*Snapshot) error) error {
	opts := &sql.TxOptions{ReadOnly: true}
	if s.driver == DriverPostgres {
		opts.Isolation = sql.LevelRepeatableRead
	}
	tx, err := s.reader.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(&Snapshot{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// latest is a one-statement view on the reader pool. Each call sees the
// state committed when it runs.
func (s *Store) latest() *Snapshot {
	return &Snapshot{q: s.reader}
}

// Head is the log position the next append builds on.
type Head struct {
	LastSequenceID int64
	LastServerTime time.Time
	LastHash       string
}

// ReadHead returns the current log head.
func (s *Store) ReadHead(ctx context.Context) (Head, error) {
	return s.latest().ReadHead(ctx)
}

// ReadHead returns the log head.
func (r *Snapshot) ReadHead(ctx context.Context) (Head, error) {
	var (
		h  Head
		ts int64
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT last_sequence_id, last_server_ts, last_hash FROM log_head WHERE id = 1
	`).Scan(&h.LastSequenceID, &ts, &h.LastHash)
	if err != nil {
		return Head{}, fmt.Errorf("read head: %w", err)
	}
	h.LastServerTime = record.FromNanos(ts)
	return h, nil
}

// ReadCurrentState returns the projection row of an entity.
// Returns ErrNotFound if the entity has no events.
func (s *Store) ReadCurrentState(ctx context.Context, entityID string) (record.CurrentState, error) {
	return s.latest().ReadCurrentState(ctx, entityID)
}

// ReadCurrentState returns the projection row of an entity.
func (r *Snapshot) ReadCurrentState(ctx context.Context, entityID string) (record.CurrentState, error) {
	st, err := readState(ctx, r.q, entityID)
	if err != nil {
		return record.CurrentState{}, fmt.Errorf("read state: %w", err)
	}
	if st == nil {
		return record.CurrentState{}, fmt.Errorf("read state %s: %w", entityID, ErrNotFound)
	}
	return *st, nil
}

// readState returns nil without error when the entity has no projection row.
func readState(ctx context.Context, q querier, entityID string) (*record.CurrentState, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+stateColumns+`
		FROM current_state
		WHERE entity_id = $1
	`, entityID)

	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan state: %w", err)
	}
	return &st, nil
}

// ListStates returns every projection row ordered by entity id.
// Returns an empty slice (not nil) for an empty store.
func (s *Store) ListStates(ctx context.Context) ([]record.CurrentState, error) {
	return listStates(ctx, s.reader)
}

// ListStates returns every projection row ordered by entity id.
func (r *Snapshot) ListStates(ctx context.Context) ([]record.CurrentState, error) {
	return listStates(ctx, r.q)
}

func listStates(ctx context.Context, q querier) ([]record.CurrentState, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+stateColumns+`
		FROM current_state
		ORDER BY entity_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	states := []record.CurrentState{}
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate states: %w", err)
	}
	return states, nil
}

// ReadEvent retrieves a single event by sequence id.
// Returns ErrNotFound if no such event exists.
func (s *Store) ReadEvent(ctx context.Context, seq int64) (record.Event, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE sequence_id = $1
	`, seq)

	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Event{}, fmt.Errorf("read event %d: %w", seq, ErrNotFound)
	}
	if err != nil {
		return record.Event{}, fmt.Errorf("read event %d: %w", seq, err)
	}
	return e, nil
}

// readEntityEvent reads event seq and checks it belongs to entityID.
func readEntityEvent(ctx context.Context, q querier, entityID string, seq int64) (record.Event, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE sequence_id = $1 AND entity_id = $2
	`, seq, entityID)

	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Event{}, ErrNotFound
	}
	if err != nil {
		return record.Event{}, fmt.Errorf("scan event: %w", err)
	}
	return e, nil
}

// ReadChain returns every event of an entity in sequence order, which is a
// topological order of its tree: a parent always precedes its children.
// Returns ErrNotFound if the entity has no events.
func (s *Store) ReadChain(ctx context.Context, entityID string) ([]record.Event, error) {
	return s.latest().ReadChain(ctx, entityID)
}

// ReadChain returns every event of an entity in sequence order.
func (r *Snapshot) ReadChain(ctx context.Context, entityID string) ([]record.Event, error) {
	events, err := queryEvents(ctx, r.q, `
		SELECT `+eventColumns+`
		FROM events
		WHERE entity_id = $1
		ORDER BY sequence_id ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("read chain %s: %w", entityID, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("read chain %s: %w", entityID, ErrNotFound)
	}
	return events, nil
}

// ReadAsOf returns the event in effect at ts on the entity's current
// canonical branch: the last event of the root-to-tip path whose server
// timestamp is not after ts. The current branch is the one GetHistory lists
// first, so an event abandoned by a later resolution is never the answer.
// Returns ErrNotFound if the entity did not exist yet at ts.
//
// The state and chain are read in one snapshot.
func (s *Store) ReadAsOf(ctx context.Context, entityID string, ts time.Time) (record.Event, error) {
	var ev record.Event
	err := s.View(ctx, func(r *Snapshot) error {
		var err error
		ev, err = r.ReadAsOf(ctx, entityID, ts)
		return err
	})
	return ev, err
}

// ReadAsOf returns the event in effect at ts on the canonical branch.
func (r *Snapshot) ReadAsOf(ctx context.Context, entityID string, ts time.Time) (record.Event, error) {
	st, err := r.ReadCurrentState(ctx, entityID)
	if err != nil {
		return record.Event{}, fmt.Errorf("read as-of: %w", err)
	}
	path, err := readPath(ctx, r.q, entityID, st.LatestSequenceID)
	if err != nil {
		return record.Event{}, fmt.Errorf("read as-of %s: %w", entityID, err)
	}

	// server_ts never decreases along sequence ids, so the events at or
	// before ts are a prefix of the path.
	at := sort.Search(len(path), func(i int) bool {
		return path[i].ServerTimestamp().After(ts)
	})
	if at == 0 {
		return record.Event{}, fmt.Errorf("read as-of %s: %w", entityID, ErrNotFound)
	}
	return path[at-1], nil
}

// ReadAllEvents returns the whole log in sequence order.
func (s *Store) ReadAllEvents(ctx context.Context) ([]record.Event, error) {
	return s.latest().ReadAllEvents(ctx)
}

// ReadAllEvents returns the whole log in sequence order.
func (r *Snapshot) ReadAllEvents(ctx context.Context) ([]record.Event, error) {
	events, err := queryEvents(ctx, r.q, `
		SELECT `+eventColumns+`
		FROM events
		ORDER BY sequence_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read all events: %w", err)
	}
	return events, nil
}

// ListBranchedEntities returns the ids of entities with at least one branch
// point (two events sharing a parent), resolved or not, sorted.
func (s *Store) ListBranchedEntities(ctx context.Context) ([]string, error) {
	return s.latest().ListBranchedEntities(ctx)
}

// ListBranchedEntities returns the ids of entities with a branch point.
func (r *Snapshot) ListBranchedEntities(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT DISTINCT entity_id FROM (
			SELECT entity_id
			FROM events
			WHERE parent_sequence_id IS NOT NULL
			GROUP BY entity_id, parent_sequence_id
			HAVING COUNT(*) > 1
		) branched
		ORDER BY entity_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query branched entities: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branched entities: %w", err)
	}
	return ids, nil
}

// queryEvents runs an event query. Returns an empty slice (not nil) when no
// rows match.
func queryEvents(ctx context.Context, q querier, query string, args ...any) ([]record.Event, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []record.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
