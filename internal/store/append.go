package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/diarystore/internal/projection"
	"github.com/roach88/diarystore/internal/record"
)

// Candidate is an event as submitted by a writer, before the store assigns
// its place in the log.
type Candidate struct {
	EntityID        string
	Operation       record.Operation
	Payload         record.Payload
	ActorID         string
	ActorRole       record.Role
	OwnerID         string // root events only; later events inherit the entity's
	SiteID          string // root events only; later events inherit the entity's
	ClientTimestamp time.Time
	ChangeReason    string
}

// placement is where a candidate attaches to its entity's tree.
type placement struct {
	parent     *int64
	supersedes []int64
}

// placeFunc decides the placement of a candidate given the entity's current
// projection (nil for a new entity). It runs inside the append transaction.
type placeFunc func(ctx context.Context, tx *sql.Tx, prev *record.CurrentState) (placement, error)

// Append adds a candidate that extends expectedParent, which must be a live
// tip of the entity (nil for a new entity). Otherwise it returns a
// *ConflictError and persists nothing.
//
// When the entity is conflicted, extending one tip supersedes every other
// tip: the new event is the explicit resolution of the conflict.
//
// The event insert, projection replace and log head advance happen in one
// transaction. Any failure rolls back all three, including the claimed
// sequence id.
func (s *Store) Append(ctx context.Context, c Candidate, expectedParent *int64) (record.Event, error) {
	return s.appendTx(ctx, "append", c, func(_ context.Context, _ *sql.Tx, prev *record.CurrentState) (placement, error) {
		if prev == nil {
			if expectedParent != nil {
				return placement{}, &ConflictError{EntityID: c.EntityID, Expected: record.Seq(*expectedParent)}
			}
			return placement{}, nil
		}
		if expectedParent == nil || !prev.HasTip(*expectedParent) {
			return placement{}, conflictWith(prev, expectedParent)
		}

		var supersedes []int64
		for _, tip := range prev.Tips {
			if tip != *expectedParent {
				supersedes = append(supersedes, tip)
			}
		}
		return placement{parent: record.Seq(*expectedParent), supersedes: supersedes}, nil
	})
}

// AppendBranch records a writer that lost the optimistic check as a sibling
// branch under parent, instead of discarding its edit. parent must be an
// existing event of the entity that is not a live tip.
//
// The entity becomes conflicted; its canonical content is unchanged until a
// later Append resolves the conflict.
func (s *Store) AppendBranch(ctx context.Context, c Candidate, parent int64) (record.Event, error) {
	return s.appendTx(ctx, "append branch", c, func(ctx context.Context, tx *sql.Tx, prev *record.CurrentState) (placement, error) {
		if prev == nil {
			return placement{}, ErrNotFound
		}
		if prev.HasTip(parent) {
			return placement{}, ErrParentIsTip
		}
		if _, err := readEntityEvent(ctx, tx, c.EntityID, parent); err != nil {
			return placement{}, fmt.Errorf("parent %d: %w", parent, err)
		}
		return placement{parent: record.Seq(parent)}, nil
	})
}

func (s *Store) appendTx(ctx context.Context, op string, c Candidate, place placeFunc) (record.Event, error) {
	payload, err := record.CanonicalPayload(c.Payload)
	if err != nil {
		return record.Event{}, fmt.Errorf("%s: %w", op, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return record.Event{}, fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback() // No-op if committed

	// Per-entity work runs before the log head is touched. A writer that
	// raced on the same entity is caught by the guarded projection update.
	prev, err := readState(ctx, tx, c.EntityID)
	if err != nil {
		return record.Event{}, fmt.Errorf("%s: %w", op, err)
	}

	p, err := place(ctx, tx, prev)
	if err != nil {
		return record.Event{}, fmt.Errorf("%s: %w", op, err)
	}

	var branch []record.Event
	if p.movesCanonical(prev) {
		if branch, err = readPath(ctx, tx, c.EntityID, *p.parent); err != nil {
			return record.Event{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	ownerID, siteID := c.OwnerID, c.SiteID
	if prev != nil {
		ownerID, siteID = prev.OwnerID, prev.SiteID
	}

	// The log_head row lock is taken here and covers only the sequence
	// claim, the hash link and the writes that commit with them.
	var (
		seq, lastTs int64
		prevHash    string
	)
	err = tx.QueryRowContext(ctx, `
		UPDATE log_head
		SET last_sequence_id = last_sequence_id + 1
		WHERE id = 1
		RETURNING last_sequence_id, last_server_ts, last_hash
	`).Scan(&seq, &lastTs, &prevHash)
	if err != nil {
		return record.Event{}, fmt.Errorf("%s: claim sequence: %w", op, err)
	}

	serverTs := record.Nanos(s.clock.Now())
	if serverTs < lastTs {
		serverTs = lastTs
	}

	d := record.EventData{
		EntityID:         c.EntityID,
		SequenceID:       seq,
		ParentSequenceID: p.parent,
		Operation:        c.Operation,
		Payload:          payload,
		ActorID:          c.ActorID,
		ActorRole:        c.ActorRole,
		OwnerID:          ownerID,
		SiteID:           siteID,
		ClientTimestamp:  record.FromNanos(record.Nanos(c.ClientTimestamp)),
		ServerTimestamp:  record.FromNanos(serverTs),
		ChangeReason:     record.NormalizeText(c.ChangeReason),
		Supersedes:       p.supersedes,
		PreviousHash:     prevHash,
	}
	if d.Hash, err = record.EventHash(d); err != nil {
		return record.Event{}, fmt.Errorf("%s: %w", op, err)
	}
	event := record.NewEvent(d)

	next, err := projection.ReduceWith(prev, event, func(int64) ([]record.Event, error) {
		return branch, nil
	})
	if err != nil {
		return record.Event{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := insertEvent(ctx, tx, d); err != nil {
		if isUniqueViolation(err) && prev == nil {
			return record.Event{}, fmt.Errorf("%s: %w", op, &ConflictError{EntityID: c.EntityID})
		}
		return record.Event{}, fmt.Errorf("%s: insert event: %w", op, err)
	}

	if err := replaceState(ctx, tx, prev, next); err != nil {
		if errors.Is(err, errStateMoved) {
			return record.Event{}, fmt.Errorf("%s: %w", op, movedConflict(ctx, tx, c.EntityID, p.parent))
		}
		return record.Event{}, fmt.Errorf("%s: %w", op, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE log_head SET last_server_ts = $1, last_hash = $2 WHERE id = 1
	`, serverTs, d.Hash)
	if err != nil {
		return record.Event{}, fmt.Errorf("%s: advance head: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return record.Event{}, fmt.Errorf("%s: commit: %w", op, err)
	}
	return event, nil
}

// movesCanonical mirrors projection.MovesCanonical for a placement that has
// no event yet.
func (p placement) movesCanonical(prev *record.CurrentState) bool {
	return prev != nil && p.parent != nil &&
		*p.parent != prev.LatestSequenceID &&
		slices.Contains(p.supersedes, prev.LatestSequenceID)
}

// readPath reads the events from an entity's root to seq.
func readPath(ctx context.Context, q querier, entityID string, seq int64) ([]record.Event, error) {
	events, err := queryEvents(ctx, q, `
		SELECT `+eventColumns+`
		FROM events
		WHERE entity_id = $1 AND sequence_id <= $2
		ORDER BY sequence_id ASC
	`, entityID, seq)
	if err != nil {
		return nil, fmt.Errorf("read path to %d: %w", seq, err)
	}
	path, err := projection.Path(events, seq)
	if err != nil {
		return nil, fmt.Errorf("read path to %d: %w", seq, err)
	}
	return path, nil
}

// movedConflict reports the entity's state as committed by the writer that
// won the race.
func movedConflict(ctx context.Context, tx *sql.Tx, entityID string, expected *int64) error {
	now, err := readState(ctx, tx, entityID)
	if err != nil {
		return err
	}
	if now == nil {
		return &ConflictError{EntityID: entityID, Expected: expected}
	}
	return conflictWith(now, expected)
}

func conflictWith(prev *record.CurrentState, expected *int64) *ConflictError {
	ce := &ConflictError{
		EntityID: prev.EntityID,
		Tip:      prev.LatestSequenceID,
		Tips:     slices.Clone(prev.Tips),
	}
	if expected != nil {
		ce.Expected = record.Seq(*expected)
	}
	return ce
}

func insertEvent(ctx context.Context, q querier, d record.EventData) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (`+placeholders(15)+`)`,
		eventArgs(d)...,
	)
	return err
}

func insertState(ctx context.Context, q querier, s record.CurrentState) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO current_state (`+stateColumns+`) VALUES (`+placeholders(12)+`)`,
		stateArgs(s)...,
	)
	if err != nil {
		return fmt.Errorf("insert state: %w", err)
	}
	return nil
}

// errStateMoved means the projection row changed after it was read.
var errStateMoved = errors.New("projection changed concurrently")

// replaceState writes next over prev. The projection is read before the head
// lock, so the update is guarded on the previous row and a writer that lost
// the race gets errStateMoved instead of overwriting the winner.
func replaceState(ctx context.Context, tx *sql.Tx, prev *record.CurrentState, next record.CurrentState) error {
	if prev == nil {
		return insertState(ctx, tx, next)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE current_state
		SET latest_sequence_id = $1, current_payload = $2, version_count = $3,
			locked = $4, deleted = $5, complete = $6, conflicted = $7,
			tips = $8, updated_at = $9
		WHERE entity_id = $10 AND latest_sequence_id = $11 AND version_count = $12 AND tips = $13
	`,
		next.LatestSequenceID,
		next.CurrentPayload.String(),
		next.VersionCount,
		next.Locked,
		next.Deleted,
		next.Complete,
		next.Conflicted,
		marshalSeqs(next.Tips),
		record.Nanos(next.UpdatedAt),
		prev.EntityID,
		prev.LatestSequenceID,
		prev.VersionCount,
		marshalSeqs(prev.Tips),
	)
	if err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace state: rows affected: %w", err)
	}
	if n == 0 {
		return errStateMoved
	}
	return nil
}

// isUniqueViolation recognizes primary key and unique index violations from
// either backend.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}
