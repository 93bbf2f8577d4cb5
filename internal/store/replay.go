package store

import (
	"context"
	"fmt"

	"github.com/roach88/diarystore/internal/projection"
)

// Rebuild discards every projection row and recomputes the projection from
// the log, in one transaction. It returns the number of entities written.
//
// The log is authoritative: Rebuild never reads the old projection and never
// touches events.
func (s *Store) Rebuild(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("rebuild: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	events, err := queryEvents(ctx, tx, `
		SELECT `+eventColumns+`
		FROM events
		ORDER BY sequence_id ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("rebuild: %w", err)
	}

	states, err := projection.ReplayAll(events)
	if err != nil {
		return 0, fmt.Errorf("rebuild: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM current_state`); err != nil {
		return 0, fmt.Errorf("rebuild: clear projection: %w", err)
	}
	for _, id := range sortedKeys(states) {
		if err := insertState(ctx, tx, states[id]); err != nil {
			return 0, fmt.Errorf("rebuild: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("rebuild: commit: %w", err)
	}
	return len(states), nil
}
