package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/diarystore/internal/record"
)

// InsertAnnotation stores a new annotation. The body fields are immutable
// from here on; only ResolveAnnotation changes the row.
func (s *Store) InsertAnnotation(ctx context.Context, a record.Annotation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO annotations (`+annotationColumns+`) VALUES (`+placeholders(16)+`)`,
		annotationArgs(a)...,
	)
	if err != nil {
		return fmt.Errorf("insert annotation: %w", err)
	}
	return nil
}

// ReadAnnotation retrieves a single annotation.
// Returns ErrNotFound if it does not exist.
func (s *Store) ReadAnnotation(ctx context.Context, id string) (record.Annotation, error) {
	return readAnnotation(ctx, s.reader, id)
}

func readAnnotation(ctx context.Context, q querier, id string) (record.Annotation, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations
		WHERE annotation_id = $1
	`, id)

	a, err := scanAnnotation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Annotation{}, fmt.Errorf("read annotation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return record.Annotation{}, fmt.Errorf("read annotation %s: %w", id, err)
	}
	return a, nil
}

// ListAnnotations returns an entity's annotations in creation order.
// With openOnly, resolved annotations are skipped.
func (s *Store) ListAnnotations(ctx context.Context, entityID string, openOnly bool) ([]record.Annotation, error) {
	return s.latest().ListAnnotations(ctx, entityID, openOnly)
}

// ListAnnotations returns an entity's annotations in creation order.
func (r *Snapshot) ListAnnotations(ctx context.Context, entityID string, openOnly bool) ([]record.Annotation, error) {
	query := `
		SELECT ` + annotationColumns + `
		FROM annotations
		WHERE entity_id = $1`
	args := []any{entityID}
	if openOnly {
		query += ` AND resolved = $2`
		args = append(args, false)
	}
	query += `
		ORDER BY created_at ASC, annotation_id ASC`

	return queryAnnotations(ctx, r.q, query, args...)
}

// ListAllAnnotations returns every annotation in creation order.
func (s *Store) ListAllAnnotations(ctx context.Context) ([]record.Annotation, error) {
	return s.latest().ListAllAnnotations(ctx)
}

// ListAllAnnotations returns every annotation in creation order.
func (r *Snapshot) ListAllAnnotations(ctx context.Context) ([]record.Annotation, error) {
	return queryAnnotations(ctx, r.q, `
		SELECT `+annotationColumns+`
		FROM annotations
		ORDER BY created_at ASC, annotation_id ASC
	`)
}

func queryAnnotations(ctx context.Context, q querier, query string, args ...any) ([]record.Annotation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query annotations: %w", err)
	}
	defer rows.Close()

	out := []record.Annotation{}
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return out, nil
}

// Resolution closes an annotation.
type Resolution struct {
	ResolvedBy string
	ResolvedAt time.Time
	Note       string
	SequenceID int64 // event that answered the annotation; 0 for none
}

// ResolveAnnotation sets the resolution fields exactly once.
// Returns ErrNotFound for a missing annotation and ErrAlreadyResolved when it
// was already closed.
func (s *Store) ResolveAnnotation(ctx context.Context, id string, r Resolution) (record.Annotation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return record.Annotation{}, fmt.Errorf("resolve annotation: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq *int64
	if r.SequenceID != 0 {
		seq = record.Seq(r.SequenceID)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE annotations
		SET resolved = $1, resolved_by = $2, resolved_at = $3, resolution_note = $4, resolved_sequence_id = $5
		WHERE annotation_id = $6 AND resolved = $7
	`,
		true,
		r.ResolvedBy,
		record.Nanos(r.ResolvedAt),
		record.NormalizeText(r.Note),
		nullSeq(seq),
		id,
		false,
	)
	if err != nil {
		return record.Annotation{}, fmt.Errorf("resolve annotation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return record.Annotation{}, fmt.Errorf("resolve annotation: rows affected: %w", err)
	}
	if n == 0 {
		if _, err := readAnnotation(ctx, tx, id); err != nil {
			return record.Annotation{}, err
		}
		return record.Annotation{}, fmt.Errorf("resolve annotation %s: %w", id, ErrAlreadyResolved)
	}

	a, err := readAnnotation(ctx, tx, id)
	if err != nil {
		return record.Annotation{}, err
	}
	if err := tx.Commit(); err != nil {
		return record.Annotation{}, fmt.Errorf("resolve annotation: commit: %w", err)
	}
	return a, nil
}
