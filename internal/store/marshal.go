package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/diarystore/internal/record"
)

// eventColumns is the column list every event query selects, in scan order.
const eventColumns = `sequence_id, entity_id, parent_sequence_id, operation, payload,
	actor_id, actor_role, owner_id, site_id, client_ts, server_ts,
	change_reason, supersedes, previous_hash, hash`

// stateColumns is the column list every projection query selects, in scan order.
const stateColumns = `entity_id, latest_sequence_id, current_payload, version_count,
	locked, deleted, complete, conflicted, tips, owner_id, site_id, updated_at`

// annotationColumns is the column list every annotation query selects, in scan order.
const annotationColumns = `annotation_id, entity_id, author_id, author_role, site_id, owner_id,
	kind, text, requires_response, parent_annotation_id, created_at,
	resolved, resolved_by, resolved_at, resolution_note, resolved_sequence_id`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// marshalSeqs encodes a sequence id list as a JSON array. nil encodes as [].
func marshalSeqs(seqs []int64) string {
	if len(seqs) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(seqs)
	return string(data)
}

func unmarshalSeqs(data string) ([]int64, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var seqs []int64
	if err := json.Unmarshal([]byte(data), &seqs); err != nil {
		return nil, fmt.Errorf("unmarshal sequence list: %w", err)
	}
	return seqs, nil
}

func nullSeq(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// eventArgs returns the insert arguments for d in eventColumns order.
func eventArgs(d record.EventData) []any {
	return []any{
		d.SequenceID,
		d.EntityID,
		nullSeq(d.ParentSequenceID),
		string(d.Operation),
		d.Payload.String(),
		d.ActorID,
		string(d.ActorRole),
		d.OwnerID,
		d.SiteID,
		record.Nanos(d.ClientTimestamp),
		record.Nanos(d.ServerTimestamp),
		d.ChangeReason,
		marshalSeqs(d.Supersedes),
		d.PreviousHash,
		d.Hash,
	}
}

// scanEvent reads one event row. Stored payloads are already canonical and
// are returned byte-for-byte so hashes can be recomputed.
func scanEvent(sc scanner) (record.Event, error) {
	var (
		d                  record.EventData
		parent             sql.NullInt64
		op, role, payload  string
		supersedes         string
		clientNs, serverNs int64
	)
	err := sc.Scan(
		&d.SequenceID, &d.EntityID, &parent, &op, &payload,
		&d.ActorID, &role, &d.OwnerID, &d.SiteID, &clientNs, &serverNs,
		&d.ChangeReason, &supersedes, &d.PreviousHash, &d.Hash,
	)
	if err != nil {
		return record.Event{}, err
	}
	if parent.Valid {
		d.ParentSequenceID = record.Seq(parent.Int64)
	}
	d.Operation = record.Operation(op)
	d.ActorRole = record.Role(role)
	d.Payload = record.Payload(payload)
	d.ClientTimestamp = record.FromNanos(clientNs)
	d.ServerTimestamp = record.FromNanos(serverNs)
	if d.Supersedes, err = unmarshalSeqs(supersedes); err != nil {
		return record.Event{}, fmt.Errorf("scan event %d: %w", d.SequenceID, err)
	}
	return record.NewEvent(d), nil
}

// stateArgs returns the insert arguments for s in stateColumns order.
func stateArgs(s record.CurrentState) []any {
	return []any{
		s.EntityID,
		s.LatestSequenceID,
		s.CurrentPayload.String(),
		s.VersionCount,
		s.Locked,
		s.Deleted,
		s.Complete,
		s.Conflicted,
		marshalSeqs(s.Tips),
		s.OwnerID,
		s.SiteID,
		record.Nanos(s.UpdatedAt),
	}
}

func scanState(sc scanner) (record.CurrentState, error) {
	var (
		s             record.CurrentState
		payload, tips string
		updatedNs     int64
	)
	err := sc.Scan(
		&s.EntityID, &s.LatestSequenceID, &payload, &s.VersionCount,
		&s.Locked, &s.Deleted, &s.Complete, &s.Conflicted,
		&tips, &s.OwnerID, &s.SiteID, &updatedNs,
	)
	if err != nil {
		return record.CurrentState{}, err
	}
	s.CurrentPayload = record.Payload(payload)
	s.UpdatedAt = record.FromNanos(updatedNs)
	if s.Tips, err = unmarshalSeqs(tips); err != nil {
		return record.CurrentState{}, fmt.Errorf("scan state %s: %w", s.EntityID, err)
	}
	return s, nil
}

// annotationArgs returns the insert arguments for a in annotationColumns order.
func annotationArgs(a record.Annotation) []any {
	var resolvedAt int64
	if a.ResolvedAt != nil {
		resolvedAt = record.Nanos(*a.ResolvedAt)
	}
	var resolvedSeq *int64
	if a.ResolvedSequenceID != 0 {
		resolvedSeq = record.Seq(a.ResolvedSequenceID)
	}
	return []any{
		a.AnnotationID,
		a.EntityID,
		a.AuthorID,
		string(a.AuthorRole),
		a.SiteID,
		a.OwnerID,
		string(a.Kind),
		a.Text,
		a.RequiresResponse,
		nullString(a.ParentAnnotationID),
		record.Nanos(a.CreatedAt),
		a.Resolved,
		a.ResolvedBy,
		resolvedAt,
		a.ResolutionNote,
		nullSeq(resolvedSeq),
	}
}

func scanAnnotation(sc scanner) (record.Annotation, error) {
	var (
		a                     record.Annotation
		role, kind            string
		parent                sql.NullString
		createdNs, resolvedNs int64
		resolvedSeq           sql.NullInt64
	)
	err := sc.Scan(
		&a.AnnotationID, &a.EntityID, &a.AuthorID, &role, &a.SiteID, &a.OwnerID,
		&kind, &a.Text, &a.RequiresResponse, &parent, &createdNs,
		&a.Resolved, &a.ResolvedBy, &resolvedNs, &a.ResolutionNote, &resolvedSeq,
	)
	if err != nil {
		return record.Annotation{}, err
	}
	a.AuthorRole = record.Role(role)
	a.Kind = record.AnnotationKind(kind)
	a.ParentAnnotationID = parent.String
	a.CreatedAt = record.FromNanos(createdNs)
	if a.Resolved {
		t := record.FromNanos(resolvedNs)
		a.ResolvedAt = &t
	}
	if resolvedSeq.Valid {
		a.ResolvedSequenceID = resolvedSeq.Int64
	}
	return a, nil
}

// placeholders renders "$1, $2, ..., $n".
func placeholders(n int) string {
	buf := make([]byte, 0, n*4)
	for i := 1; i <= n; i++ {
		if i > 1 {
			buf = append(buf, ", "...)
		}
		buf = append(buf, fmt.Sprintf("$%d", i)...)
	}
	return string(buf)
}
