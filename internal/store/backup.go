package store

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/diarystore/internal/projection"
	"github.com/roach88/diarystore/internal/record"
)

// Backup is the portable form of a store: the complete log plus every
// annotation. The projection is not included; it is rebuilt on import.
type Backup struct {
	FormatVersion string             `yaml:"format_version"`
	StoreVersion  string             `yaml:"store_version"`
	Events        []BackupEvent      `yaml:"events"`
	Annotations   []BackupAnnotation `yaml:"annotations"`
}

// BackupEvent is one event in a backup. Timestamps are RFC 3339 strings and
// the payload is its canonical JSON text, so a round trip is byte-exact.
type BackupEvent struct {
	SequenceID       int64   `yaml:"sequence_id"`
	EntityID         string  `yaml:"entity_id"`
	ParentSequenceID *int64  `yaml:"parent_sequence_id"`
	Operation        string  `yaml:"operation"`
	Payload          string  `yaml:"payload"`
	ActorID          string  `yaml:"actor_id"`
	ActorRole        string  `yaml:"actor_role"`
	OwnerID          string  `yaml:"owner_id"`
	SiteID           string  `yaml:"site_id"`
	ClientTimestamp  string  `yaml:"client_timestamp,omitempty"`
	ServerTimestamp  string  `yaml:"server_timestamp"`
	ChangeReason     string  `yaml:"change_reason,omitempty"`
	Supersedes       []int64 `yaml:"supersedes,omitempty,flow"`
	PreviousHash     string  `yaml:"previous_hash"`
	Hash             string  `yaml:"hash"`
}

// BackupAnnotation is one annotation in a backup.
type BackupAnnotation struct {
	AnnotationID       string `yaml:"annotation_id"`
	EntityID           string `yaml:"entity_id"`
	AuthorID           string `yaml:"author_id"`
	AuthorRole         string `yaml:"author_role"`
	SiteID             string `yaml:"site_id"`
	OwnerID            string `yaml:"owner_id"`
	Kind               string `yaml:"kind"`
	Text               string `yaml:"text"`
	RequiresResponse   bool   `yaml:"requires_response"`
	ParentAnnotationID string `yaml:"parent_annotation_id,omitempty"`
	CreatedAt          string `yaml:"created_at"`
	Resolved           bool   `yaml:"resolved"`
	ResolvedBy         string `yaml:"resolved_by,omitempty"`
	ResolvedAt         string `yaml:"resolved_at,omitempty"`
	ResolutionNote     string `yaml:"resolution_note,omitempty"`
	ResolvedSequenceID int64  `yaml:"resolved_sequence_id,omitempty"`
}

// ImportResult summarizes a restore.
type ImportResult struct {
	Events      int
	Entities    int
	Annotations int
}

// Export writes the complete log and annotations as a YAML document.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	var (
		events      []record.Event
		annotations []record.Annotation
	)
	err := s.View(ctx, func(r *Snapshot) error {
		var err error
		if events, err = r.ReadAllEvents(ctx); err != nil {
			return err
		}
		annotations, err = r.ListAllAnnotations(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	b := Backup{
		FormatVersion: record.FormatVersion,
		StoreVersion:  record.StoreVersion,
		Events:        make([]BackupEvent, len(events)),
		Annotations:   make([]BackupAnnotation, len(annotations)),
	}
	for i, e := range events {
		b.Events[i] = backupEvent(e.Data())
	}
	for i, a := range annotations {
		b.Annotations[i] = backupAnnotation(a)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("export: encode: %w", err)
	}
	return enc.Close()
}

// Import reads a backup written by Export and restores it into an empty
// store. The log is verified first; a backup with any chain anomaly is
// refused with an *IntegrityError and nothing is written.
func (s *Store) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	var b Backup
	if err := yaml.NewDecoder(r).Decode(&b); err != nil {
		return ImportResult{}, fmt.Errorf("import: decode: %w", err)
	}
	if b.FormatVersion != record.FormatVersion {
		return ImportResult{}, fmt.Errorf("import: unsupported format version %q", b.FormatVersion)
	}

	events := make([]record.Event, len(b.Events))
	for i, be := range b.Events {
		d, err := be.data()
		if err != nil {
			return ImportResult{}, fmt.Errorf("import: event %d: %w", be.SequenceID, err)
		}
		events[i] = record.NewEvent(d)
	}
	annotations := make([]record.Annotation, len(b.Annotations))
	for i, ba := range b.Annotations {
		a, err := ba.annotation()
		if err != nil {
			return ImportResult{}, fmt.Errorf("import: annotation %s: %w", ba.AnnotationID, err)
		}
		annotations[i] = a
	}

	return s.ImportEvents(ctx, events, annotations)
}

// IntegrityError carries the report of a log that failed verification.
type IntegrityError struct {
	Report IntegrityReport
}

func (e *IntegrityError) Error() string {
	if len(e.Report.Anomalies) == 0 {
		return "integrity check failed"
	}
	return fmt.Sprintf("integrity check failed: %d anomalies, first: %s", len(e.Report.Anomalies), e.Report.Anomalies[0])
}

// ImportEvents restores a verified log, preserving sequence ids and hashes,
// into a store with no events. The projection is rebuilt by replay and the
// log head is set to the last event, all in one transaction.
func (s *Store) ImportEvents(ctx context.Context, events []record.Event, annotations []record.Annotation) (ImportResult, error) {
	if report := VerifyEvents(events); !report.OK() {
		return ImportResult{}, fmt.Errorf("import: %w", &IntegrityError{Report: report})
	}
	states, err := projection.ReplayAll(events)
	if err != nil {
		return ImportResult{}, fmt.Errorf("import: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ImportResult{}, fmt.Errorf("import: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var count int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return ImportResult{}, fmt.Errorf("import: count events: %w", err)
	}
	if count > 0 {
		return ImportResult{}, fmt.Errorf("import: %w", ErrNotEmpty)
	}

	for _, e := range events {
		if err := insertEvent(ctx, tx, e.Data()); err != nil {
			return ImportResult{}, fmt.Errorf("import: insert event %d: %w", e.SequenceID(), err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM current_state`); err != nil {
		return ImportResult{}, fmt.Errorf("import: clear projection: %w", err)
	}
	for _, id := range sortedKeys(states) {
		if err := insertState(ctx, tx, states[id]); err != nil {
			return ImportResult{}, fmt.Errorf("import: %w", err)
		}
	}
	for _, a := range annotations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO annotations (`+annotationColumns+`) VALUES (`+placeholders(16)+`)`,
			annotationArgs(a)...,
		); err != nil {
			return ImportResult{}, fmt.Errorf("import: insert annotation %s: %w", a.AnnotationID, err)
		}
	}

	lastSeq, lastTs, lastHash := int64(0), int64(0), record.GenesisHash
	if n := len(events); n > 0 {
		last := events[n-1]
		lastSeq, lastTs, lastHash = last.SequenceID(), record.Nanos(last.ServerTimestamp()), last.Hash()
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE log_head SET last_sequence_id = $1, last_server_ts = $2, last_hash = $3 WHERE id = 1
	`, lastSeq, lastTs, lastHash); err != nil {
		return ImportResult{}, fmt.Errorf("import: set head: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ImportResult{}, fmt.Errorf("import: commit: %w", err)
	}
	return ImportResult{Events: len(events), Entities: len(states), Annotations: len(annotations)}, nil
}

func backupEvent(d record.EventData) BackupEvent {
	return BackupEvent{
		SequenceID:       d.SequenceID,
		EntityID:         d.EntityID,
		ParentSequenceID: d.ParentSequenceID,
		Operation:        string(d.Operation),
		Payload:          d.Payload.String(),
		ActorID:          d.ActorID,
		ActorRole:        string(d.ActorRole),
		OwnerID:          d.OwnerID,
		SiteID:           d.SiteID,
		ClientTimestamp:  record.FormatTime(d.ClientTimestamp),
		ServerTimestamp:  record.FormatTime(d.ServerTimestamp),
		ChangeReason:     d.ChangeReason,
		Supersedes:       d.Supersedes,
		PreviousHash:     d.PreviousHash,
		Hash:             d.Hash,
	}
}

// data converts a backup event without re-canonicalizing its payload, so the
// stored hash is checked against exactly what was exported.
func (be BackupEvent) data() (record.EventData, error) {
	client, err := parseTime(be.ClientTimestamp)
	if err != nil {
		return record.EventData{}, err
	}
	server, err := parseTime(be.ServerTimestamp)
	if err != nil {
		return record.EventData{}, err
	}
	return record.EventData{
		EntityID:         be.EntityID,
		SequenceID:       be.SequenceID,
		ParentSequenceID: be.ParentSequenceID,
		Operation:        record.Operation(be.Operation),
		Payload:          record.Payload(be.Payload),
		ActorID:          be.ActorID,
		ActorRole:        record.Role(be.ActorRole),
		OwnerID:          be.OwnerID,
		SiteID:           be.SiteID,
		ClientTimestamp:  client,
		ServerTimestamp:  server,
		ChangeReason:     be.ChangeReason,
		Supersedes:       be.Supersedes,
		PreviousHash:     be.PreviousHash,
		Hash:             be.Hash,
	}, nil
}

func backupAnnotation(a record.Annotation) BackupAnnotation {
	ba := BackupAnnotation{
		AnnotationID:       a.AnnotationID,
		EntityID:           a.EntityID,
		AuthorID:           a.AuthorID,
		AuthorRole:         string(a.AuthorRole),
		SiteID:             a.SiteID,
		OwnerID:            a.OwnerID,
		Kind:               string(a.Kind),
		Text:               a.Text,
		RequiresResponse:   a.RequiresResponse,
		ParentAnnotationID: a.ParentAnnotationID,
		CreatedAt:          record.FormatTime(a.CreatedAt),
		Resolved:           a.Resolved,
		ResolvedBy:         a.ResolvedBy,
		ResolutionNote:     a.ResolutionNote,
		ResolvedSequenceID: a.ResolvedSequenceID,
	}
	if a.ResolvedAt != nil {
		ba.ResolvedAt = record.FormatTime(*a.ResolvedAt)
	}
	return ba
}

func (ba BackupAnnotation) annotation() (record.Annotation, error) {
	created, err := parseTime(ba.CreatedAt)
	if err != nil {
		return record.Annotation{}, err
	}
	a := record.Annotation{
		AnnotationID:       ba.AnnotationID,
		EntityID:           ba.EntityID,
		AuthorID:           ba.AuthorID,
		AuthorRole:         record.Role(ba.AuthorRole),
		SiteID:             ba.SiteID,
		OwnerID:            ba.OwnerID,
		Kind:               record.AnnotationKind(ba.Kind),
		Text:               ba.Text,
		RequiresResponse:   ba.RequiresResponse,
		ParentAnnotationID: ba.ParentAnnotationID,
		CreatedAt:          created,
		Resolved:           ba.Resolved,
		ResolvedBy:         ba.ResolvedBy,
		ResolutionNote:     ba.ResolutionNote,
		ResolvedSequenceID: ba.ResolvedSequenceID,
	}
	if ba.Resolved {
		at, err := parseTime(ba.ResolvedAt)
		if err != nil {
			return record.Annotation{}, err
		}
		a.ResolvedAt = &at
	}
	return a, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
