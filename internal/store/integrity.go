package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/diarystore/internal/conflict"
	"github.com/roach88/diarystore/internal/projection"
	"github.com/roach88/diarystore/internal/record"
)

// AnomalyKind classifies an integrity finding.
type AnomalyKind string

const (
	AnomalySequenceGap     AnomalyKind = "sequence_gap"
	AnomalyChainBreak      AnomalyKind = "chain_break"
	AnomalyHashMismatch    AnomalyKind = "hash_mismatch"
	AnomalyTimeRegression  AnomalyKind = "timestamp_regression"
	AnomalyBrokenTree      AnomalyKind = "broken_tree"
	AnomalyReplayRejected  AnomalyKind = "replay_rejected"
	AnomalyHeadMismatch    AnomalyKind = "head_mismatch"
	AnomalyProjectionDrift AnomalyKind = "projection_drift"
	AnomalyOrphanState     AnomalyKind = "projection_orphan"
	AnomalyMissingState    AnomalyKind = "projection_missing"
)

// Anomaly is one integrity finding. Anomalies are evidence: nothing in this
// package repairs the data that produced them.
type Anomaly struct {
	Kind       AnomalyKind `json:"kind" yaml:"kind"`
	SequenceID int64       `json:"sequence_id,omitempty" yaml:"sequence_id,omitempty"`
	EntityID   string      `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	Detail     string      `json:"detail" yaml:"detail"`
}

func (a Anomaly) String() string {
	loc := a.EntityID
	if a.SequenceID != 0 {
		loc = fmt.Sprintf("%s@%d", a.EntityID, a.SequenceID)
	}
	return fmt.Sprintf("%s %s: %s", a.Kind, loc, a.Detail)
}

// IntegrityReport summarizes a verification pass.
type IntegrityReport struct {
	EventsChecked   int       `json:"events_checked" yaml:"events_checked"`
	EntitiesChecked int       `json:"entities_checked" yaml:"entities_checked"`
	Anomalies       []Anomaly `json:"anomalies" yaml:"anomalies"`
}

// OK reports whether no anomalies were found.
func (r IntegrityReport) OK() bool {
	return len(r.Anomalies) == 0
}

// Merge appends other's findings to r.
func (r *IntegrityReport) Merge(other IntegrityReport) {
	if other.EventsChecked > r.EventsChecked {
		r.EventsChecked = other.EventsChecked
	}
	if other.EntitiesChecked > r.EntitiesChecked {
		r.EntitiesChecked = other.EntitiesChecked
	}
	r.Anomalies = append(r.Anomalies, other.Anomalies...)
}

// VerifyEvents checks a complete log, given in sequence order, starting
// from the genesis hash:
//   - sequence ids are contiguous from 1
//   - each previous_hash equals the prior event's hash
//   - each hash matches a recomputation over the event's fields
//   - server timestamps never decrease
//   - every entity forms a single tree with no dangling parent
//   - replaying the log through the projector succeeds
func VerifyEvents(events []record.Event) IntegrityReport {
	report := IntegrityReport{EventsChecked: len(events), Anomalies: []Anomaly{}}
	add := func(kind AnomalyKind, e record.Event, format string, args ...any) {
		report.Anomalies = append(report.Anomalies, Anomaly{
			Kind:       kind,
			SequenceID: e.SequenceID(),
			EntityID:   e.EntityID(),
			Detail:     fmt.Sprintf(format, args...),
		})
	}

	prevHash := record.GenesisHash
	var prevSeq int64
	var prevTs int64
	byEntity := map[string][]record.Event{}

	for _, e := range events {
		if e.SequenceID() != prevSeq+1 {
			add(AnomalySequenceGap, e, "expected sequence %d", prevSeq+1)
		}
		if e.PreviousHash() != prevHash {
			add(AnomalyChainBreak, e, "previous_hash %s does not match prior hash %s", short(e.PreviousHash()), short(prevHash))
		}
		if want, err := record.EventHash(e.Data()); err != nil {
			add(AnomalyHashMismatch, e, "cannot recompute hash: %v", err)
		} else if want != e.Hash() {
			add(AnomalyHashMismatch, e, "stored hash %s, recomputed %s", short(e.Hash()), short(want))
		}
		ts := record.Nanos(e.ServerTimestamp())
		if ts < prevTs {
			add(AnomalyTimeRegression, e, "server timestamp %s precedes prior event", record.FormatTime(e.ServerTimestamp()))
		}

		prevSeq, prevHash, prevTs = e.SequenceID(), e.Hash(), ts
		byEntity[e.EntityID()] = append(byEntity[e.EntityID()], e)
	}
	report.EntitiesChecked = len(byEntity)

	ids := make([]string, 0, len(byEntity))
	for id := range byEntity {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		chain := byEntity[id]
		if _, err := conflict.NewTree(chain); err != nil {
			report.Anomalies = append(report.Anomalies, Anomaly{Kind: AnomalyBrokenTree, EntityID: id, Detail: err.Error()})
		}
	}

	if _, err := projection.ReplayAll(events); err != nil {
		report.Anomalies = append(report.Anomalies, Anomaly{Kind: AnomalyReplayRejected, Detail: err.Error()})
	}
	return report
}

// VerifyChain reads the whole log and checks it with VerifyEvents, then
// checks the log head agrees with the last event. Log and head are read in
// one snapshot.
func (s *Store) VerifyChain(ctx context.Context) (IntegrityReport, error) {
	var report IntegrityReport
	err := s.View(ctx, func(r *Snapshot) error {
		var err error
		report, err = r.VerifyChain(ctx)
		return err
	})
	return report, err
}

// VerifyChain checks the log and head as of the snapshot.
func (r *Snapshot) VerifyChain(ctx context.Context) (IntegrityReport, error) {
	events, err := r.ReadAllEvents(ctx)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("verify chain: %w", err)
	}
	head, err := r.ReadHead(ctx)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("verify chain: %w", err)
	}

	report := VerifyEvents(events)

	wantSeq, wantHash := int64(0), record.GenesisHash
	if n := len(events); n > 0 {
		wantSeq, wantHash = events[n-1].SequenceID(), events[n-1].Hash()
	}
	if head.LastSequenceID != wantSeq || head.LastHash != wantHash {
		report.Anomalies = append(report.Anomalies, Anomaly{
			Kind:       AnomalyHeadMismatch,
			SequenceID: head.LastSequenceID,
			Detail:     fmt.Sprintf("log head %d/%s, last event %d/%s", head.LastSequenceID, short(head.LastHash), wantSeq, short(wantHash)),
		})
	}
	return report, nil
}

// VerifyProjection replays the log from empty and compares every stored
// projection row with the replayed state. Log and projection are read in
// one snapshot, so a concurrent append never shows up as drift.
func (s *Store) VerifyProjection(ctx context.Context) (IntegrityReport, error) {
	var report IntegrityReport
	err := s.View(ctx, func(r *Snapshot) error {
		var err error
		report, err = r.VerifyProjection(ctx)
		return err
	})
	return report, err
}

// VerifyProjection compares the projection with a replay as of the snapshot.
func (r *Snapshot) VerifyProjection(ctx context.Context) (IntegrityReport, error) {
	events, err := r.ReadAllEvents(ctx)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("verify projection: %w", err)
	}
	stored, err := r.ListStates(ctx)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("verify projection: %w", err)
	}

	report := IntegrityReport{EventsChecked: len(events), EntitiesChecked: len(stored), Anomalies: []Anomaly{}}

	replayed, err := projection.ReplayAll(events)
	if err != nil {
		report.Anomalies = append(report.Anomalies, Anomaly{Kind: AnomalyReplayRejected, Detail: err.Error()})
		return report, nil
	}
	report.Anomalies = append(report.Anomalies, CompareStates(replayed, stored)...)
	return report, nil
}

// CompareStates reports differences between replayed and stored projections.
func CompareStates(replayed map[string]record.CurrentState, stored []record.CurrentState) []Anomaly {
	var out []Anomaly
	seen := make(map[string]bool, len(stored))
	for _, st := range stored {
		seen[st.EntityID] = true
		want, ok := replayed[st.EntityID]
		if !ok {
			out = append(out, Anomaly{Kind: AnomalyOrphanState, EntityID: st.EntityID, Detail: "projection row without events"})
			continue
		}
		if !projection.Equal(want, st) {
			out = append(out, Anomaly{
				Kind:       AnomalyProjectionDrift,
				EntityID:   st.EntityID,
				SequenceID: st.LatestSequenceID,
				Detail:     fmt.Sprintf("stored version %d payload %s, replay gives version %d payload %s", st.VersionCount, st.CurrentPayload, want.VersionCount, want.CurrentPayload),
			})
		}
	}

	missing := make([]string, 0)
	for id := range replayed {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	for _, id := range missing {
		out = append(out, Anomaly{Kind: AnomalyMissingState, EntityID: id, Detail: "entity has events but no projection row"})
	}
	return out
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
