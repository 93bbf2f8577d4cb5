package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/diarystore/internal/engine"
	"github.com/roach88/diarystore/internal/record"
)

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state <entity-id>",
		Short: "Show an entity's current state",
		Long: `Show the current-state projection of an entity: canonical tip, payload,
derived flags and live tips.

An entity outside the actor's scope is reported exactly like a missing one
(NOT_FOUND).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, actor record.ActorContext) error {
				st, err := s.engine.GetCurrentState(cmd.Context(), actor, args[0])
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return s.out.Success(st)
				}
				writeState(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
}

func writeState(w io.Writer, st record.CurrentState) {
	fmt.Fprintf(w, "entity:     %s\n", st.EntityID)
	fmt.Fprintf(w, "owner/site: %s / %s\n", st.OwnerID, st.SiteID)
	fmt.Fprintf(w, "tip:        %d (versions: %d)\n", st.LatestSequenceID, st.VersionCount)
	fmt.Fprintf(w, "payload:    %s\n", st.CurrentPayload)
	fmt.Fprintf(w, "flags:      locked=%t deleted=%t complete=%t conflicted=%t\n", st.Locked, st.Deleted, st.Complete, st.Conflicted)
	if st.Conflicted {
		fmt.Fprintf(w, "tips:       %v\n", st.Tips)
	}
	fmt.Fprintf(w, "updated:    %s\n", st.UpdatedAt.UTC().Format(time.RFC3339Nano))
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "history <entity-id>",
		Short:         "List every event of an entity, branches included",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, actor record.ActorContext) error {
				h, err := s.engine.GetHistory(cmd.Context(), actor, args[0])
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return s.out.Success(h)
				}
				writeHistory(cmd.OutOrStdout(), h)
				return nil
			})
		},
	}
}

func writeHistory(w io.Writer, h engine.History) {
	for _, ev := range h.Events {
		writeEvent(w, ev)
	}
	if !h.Conflicted && len(h.Conflicts) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%d branches\n", len(h.Branches))
	for _, m := range h.Conflicts {
		writeConflict(w, m)
	}
}

// NewAsOfCommand creates the as-of command.
func NewAsOfCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "as-of <entity-id> <timestamp>",
		Short: "Show the canonical event in effect at a server timestamp",
		Long: `Show the last event on the current canonical branch whose server
timestamp is at or before the given RFC 3339 instant.

Examples:
  diarystore as-of E1 2026-03-01T08:00:00Z`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := time.Parse(time.RFC3339Nano, args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid timestamp", err)
			}
			return rootOpts.withSession(cmd, func(s *session, actor record.ActorContext) error {
				ev, err := s.engine.GetAsOf(cmd.Context(), actor, args[0], ts)
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return s.out.Success(ev)
				}
				writeEvent(cmd.OutOrStdout(), ev)
				return nil
			})
		},
	}
}

// ConflictsOptions holds flags for the conflicts command.
type ConflictsOptions struct {
	*RootOptions
	Site     string
	Entity   string
	Resolved bool
}

// NewConflictsCommand creates the conflicts command.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConflictsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List conflict markers visible to the actor",
		Long: `List points where an entity's chain forks. Open conflicts are listed by
default; --resolved includes forks that a later event has merged.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(s *session, actor record.ActorContext) error {
				markers, err := s.engine.ListConflicts(cmd.Context(), actor, engine.ConflictFilter{
					SiteID:          opts.Site,
					EntityID:        opts.Entity,
					IncludeResolved: opts.Resolved,
				})
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return s.out.Success(markers)
				}
				if len(markers) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No conflicts found.")
					return nil
				}
				for _, m := range markers {
					writeConflict(cmd.OutOrStdout(), m)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Site, "site", "", "only this site")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "only this entity")
	cmd.Flags().BoolVar(&opts.Resolved, "resolved", false, "include resolved conflicts")
	return cmd
}

func writeConflict(w io.Writer, m record.ConflictMarker) {
	mark := "✗"
	status := "open"
	if m.Resolved {
		mark = "✓"
		status = fmt.Sprintf("resolved by %d", m.ResolvedBySequenceID)
	}
	fmt.Fprintf(w, "%s %s fork at %d -> %v (%s)\n", mark, m.EntityID, m.CommonAncestorSequenceID, m.LeafSequenceIDs, status)
}
