package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/diarystore/internal/engine"
	"github.com/roach88/diarystore/internal/record"
	"github.com/roach88/diarystore/internal/store"
)

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain and the projection",
		Long: `Walk the whole log checking sequence contiguity, chain links, event
hashes and timestamp order, then replay it and compare the result with the
stored current-state rows. Nothing is repaired.

Requires an ADMIN actor.

Exit codes:
  0 - No anomalies
  1 - Anomalies found (or actor not permitted)
  2 - Command error (database not found, etc.)

Examples:
  diarystore verify --db ./diarystore.db --actor ops --role ADMIN
  diarystore verify --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, actor record.ActorContext) error {
				report, err := s.engine.Verify(cmd.Context(), actor)
				if err != nil && !engine.IsIntegrity(err) {
					return err
				}
				if rootOpts.Format == "json" {
					if err != nil {
						return err
					}
					return s.out.Success(report)
				}
				writeReport(s.out, report)
				return err
			})
		},
	}
}

func writeReport(f *OutputFormatter, report store.IntegrityReport) {
	w := f.Writer
	if report.OK() {
		fmt.Fprintf(w, "✓ %d events, %d entities verified\n", report.EventsChecked, report.EntitiesChecked)
		return
	}
	fmt.Fprintf(w, "✗ %d anomalies in %d events, %d entities\n", len(report.Anomalies), report.EventsChecked, report.EntitiesChecked)
	for _, a := range report.Anomalies {
		fmt.Fprintf(w, "  %s\n", a)
	}
}

// NewRebuildCommand creates the rebuild command.
func NewRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute the current-state projection from the log",
		Long: `Discard every current-state row and recompute it by replaying the log
in sequence order. Events are never modified.

Requires an ADMIN actor.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, actor record.ActorContext) error {
				n, err := s.engine.Rebuild(cmd.Context(), actor)
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return s.out.Success(map[string]int{"entities": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ rebuilt %d entities\n", n)
				return nil
			})
		},
	}
}
