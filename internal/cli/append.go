package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/diarystore/internal/engine"
	"github.com/roach88/diarystore/internal/record"
)

// AppendOptions holds flags for the append and branch commands.
type AppendOptions struct {
	*RootOptions
	Operation       string
	Payload         string
	Parent          int64
	Reason          string
	Owner           string
	Site            string
	ClientTimestamp string
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append <entity-id>",
		Short: "Append an event to an entity",
		Long: `Append one event to an entity's chain.

--parent names the event the write extends. It must be the current tip; a
stale parent is rejected with CONFLICT and the tip it should have named.
Omit --parent only for CREATE.

Exit codes:
  0 - Event appended
  1 - Request rejected (VALIDATION, NOT_FOUND, FORBIDDEN, PROJECTION)
  2 - Command error (bad flags, database unavailable, etc.)
  3 - CONFLICT: re-read the tip and retry

Examples:
  diarystore append E1 --op CREATE --site site-a --payload '{"severity":5}'
  diarystore append E1 --op UPDATE --parent 1 --payload '{"severity":4}'
  diarystore append E1 --op CORRECTION --parent 2 --reason "typo" --payload '{"severity":3}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, cmd, args[0], false)
		},
	}
	opts.bindFlags(cmd)
	return cmd
}

// NewBranchCommand creates the branch command.
func NewBranchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "branch <entity-id>",
		Short: "Keep a concurrent write as a branch",
		Long: `Append an event whose parent is not the tip, keeping it as a sibling
branch instead of rejecting it. The entity becomes conflicted until a later
event supersedes the extra tips.

Examples:
  diarystore branch E1 --op UPDATE --parent 1 --payload '{"severity":6}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, cmd, args[0], true)
		},
	}
	opts.bindFlags(cmd)
	_ = cmd.MarkFlagRequired("parent")
	return cmd
}

func (opts *AppendOptions) bindFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&opts.Operation, "op", "", "operation: CREATE|UPDATE|CORRECTION|DELETE|LOCK|UNLOCK|COMPLETE|ANNOTATION_RESOLUTION (required)")
	_ = cmd.MarkFlagRequired("op")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "JSON object payload")
	cmd.Flags().Int64Var(&opts.Parent, "parent", 0, "expected parent sequence id")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "change reason")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "owner id (CREATE; defaults to a patient actor)")
	cmd.Flags().StringVar(&opts.Site, "site", "", "site id (CREATE)")
	cmd.Flags().StringVar(&opts.ClientTimestamp, "client-ts", "", "client timestamp, RFC 3339 (default now)")
}

// request builds the engine request from flags.
func (opts *AppendOptions) request(cmd *cobra.Command, entityID string) (engine.AppendRequest, error) {
	op, err := record.ParseOperation(opts.Operation)
	if err != nil {
		return engine.AppendRequest{}, WrapExitError(ExitCommandError, "invalid --op", err)
	}
	clientTS := time.Now().UTC()
	if opts.ClientTimestamp != "" {
		clientTS, err = time.Parse(time.RFC3339Nano, opts.ClientTimestamp)
		if err != nil {
			return engine.AppendRequest{}, WrapExitError(ExitCommandError, "invalid --client-ts", err)
		}
	}

	req := engine.AppendRequest{
		EntityID:        entityID,
		Operation:       op,
		ClientTimestamp: clientTS,
		ChangeReason:    opts.Reason,
		OwnerID:         opts.Owner,
		SiteID:          opts.Site,
	}
	if opts.Payload != "" {
		req.Payload = json.RawMessage(opts.Payload)
	}
	if cmd.Flags().Changed("parent") {
		req.ExpectedParent = record.Seq(opts.Parent)
	}
	return req, nil
}

func runAppend(opts *AppendOptions, cmd *cobra.Command, entityID string, branch bool) error {
	req, err := opts.request(cmd, entityID)
	if err != nil {
		return err
	}

	return opts.withSession(cmd, func(s *session, actor record.ActorContext) error {
		ctx := cmd.Context()
		var ev record.Event
		if branch {
			ev, err = s.engine.RetainBranch(ctx, actor, req)
		} else {
			ev, err = s.engine.Append(ctx, actor, req)
		}
		if err != nil {
			return err
		}
		if opts.Format == "json" {
			return s.out.Success(ev)
		}
		writeEvent(cmd.OutOrStdout(), ev)
		return nil
	})
}

// writeEvent prints one event as a single text line.
func writeEvent(w io.Writer, ev record.Event) {
	parent := "-"
	if p, ok := ev.ParentSequenceID(); ok {
		parent = fmt.Sprint(p)
	}
	fmt.Fprintf(w, "%d\t%s\tparent=%s\t%s\t%s\t%s",
		ev.SequenceID(), ev.EntityID(), parent, ev.Operation(),
		ev.ServerTimestamp().UTC().Format(time.RFC3339Nano), ev.Payload())
	if sup := ev.Supersedes(); len(sup) > 0 {
		fmt.Fprintf(w, "\tsupersedes=%v", sup)
	}
	if r := ev.ChangeReason(); r != "" {
		fmt.Fprintf(w, "\treason=%q", r)
	}
	fmt.Fprintln(w)
}
