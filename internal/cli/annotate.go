package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/diarystore/internal/engine"
	"github.com/roach88/diarystore/internal/record"
)

// AnnotateOptions holds flags for the annotate command.
type AnnotateOptions struct {
	*RootOptions
	Kind             string
	Text             string
	RequiresResponse bool
	Parent           string
}

// NewAnnotateCommand creates the annotate command.
func NewAnnotateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnnotateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "annotate <entity-id>",
		Short: "Attach oversight commentary to an entity",
		Long: `Attach a note, query, correction request or clarification to an entity.
Annotations never change the entity's event chain. Only investigators,
analysts and administrators may annotate.

Examples:
  diarystore annotate E1 --kind QUERY --text "Severity 9 seems high" --requires-response`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(s *session, actor record.ActorContext) error {
				a, err := s.engine.AddAnnotation(cmd.Context(), actor, engine.AnnotationRequest{
					EntityID:           args[0],
					Kind:               record.AnnotationKind(strings.ToUpper(opts.Kind)),
					Text:               opts.Text,
					RequiresResponse:   opts.RequiresResponse,
					ParentAnnotationID: opts.Parent,
				})
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return s.out.Success(a)
				}
				writeAnnotation(cmd.OutOrStdout(), a)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", string(record.KindNote), "NOTE|QUERY|CORRECTION|CLARIFICATION")
	cmd.Flags().StringVar(&opts.Text, "text", "", "annotation text (required)")
	_ = cmd.MarkFlagRequired("text")
	cmd.Flags().BoolVar(&opts.RequiresResponse, "requires-response", false, "the owner is expected to respond")
	cmd.Flags().StringVar(&opts.Parent, "parent", "", "annotation this one replies to")
	return cmd
}

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Note     string
	Sequence int64
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <annotation-id>",
		Short: "Mark an annotation resolved",
		Long: `Mark an annotation resolved, optionally pointing at the event that answered
it. An annotation is resolved at most once.

Examples:
  diarystore resolve 0192f0c4-... --seq 2 --note "confirmed by correction"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(s *session, actor record.ActorContext) error {
				a, err := s.engine.ResolveAnnotation(cmd.Context(), actor, engine.ResolveRequest{
					AnnotationID: args[0],
					Note:         opts.Note,
					SequenceID:   opts.Sequence,
				})
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return s.out.Success(a)
				}
				writeAnnotation(cmd.OutOrStdout(), a)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Note, "note", "", "resolution note")
	cmd.Flags().Int64Var(&opts.Sequence, "seq", 0, "sequence id of the event that answered the annotation")
	return cmd
}

// AnnotationsOptions holds flags for the annotations command.
type AnnotationsOptions struct {
	*RootOptions
	Open bool
}

// NewAnnotationsCommand creates the annotations command.
func NewAnnotationsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnnotationsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "annotations <entity-id>",
		Short:         "List annotations on an entity",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(s *session, actor record.ActorContext) error {
				list, err := s.engine.ListAnnotations(cmd.Context(), actor, args[0], opts.Open)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return s.out.Success(list)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No annotations found.")
					return nil
				}
				for _, a := range list {
					writeAnnotation(cmd.OutOrStdout(), a)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Open, "open", false, "only unresolved annotations")
	return cmd
}

func writeAnnotation(w io.Writer, a record.Annotation) {
	mark := "○"
	if a.Resolved {
		mark = "✓"
	}
	fmt.Fprintf(w, "%s %s\t%s\t%s\t%s (%s)\t%q\n", mark, a.AnnotationID, a.EntityID, a.Kind,
		a.AuthorID, a.CreatedAt.UTC().Format(time.RFC3339), a.Text)
	if a.ParentAnnotationID != "" {
		fmt.Fprintf(w, "  reply to %s\n", a.ParentAnnotationID)
	}
	if a.Resolved {
		fmt.Fprintf(w, "  resolved by %s", a.ResolvedBy)
		if a.ResolvedSequenceID != 0 {
			fmt.Fprintf(w, " at event %d", a.ResolvedSequenceID)
		}
		if a.ResolutionNote != "" {
			fmt.Fprintf(w, ": %q", a.ResolutionNote)
		}
		fmt.Fprintln(w)
	}
}
