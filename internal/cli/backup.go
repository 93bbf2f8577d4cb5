package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// BackupOptions holds flags for the export and import commands.
type BackupOptions struct {
	*RootOptions
	File string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the complete log and annotations as YAML",
		Long: `Write every event and annotation to a portable YAML document. The
current-state projection is not exported; import rebuilds it.

Examples:
  diarystore export --db ./diarystore.db --out backup.yaml
  diarystore export > backup.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			var w io.Writer = cmd.OutOrStdout()
			if opts.File != "" && opts.File != "-" {
				f, err := os.Create(opts.File)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to create output file", err)
				}
				defer f.Close()
				w = f
			}
			if err := s.store.Export(cmd.Context(), w); err != nil {
				return WrapExitError(ExitFailure, "export failed", err)
			}
			s.out.VerboseLog("exported to %s", opts.File)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.File, "out", "o", "", "output file (default stdout)")
	return cmd
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Restore an exported YAML backup into an empty store",
		Long: `Restore a backup written by export. The log is verified before anything
is written; a backup with any chain anomaly is refused. The target store
must be empty.

Examples:
  diarystore import --db ./restored.db --in backup.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(opts.File)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open backup", err)
			}
			defer f.Close()

			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.store.Import(cmd.Context(), f)
			if err != nil {
				return WrapExitError(ExitFailure, "import failed", err)
			}
			if opts.Format == "json" {
				return s.out.Success(res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ imported %d events, %d entities, %d annotations\n", res.Events, res.Entities, res.Annotations)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.File, "in", "i", "", "backup file (required)")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
