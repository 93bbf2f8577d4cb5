package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
//
// Store, actor and logging flags override the config file and DIARYSTORE_*
// environment variables; empty flags leave the configured value alone.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	Database   string
	Driver     string
	ActorID    string
	Role       string
	Sites      []string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the diarystore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "diarystore",
		Short: "diarystore - append-only clinical diary records",
		Long: `Operate an append-only, hash-chained store of clinical diary events.

Every change to a diary entry is an event. Writers name the event they
extend; a stale parent is a conflict, never a silent overwrite. Reads are
filtered by the acting identity's role and site assignments.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.ConfigFile, "config", "", "config file (default ./diarystore.yaml if present)")
	pf.StringVar(&opts.Database, "db", "", "database DSN or SQLite path (overrides store.dsn)")
	pf.StringVar(&opts.Driver, "driver", "", "database driver: sqlite|postgres (overrides store.driver)")
	pf.StringVar(&opts.ActorID, "actor", "", "acting identity (overrides actor.id)")
	pf.StringVar(&opts.Role, "role", "", "role of the acting identity: PATIENT|INVESTIGATOR|ANALYST|ADMIN")
	pf.StringSliceVar(&opts.Sites, "sites", nil, "site assignments of the acting identity")

	// Writes
	cmd.AddCommand(NewAppendCommand(opts))
	cmd.AddCommand(NewBranchCommand(opts))
	cmd.AddCommand(NewAnnotateCommand(opts))
	cmd.AddCommand(NewResolveCommand(opts))

	// Reads
	cmd.AddCommand(NewStateCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewAsOfCommand(opts))
	cmd.AddCommand(NewConflictsCommand(opts))
	cmd.AddCommand(NewAnnotationsCommand(opts))

	// Maintenance
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewRebuildCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code.
// Errors already written by a command are not printed twice.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || !exitErr.Reported {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return GetExitCode(err)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
