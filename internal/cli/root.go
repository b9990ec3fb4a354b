package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds the persistent flags shared by every subcommand.
type RootOptions struct {
	Verbose bool
	Format  string // one of ValidFormats
}

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{"text", "json"}

// NewRootCommand assembles the polyasm command tree. Errors are returned
// to the caller of Execute rather than printed by cobra; see Reported.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	root := &cobra.Command{
		Use:   "polyasm",
		Short: "polyasm - one IR, four binary targets",
		Long: `A multi-target assembler: one stack-machine IR lowered to JVM class
files, MSIL text, Windows PE executables and WASI modules.`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: opts.check,
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")

	root.AddCommand(
		NewBuildCommand(opts),
		NewImportCommand(opts),
		NewTargetsCommand(opts),
		NewValidateCommand(opts),
		NewTestCommand(opts),
		NewHistoryCommand(opts),
	)
	return root
}

func (o *RootOptions) check(*cobra.Command, []string) error {
	if !slices.Contains(ValidFormats, o.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", o.Format, ValidFormats)
	}
	return nil
}

// Logger returns a debug-level text logger on w when verbose, otherwise
// one that discards everything.
func (o *RootOptions) Logger(w io.Writer) *slog.Logger {
	if !o.Verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// formatter binds an OutputFormatter to cmd's streams. Verbose output
// goes to stderr so JSON on stdout stays parseable.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
