package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/polyasm/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	DB      string // ledger path (required)
	Program string // filter by program name
	Target  string // filter by target triple
	Limit   int    // most recent N builds
}

// HistoryBuild is one ledger entry in JSON output.
type HistoryBuild struct {
	ID          string      `json:"id"`
	Program     string      `json:"program"`
	ProgramHash string      `json:"program_hash"`
	Target      string      `json:"target"`
	Backend     string      `json:"backend"`
	CreatedAt   string      `json:"created_at"`
	Files       []BuildFile `json:"files"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded builds",
		Long: `List the builds recorded in a ledger by "polyasm build --db".

Exit codes:
  0 - Success
  2 - Command error (database not found, etc.)

Examples:
  polyasm history --db builds.db
  polyasm history --db builds.db --program Hello --limit 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "path to the build ledger (required)")
	cmd.Flags().StringVar(&opts.Program, "program", "", "only builds of this program")
	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "only builds for this target triple")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show only the most recent N builds")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	// Opening would create an empty ledger; a missing file is a typo.
	if _, err := os.Stat(opts.DB); os.IsNotExist(err) {
		return outputCommandError(formatter, ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.DB))
	}

	st, err := store.Open(opts.DB)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, fmt.Sprintf("opening build ledger: %v", err))
	}
	defer st.Close()

	builds, err := st.ListBuilds(context.Background(), store.Filter{
		Program: opts.Program,
		Target:  opts.Target,
		Limit:   opts.Limit,
	})
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, fmt.Sprintf("listing builds: %v", err))
	}

	if formatter.Format == "json" {
		out := make([]HistoryBuild, 0, len(builds))
		for _, b := range builds {
			out = append(out, historyBuild(b))
		}
		return formatter.Success(out)
	}

	if len(builds) == 0 {
		fmt.Fprintln(formatter.Writer, "No builds recorded.")
		return nil
	}
	fmt.Fprintln(formatter.Writer, renderHistoryTable(builds))
	return nil
}

func historyBuild(b store.Build) HistoryBuild {
	h := HistoryBuild{
		ID:          b.ID,
		Program:     b.Program,
		ProgramHash: b.ProgramHash,
		Target:      b.Target,
		Backend:     b.Backend,
		CreatedAt:   b.CreatedAt.UTC().Format(time.RFC3339Nano),
		Files:       []BuildFile{},
	}
	for _, f := range b.Files {
		h.Files = append(h.Files, BuildFile{Name: f.Name, Size: f.Size, SHA256: f.SHA256})
	}
	return h
}

func renderHistoryTable(builds []store.Build) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%d build(s)", len(builds)))
	t.AppendHeader(table.Row{"Created", "Program", "Target", "Backend", "Files", "Build ID"})
	for _, b := range builds {
		names := make([]string, len(b.Files))
		for i, f := range b.Files {
			names[i] = fmt.Sprintf("%s (%d bytes)", f.Name, f.Size)
		}
		t.AppendRow(table.Row{
			b.CreatedAt.UTC().Format(time.RFC3339),
			b.Program,
			b.Target,
			b.Backend,
			strings.Join(names, "\n"),
			b.ID,
		})
	}
	return t.Render()
}
