package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/polyasm/internal/assembler"
	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/target"
)

// TargetsOptions holds flags for the targets command.
type TargetsOptions struct {
	*RootOptions
	Target string // score every backend against this target
	Config string
}

// BackendInfo describes one registered backend.
type BackendInfo struct {
	Name      string `json:"name"`
	Primary   string `json:"primary_target"`
	Extension string `json:"extension"`
}

// ScoreInfo is one backend's score for a requested target.
type ScoreInfo struct {
	Backend  string  `json:"backend"`
	Score    float32 `json:"score"`
	Refused  bool    `json:"refused"`
	Selected bool    `json:"selected"`
}

// TargetsResult is the JSON payload of the targets command.
type TargetsResult struct {
	Backends []BackendInfo `json:"backends"`
	Target   string        `json:"target,omitempty"`
	Scores   []ScoreInfo   `json:"scores,omitempty"`
	Selected string        `json:"selected,omitempty"`
}

// NewTargetsCommand creates the targets command.
func NewTargetsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TargetsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List backends and score them against a target",
		Long: `List the registered backends with their primary targets.

With --target, every backend is scored against the requested triple
and the one a build would select is marked.

Examples:
  polyasm targets
  polyasm targets --target x86-pe
  polyasm targets --target wasm32 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTargets(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "target triple to score")
	cmd.Flags().StringVar(&opts.Config, "config", "", "config file (polyasm.yaml or polyasm.toml)")

	return cmd
}

func runTargets(opts *TargetsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	asm, err := assembler.New(cfg, assembler.WithLogger(opts.Logger(cmd.ErrOrStderr())))
	if err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, err.Error())
	}
	reg := asm.Registry()

	var result TargetsResult
	for _, b := range reg.Backends() {
		result.Backends = append(result.Backends, BackendInfo{
			Name:      b.Name(),
			Primary:   b.PrimaryTarget().String(),
			Extension: b.FileExtension(),
		})
	}

	if opts.Target != "" {
		t, err := target.Parse(opts.Target)
		if err != nil {
			return outputCommandError(formatter, ErrCodeInvalidTarget, err.Error())
		}
		result.Target = t.String()
		if b, err := reg.Select(t); err == nil {
			result.Selected = b.Name()
		}
		for _, s := range reg.Scores(t) {
			result.Scores = append(result.Scores, ScoreInfo{
				Backend:  s.Backend,
				Score:    s.Value,
				Refused:  s.Refused,
				Selected: s.Backend == result.Selected,
			})
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	if opts.Target == "" {
		fmt.Fprintln(formatter.Writer, renderBackendsTable(result.Backends))
		return nil
	}
	fmt.Fprintln(formatter.Writer, renderScoresTable(result))
	if result.Selected == "" {
		formatter.Fail("No backend accepts %s (%s)", result.Target, backend.ErrUnsupportedTarget)
		return reported(NewExitError(ExitFailure, fmt.Sprintf("no compatible backend for %s", result.Target)))
	}
	formatter.Pass("%s selects %s", result.Target, result.Selected)
	return nil
}

func renderBackendsTable(backends []BackendInfo) string {
	t := table.NewWriter()
	t.SetTitle("Backends")
	t.AppendHeader(table.Row{"Name", "Primary target", "Extension"})
	for _, b := range backends {
		t.AppendRow(table.Row{b.Name, b.Primary, "." + b.Extension})
	}
	return t.Render()
}

func renderScoresTable(result TargetsResult) string {
	t := table.NewWriter()
	t.SetTitle("Scores for " + result.Target)
	t.AppendHeader(table.Row{"Backend", "Score", "Status"})
	for _, s := range result.Scores {
		status := ""
		switch {
		case s.Selected:
			status = "selected"
		case s.Refused:
			status = "refused"
		}
		t.AppendRow(table.Row{s.Backend, fmt.Sprintf("%g", s.Score), status})
	}
	return t.Render()
}
