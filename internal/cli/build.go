package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/polyasm/internal/assembler"
	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/compiler"
	"github.com/roach88/polyasm/internal/store"
	"github.com/roach88/polyasm/internal/target"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	Target string // target triple or alias
	Output string // output directory
	Config string // polyasm.yaml / polyasm.toml
	DB     string // build ledger, optional
}

// BuildResult is the JSON payload of a successful build.
type BuildResult struct {
	BuildID     string      `json:"build_id"`
	Program     string      `json:"program"`
	ProgramHash string      `json:"program_hash"`
	Target      string      `json:"target"`
	Backend     string      `json:"backend"`
	Files       []BuildFile `json:"files"`
}

// BuildFile is one artifact written to disk.
type BuildFile struct {
	Name   string `json:"name"`
	Path   string `json:"path,omitempty"`
	Size   int    `json:"size"`
	SHA256 string `json:"sha256"`
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build <program>",
		Short: "Assemble a program for one target",
		Long: `Assemble a program description (.cue, .yaml, .json or a CUE package
directory) for a target and write the artifacts to the output directory.

The backend is chosen by scoring every registered backend against the
target. With --db the build is recorded in the SQLite ledger.

Examples:
  polyasm build hello.cue --target x86_64-pe-msvc -o out
  polyasm build hello.yaml --target jvm --db builds.db
  polyasm build ./prog --target wasi --config polyasm.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Target, "target", "t", target.WindowsX64.String(), "target triple (e.g. jvm-jasm-jvm8, wasi)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", ".", "output directory")
	cmd.Flags().StringVar(&opts.Config, "config", "", "config file (polyasm.yaml or polyasm.toml)")
	cmd.Flags().StringVar(&opts.DB, "db", "", "record the build in this SQLite ledger")

	return cmd
}

func runBuild(opts *BuildOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.Logger(cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	t, err := target.Parse(opts.Target)
	if err != nil {
		return outputCommandError(formatter, ErrCodeInvalidTarget, err.Error())
	}

	loaded, err := LoadProgram(path)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	prog := loaded.Program
	formatter.VerboseLog("Loaded %s from %d file(s)", prog.Name, loaded.FileCount)

	if errs := compiler.Validate(prog, cfg.Mapper()); len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}
	for _, w := range compiler.AnalyzeCycles(prog) {
		formatter.VerboseLog("warning: %s", w.Message)
	}

	asmOpts := []assembler.Option{assembler.WithLogger(logger)}
	if opts.DB != "" {
		st, err := store.Open(opts.DB)
		if err != nil {
			return outputCommandError(formatter, ErrCodeStore, fmt.Sprintf("opening build ledger: %v", err))
		}
		defer st.Close()
		asmOpts = append(asmOpts, assembler.WithStore(st))
	}

	asm, err := assembler.New(cfg, asmOpts...)
	if err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, err.Error())
	}

	res, buildErr := asm.Build(context.Background(), prog, t)
	if res == nil {
		return outputBuildError(formatter, buildErr)
	}

	result := BuildResult{
		BuildID:     res.Record.ID,
		Program:     prog.Name,
		ProgramHash: res.Record.ProgramHash,
		Target:      t.String(),
		Backend:     res.Output.Backend,
	}
	if err := os.MkdirAll(opts.Output, 0755); err != nil {
		return outputCommandError(formatter, ErrCodeWriteFailed, fmt.Sprintf("creating output directory: %v", err))
	}
	for _, f := range res.Record.Files {
		dest := filepath.Join(opts.Output, f.Name)
		if err := os.WriteFile(dest, res.Output.Files[f.Name], 0644); err != nil {
			return outputCommandError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing %s: %v", dest, err))
		}
		result.Files = append(result.Files, BuildFile{Name: f.Name, Path: dest, Size: f.Size, SHA256: f.SHA256})
	}

	// Artifacts are on disk even when the ledger write failed.
	if buildErr != nil {
		return outputCommandError(formatter, ErrCodeStore, fmt.Sprintf("recording build: %v", buildErr))
	}

	return outputBuildSuccess(formatter, result)
}

// outputBuildSuccess outputs a successful build.
func outputBuildSuccess(formatter *OutputFormatter, result BuildResult) error {
	if formatter.Format == "json" {
		return formatter.Built(result, result.BuildID)
	}

	formatter.Pass("Built %s for %s with %s", result.Program, result.Target, result.Backend)
	for _, f := range result.Files {
		fmt.Fprintf(formatter.Writer, "  %s (%d bytes)\n", f.Path, f.Size)
	}
	formatter.VerboseLog("build %s, program hash %s", result.BuildID, result.ProgramHash)
	return nil
}

// outputBuildError reports a backend failure with its error code.
func outputBuildError(formatter *OutputFormatter, err error) error {
	code := ErrCodeGeneric
	if c, ok := backend.CodeOf(err); ok {
		code = string(c)
	}
	details := map[string]any{}
	var be *backend.Error
	if errors.As(err, &be) {
		if be.Backend != "" {
			details["backend"] = be.Backend
		}
		if be.Function != "" {
			details["function"] = be.Function
			details["index"] = be.Index
		}
	}
	if len(details) == 0 {
		details = nil
	}
	if formatter.Format != "json" {
		formatter.Fail("Build failed")
	}
	_ = formatter.Error(code, err.Error(), details)
	return reported(WrapExitError(ExitCommandError, fmt.Sprintf("%s: build failed", code), err))
}

// outputCommandError outputs a single command-level error.
func outputCommandError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Command errors are exit code 2
	return reported(NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message)))
}

// outputLoadError outputs a load failure, with its CUE position when known.
func outputLoadError(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		return outputCommandError(formatter, ErrCodeGeneric, err.Error())
	}
	var details interface{}
	if loadErr.Pos.IsValid() {
		details = map[string]any{
			"file":   loadErr.Pos.Filename(),
			"line":   loadErr.Pos.Line(),
			"column": loadErr.Pos.Column(),
		}
		if formatter.Format != "json" {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
		}
	}
	_ = formatter.Error(loadErr.Code, loadErr.Message, details)
	return reported(NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", loadErr.Code, loadErr.Message)))
}
