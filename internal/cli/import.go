package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/polyasm/internal/assembler"
	"github.com/roach88/polyasm/internal/config"
	"github.com/roach88/polyasm/internal/ir"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	ImportFormat string // wasm | class | msil | exe; inferred from the extension when empty
	Output       string // write the recovered IR document here
	Config       string // adapter entries
}

// ImportResult is the JSON payload of a successful import.
type ImportResult struct {
	Format  string      `json:"format"`
	Program ir.Document `json:"program"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <artifact>",
		Short: "Recover IR from a built artifact",
		Long: fmt.Sprintf(`Read a .wasm, .class, .msil or .exe artifact back into IR.

The recovered program is summarised as a table, or written as an IR
document with -o. Accepted formats: %s.

Examples:
  polyasm import out/Hello.wasm
  polyasm import out/Hello.exe -o hello.yaml
  polyasm import Hello.il --import-format msil`, strings.Join(config.Formats, ", ")),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ImportFormat, "import-format", "", "artifact format (wasm|class|msil|exe)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the IR document (.yaml or .json) to this file")
	cmd.Flags().StringVar(&opts.Config, "config", "", "config file (polyasm.yaml or polyasm.toml)")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	format := opts.ImportFormat
	if format == "" {
		var ok bool
		if format, ok = assembler.FormatForFile(path); !ok {
			return outputCommandError(formatter, ErrCodeImportFailed,
				fmt.Sprintf("cannot infer the format of %s; pass --import-format", path))
		}
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return outputCommandError(formatter, ErrCodeNotFound, fmt.Sprintf("artifact not found: %s", path))
	}
	if err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, err.Error())
	}

	asm, err := assembler.New(cfg, assembler.WithLogger(opts.Logger(cmd.ErrOrStderr())))
	if err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, err.Error())
	}
	prog, err := asm.Import(format, raw)
	if err != nil {
		return outputCommandError(formatter, ErrCodeImportFailed, err.Error())
	}
	formatter.VerboseLog("Imported %d function(s) from %s", len(prog.Functions), path)

	if opts.Output != "" {
		if err := writeDocument(opts.Output, prog); err != nil {
			return outputCommandError(formatter, ErrCodeWriteFailed, err.Error())
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(ImportResult{Format: format, Program: ir.NewDocument(prog)})
	}

	fmt.Fprintln(formatter.Writer, renderProgramTable(prog, format))
	if opts.Output != "" {
		formatter.Pass("Wrote IR document to %s", opts.Output)
	}
	return nil
}

// renderProgramTable summarises the functions of p.
func renderProgramTable(p *ir.Program, format string) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%s (%s)", p.Name, format))
	t.AppendHeader(table.Row{"Function", "Params", "Returns", "Locals", "Instructions"})
	for _, fn := range p.Functions {
		t.AppendRow(table.Row{fn.Name, typeList(fn.Params), typeName(fn.Return), typeList(fn.Locals), len(fn.Body)})
	}
	for _, g := range p.Globals {
		t.AppendFooter(table.Row{"global " + g.Name, "", typeName(g.Type), "", ""})
	}
	return t.Render()
}

func typeName(t ir.Type) string {
	if t == nil {
		return "void"
	}
	return t.String()
}

func typeList(ts []ir.Type) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = typeName(t)
	}
	return strings.Join(names, ", ")
}

// writeDocument writes p as YAML, or as indented JSON for .json paths.
func writeDocument(path string, p *ir.Program) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		data, err := json.MarshalIndent(ir.NewDocument(p), "", "  ")
		if err != nil {
			return err
		}
		_, err = f.Write(data)
		return err
	}
	return ir.EncodeDocument(f, p)
}
