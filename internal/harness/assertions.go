package harness

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/polyasm/internal/assembler"
	"github.com/roach88/polyasm/internal/backend"
)

// Expectation type constants, used in AssertionError.Type.
const (
	ExpectBackend      = "backend"
	ExpectFile         = "file"
	ExpectContainsHex  = "contains_hex"
	ExpectContainsText = "contains_text"
	ExpectFunctions    = "functions"
)

// AssertionError is returned when an expectation fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Expectation type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Files    []string // Output files for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Files) > 0 {
		fmt.Fprintf(&buf, "\nOutput files:\n")
		for _, f := range e.Files {
			fmt.Fprintf(&buf, "  %s\n", f)
		}
	}

	return buf.String()
}

// EvaluateExpectations checks a successful build against expect and
// returns one message per failed expectation. Importing for the
// functions check goes through asm, so disabled adapters fail it.
func EvaluateExpectations(result *Result, expect Expect, asm *assembler.Assembler) []string {
	var errs []string
	add := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	add(assertBackend(result, expect))

	name, data, err := selectFile(result, expect)
	if err != nil {
		// Without a file nothing else can be checked.
		add(err)
		return errs
	}

	for _, h := range expect.ContainsHex {
		add(assertContainsHex(result, name, data, h))
	}
	for _, s := range expect.ContainsText {
		add(assertContainsText(result, name, data, s))
	}
	if len(expect.Functions) > 0 {
		add(assertFunctions(result, name, data, expect.Functions, asm))
	}

	return errs
}

func fileList(result *Result) []string {
	out := backend.Output{Files: result.Files}
	names := out.FileNames()
	for i, n := range names {
		names[i] = fmt.Sprintf("%s (%d bytes)", n, len(result.Files[n]))
	}
	return names
}

func assertBackend(result *Result, expect Expect) error {
	if expect.Backend == "" || expect.Backend == result.Backend {
		return nil
	}
	return &AssertionError{
		Type:     ExpectBackend,
		Expected: expect.Backend,
		Actual:   result.Backend,
		Files:    fileList(result),
	}
}

// selectFile picks the file named by expect, or the only output file.
func selectFile(result *Result, expect Expect) (string, []byte, error) {
	if expect.File != "" {
		data, ok := result.Files[expect.File]
		if !ok {
			return "", nil, &AssertionError{
				Type:     ExpectFile,
				Expected: fmt.Sprintf("output file %s", expect.File),
				Actual:   "not produced",
				Files:    fileList(result),
			}
		}
		return expect.File, data, nil
	}
	if len(result.Files) != 1 {
		return "", nil, &AssertionError{
			Type:     ExpectFile,
			Expected: "exactly one output file (set expect.file to choose)",
			Actual:   fmt.Sprintf("%d files", len(result.Files)),
			Files:    fileList(result),
		}
	}
	for name, data := range result.Files {
		return name, data, nil
	}
	return "", nil, nil
}

func assertContainsHex(result *Result, name string, data []byte, h string) error {
	want, err := parseHex(h)
	if err != nil {
		return err
	}
	if bytes.Contains(data, want) {
		return nil
	}
	return &AssertionError{
		Type:     ExpectContainsHex,
		Expected: fmt.Sprintf("%s contains % x", name, want),
		Actual:   "byte sequence not found",
		Files:    fileList(result),
	}
}

func assertContainsText(result *Result, name string, data []byte, s string) error {
	if bytes.Contains(data, []byte(s)) {
		return nil
	}
	return &AssertionError{
		Type:     ExpectContainsText,
		Expected: fmt.Sprintf("%s contains %q", name, s),
		Actual:   "text not found",
		Files:    fileList(result),
	}
}

func assertFunctions(result *Result, name string, data []byte, want []string, asm *assembler.Assembler) error {
	format, ok := assembler.FormatForFile(name)
	if !ok {
		return &AssertionError{
			Type:     ExpectFunctions,
			Expected: fmt.Sprintf("an importable file, got %s", name),
			Actual:   "no import format for extension",
		}
	}
	p, err := asm.Import(format, data)
	if err != nil {
		return &AssertionError{
			Type:     ExpectFunctions,
			Expected: fmt.Sprintf("functions %v", want),
			Actual:   fmt.Sprintf("import failed: %v", err),
			Files:    fileList(result),
		}
	}
	got := make([]string, len(p.Functions))
	for i, fn := range p.Functions {
		got[i] = fn.Name
	}
	if slices.Equal(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     ExpectFunctions,
		Expected: fmt.Sprintf("functions %v", want),
		Actual:   fmt.Sprintf("functions %v", got),
		Files:    fileList(result),
	}
}

// parseHex reads "41 2a 0F" or "412a0f".
func parseHex(s string) ([]byte, error) {
	clean := strings.Join(strings.Fields(s), "")
	if clean == "" {
		return nil, fmt.Errorf("empty hex sequence")
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}
