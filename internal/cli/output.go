package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // invalid program, failed scenarios, no backend for a target
	ExitCommandError = 2 // bad input files, backend and ledger errors
)

// ExitError carries the exit code of a failed command. Reported is set
// once the failure has been written through an OutputFormatter, so the
// caller of Execute does not print it a second time.
type ExitError struct {
	Code     int
	Message  string
	Err      error
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an unreported failure.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an unreported failure caused by err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// reported marks e as already shown to the user.
func reported(e *ExitError) *ExitError {
	e.Reported = true
	return e
}

// GetExitCode maps err to a process exit code. Errors that are not an
// ExitError, such as cobra flag errors, exit with ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Reported tells whether err has already been written to the user.
func Reported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
}

// CLIResponse is the envelope of every --format json output.
type CLIResponse struct {
	Status  string    `json:"status"` // "ok" or "error"
	Data    any       `json:"data,omitempty"`
	Error   *CLIError `json:"error,omitempty"`
	BuildID string    `json:"build_id,omitempty"`
}

// CLIError is the error member of a CLIResponse. Code is an E0xx/E1xx
// code or a backend code such as UNSUPPORTED_TARGET.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as text or as one CLIResponse
// per command.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose diagnostics; Writer when nil
	Verbose   bool
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

func (f *OutputFormatter) emit(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// Success writes data: the "ok" envelope in JSON, its %v form otherwise.
func (f *OutputFormatter) Success(data any) error {
	if f.isJSON() {
		return f.emit(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Built writes a successful build result tagged with its ledger ID.
func (f *OutputFormatter) Built(data any, buildID string) error {
	return f.emit(CLIResponse{Status: "ok", Data: data, BuildID: buildID})
}

// Error writes a failure. Details are shown in text mode only with
// --verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.isJSON() {
		return f.emit(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// GetErrWriter returns the writer for diagnostics.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter == nil {
		return f.Writer
	}
	return f.ErrWriter
}

// VerboseLog writes a diagnostic line when --verbose is set. In JSON
// mode it must go to ErrWriter to keep stdout parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
	}
}

var (
	successMark = pterm.NewStyle(pterm.FgLightGreen).Sprint("✓")
	failureMark = pterm.NewStyle(pterm.FgLightRed).Sprint("✗")
	warningMark = pterm.NewStyle(pterm.FgYellow).Sprint("!")
)

// Pass writes a ✓ status line.
func (f *OutputFormatter) Pass(format string, args ...any) { f.status(successMark, format, args) }

// Fail writes a ✗ status line.
func (f *OutputFormatter) Fail(format string, args ...any) { f.status(failureMark, format, args) }

// Warn writes a ! status line.
func (f *OutputFormatter) Warn(format string, args ...any) { f.status(warningMark, format, args) }

func (f *OutputFormatter) status(mark, format string, args []any) {
	fmt.Fprintf(f.Writer, "%s %s\n", mark, fmt.Sprintf(format, args...))
}
