package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/polyasm/internal/ir"
)

// ErrorCode classifies compilation errors.
type ErrorCode string

// Error codes returned by the registry and by every backend.
const (
	// ErrUnsupportedTarget: no backend scored >= 0 for the requested target.
	ErrUnsupportedTarget ErrorCode = "UNSUPPORTED_TARGET"

	// ErrUnsupportedInstruction: a backend cannot lower an IR instruction.
	ErrUnsupportedInstruction ErrorCode = "UNSUPPORTED_INSTRUCTION"

	// ErrUnresolvedLabel: a branch target is never defined in its function.
	ErrUnresolvedLabel ErrorCode = "UNRESOLVED_LABEL"

	// ErrUnknownSymbol: a Call or field access names nothing the backend can resolve.
	ErrUnknownSymbol ErrorCode = "UNKNOWN_SYMBOL"

	// ErrPoolOverflow: a format limit was exceeded (constant pool, sections).
	ErrPoolOverflow ErrorCode = "POOL_OVERFLOW"

	// ErrRelocationOverflow: a relocation value does not fit its encoding.
	ErrRelocationOverflow ErrorCode = "RELOCATION_OVERFLOW"

	// ErrInvalidIR: the program violates a structural invariant.
	ErrInvalidIR ErrorCode = "INVALID_IR"

	// ErrNoCompatibleBackend is the registry's name for ErrUnsupportedTarget.
	ErrNoCompatibleBackend = ErrUnsupportedTarget
)

// Error is the single error type returned from Compile. It carries enough
// context to locate the failure: backend name, function and instruction index.
type Error struct {
	Code     ErrorCode
	Backend  string
	Function string
	Index    int // instruction index, -1 when not tied to one
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Backend != "" {
		fmt.Fprintf(&b, " [%s]", e.Backend)
	}
	if e.Function != "" {
		if e.Index >= 0 {
			fmt.Fprintf(&b, " %s[%d]", e.Function, e.Index)
		} else {
			fmt.Fprintf(&b, " %s", e.Function)
		}
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error not tied to a function.
func NewError(code ErrorCode, backend, format string, args ...any) *Error {
	return &Error{Code: code, Backend: backend, Index: -1, Message: fmt.Sprintf(format, args...)}
}

// NewInstructionError creates an Error located at fn[index].
func NewInstructionError(code ErrorCode, backend, fn string, index int, format string, args ...any) *Error {
	return &Error{Code: code, Backend: backend, Function: fn, Index: index, Message: fmt.Sprintf(format, args...)}
}

// Unsupported reports an instruction the backend cannot lower.
func Unsupported(backend, fn string, index int, in ir.Instruction) *Error {
	return NewInstructionError(ErrUnsupportedInstruction, backend, fn, index, "%s is not supported by %s", in, backend)
}

// FromValidation converts an ir.ValidationError into an Error. Unresolved
// labels keep their own code; everything else is INVALID_IR.
func FromValidation(backend string, err error) error {
	if err == nil {
		return nil
	}
	var verr *ir.ValidationError
	if !errors.As(err, &verr) {
		return &Error{Code: ErrInvalidIR, Backend: backend, Index: -1, Err: err}
	}
	code := ErrInvalidIR
	if verr.Code == ir.ValidationUnresolvedLabel {
		code = ErrUnresolvedLabel
	}
	return &Error{Code: code, Backend: backend, Function: verr.Function, Index: verr.Index, Message: verr.Message}
}

// CodeOf returns the code of err if it is (or wraps) an *Error.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

func hasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsUnsupportedTarget returns true if err is an UNSUPPORTED_TARGET error.
func IsUnsupportedTarget(err error) bool { return hasCode(err, ErrUnsupportedTarget) }

// IsUnsupportedInstruction returns true if err is an UNSUPPORTED_INSTRUCTION error.
func IsUnsupportedInstruction(err error) bool { return hasCode(err, ErrUnsupportedInstruction) }

// IsUnresolvedLabel returns true if err is an UNRESOLVED_LABEL error.
func IsUnresolvedLabel(err error) bool { return hasCode(err, ErrUnresolvedLabel) }

// IsUnknownSymbol returns true if err is an UNKNOWN_SYMBOL error.
func IsUnknownSymbol(err error) bool { return hasCode(err, ErrUnknownSymbol) }

// IsPoolOverflow returns true if err is a POOL_OVERFLOW error.
func IsPoolOverflow(err error) bool { return hasCode(err, ErrPoolOverflow) }

// IsRelocationOverflow returns true if err is a RELOCATION_OVERFLOW error.
func IsRelocationOverflow(err error) bool { return hasCode(err, ErrRelocationOverflow) }

// IsInvalidIR returns true if err is an INVALID_IR error.
func IsInvalidIR(err error) bool { return hasCode(err, ErrInvalidIR) }
