package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/mapper"
)

// Validation error codes (E100-E199)
const (
	// Program errors (E101-E104)
	ErrProgramNameEmpty = "E101" // program name is required
	ErrNoFunctions      = "E102" // at least one function required
	ErrDuplicateName    = "E103" // duplicate function or global name
	ErrGlobalInit       = "E104" // global initializer does not match its type

	// Function body errors (E110-E119)
	ErrUnresolvedLabel = "E110" // branch to a label that is never defined
	ErrDuplicateLabel  = "E111" // label defined twice in one function
	ErrArgumentIndex   = "E112" // argument index past the parameter list
	ErrMissingOperand  = "E113" // operand required by the op is absent
	ErrUnknownBuiltin  = "E114" // __builtin_ call the mapper does not know
)

// ValidationError represents one problem found in a program.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a program against the structural rules every backend
// relies on. Returns all errors found (does not fail-fast), unlike
// ir.Program.Validate which stops at the first.
//
// m decides which __builtin_ names exist; nil uses the default table.
func Validate(p *ir.Program, m *mapper.Mapper) []ValidationError {
	if m == nil {
		m = mapper.Default()
	}
	var errs []ValidationError

	// E101: name is required
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "program name is required and must be non-empty",
			Code:    ErrProgramNameEmpty,
		})
	}

	// E102: at least one function required
	if len(p.Functions) == 0 {
		errs = append(errs, ValidationError{
			Field:   "functions",
			Message: "at least one function is required",
			Code:    ErrNoFunctions,
		})
	}

	globalNames := make(map[string]bool)
	for i, g := range p.Globals {
		field := fmt.Sprintf("globals[%d]", i)
		if globalNames[g.Name] {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate global name: %q", g.Name),
				Code:    ErrDuplicateName,
			})
		}
		globalNames[g.Name] = true

		// E104: initializer must carry the declared type
		if g.Init != nil && g.Init.Type() != nil && g.Type != nil && g.Init.Type().String() != g.Type.String() {
			errs = append(errs, ValidationError{
				Field:   field + ".init",
				Message: fmt.Sprintf("initializer %s does not match type %s", g.Init, g.Type),
				Code:    ErrGlobalInit,
			})
		}
	}

	functionNames := make(map[string]bool)
	for i, fn := range p.Functions {
		if functionNames[fn.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("functions[%d].name", i),
				Message: fmt.Sprintf("duplicate function name: %q", fn.Name),
				Code:    ErrDuplicateName,
			})
		}
		functionNames[fn.Name] = true

		errs = append(errs, validateFunction(&fn, m)...)
	}

	return errs
}

// validateFunction checks labels, operands and argument indices.
func validateFunction(fn *ir.Function, m *mapper.Mapper) []ValidationError {
	var errs []ValidationError
	field := func(i int) string { return fmt.Sprintf("functions.%s.body[%d]", fn.Name, i) }

	labels := make(map[string]bool)
	for i, in := range fn.Body {
		if in.Op != ir.OpLabel {
			continue
		}
		// E111: duplicate label
		if labels[in.Label] {
			errs = append(errs, ValidationError{
				Field:   field(i),
				Message: fmt.Sprintf("duplicate label %q", in.Label),
				Code:    ErrDuplicateLabel,
			})
		}
		labels[in.Label] = true
	}

	for i, in := range fn.Body {
		switch {
		case in.Op.IsBranch() && !labels[in.Label]:
			errs = append(errs, ValidationError{
				Field:   field(i),
				Message: fmt.Sprintf("%s to undefined label %q", in.Op, in.Label),
				Code:    ErrUnresolvedLabel,
			})
		case (in.Op == ir.OpLoadArgument || in.Op == ir.OpStoreArgument) && int(in.Index) >= len(fn.Params):
			errs = append(errs, ValidationError{
				Field:   field(i),
				Message: fmt.Sprintf("argument %d but %s has %d parameters", in.Index, fn.Name, len(fn.Params)),
				Code:    ErrArgumentIndex,
			})
		case in.Op == ir.OpLoadConstant && in.Const == nil,
			(in.Op == ir.OpCall || in.Op == ir.OpLoadField || in.Op == ir.OpStoreField || in.Op == ir.OpNewObject) && in.Symbol == "",
			in.Op == ir.OpConvert && (in.From == nil || in.Type == nil):
			errs = append(errs, ValidationError{
				Field:   field(i),
				Message: fmt.Sprintf("%s is missing its operand", in.Op),
				Code:    ErrMissingOperand,
			})
		case in.Op == ir.OpCall && strings.HasPrefix(in.Symbol, "__builtin_") && !m.IsCanonical(in.Symbol):
			errs = append(errs, ValidationError{
				Field:   field(i),
				Message: fmt.Sprintf("unknown builtin %q", in.Symbol),
				Code:    ErrUnknownBuiltin,
			})
		}
	}
	return errs
}
