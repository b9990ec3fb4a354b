package ir

import "fmt"

// ValidationCode classifies a structural problem found by Validate.
type ValidationCode string

const (
	ValidationEmptyName         ValidationCode = "EMPTY_NAME"
	ValidationDuplicateFunction ValidationCode = "DUPLICATE_FUNCTION"
	ValidationDuplicateGlobal   ValidationCode = "DUPLICATE_GLOBAL"
	ValidationDuplicateLabel    ValidationCode = "DUPLICATE_LABEL"
	ValidationUnresolvedLabel   ValidationCode = "UNRESOLVED_LABEL"
	ValidationMissingOperand    ValidationCode = "MISSING_OPERAND"
	ValidationCustomType        ValidationCode = "CUSTOM_TYPE"
	ValidationLocalIndex        ValidationCode = "LOCAL_INDEX"
	ValidationArgumentIndex     ValidationCode = "ARGUMENT_INDEX"
)

// ValidationError reports the first structural violation in a program.
// Index is the instruction index, or -1 when the problem is not tied to one.
type ValidationError struct {
	Code     ValidationCode
	Function string
	Index    int
	Message  string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Function != "" && e.Index >= 0:
		return fmt.Sprintf("%s[%d]: %s", e.Function, e.Index, e.Message)
	case e.Function != "":
		return fmt.Sprintf("%s: %s", e.Function, e.Message)
	}
	return e.Message
}

// ValidateOption adjusts what Validate accepts.
type ValidateOption func(*validateConfig)

type validateConfig struct {
	allowCustom bool
}

// AllowCustomTypes permits Custom types on Convert, LoadIndirect,
// StoreIndirect, Box and Unbox. Only the CLR backend resolves them.
func AllowCustomTypes() ValidateOption {
	return func(c *validateConfig) { c.allowCustom = true }
}

// Validate checks the structural invariants every backend relies on:
// unique function and global names, defined branch targets, operands
// present for the variants that need them, and in-range indices when
// locals are declared.
func (p *Program) Validate(opts ...ValidateOption) error {
	cfg := validateConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if p.Name == "" {
		return &ValidationError{Code: ValidationEmptyName, Index: -1, Message: "program name is required"}
	}

	globals := make(map[string]bool, len(p.Globals))
	for _, g := range p.Globals {
		if g.Name == "" {
			return &ValidationError{Code: ValidationEmptyName, Index: -1, Message: "global name is required"}
		}
		if globals[g.Name] {
			return &ValidationError{Code: ValidationDuplicateGlobal, Index: -1,
				Message: fmt.Sprintf("duplicate global %q", g.Name)}
		}
		if g.Type == nil {
			return &ValidationError{Code: ValidationMissingOperand, Index: -1,
				Message: fmt.Sprintf("global %q has no type", g.Name)}
		}
		globals[g.Name] = true
	}

	funcs := make(map[string]bool, len(p.Functions))
	for i := range p.Functions {
		fn := &p.Functions[i]
		if fn.Name == "" {
			return &ValidationError{Code: ValidationEmptyName, Index: -1,
				Message: fmt.Sprintf("function #%d has no name", i)}
		}
		if funcs[fn.Name] {
			return &ValidationError{Code: ValidationDuplicateFunction, Function: fn.Name, Index: -1,
				Message: fmt.Sprintf("duplicate function %q", fn.Name)}
		}
		funcs[fn.Name] = true
		if err := fn.validate(cfg); err != nil {
			return err
		}
	}
	return nil
}

func (f *Function) validate(cfg validateConfig) error {
	fail := func(code ValidationCode, idx int, format string, args ...any) error {
		return &ValidationError{Code: code, Function: f.Name, Index: idx, Message: fmt.Sprintf(format, args...)}
	}

	labels := make(map[string]bool)
	for i, in := range f.Body {
		if in.Op != OpLabel {
			continue
		}
		if in.Label == "" {
			return fail(ValidationMissingOperand, i, "label without a name")
		}
		if labels[in.Label] {
			return fail(ValidationDuplicateLabel, i, "duplicate label %q", in.Label)
		}
		labels[in.Label] = true
	}

	for i, in := range f.Body {
		switch in.Op {
		case OpInvalid:
			return fail(ValidationMissingOperand, i, "invalid instruction")
		case OpLoadConstant:
			if in.Const == nil {
				return fail(ValidationMissingOperand, i, "LoadConstant without a constant")
			}
		case OpBranch, OpBranchIfTrue, OpBranchIfFalse:
			if !labels[in.Label] {
				return fail(ValidationUnresolvedLabel, i, "branch to undefined label %q", in.Label)
			}
		case OpCall, OpLoadField, OpStoreField, OpNewObject:
			if in.Symbol == "" {
				return fail(ValidationMissingOperand, i, "%s without a name", in.Op)
			}
		case OpLoadIndirect, OpStoreIndirect, OpBox, OpUnbox:
			if in.Type == nil {
				return fail(ValidationMissingOperand, i, "%s without a type", in.Op)
			}
			if IsCustom(in.Type) && !cfg.allowCustom {
				return fail(ValidationCustomType, i, "%s on custom type %s", in.Op, in.Type)
			}
		case OpConvert:
			if in.Type == nil || in.From == nil {
				return fail(ValidationMissingOperand, i, "Convert needs both types")
			}
			if (IsCustom(in.Type) || IsCustom(in.From)) && !cfg.allowCustom {
				return fail(ValidationCustomType, i, "Convert on custom type")
			}
		case OpLoadLocal, OpStoreLocal, OpLoadAddress:
			if len(f.Locals) > 0 && int(in.Index) >= len(f.Locals) {
				return fail(ValidationLocalIndex, i, "local %d out of range (%d declared)", in.Index, len(f.Locals))
			}
		case OpLoadArgument, OpStoreArgument:
			if int(in.Index) >= len(f.Params) {
				return fail(ValidationArgumentIndex, i, "argument %d out of range (%d params)", in.Index, len(f.Params))
			}
		}
	}
	return nil
}
