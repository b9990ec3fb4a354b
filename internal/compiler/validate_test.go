package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/mapper"
	"github.com/roach88/polyasm/internal/testutil"
)

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateFixtures(t *testing.T) {
	for _, p := range []*ir.Program{
		testutil.EmptyMain(),
		testutil.ConstReturn(),
		testutil.Addition(),
		testutil.ExitCall(),
		testutil.HelloPrint(),
		testutil.Countdown(),
		testutil.Arithmetic(),
	} {
		assert.Empty(t, Validate(p, nil), p.Name)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	p := &ir.Program{
		Name: " ",
		Globals: []ir.Global{
			{Name: "g", Type: ir.Int32, Init: ir.Int64Const(1)},
			{Name: "g", Type: ir.Int32},
		},
		Functions: []ir.Function{
			{
				Name: "f",
				Body: []ir.Instruction{
					ir.Label("a"),
					ir.Label("a"),
					ir.Branch("missing"),
					ir.LoadArgument(0),
					{Op: ir.OpLoadConstant},
					ir.Call("__builtin_teleport"),
					ir.Return(),
				},
			},
			{Name: "f", Body: []ir.Instruction{ir.Return()}},
		},
	}

	errs := Validate(p, nil)
	assert.Equal(t, []string{
		ErrProgramNameEmpty,
		ErrGlobalInit,
		ErrDuplicateName,
		ErrDuplicateLabel,
		ErrUnresolvedLabel,
		ErrArgumentIndex,
		ErrMissingOperand,
		ErrUnknownBuiltin,
		ErrDuplicateName,
	}, codes(errs))
}

func TestValidateNoFunctions(t *testing.T) {
	errs := Validate(&ir.Program{Name: "P"}, nil)
	assert.Equal(t, []string{ErrNoFunctions}, codes(errs))
}

func TestValidateBuiltinsFollowMapper(t *testing.T) {
	p := &ir.Program{
		Name: "P",
		Functions: []ir.Function{{
			Name: "main",
			Body: []ir.Instruction{ir.Call("__builtin_beep"), ir.Return()},
		}},
	}
	assert.Equal(t, []string{ErrUnknownBuiltin}, codes(Validate(p, nil)))

	m := mapper.Default().Override(map[string]map[mapper.Tag]string{
		"__builtin_beep": {mapper.TagPE: "MessageBeep"},
	})
	assert.Empty(t, Validate(p, m))
}

func TestValidationErrorString(t *testing.T) {
	err := ValidationError{Field: "name", Message: "program name is required", Code: ErrProgramNameEmpty}
	assert.Equal(t, "[E101] name: program name is required", err.Error())
}
