package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Op tags the variant of an Instruction.
type Op uint8

// Instruction variants.
const (
	OpInvalid Op = iota

	// Constants
	OpLoadConstant
	OpStringConstant

	// Locals and arguments
	OpLoadLocal
	OpStoreLocal
	OpLoadArgument
	OpStoreArgument
	OpLoadAddress

	// Indirect memory
	OpLoadIndirect
	OpStoreIndirect

	// Arithmetic
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpRemainder
	OpNegate

	// Bitwise
	OpBitwiseAnd
	OpBitwiseOr
	OpBitwiseXor
	OpBitwiseNot
	OpShiftLeft
	OpShiftRight

	// Comparison
	OpCompareEqual
	OpCompareNotEqual
	OpCompareLessThan
	OpCompareGreaterThan
	OpCompareLessEqual
	OpCompareGreaterEqual

	// Control
	OpBranch
	OpBranchIfTrue
	OpBranchIfFalse
	OpLabel
	OpCall
	OpReturn

	// Stack
	OpDuplicate
	OpPop

	// Object
	OpLoadField
	OpStoreField
	OpNewObject
	OpBox
	OpUnbox

	// Conversion
	OpConvert

	// Meta
	OpComment

	opCount
)

var opNames = [...]string{
	OpInvalid:             "Invalid",
	OpLoadConstant:        "LoadConstant",
	OpStringConstant:      "StringConstant",
	OpLoadLocal:           "LoadLocal",
	OpStoreLocal:          "StoreLocal",
	OpLoadArgument:        "LoadArgument",
	OpStoreArgument:       "StoreArgument",
	OpLoadAddress:         "LoadAddress",
	OpLoadIndirect:        "LoadIndirect",
	OpStoreIndirect:       "StoreIndirect",
	OpAdd:                 "Add",
	OpSubtract:            "Subtract",
	OpMultiply:            "Multiply",
	OpDivide:              "Divide",
	OpRemainder:           "Remainder",
	OpNegate:              "Negate",
	OpBitwiseAnd:          "BitwiseAnd",
	OpBitwiseOr:           "BitwiseOr",
	OpBitwiseXor:          "BitwiseXor",
	OpBitwiseNot:          "BitwiseNot",
	OpShiftLeft:           "ShiftLeft",
	OpShiftRight:          "ShiftRight",
	OpCompareEqual:        "CompareEqual",
	OpCompareNotEqual:     "CompareNotEqual",
	OpCompareLessThan:     "CompareLessThan",
	OpCompareGreaterThan:  "CompareGreaterThan",
	OpCompareLessEqual:    "CompareLessEqual",
	OpCompareGreaterEqual: "CompareGreaterEqual",
	OpBranch:              "Branch",
	OpBranchIfTrue:        "BranchIfTrue",
	OpBranchIfFalse:       "BranchIfFalse",
	OpLabel:               "Label",
	OpCall:                "Call",
	OpReturn:              "Return",
	OpDuplicate:           "Duplicate",
	OpPop:                 "Pop",
	OpLoadField:           "LoadField",
	OpStoreField:          "StoreField",
	OpNewObject:           "NewObject",
	OpBox:                 "Box",
	OpUnbox:               "Unbox",
	OpConvert:             "Convert",
	OpComment:             "Comment",
}

func (o Op) String() string {
	if o < opCount {
		return opNames[o]
	}
	return "Op(" + strconv.Itoa(int(o)) + ")"
}

// ParseOp accepts either the CamelCase name ("LoadConstant") or the
// snake_case form used in IR documents ("load_constant").
func ParseOp(s string) (Op, error) {
	key := strings.ToLower(strings.ReplaceAll(s, "_", ""))
	for op := OpLoadConstant; op < opCount; op++ {
		if strings.ToLower(opNames[op]) == key {
			return op, nil
		}
	}
	return OpInvalid, fmt.Errorf("unknown instruction %q", s)
}

// IsBranch reports whether the op transfers control to a label.
func (o Op) IsBranch() bool {
	return o == OpBranch || o == OpBranchIfTrue || o == OpBranchIfFalse
}

// Instruction is a tagged union. Op selects the variant; only the operand
// fields listed for that variant are meaningful.
//
//	LoadConstant             Const
//	StringConstant           Text
//	Load/Store Local/Arg,
//	LoadAddress              Index
//	Branch*, Label           Label
//	Call                     Symbol
//	LoadField, StoreField    Symbol
//	NewObject                Symbol (type name)
//	Load/StoreIndirect,
//	Box, Unbox               Type
//	Convert                  From, Type
//	Comment                  Text
type Instruction struct {
	Op     Op
	Const  Constant
	Index  uint32
	Label  string
	Symbol string
	Text   string
	Type   Type
	From   Type
}

func (in Instruction) String() string {
	switch in.Op {
	case OpLoadConstant:
		if in.Const == nil {
			return "LoadConstant(<nil>)"
		}
		return "LoadConstant(" + in.Const.String() + ")"
	case OpStringConstant, OpComment:
		return in.Op.String() + "(" + strconv.Quote(in.Text) + ")"
	case OpLoadLocal, OpStoreLocal, OpLoadArgument, OpStoreArgument, OpLoadAddress:
		return fmt.Sprintf("%s(%d)", in.Op, in.Index)
	case OpBranch, OpBranchIfTrue, OpBranchIfFalse, OpLabel:
		return in.Op.String() + "(" + in.Label + ")"
	case OpCall, OpLoadField, OpStoreField, OpNewObject:
		return in.Op.String() + "(" + in.Symbol + ")"
	case OpLoadIndirect, OpStoreIndirect, OpBox, OpUnbox:
		return in.Op.String() + "(" + typeString(in.Type) + ")"
	case OpConvert:
		return "Convert(" + typeString(in.From) + ", " + typeString(in.Type) + ")"
	}
	return in.Op.String()
}

func typeString(t Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

// Constructors, one per variant.

func LoadConstant(c Constant) Instruction { return Instruction{Op: OpLoadConstant, Const: c} }
func StringConstant(s string) Instruction { return Instruction{Op: OpStringConstant, Text: s} }
func LoadLocal(i uint32) Instruction { return Instruction{Op: OpLoadLocal, Index: i} }
func StoreLocal(i uint32) Instruction { return Instruction{Op: OpStoreLocal, Index: i} }
func LoadArgument(i uint32) Instruction { return Instruction{Op: OpLoadArgument, Index: i} }
func StoreArgument(i uint32) Instruction { return Instruction{Op: OpStoreArgument, Index: i} }
func LoadAddress(i uint32) Instruction { return Instruction{Op: OpLoadAddress, Index: i} }
func LoadIndirect(t Type) Instruction { return Instruction{Op: OpLoadIndirect, Type: t} }
func StoreIndirect(t Type) Instruction { return Instruction{Op: OpStoreIndirect, Type: t} }
func Add() Instruction { return Instruction{Op: OpAdd} }
func Subtract() Instruction { return Instruction{Op: OpSubtract} }
func Multiply() Instruction { return Instruction{Op: OpMultiply} }
func Divide() Instruction { return Instruction{Op: OpDivide} }
func Remainder() Instruction { return Instruction{Op: OpRemainder} }
func Negate() Instruction { return Instruction{Op: OpNegate} }
func BitwiseAnd() Instruction { return Instruction{Op: OpBitwiseAnd} }
func BitwiseOr() Instruction { return Instruction{Op: OpBitwiseOr} }
func BitwiseXor() Instruction { return Instruction{Op: OpBitwiseXor} }
func BitwiseNot() Instruction { return Instruction{Op: OpBitwiseNot} }
func ShiftLeft() Instruction { return Instruction{Op: OpShiftLeft} }
func ShiftRight() Instruction { return Instruction{Op: OpShiftRight} }
func CompareEqual() Instruction { return Instruction{Op: OpCompareEqual} }
func CompareNotEqual() Instruction { return Instruction{Op: OpCompareNotEqual} }
func CompareLessThan() Instruction { return Instruction{Op: OpCompareLessThan} }
func CompareGreaterThan() Instruction { return Instruction{Op: OpCompareGreaterThan} }
func CompareLessEqual() Instruction { return Instruction{Op: OpCompareLessEqual} }
func CompareGreaterEqual() Instruction { return Instruction{Op: OpCompareGreaterEqual} }
func Branch(label string) Instruction { return Instruction{Op: OpBranch, Label: label} }
func BranchIfTrue(label string) Instruction {
	return Instruction{Op: OpBranchIfTrue, Label: label}
}
func BranchIfFalse(label string) Instruction {
	return Instruction{Op: OpBranchIfFalse, Label: label}
}
func Label(name string) Instruction { return Instruction{Op: OpLabel, Label: name} }
func Call(name string) Instruction { return Instruction{Op: OpCall, Symbol: name} }
func Return() Instruction { return Instruction{Op: OpReturn} }
func Duplicate() Instruction { return Instruction{Op: OpDuplicate} }
func Pop() Instruction { return Instruction{Op: OpPop} }
func LoadField(name string) Instruction { return Instruction{Op: OpLoadField, Symbol: name} }
func StoreField(name string) Instruction { return Instruction{Op: OpStoreField, Symbol: name} }
func NewObject(typeName string) Instruction {
	return Instruction{Op: OpNewObject, Symbol: typeName}
}
func Box(t Type) Instruction { return Instruction{Op: OpBox, Type: t} }
func Unbox(t Type) Instruction { return Instruction{Op: OpUnbox, Type: t} }
func Convert(from, to Type) Instruction { return Instruction{Op: OpConvert, From: from, Type: to} }
func Comment(text string) Instruction { return Instruction{Op: OpComment, Text: text} }
