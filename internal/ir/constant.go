package ir

import (
	"fmt"
	"math"
	"strconv"
)

// Constant is a sealed interface over literal values embedded in instructions.
// The sum parallels the scalar types plus Null.
type Constant interface {
	irConstant() // Sealed
	// Type returns the IR type of the literal, or nil for Null.
	Type() Type
	String() string
}

// Int8Const is an 8-bit integer literal.
type Int8Const int8

// Int16Const is a 16-bit integer literal.
type Int16Const int16

// Int32Const is a 32-bit integer literal.
type Int32Const int32

// Int64Const is a 64-bit integer literal.
type Int64Const int64

// Float32Const is a 32-bit float literal.
type Float32Const float32

// Float64Const is a 64-bit float literal.
type Float64Const float64

// BoolConst is a boolean literal.
type BoolConst bool

// StringConst is a string literal.
type StringConst string

// NullConst is the null reference.
type NullConst struct{}

// Null is the single NullConst value.
var Null Constant = NullConst{}

func (Int8Const) irConstant() {}
func (Int16Const) irConstant() {}
func (Int32Const) irConstant() {}
func (Int64Const) irConstant() {}
func (Float32Const) irConstant() {}
func (Float64Const) irConstant() {}
func (BoolConst) irConstant() {}
func (StringConst) irConstant() {}
func (NullConst) irConstant() {}

func (Int8Const) Type() Type { return Int8 }
func (Int16Const) Type() Type { return Int16 }
func (Int32Const) Type() Type { return Int32 }
func (Int64Const) Type() Type { return Int64 }
func (Float32Const) Type() Type { return Float32 }
func (Float64Const) Type() Type { return Float64 }
func (BoolConst) Type() Type { return Boolean }
func (StringConst) Type() Type { return String }
func (NullConst) Type() Type { return nil }

func (c Int8Const) String() string { return fmt.Sprintf("Int8 %d", c) }
func (c Int16Const) String() string { return fmt.Sprintf("Int16 %d", c) }
func (c Int32Const) String() string { return fmt.Sprintf("Int32 %d", c) }
func (c Int64Const) String() string { return fmt.Sprintf("Int64 %d", c) }
func (c Float32Const) String() string {
	return "Float32 " + strconv.FormatFloat(float64(c), 'g', -1, 32)
}
func (c Float64Const) String() string {
	return "Float64 " + strconv.FormatFloat(float64(c), 'g', -1, 64)
}
func (c BoolConst) String() string { return fmt.Sprintf("Boolean %t", bool(c)) }
func (c StringConst) String() string { return "String " + strconv.Quote(string(c)) }
func (NullConst) String() string { return "Null" }

// IntValue returns the integer value of c widened to int64.
// ok is false for non-integer constants. Booleans count as 0/1.
func IntValue(c Constant) (v int64, ok bool) {
	switch x := c.(type) {
	case Int8Const:
		return int64(x), true
	case Int16Const:
		return int64(x), true
	case Int32Const:
		return int64(x), true
	case Int64Const:
		return int64(x), true
	case BoolConst:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// FloatBits returns the IEEE-754 bit pattern of a float constant and its width.
func FloatBits(c Constant) (bits uint64, width int, ok bool) {
	switch x := c.(type) {
	case Float32Const:
		return uint64(math.Float32bits(float32(x))), 32, true
	case Float64Const:
		return math.Float64bits(float64(x)), 64, true
	}
	return 0, 0, false
}
