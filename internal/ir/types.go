package ir

import (
	"fmt"
	"strings"
)

// Type is a sealed interface over the IR type sum.
// Only the types in this file implement it.
type Type interface {
	irType() // Sealed
	String() string
}

// IntegerType is a signed integer of 8, 16, 32 or 64 bits.
type IntegerType struct {
	Bits int
}

func (IntegerType) irType() {}

func (t IntegerType) String() string { return fmt.Sprintf("int%d", t.Bits) }

// FloatType is an IEEE-754 float of 32 or 64 bits.
type FloatType struct {
	Bits int
}

func (FloatType) irType() {}

func (t FloatType) String() string { return fmt.Sprintf("float%d", t.Bits) }

// BooleanType is a truth value.
type BooleanType struct{}

func (BooleanType) irType() {}

func (BooleanType) String() string { return "bool" }

// StringType is an immutable text value.
type StringType struct{}

func (StringType) irType() {}

func (StringType) String() string { return "string" }

// ObjectType is an opaque reference.
type ObjectType struct{}

func (ObjectType) irType() {}

func (ObjectType) String() string { return "object" }

// PointerType is a raw machine address.
type PointerType struct{}

func (PointerType) irType() {}

func (PointerType) String() string { return "pointer" }

// ArrayType is a homogeneous array of Elem.
type ArrayType struct {
	Elem Type
}

func (ArrayType) irType() {}

func (t ArrayType) String() string {
	if t.Elem == nil {
		return "[]object"
	}
	return "[]" + t.Elem.String()
}

// CustomType is a named type resolved by the target.
type CustomType struct {
	Name string
}

func (CustomType) irType() {}

func (t CustomType) String() string { return "custom:" + t.Name }

// Predeclared scalar types.
var (
	Int8    Type = IntegerType{Bits: 8}
	Int16   Type = IntegerType{Bits: 16}
	Int32   Type = IntegerType{Bits: 32}
	Int64   Type = IntegerType{Bits: 64}
	Float32 Type = FloatType{Bits: 32}
	Float64 Type = FloatType{Bits: 64}
	Boolean Type = BooleanType{}
	String  Type = StringType{}
	Object  Type = ObjectType{}
	Pointer Type = PointerType{}
)

// ArrayOf returns the array type with the given element type.
func ArrayOf(elem Type) Type {
	return ArrayType{Elem: elem}
}

// Custom returns a target-resolved named type.
func Custom(name string) Type {
	return CustomType{Name: name}
}

// ParseType parses the textual form produced by Type.String.
// Unknown bare names are accepted as custom types.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return nil, fmt.Errorf("empty type")
	case "int8", "i8":
		return Int8, nil
	case "int16", "i16":
		return Int16, nil
	case "int32", "i32", "int":
		return Int32, nil
	case "int64", "i64", "long":
		return Int64, nil
	case "float32", "f32", "float":
		return Float32, nil
	case "float64", "f64", "double":
		return Float64, nil
	case "bool", "boolean":
		return Boolean, nil
	case "string":
		return String, nil
	case "object":
		return Object, nil
	case "pointer", "ptr":
		return Pointer, nil
	}

	if elem, ok := strings.CutPrefix(s, "[]"); ok {
		t, err := ParseType(elem)
		if err != nil {
			return nil, fmt.Errorf("array element: %w", err)
		}
		return ArrayOf(t), nil
	}

	name := strings.TrimPrefix(s, "custom:")
	if name == "" {
		return nil, fmt.Errorf("custom type without a name")
	}
	return Custom(name), nil
}

// IsCustom reports whether t is a CustomType.
func IsCustom(t Type) bool {
	_, ok := t.(CustomType)
	return ok
}

// IsWide reports whether t needs 64 bits of storage.
func IsWide(t Type) bool {
	switch v := t.(type) {
	case IntegerType:
		return v.Bits == 64
	case FloatType:
		return v.Bits == 64
	}
	return false
}
