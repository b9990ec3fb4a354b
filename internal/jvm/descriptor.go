package jvm

import (
	"fmt"
	"strings"

	"github.com/roach88/polyasm/internal/ir"
)

const (
	objectClass = "java/lang/Object"
	stringClass = "java/lang/String"
)

// TypeDescriptor maps an IR type to a JVM field descriptor. Arrays keep
// only their outer dimension; the element type is erased to Object.
func TypeDescriptor(t ir.Type) string {
	switch v := t.(type) {
	case ir.IntegerType:
		switch v.Bits {
		case 8:
			return "B"
		case 16:
			return "S"
		case 64:
			return "J"
		}
		return "I"
	case ir.FloatType:
		if v.Bits == 32 {
			return "F"
		}
		return "D"
	case ir.BooleanType:
		return "Z"
	case ir.StringType:
		return "L" + stringClass + ";"
	case ir.ArrayType:
		return "[L" + objectClass + ";"
	}
	return "L" + objectClass + ";"
}

// MethodDescriptor builds "(params)ret" with V for a missing return type.
func MethodDescriptor(params []ir.Type, ret ir.Type) string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range params {
		b.WriteString(TypeDescriptor(p))
	}
	b.WriteByte(')')
	if ret == nil {
		b.WriteByte('V')
	} else {
		b.WriteString(TypeDescriptor(ret))
	}
	return b.String()
}

// parseMethodDescriptor splits a method descriptor into its field
// descriptors. ret is empty for void.
func parseMethodDescriptor(desc string) (params []string, ret string, err error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, "", fmt.Errorf("method descriptor %q: missing '('", desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n, err := fieldDescriptorLen(desc[i:])
		if err != nil {
			return nil, "", fmt.Errorf("method descriptor %q: %w", desc, err)
		}
		params = append(params, desc[i:i+n])
		i += n
	}
	if i >= len(desc) {
		return nil, "", fmt.Errorf("method descriptor %q: missing ')'", desc)
	}
	ret = desc[i+1:]
	if ret == "V" {
		ret = ""
	}
	return params, ret, nil
}

func fieldDescriptorLen(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty field descriptor")
	}
	switch s[0] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return 1, nil
	case 'L':
		end := strings.IndexByte(s, ';')
		if end < 0 {
			return 0, fmt.Errorf("unterminated class descriptor %q", s)
		}
		return end + 1, nil
	case '[':
		n, err := fieldDescriptorLen(s[1:])
		return n + 1, err
	}
	return 0, fmt.Errorf("unknown descriptor character %q", s[0])
}

// descriptorType maps a field descriptor back to IR.
func descriptorType(desc string) ir.Type {
	switch desc {
	case "B":
		return ir.Int8
	case "S", "C":
		return ir.Int16
	case "I":
		return ir.Int32
	case "J":
		return ir.Int64
	case "F":
		return ir.Float32
	case "D":
		return ir.Float64
	case "Z":
		return ir.Boolean
	case "L" + stringClass + ";":
		return ir.String
	}
	if strings.HasPrefix(desc, "[") {
		return ir.ArrayOf(ir.Object)
	}
	return ir.Object
}

// kind is a JVM computational type.
type kind byte

const (
	kindInt kind = iota
	kindLong
	kindFloat
	kindDouble
	kindRef
	kindString
)

// typed returns the offset of k's variant within a typed opcode family
// ordered int, long, float, double, reference.
func (k kind) typed() byte {
	if k == kindString {
		return byte(kindRef)
	}
	return byte(k)
}

// slots is the operand stack or local variable width of k.
func (k kind) slots() int {
	if k == kindLong || k == kindDouble {
		return 2
	}
	return 1
}

func kindOf(t ir.Type) kind {
	switch v := t.(type) {
	case ir.IntegerType:
		if v.Bits == 64 {
			return kindLong
		}
		return kindInt
	case ir.FloatType:
		if v.Bits == 32 {
			return kindFloat
		}
		return kindDouble
	case ir.BooleanType:
		return kindInt
	case ir.StringType:
		return kindString
	case nil:
		return kindInt
	}
	return kindRef
}

func descriptorKind(desc string) kind {
	switch desc {
	case "J":
		return kindLong
	case "F":
		return kindFloat
	case "D":
		return kindDouble
	case "B", "C", "I", "S", "Z":
		return kindInt
	case "L" + stringClass + ";":
		return kindString
	}
	return kindRef
}

// kindDescriptor is the descriptor used when only the computational type is known.
func kindDescriptor(k kind) string {
	switch k {
	case kindLong:
		return "J"
	case kindFloat:
		return "F"
	case kindDouble:
		return "D"
	case kindRef:
		return "L" + objectClass + ";"
	case kindString:
		return "L" + stringClass + ";"
	}
	return "I"
}
