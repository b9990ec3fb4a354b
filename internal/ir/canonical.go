package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON for hashing.
// This is the only serialization used for content-addressed identity.
//
// Accepted values: string, bool, int, int64, uint32, []any, map[string]any.
// Floats and nil are rejected; callers encode float bit patterns as strings.
//
// Key differences from standard json.Marshal:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings are NFC normalized
func MarshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return marshalCanonicalString(val)
	case int64:
		return []byte(strconv.FormatInt(val, 10)), nil
	case int:
		return []byte(strconv.Itoa(val)), nil
	case uint32:
		return []byte(strconv.FormatUint(uint64(val), 10)), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case []any:
		return marshalCanonicalArray(val)
	case map[string]any:
		return marshalCanonicalObject(val)
	case float64, float32:
		return nil, fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// marshalCanonicalString produces a canonical JSON string with NFC normalization.
// Only control characters, backslash and quote are escaped; U+2028 and U+2029
// are emitted literally.
func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	result := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return unescapeLineSeparators(result), nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes produced by
// encoding/json back into literal characters, leaving \\u2028 text alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) && data[i+1] == 'u' &&
			string(data[i+2:i+5]) == "202" && (data[i+5] == '8' || data[i+5] == '9') {
			if data[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		out = append(out, data[i])
		if data[i] == '\\' && i+1 < len(data) {
			// Copy the escaped character verbatim so \\u2028 stays escaped.
			i++
			out = append(out, data[i])
		}
	}
	return out
}

func marshalCanonicalArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := MarshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalCanonicalObject(obj map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range sortedKeys(obj) {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalCanonical(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// sortedKeys orders keys by UTF-16 code units as RFC 8785 requires.
func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
	})
	return keys
}

// canonicalProgram converts p into the generic form accepted by MarshalCanonical.
func canonicalProgram(p *Program) map[string]any {
	globals := make([]any, len(p.Globals))
	for i, g := range p.Globals {
		obj := map[string]any{"name": g.Name, "type": typeString(g.Type)}
		if g.Init != nil {
			obj["init"] = canonicalConstant(g.Init)
		}
		globals[i] = obj
	}

	funcs := make([]any, len(p.Functions))
	for i, fn := range p.Functions {
		body := make([]any, len(fn.Body))
		for j, in := range fn.Body {
			body[j] = canonicalInstruction(in)
		}
		obj := map[string]any{
			"name":   fn.Name,
			"params": canonicalTypes(fn.Params),
			"locals": canonicalTypes(fn.Locals),
			"body":   body,
		}
		if fn.Return != nil {
			obj["return"] = fn.Return.String()
		}
		funcs[i] = obj
	}

	return map[string]any{
		"name":      p.Name,
		"globals":   globals,
		"functions": funcs,
	}
}

func canonicalTypes(ts []Type) []any {
	out := make([]any, len(ts))
	for i, t := range ts {
		out[i] = typeString(t)
	}
	return out
}

func canonicalInstruction(in Instruction) map[string]any {
	obj := map[string]any{"op": in.Op.String()}
	switch in.Op {
	case OpLoadConstant:
		if in.Const != nil {
			obj["value"] = canonicalConstant(in.Const)
		}
	case OpStringConstant, OpComment:
		obj["text"] = in.Text
	case OpLoadLocal, OpStoreLocal, OpLoadArgument, OpStoreArgument, OpLoadAddress:
		obj["index"] = in.Index
	case OpBranch, OpBranchIfTrue, OpBranchIfFalse, OpLabel:
		obj["label"] = in.Label
	case OpCall, OpLoadField, OpStoreField, OpNewObject:
		obj["symbol"] = in.Symbol
	case OpLoadIndirect, OpStoreIndirect, OpBox, OpUnbox:
		obj["type"] = typeString(in.Type)
	case OpConvert:
		obj["from"] = typeString(in.From)
		obj["type"] = typeString(in.Type)
	}
	return obj
}

func canonicalConstant(c Constant) map[string]any {
	if bits, width, ok := FloatBits(c); ok {
		return map[string]any{fmt.Sprintf("float%d", width): "0x" + strconv.FormatUint(bits, 16)}
	}
	switch v := c.(type) {
	case BoolConst:
		return map[string]any{"bool": bool(v)}
	case StringConst:
		return map[string]any{"string": string(v)}
	case NullConst:
		return map[string]any{"null": true}
	}
	n, _ := IntValue(c)
	return map[string]any{c.Type().String(): n}
}
