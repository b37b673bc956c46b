package callplan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tinyrange/ffcall/internal/ffi"
)

// Kinds accepted before the colon of a literal. "str" passes a pointer to a
// NUL-terminated copy of the text; "ptr" accepts null or an integer address.
var kinds = []string{"i8", "i16", "i32", "i64", "u8", "u16", "u32", "u64", "f32", "f64", "ptr", "str"}

// IsKind reports whether kind can appear in a literal.
func IsKind(kind string) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ParseValue parses "kind:literal" into a Go value whose type carries the
// shape of the argument, e.g. "i32:-5" becomes int32(-5). Integer literals
// accept the prefixes strconv does (0x, 0o, 0b).
func ParseValue(s string) (any, error) {
	kind, lit, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("argument %q: want kind:value", s)
	}
	v, err := parseLiteral(strings.ToLower(strings.TrimSpace(kind)), lit)
	if err != nil {
		return nil, fmt.Errorf("argument %q: %w", s, err)
	}
	return v, nil
}

func parseLiteral(kind, lit string) (any, error) {
	if kind != "str" {
		lit = strings.TrimSpace(lit)
	}
	switch kind {
	case "i8", "i16", "i32", "i64":
		bits, _ := strconv.Atoi(kind[1:])
		n, err := strconv.ParseInt(lit, 0, bits)
		if err != nil {
			return nil, err
		}
		switch bits {
		case 8:
			return int8(n), nil
		case 16:
			return int16(n), nil
		case 32:
			return int32(n), nil
		}
		return n, nil
	case "u8", "u16", "u32", "u64":
		bits, _ := strconv.Atoi(kind[1:])
		n, err := strconv.ParseUint(lit, 0, bits)
		if err != nil {
			return nil, err
		}
		switch bits {
		case 8:
			return uint8(n), nil
		case 16:
			return uint16(n), nil
		case 32:
			return uint32(n), nil
		}
		return n, nil
	case "f32":
		f, err := strconv.ParseFloat(lit, 32)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case "f64":
		return strconv.ParseFloat(lit, 64)
	case "ptr":
		switch strings.ToLower(lit) {
		case "null", "nil":
			return nil, nil
		}
		n, err := strconv.ParseUint(lit, 0, strconv.IntSize)
		if err != nil {
			return nil, err
		}
		return uintptr(n), nil
	case "str":
		buf := make([]byte, len(lit)+1)
		copy(buf, lit)
		return &buf[0], nil
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

// Format renders a value produced by ParseValue or ReturnOf the way results
// are printed and compared.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return "0x0"
	case int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case uintptr:
		return fmt.Sprintf("%#x", x)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case *byte:
		return fmt.Sprintf("%p", x)
	}
	return fmt.Sprint(v)
}

// ReturnOf reads the last result of iface as kind. An empty kind or "void"
// yields nil.
func ReturnOf(iface *ffi.Interface, kind string) (any, error) {
	switch kind {
	case "", "void":
		return nil, nil
	case "i8":
		return ffi.ReturnValue[int8](iface), nil
	case "i16":
		return ffi.ReturnValue[int16](iface), nil
	case "i32":
		return ffi.ReturnValue[int32](iface), nil
	case "i64":
		return ffi.ReturnValue[int64](iface), nil
	case "u8":
		return ffi.ReturnValue[uint8](iface), nil
	case "u16":
		return ffi.ReturnValue[uint16](iface), nil
	case "u32":
		return ffi.ReturnValue[uint32](iface), nil
	case "u64":
		return ffi.ReturnValue[uint64](iface), nil
	case "f32":
		return ffi.ReturnValue[float32](iface), nil
	case "f64":
		return ffi.ReturnValue[float64](iface), nil
	case "ptr", "str":
		return iface.ReturnAddress(), nil
	}
	return nil, fmt.Errorf("unknown return kind %q", kind)
}

// FormatReturn is Format(ReturnOf(iface, kind)). Void results format as "".
func FormatReturn(iface *ffi.Interface, kind string) (string, error) {
	v, err := ReturnOf(iface, kind)
	if err != nil {
		return "", err
	}
	if kind == "" || kind == "void" {
		return "", nil
	}
	return Format(v), nil
}
