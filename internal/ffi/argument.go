package ffi

import (
	"encoding/binary"
	"math"
	"reflect"
	"strconv"
	"unsafe"

	"github.com/tinyrange/ffcall/internal/callconv"
)

// argument is one slot of the argument list. Each lives in its own heap
// allocation so its address, which is baked into the compiled stub, never
// changes while the Interface holds it.
type argument struct {
	shape callconv.Shape
	data  [8]byte
	// keep holds a Go pointer passed by the caller so the collector does not
	// free what the native side is about to read.
	keep any
}

func (a *argument) addr() uintptr {
	return uintptr(unsafe.Pointer(&a.data[0]))
}

func (a *argument) clone() *argument {
	c := *a
	return &c
}

// value is an encoded argument before it is stored.
type value struct {
	shape callconv.Shape
	bits  uint64
	keep  any
}

func signed(width int, v int64) value {
	return value{shape: callconv.Signed(width), bits: uint64(v)}
}

func unsigned(width int, v uint64) value {
	return value{shape: callconv.Unsigned(width), bits: v}
}

// encodeValue deduces the shape of v from its Go type and widens it to 64
// bits: signed values are sign-extended, everything else zero-extended.
func encodeValue(arch callconv.Arch, v any) (value, bool) {
	switch x := v.(type) {
	case nil:
		return value{shape: callconv.Pointer(arch)}, true
	case int8:
		return signed(1, int64(x)), true
	case int16:
		return signed(2, int64(x)), true
	case int32:
		return signed(4, int64(x)), true
	case int64:
		return signed(8, x), true
	case int:
		return signed(strconv.IntSize/8, int64(x)), true
	case uint8:
		return unsigned(1, uint64(x)), true
	case uint16:
		return unsigned(2, uint64(x)), true
	case uint32:
		return unsigned(4, uint64(x)), true
	case uint64:
		return unsigned(8, x), true
	case uint:
		return unsigned(strconv.IntSize/8, uint64(x)), true
	case uintptr:
		return unsigned(arch.WordSize(), uint64(x)), true
	case bool:
		if x {
			return unsigned(1, 1), true
		}
		return unsigned(1, 0), true
	case float32:
		return value{shape: callconv.Float(4), bits: uint64(math.Float32bits(x))}, true
	case float64:
		return value{shape: callconv.Float(8), bits: math.Float64bits(x)}, true
	case unsafe.Pointer:
		return value{shape: callconv.Pointer(arch), bits: uint64(uintptr(x)), keep: x}, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer || rv.Kind() == reflect.UnsafePointer {
		return value{shape: callconv.Pointer(arch), bits: uint64(rv.Pointer()), keep: v}, true
	}
	return value{}, false
}

func (a *argument) store(v value) {
	binary.LittleEndian.PutUint64(a.data[:], v.bits)
	a.keep = v.keep
}
