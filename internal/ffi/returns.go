package ffi

import (
	"reflect"
	"unsafe"
)

func uintptrOf(slot *returnSlot) uintptr {
	return uintptr(unsafe.Pointer(slot))
}

// ReturnUint64 is the raw integer result: RAX on x86-64, EDX:EAX on x86.
func (i *Interface) ReturnUint64() uint64 { return i.ret.raw }

// ReturnFloat32 is XMM0 (or ST(0)) read as a float.
func (i *Interface) ReturnFloat32() float32 { return i.ret.f32 }

// ReturnFloat64 is XMM0 (or ST(0)) read as a double.
func (i *Interface) ReturnFloat64() float64 { return i.ret.f64 }

// ReturnAddress is the integer result truncated to the pointer width.
func (i *Interface) ReturnAddress() uintptr { return uintptr(i.ret.raw) }

// Number is every type ReturnValue can produce.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint | ~uintptr |
		~float32 | ~float64
}

// ReturnValue interprets the last result as T. Asking for a type the
// function did not return yields garbage but never touches memory outside the
// return slot.
func ReturnValue[T Number](i *Interface) T {
	raw := i.ret.raw
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Int8:
		return T(int8(raw))
	case reflect.Int16:
		return T(int16(raw))
	case reflect.Int32:
		return T(int32(raw))
	case reflect.Int64:
		return T(int64(raw))
	case reflect.Int:
		return T(int(raw))
	case reflect.Uint8:
		return T(uint8(raw))
	case reflect.Uint16:
		return T(uint16(raw))
	case reflect.Uint32:
		return T(uint32(raw))
	case reflect.Uint:
		return T(uint(raw))
	case reflect.Uintptr:
		return T(uintptr(raw))
	case reflect.Float32:
		return T(i.ret.f32)
	case reflect.Float64:
		return T(i.ret.f64)
	default:
		return T(raw)
	}
}

// ReturnPointer interprets the last result as a pointer to E. The pointee is
// native memory; the caller is responsible for its validity.
func ReturnPointer[E any](i *Interface) *E {
	return (*E)(*(*unsafe.Pointer)(unsafe.Pointer(&i.ret.raw)))
}
