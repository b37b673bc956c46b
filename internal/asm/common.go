package asm

import (
	"errors"
	"fmt"
)

// ErrCapacity is matched by every CapacityError.
var ErrCapacity = errors.New("code buffer capacity exceeded")

// CapacityError reports an emission that would run past the end of the
// destination buffer. Nothing is written when it is returned.
type CapacityError struct {
	Capacity int // usable bytes in the destination
	Need     int // bytes the emission would have required
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("emit %d bytes into %d byte buffer: %v", e.Need, e.Capacity, ErrCapacity)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacity
}

// Fragment is a unit of machine code that knows how to write itself.
type Fragment interface {
	Emit(e *Emitter) error
}

type Group []Fragment

var (
	_ Fragment = Group{}
)

func (g Group) Emit(e *Emitter) error {
	for _, frag := range g {
		if frag == nil {
			continue
		}
		if err := frag.Emit(e); err != nil {
			return err
		}
	}
	return nil
}

type Label string

type labelDef struct {
	label Label
}

func MarkLabel(label Label) Fragment {
	return &labelDef{label: label}
}

func (l *labelDef) Emit(e *Emitter) error {
	return e.SetLabel(l.label)
}

// Raw emits the bytes unchanged.
func Raw(data ...byte) Fragment {
	return rawBytes(append([]byte(nil), data...))
}

type rawBytes []byte

func (r rawBytes) Emit(e *Emitter) error {
	return e.EmitBytes(r...)
}

// Pointer emits p as a little-endian literal of the given width (4 or 8).
func Pointer(p uintptr, width int) Fragment {
	return pointerLiteral{value: p, width: width}
}

type pointerLiteral struct {
	value uintptr
	width int
}

func (p pointerLiteral) Emit(e *Emitter) error {
	return e.EmitPointer(p.value, p.width)
}
