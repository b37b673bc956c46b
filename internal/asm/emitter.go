package asm

import (
	"encoding/binary"
	"fmt"
	"math"
)

type fixup struct {
	label Label
	at    int // offset of the rel8 byte
}

// Emitter appends machine code to a fixed destination slice. The slice is
// never grown: running past its end yields a CapacityError and leaves the
// cursor where it was.
type Emitter struct {
	dst    []byte
	off    int
	base   uintptr
	labels map[Label]int
	fixups []fixup
}

// NewEmitter returns an emitter writing into dst. base is the address dst[0]
// will have when the code runs; it is only used by PC.
func NewEmitter(dst []byte, base uintptr) *Emitter {
	return &Emitter{
		dst:    dst,
		base:   base,
		labels: make(map[Label]int),
	}
}

// Len returns the number of bytes emitted so far.
func (e *Emitter) Len() int { return e.off }

// Cap returns the capacity of the destination.
func (e *Emitter) Cap() int { return len(e.dst) }

// Base returns the run-time address of the first byte.
func (e *Emitter) Base() uintptr { return e.base }

// PC returns the run-time address of the next byte to be emitted.
func (e *Emitter) PC() uintptr { return e.base + uintptr(e.off) }

// Bytes returns the emitted code. The slice aliases the destination.
func (e *Emitter) Bytes() []byte { return e.dst[:e.off] }

func (e *Emitter) reserve(n int) ([]byte, error) {
	if n < 0 || e.off+n > len(e.dst) {
		return nil, &CapacityError{Capacity: len(e.dst), Need: e.off + n}
	}
	out := e.dst[e.off : e.off+n]
	e.off += n
	return out, nil
}

func (e *Emitter) EmitBytes(data ...byte) error {
	out, err := e.reserve(len(data))
	if err != nil {
		return err
	}
	copy(out, data)
	return nil
}

func (e *Emitter) EmitUint16(v uint16) error {
	out, err := e.reserve(2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(out, v)
	return nil
}

func (e *Emitter) EmitUint32(v uint32) error {
	out, err := e.reserve(4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(out, v)
	return nil
}

func (e *Emitter) EmitUint64(v uint64) error {
	out, err := e.reserve(8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(out, v)
	return nil
}

// EmitPointer writes an absolute address. width is the target word size; a
// 32-bit target rejects addresses that do not fit.
func (e *Emitter) EmitPointer(p uintptr, width int) error {
	switch width {
	case 4:
		if uint64(p) > math.MaxUint32 {
			return fmt.Errorf("pointer 0x%x does not fit in 32 bits", p)
		}
		return e.EmitUint32(uint32(p))
	case 8:
		return e.EmitUint64(uint64(p))
	default:
		return fmt.Errorf("unsupported pointer width %d", width)
	}
}

func (e *Emitter) SetLabel(label Label) error {
	if _, exists := e.labels[label]; exists {
		return fmt.Errorf("label %q already defined", label)
	}
	e.labels[label] = e.off
	return nil
}

// EmitRel8 reserves a signed 8-bit displacement to label, measured from the
// end of the displacement byte. It is patched by Finish.
func (e *Emitter) EmitRel8(label Label) error {
	at := e.off
	if err := e.EmitBytes(0); err != nil {
		return err
	}
	e.fixups = append(e.fixups, fixup{label: label, at: at})
	return nil
}

// Finish resolves pending label references.
func (e *Emitter) Finish() error {
	for _, f := range e.fixups {
		target, ok := e.labels[f.label]
		if !ok {
			return fmt.Errorf("undefined label %q", f.label)
		}
		rel := target - (f.at + 1)
		if rel < math.MinInt8 || rel > math.MaxInt8 {
			return fmt.Errorf("label %q out of rel8 range (%d)", f.label, rel)
		}
		e.dst[f.at] = byte(int8(rel))
	}
	e.fixups = e.fixups[:0]
	return nil
}

// Emit writes a fragment and resolves its labels.
func Emit(e *Emitter, frag Fragment) error {
	if err := frag.Emit(e); err != nil {
		return err
	}
	return e.Finish()
}

// Assemble emits frag into a scratch buffer of the given capacity and returns
// a copy of the code. base is the address the code is assembled for.
func Assemble(frag Fragment, capacity int, base uintptr) ([]byte, error) {
	e := NewEmitter(make([]byte, capacity), base)
	if err := Emit(e, frag); err != nil {
		return nil, err
	}
	return append([]byte(nil), e.Bytes()...), nil
}
