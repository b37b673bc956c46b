// Package codebuf owns the page of memory a compiled call stub lives in.
//
// A Buffer is always in exactly one access mode. Code can only be written
// through a Writable handle and only entered through an Executable handle;
// each handle is bound to the mode change that produced it and goes stale as
// soon as the buffer changes mode again.
package codebuf

import (
	"errors"
	"fmt"
	"unsafe"
)

type Mode int

const (
	ModeInaccessible Mode = iota
	ModeWritable
	ModeExecutable
)

func (m Mode) String() string {
	switch m {
	case ModeInaccessible:
		return "inaccessible"
	case ModeWritable:
		return "writable"
	case ModeExecutable:
		return "executable"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

var (
	ErrReleased    = errors.New("code buffer released")
	ErrStaleHandle = errors.New("code buffer changed mode since handle was issued")
)

// ProtectError reports a failed OS memory operation. None of these are
// transient; the buffer is unusable afterwards.
type ProtectError struct {
	Op   string // "allocate", "protect", "release"
	Mode Mode
	Err  error
}

func (e *ProtectError) Error() string {
	if e.Op == "protect" {
		return fmt.Sprintf("codebuf: protect %s: %v", e.Mode, e.Err)
	}
	return fmt.Sprintf("codebuf: %s: %v", e.Op, e.Err)
}

func (e *ProtectError) Unwrap() error { return e.Err }

// Buffer is one OS page of memory.
type Buffer struct {
	mem      []byte
	mode     Mode
	epoch    uint64
	released bool
}

// PageSize returns the host page size, which is also the capacity of every
// Buffer.
func PageSize() int {
	return osPageSize()
}

// New maps a single page with no access rights.
func New() (*Buffer, error) {
	mem, err := osAllocate(osPageSize())
	if err != nil {
		return nil, &ProtectError{Op: "allocate", Mode: ModeInaccessible, Err: err}
	}
	return &Buffer{mem: mem, mode: ModeInaccessible}, nil
}

// Size returns the capacity of the buffer in bytes.
func (b *Buffer) Size() int { return len(b.mem) }

// Base returns the address of the first byte, or 0 once released.
func (b *Buffer) Base() uintptr {
	if b.released || len(b.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b.mem[0]))
}

func (b *Buffer) Mode() Mode { return b.mode }

// SetAccessMode changes the protection of the whole buffer. Requesting the
// current mode does nothing. Entering ModeExecutable flushes the
// instruction cache for the buffer.
func (b *Buffer) SetAccessMode(mode Mode) error {
	if b.released {
		return ErrReleased
	}
	if mode == b.mode {
		return nil
	}
	if err := osProtect(b.mem, mode); err != nil {
		return &ProtectError{Op: "protect", Mode: mode, Err: err}
	}
	b.mode = mode
	b.epoch++
	if mode == ModeExecutable {
		flushInstructionCache(b.mem)
	}
	return nil
}

// Writable switches the buffer to ModeWritable and returns the handle code
// is written through.
func (b *Buffer) Writable() (*Writable, error) {
	if err := b.SetAccessMode(ModeWritable); err != nil {
		return nil, err
	}
	return &Writable{buf: b, epoch: b.epoch}, nil
}

// Executable switches the buffer to ModeExecutable and returns a handle for
// entering the code already in it.
func (b *Buffer) Executable() (*Executable, error) {
	if err := b.SetAccessMode(ModeExecutable); err != nil {
		return nil, err
	}
	return &Executable{buf: b, epoch: b.epoch}, nil
}

// Bytes returns a copy of the first n bytes. The buffer must be readable.
func (b *Buffer) Bytes(n int) ([]byte, error) {
	if b.released {
		return nil, ErrReleased
	}
	if b.mode == ModeInaccessible {
		return nil, fmt.Errorf("codebuf: read from %s buffer", b.mode)
	}
	if n < 0 || n > len(b.mem) {
		return nil, fmt.Errorf("codebuf: read %d bytes from %d byte buffer", n, len(b.mem))
	}
	return append([]byte(nil), b.mem[:n]...), nil
}

// Release unmaps the buffer. Releasing twice is a no-op.
func (b *Buffer) Release() error {
	if b.released {
		return nil
	}
	b.released = true
	b.epoch++
	mem := b.mem
	b.mem = nil
	if err := osRelease(mem); err != nil {
		return &ProtectError{Op: "release", Mode: b.mode, Err: err}
	}
	return nil
}

func (b *Buffer) check(epoch uint64) error {
	if b.released {
		return ErrReleased
	}
	if epoch != b.epoch {
		return ErrStaleHandle
	}
	return nil
}

// Writable grants write access to the buffer until the next mode change.
type Writable struct {
	buf   *Buffer
	epoch uint64
}

// Bytes returns the writable memory, limited to limit bytes when limit is
// positive and smaller than the page.
func (w *Writable) Bytes(limit int) ([]byte, error) {
	if err := w.buf.check(w.epoch); err != nil {
		return nil, err
	}
	mem := w.buf.mem
	if limit > 0 && limit < len(mem) {
		mem = mem[:limit:limit]
	}
	return mem, nil
}

// Base returns the address the written code will run at.
func (w *Writable) Base() uintptr { return w.buf.Base() }

// Seal makes the written code executable. The Writable handle is stale
// afterwards.
func (w *Writable) Seal() (*Executable, error) {
	if err := w.buf.check(w.epoch); err != nil {
		return nil, err
	}
	return w.buf.Executable()
}

// Abandon revokes all access after a failed write.
func (w *Writable) Abandon() error {
	if err := w.buf.check(w.epoch); err != nil {
		return err
	}
	return w.buf.SetAccessMode(ModeInaccessible)
}

// Executable grants the right to call into the buffer until the next mode
// change.
type Executable struct {
	buf   *Buffer
	epoch uint64
}

// Entry returns the address of the first instruction.
func (x *Executable) Entry() (uintptr, error) {
	if err := x.buf.check(x.epoch); err != nil {
		return 0, err
	}
	return x.buf.Base(), nil
}

// Valid reports whether the handle still refers to the buffer's current mode.
func (x *Executable) Valid() bool {
	return x != nil && x.buf.check(x.epoch) == nil
}
