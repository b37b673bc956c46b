package codebuf

import (
	"bytes"
	"errors"
	"testing"
)

func newBuffer(t *testing.T) *Buffer {
	t.Helper()
	buf, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = buf.Release() })
	return buf
}

func TestNewBufferIsInaccessiblePage(t *testing.T) {
	buf := newBuffer(t)

	if buf.Mode() != ModeInaccessible {
		t.Fatalf("mode=%s, want inaccessible", buf.Mode())
	}
	if buf.Size() != PageSize() {
		t.Fatalf("size=%d, want page size %d", buf.Size(), PageSize())
	}
	if buf.Base() == 0 {
		t.Fatal("base address is zero")
	}
	if buf.Base()%uintptr(PageSize()) != 0 {
		t.Fatalf("base 0x%x is not page aligned", buf.Base())
	}
	if _, err := buf.Bytes(1); err == nil {
		t.Fatal("read from inaccessible buffer succeeded")
	}
}

func TestWriteSealRead(t *testing.T) {
	buf := newBuffer(t)

	w, err := buf.Writable()
	if err != nil {
		t.Fatalf("Writable: %v", err)
	}
	mem, err := w.Bytes(4)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if len(mem) != 4 || cap(mem) != 4 {
		t.Fatalf("limited slice len=%d cap=%d, want 4/4", len(mem), cap(mem))
	}
	copy(mem, []byte{0x90, 0x90, 0x90, 0xC3})

	x, err := w.Seal()
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if buf.Mode() != ModeExecutable {
		t.Fatalf("mode=%s, want executable", buf.Mode())
	}
	entry, err := x.Entry()
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if entry != buf.Base() {
		t.Fatalf("entry=0x%x, want base 0x%x", entry, buf.Base())
	}

	got, err := buf.Bytes(4)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if !bytes.Equal(got, []byte{0x90, 0x90, 0x90, 0xC3}) {
		t.Fatalf("code=%x", got)
	}
}

func TestStaleHandles(t *testing.T) {
	buf := newBuffer(t)

	w, err := buf.Writable()
	if err != nil {
		t.Fatalf("Writable: %v", err)
	}
	x, err := w.Seal()
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := w.Bytes(0); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("writable after seal: err=%v, want ErrStaleHandle", err)
	}
	if _, err := w.Seal(); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("second seal: err=%v, want ErrStaleHandle", err)
	}

	if _, err := buf.Writable(); err != nil {
		t.Fatalf("Writable: %v", err)
	}
	if x.Valid() {
		t.Fatal("executable handle still valid after mode change")
	}
	if _, err := x.Entry(); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("entry after mode change: err=%v, want ErrStaleHandle", err)
	}
}

func TestSetAccessModeSameModeKeepsHandles(t *testing.T) {
	buf := newBuffer(t)

	x, err := buf.Executable()
	if err != nil {
		t.Fatalf("Executable: %v", err)
	}
	if err := buf.SetAccessMode(ModeExecutable); err != nil {
		t.Fatalf("SetAccessMode: %v", err)
	}
	if !x.Valid() {
		t.Fatal("no-op mode change invalidated the handle")
	}
}

func TestAbandon(t *testing.T) {
	buf := newBuffer(t)

	w, err := buf.Writable()
	if err != nil {
		t.Fatalf("Writable: %v", err)
	}
	if err := w.Abandon(); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if buf.Mode() != ModeInaccessible {
		t.Fatalf("mode=%s, want inaccessible", buf.Mode())
	}
	if _, err := w.Bytes(0); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("err=%v, want ErrStaleHandle", err)
	}
}

func TestRelease(t *testing.T) {
	buf, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	x, err := buf.Executable()
	if err != nil {
		t.Fatalf("Executable: %v", err)
	}

	if err := buf.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := buf.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if buf.Base() != 0 {
		t.Fatalf("base=0x%x after release", buf.Base())
	}
	if _, err := x.Entry(); !errors.Is(err, ErrReleased) {
		t.Fatalf("entry: err=%v, want ErrReleased", err)
	}
	if err := buf.SetAccessMode(ModeWritable); !errors.Is(err, ErrReleased) {
		t.Fatalf("SetAccessMode: err=%v, want ErrReleased", err)
	}
	if _, err := buf.Writable(); !errors.Is(err, ErrReleased) {
		t.Fatalf("Writable: err=%v, want ErrReleased", err)
	}
}

func TestModeString(t *testing.T) {
	for mode, want := range map[Mode]string{
		ModeInaccessible: "inaccessible",
		ModeWritable:     "writable",
		ModeExecutable:   "executable",
		Mode(9):          "Mode(9)",
	} {
		if got := mode.String(); got != want {
			t.Errorf("Mode(%d).String()=%q, want %q", int(mode), got, want)
		}
	}
}
