//go:build linux && (amd64 || 386)

package ffi

import (
	"testing"

	"github.com/tinyrange/ffcall/internal/asm"
	"github.com/tinyrange/ffcall/internal/codebuf"
)

// jit assembles frag into its own executable page and returns its address.
func jit(t *testing.T, frag asm.Fragment) uintptr {
	t.Helper()
	buf, err := codebuf.New()
	if err != nil {
		t.Fatalf("codebuf.New: %v", err)
	}
	t.Cleanup(func() { _ = buf.Release() })

	w, err := buf.Writable()
	if err != nil {
		t.Fatalf("Writable: %v", err)
	}
	mem, err := w.Bytes(0)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if err := asm.Emit(asm.NewEmitter(mem, w.Base()), frag); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	x, err := w.Seal()
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	entry, err := x.Entry()
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	return entry
}

func mustInvoke(t *testing.T, iface *Interface) {
	t.Helper()
	if err := iface.Invoke(); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
}

func setArgs(t *testing.T, iface *Interface, values ...any) {
	t.Helper()
	for n, v := range values {
		if err := iface.SetArgument(n, v); err != nil {
			t.Fatalf("SetArgument(%d, %T): %v", n, v, err)
		}
	}
}
