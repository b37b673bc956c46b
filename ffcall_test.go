//go:build amd64 || 386

package ffcall_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/tinyrange/ffcall"
)

const placeholder = 0x1000

func TestOptions(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	convs := ffcall.Conventions()
	if len(convs) == 0 {
		t.Fatal("no conventions on this host")
	}
	last := convs[len(convs)-1]

	iface, err := ffcall.New(placeholder,
		ffcall.WithCallingConvention(last),
		ffcall.WithCapacity(512),
		ffcall.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer iface.Close()

	if iface.CallingConvention() != last {
		t.Fatalf("convention=%s, want %s", iface.CallingConvention(), last)
	}
	if iface.Capacity() != 512 {
		t.Fatalf("capacity=%d", iface.Capacity())
	}
	if last == ffcall.ThisCall {
		if err := iface.AddArgument(&logs); err != nil {
			t.Fatalf("AddArgument: %v", err)
		}
	}
	if err := iface.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(logs.String(), "compiled call stub") {
		t.Fatalf("compile was not logged:\n%s", logs.String())
	}
}

func TestErrorsAreExported(t *testing.T) {
	iface, err := ffcall.New(placeholder, ffcall.WithCapacity(8))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := iface.AddArgument(int32(1)); err != nil {
		t.Fatalf("AddArgument: %v", err)
	}

	err = iface.Invoke()
	var overflow *ffcall.CompileOverflowError
	var inv *ffcall.InvocationError
	if !errors.Is(err, ffcall.ErrCompileOverflow) || !errors.As(err, &overflow) || !errors.As(err, &inv) {
		t.Fatalf("err=%v", err)
	}

	if err := iface.SetArgument(0, "text"); !errors.Is(err, ffcall.ErrConfiguration) {
		t.Fatalf("SetArgument: err=%v", err)
	}
	if err := iface.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := iface.Invoke(); !errors.Is(err, ffcall.ErrReleased) {
		t.Fatalf("Invoke after Close: err=%v", err)
	}
}

func TestParseConvention(t *testing.T) {
	for _, conv := range []ffcall.Convention{ffcall.CDecl, ffcall.Pascal, ffcall.StdCall, ffcall.FastCall, ffcall.ThisCall, ffcall.X64Native} {
		got, err := ffcall.ParseConvention(conv.String())
		if err != nil || got != conv {
			t.Errorf("ParseConvention(%q)=%v, %v", conv.String(), got, err)
		}
	}
}
