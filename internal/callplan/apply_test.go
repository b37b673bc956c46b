//go:build amd64 || 386

package callplan

import (
	"io"
	"log/slog"
	"testing"

	"github.com/tinyrange/ffcall/internal/callconv"
	"github.com/tinyrange/ffcall/internal/ffi"
)

type loggerOption struct{ logger *slog.Logger }

func (*loggerOption) IsOption()              {}
func (o *loggerOption) Logger() *slog.Logger { return o.logger }

func TestApply(t *testing.T) {
	iface, err := ffi.New(0x1000, &loggerOption{slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("ffi.New: %v", err)
	}
	defer iface.Close()

	c := Call{Name: "f", Symbol: "f", Args: []string{"i32:1", "f64:2", "u8:3"}}
	if err := c.Apply(iface); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := []callconv.Shape{callconv.Signed(4), callconv.Float(8), callconv.Unsigned(1)}
	if iface.NumArguments() != len(want) {
		t.Fatalf("arguments=%d", iface.NumArguments())
	}
	for n, shape := range want {
		if got, _ := iface.ArgumentShape(n); got != shape {
			t.Errorf("arg %d shape=%s, want %s", n, got, shape)
		}
	}

	// A second Apply replaces rather than appends.
	c.Args = []string{"i64:9"}
	if err := c.Apply(iface); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if iface.NumArguments() != 1 {
		t.Fatalf("arguments=%d after reapply", iface.NumArguments())
	}

	c.Convention = "bogus"
	if err := c.Apply(iface); err == nil {
		t.Fatal("Apply accepted an unknown convention")
	}
}

func TestFormatReturnBeforeInvoke(t *testing.T) {
	iface, err := ffi.New(0x1000, &loggerOption{slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("ffi.New: %v", err)
	}
	defer iface.Close()

	for kind, want := range map[string]string{
		"":     "",
		"void": "",
		"i32":  "0",
		"f64":  "0",
		"ptr":  "0x0",
	} {
		got, err := FormatReturn(iface, kind)
		if err != nil || got != want {
			t.Errorf("FormatReturn(%q)=%q, %v; want %q", kind, got, err, want)
		}
	}
	if _, err := FormatReturn(iface, "i128"); err == nil {
		t.Error("FormatReturn accepted i128")
	}
}
