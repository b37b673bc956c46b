package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/xyproto/env/v2"

	"github.com/tinyrange/ffcall"
	"github.com/tinyrange/ffcall/internal/callplan"
)

// resolver finds exported functions in shared libraries.
type resolver interface {
	Lookup(lib, sym string) (uintptr, error)
	Close() error
}

func conventionFlag(fs *flag.FlagSet) *string {
	return fs.String("conv", env.Str("FFCALL_CONVENTION"), "calling convention (cdecl, pascal, stdcall, fastcall, thiscall, x64)")
}

// openCall resolves c and returns an Interface with its arguments applied.
func openCall(libs resolver, c *callplan.Call) (*ffcall.Interface, error) {
	target, err := libs.Lookup(c.Library, c.Symbol)
	if err != nil {
		return nil, err
	}
	iface, err := ffcall.New(target, ffcall.WithLogger(slog.Default()))
	if err != nil {
		return nil, err
	}
	if err := c.Apply(iface); err != nil {
		iface.Close()
		return nil, err
	}
	return iface, nil
}

// table writes aligned columns. Widths are measured in terminal cells so
// styled cells line up.
type table struct {
	rows [][]string
}

func (t *table) row(cols ...string) { t.rows = append(t.rows, cols) }

func (t *table) write(w io.Writer) error {
	var widths []int
	for _, row := range t.rows {
		for n, col := range row {
			if n >= len(widths) {
				widths = append(widths, 0)
			}
			widths[n] = max(widths[n], ansi.StringWidth(col))
		}
	}
	for _, row := range t.rows {
		var sb strings.Builder
		for n, col := range row {
			sb.WriteString(col)
			if n < len(row)-1 {
				sb.WriteString(strings.Repeat(" ", widths[n]-ansi.StringWidth(col)+2))
			}
		}
		if _, err := fmt.Fprintln(w, sb.String()); err != nil {
			return err
		}
	}
	return nil
}

// hexdump writes code sixteen bytes per line prefixed with the offset.
func hexdump(w io.Writer, base uintptr, code []byte) {
	for off := 0; off < len(code); off += 16 {
		end := min(off+16, len(code))
		fmt.Fprintf(w, "%08x  % x\n", base+uintptr(off), code[off:end])
	}
}
