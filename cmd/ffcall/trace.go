package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tinyrange/ffcall/internal/debug"
)

type traceConfig struct {
	sources []string
	kind    debug.Kind
	last    int
	list    bool
	code    bool
}

func traceMain(args []string) error {
	fs := flag.NewFlagSet("trace", flag.ContinueOnError)
	source := fs.String("source", "", "comma separated sources to show")
	kind := fs.String("kind", "", "only show records of this kind (code, event)")
	last := fs.Int("last", 0, "only show the final N matching records")
	list := fs.Bool("list", false, "list the sources in the file")
	code := fs.Bool("code", false, "print compiled stubs in full")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: ffcall trace [flags] FILE\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	cfg := traceConfig{last: *last, list: *list, code: *code}
	if *source != "" {
		cfg.sources = strings.Split(*source, ",")
	}
	switch *kind {
	case "":
	case "code":
		cfg.kind = debug.KindCode
	case "event":
		cfg.kind = debug.KindEvent
	default:
		return fmt.Errorf("unknown record kind %q", *kind)
	}

	r, err := debug.NewReaderFromFile(fs.Arg(0))
	if err != nil {
		return err
	}
	return printTrace(os.Stdout, r, cfg)
}

func printTrace(w io.Writer, r *debug.Reader, cfg traceConfig) error {
	if cfg.list {
		for _, src := range r.Sources() {
			fmt.Fprintln(w, src)
		}
		return nil
	}

	var (
		t     table
		stubs []debug.Entry
	)
	if err := r.Search(debug.SearchOptions{
		Sources: cfg.sources,
		Kind:    cfg.kind,
		Last:    cfg.last,
	}, func(e debug.Entry) error {
		ts := e.Time.UTC().Format(time.RFC3339Nano)
		switch e.Kind {
		case debug.KindCode:
			t.row(ts, "["+e.Source+"]", fmt.Sprintf("code %d bytes at %#x", len(e.Data), e.Address))
			stubs = append(stubs, e)
		default:
			t.row(ts, "["+e.Source+"]", string(e.Data))
		}
		return nil
	}); err != nil {
		return err
	}
	if err := t.write(w); err != nil {
		return err
	}

	if cfg.code {
		for _, e := range stubs {
			fmt.Fprintf(w, "\n%s %#x\n", e.Source, e.Address)
			hexdump(w, uintptr(e.Address), e.Data)
		}
	}
	return nil
}
