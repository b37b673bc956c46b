package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/ffcall/internal/callplan"
	"github.com/tinyrange/ffcall/internal/timeslice"
)

func benchMain(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	lib := fs.String("lib", "", "shared library to load")
	sym := fs.String("sym", "", "exported function to call")
	conv := conventionFlag(fs)
	n := fs.Int("n", 100000, "number of invocations")
	tsFile := fs.String("tsfile", "", "record compile and invoke timings to FILE and summarize them")
	ret := fs.String("ret", "i64", "result kind printed after the run")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: ffcall bench -lib LIB -sym SYMBOL [flags] [kind:value ...]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *lib == "" || *sym == "" {
		fs.Usage()
		return errors.New("bench: -lib and -sym are required")
	}
	if *n <= 0 {
		return fmt.Errorf("bench: -n must be positive, got %d", *n)
	}

	c := callplan.Call{
		Name:       *sym,
		Library:    *lib,
		Symbol:     *sym,
		Convention: *conv,
		Args:       fs.Args(),
		Returns:    *ret,
	}

	var (
		recording *os.File
		stop      io.Closer
	)
	if *tsFile != "" {
		f, err := os.Create(*tsFile)
		if err != nil {
			return fmt.Errorf("create timeslice file: %w", err)
		}
		defer f.Close()

		stop, err = timeslice.StartRecording(f)
		if err != nil {
			return fmt.Errorf("open timeslice file: %w", err)
		}
		defer func() {
			if stop != nil {
				stop.Close()
			}
		}()
		recording = f
	}

	libs := newLoader()
	defer libs.Close()

	iface, err := openCall(libs, &c)
	if err != nil {
		return err
	}
	defer iface.Close()

	var bar *progressbar.ProgressBar
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.Default(int64(*n), *sym)
		defer bar.Close()
	}
	step := max(*n/100, 1)

	start := time.Now()
	for i := range *n {
		if err := iface.Invoke(); err != nil {
			return err
		}
		if bar != nil && (i+1)%step == 0 {
			bar.Add(step)
		}
	}
	elapsed := time.Since(start)
	if bar != nil {
		bar.Finish()
	}

	result, err := callplan.FormatReturn(iface, c.Returns)
	if err != nil {
		return err
	}
	var t table
	t.row("calls", fmt.Sprint(*n))
	t.row("compiles", fmt.Sprint(iface.Compiles()))
	t.row("elapsed", elapsed.String())
	t.row("per call", (elapsed / time.Duration(*n)).String())
	t.row("calls/s", fmt.Sprintf("%.0f", float64(*n)/elapsed.Seconds()))
	if result != "" {
		t.row("result", result)
	}
	if err := t.write(os.Stdout); err != nil {
		return err
	}

	if recording == nil {
		return nil
	}
	err = stop.Close()
	stop = nil
	if err != nil {
		return err
	}
	return summarizeRecording(recording)
}

func summarizeRecording(f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	summaries, err := timeslice.Summarize(f)
	if err != nil {
		return fmt.Errorf("read timeslice file: %w", err)
	}
	var t table
	t.row("KIND", "FLAGS", "COUNT", "TOTAL", "MIN", "MEAN", "MAX")
	for _, s := range summaries {
		t.row(s.Kind, s.Flags.String(), fmt.Sprint(s.Count), s.Total.String(), s.Min.String(), s.Mean().String(), s.Max.String())
	}
	fmt.Println()
	return t.write(os.Stdout)
}
