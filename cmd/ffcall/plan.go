package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/tinyrange/ffcall/internal/callplan"
	"github.com/tinyrange/ffcall/internal/debug"
)

const tracePlan debug.Source = "ffcall/plan"

func planMain(args []string) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	writeExample := fs.Bool("init", false, "write an example plan to FILE instead of running it")
	keepGoing := fs.Bool("k", false, "keep going after a failed call")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: ffcall plan [-init] [-k] FILE\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}
	path := fs.Arg(0)

	if *writeExample {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		return callplan.Write(path, examplePlan())
	}

	p, err := callplan.Load(path)
	if err != nil {
		return err
	}
	return runPlan(newLoader(), p, *keepGoing)
}

func examplePlan() *callplan.Plan {
	return &callplan.Plan{
		Library: "libc.so.6",
		Calls: []callplan.Call{
			{Symbol: "abs", Args: []string{"i32:-42"}, Returns: "i32", Expect: "42"},
			{Name: "labs", Symbol: "labs", Args: []string{"i64:-0x10"}, Returns: "i64", Expect: "16", Repeat: 3},
		},
	}
}

func runPlan(libs resolver, p *callplan.Plan, keepGoing bool) error {
	defer libs.Close()

	id := uuid.New()
	log := slog.With("run", id.String())
	tracePlan.Writef("run=%s calls=%d", id, len(p.Calls))

	var failed []error
	for n := range p.Calls {
		c := &p.Calls[n]
		err := runPlanCall(libs, c, log)
		if err == nil {
			continue
		}
		tracePlan.Writef("run=%s call=%s failed: %v", id, c.Name, err)
		failed = append(failed, err)
		if !keepGoing {
			break
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d calls failed: %w", len(failed), len(p.Calls), errors.Join(failed...))
	}
	log.Info("plan passed", "calls", len(p.Calls))
	return nil
}

func runPlanCall(libs resolver, c *callplan.Call, log *slog.Logger) error {
	iface, err := openCall(libs, c)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	defer iface.Close()

	for range c.Repeat {
		if err := iface.Invoke(); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	got, err := callplan.FormatReturn(iface, c.Returns)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	if err := c.Check(got); err != nil {
		log.Error("call failed", "name", c.Name, "got", got, "want", c.Expect)
		return err
	}
	log.Debug("call passed", "name", c.Name, "result", got, "repeat", c.Repeat, "compiles", iface.Compiles())
	fmt.Printf("ok  %s", c.Name)
	if got != "" {
		fmt.Printf(" = %s", got)
	}
	fmt.Println()
	return nil
}
