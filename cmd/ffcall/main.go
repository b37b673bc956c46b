package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/xyproto/env/v2"

	"github.com/tinyrange/ffcall/internal/debug"
)

type command struct {
	summary string
	run     func(args []string) error
}

var commands = map[string]command{
	"call":  {"call one exported function", callMain},
	"dump":  {"print the stub compiled for a list of argument shapes", dumpMain},
	"bench": {"invoke a function repeatedly and report throughput", benchMain},
	"plan":  {"run the calls described by a YAML plan", planMain},
	"repl":  {"configure and invoke calls interactively", replMain},
	"trace": {"print the records of a trace file", traceMain},
}

// errUsage makes main print usage without an error message.
var errUsage = errors.New("usage")

func usage() {
	fmt.Fprintf(os.Stderr, `ffcall - call native functions through runtime-compiled stubs

USAGE:
  ffcall [-debug] [-trace FILE] <command> [flags] [args]

COMMANDS:
`)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-7s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(os.Stderr, `
ARGUMENTS:
  Arguments are written kind:value, e.g. i32:-5 u64:0x10 f64:2.5 ptr:null str:hello

ENVIRONMENT:
  FFCALL_DEBUG       enable debug logging
  FFCALL_TRACE       default for -trace
  FFCALL_CONVENTION  default calling convention
`)
}

func run() error {
	dbg := flag.Bool("debug", env.Bool("FFCALL_DEBUG"), "enable debug logging")
	traceFile := flag.String("trace", env.Str("FFCALL_TRACE"), "write compiled stubs and invocations to a binary trace file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		return errUsage
	}

	level := slog.LevelInfo
	if *dbg {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		usage()
		return fmt.Errorf("unknown command %q", flag.Arg(0))
	}

	if *traceFile != "" && flag.Arg(0) != "trace" {
		if err := debug.OpenFile(*traceFile); err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer debug.Close()

		debug.Writef("ffcall", "trace enabled command=%s", flag.Arg(0))
	}

	return cmd.run(flag.Args()[1:])
}

func main() {
	if err := run(); err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "ffcall: %v\n", err)
		}
		os.Exit(1)
	}
}
