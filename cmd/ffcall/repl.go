package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tinyrange/ffcall"
	"github.com/tinyrange/ffcall/internal/callplan"
)

const replHelp = `commands:
  lib PATH            library later symbols are looked up in
  sym NAME            call the exported function NAME
  addr ADDRESS        call the function at a raw address
  conv NAME           select the calling convention
  arg kind:value ...  append arguments
  set N kind:value    replace argument N
  reset               remove all arguments
  ret KIND            result kind printed by call (void for none)
  call                invoke and print the result
  code                print the compiled stub
  info                show the current configuration
  quit                leave
`

var errQuit = errors.New("quit")

type repl struct {
	libs  resolver
	iface *ffcall.Interface
	lib   string
	sym   string
	ret   string
}

func newRepl(libs resolver) (*repl, error) {
	iface, err := ffcall.New(0, ffcall.WithLogger(slog.Default()))
	if err != nil {
		return nil, err
	}
	return &repl{libs: libs, iface: iface, ret: "i64"}, nil
}

func (r *repl) Close() error {
	err := r.iface.Close()
	return errors.Join(err, r.libs.Close())
}

func replMain(args []string) error {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	lib := fs.String("lib", "", "library to start with")
	history := fs.String("history", "", "file to keep command history in")
	if err := fs.Parse(args); err != nil {
		return err
	}

	r, err := newRepl(newLoader())
	if err != nil {
		return err
	}
	defer r.Close()
	r.lib = *lib

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ffcall> ",
		HistoryFile:     *history,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("lib"),
			readline.PcItem("sym"),
			readline.PcItem("addr"),
			readline.PcItem("conv",
				readline.PcItem("cdecl"),
				readline.PcItem("pascal"),
				readline.PcItem("stdcall"),
				readline.PcItem("fastcall"),
				readline.PcItem("thiscall"),
				readline.PcItem("x64"),
			),
			readline.PcItem("arg"),
			readline.PcItem("set"),
			readline.PcItem("reset"),
			readline.PcItem("ret"),
			readline.PcItem("call"),
			readline.PcItem("code"),
			readline.PcItem("info"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	out := rl.Stdout()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		} else if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}

		if err := r.exec(out, line); errors.Is(err, errQuit) {
			return nil
		} else if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func (r *repl) exec(w io.Writer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help", "?":
		_, err := io.WriteString(w, replHelp)
		return err
	case "quit", "exit":
		return errQuit
	case "lib":
		if len(args) != 1 {
			return errors.New("usage: lib PATH")
		}
		r.lib = args[0]
		return nil
	case "sym":
		if len(args) != 1 {
			return errors.New("usage: sym NAME")
		}
		if r.lib == "" {
			return errors.New("no library; use lib PATH first")
		}
		addr, err := r.libs.Lookup(r.lib, args[0])
		if err != nil {
			return err
		}
		r.sym = args[0]
		return r.iface.SetFunctionPointer(addr)
	case "addr":
		if len(args) != 1 {
			return errors.New("usage: addr ADDRESS")
		}
		addr, err := strconv.ParseUint(args[0], 0, strconv.IntSize)
		if err != nil {
			return err
		}
		r.sym = ""
		return r.iface.SetFunctionPointer(uintptr(addr))
	case "conv":
		if len(args) != 1 {
			return errors.New("usage: conv NAME")
		}
		conv, err := ffcall.ParseConvention(args[0])
		if err != nil {
			return err
		}
		return r.iface.SetCallingConvention(conv)
	case "arg":
		for _, arg := range args {
			v, err := callplan.ParseValue(arg)
			if err != nil {
				return err
			}
			if err := r.iface.AddArgument(v); err != nil {
				return err
			}
		}
		return nil
	case "set":
		if len(args) != 2 {
			return errors.New("usage: set N kind:value")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		v, err := callplan.ParseValue(args[1])
		if err != nil {
			return err
		}
		return r.iface.SetArgument(n, v)
	case "reset":
		return r.iface.ResetArguments()
	case "ret":
		if len(args) != 1 {
			return errors.New("usage: ret KIND")
		}
		if args[0] != "void" && !callplan.IsKind(args[0]) {
			return fmt.Errorf("unknown result kind %q", args[0])
		}
		r.ret = args[0]
		return nil
	case "call":
		if err := r.iface.Invoke(); err != nil {
			return err
		}
		result, err := callplan.FormatReturn(r.iface, r.ret)
		if err != nil {
			return err
		}
		if result != "" {
			fmt.Fprintln(w, result)
		}
		return nil
	case "code":
		if err := r.iface.Compile(); err != nil {
			return err
		}
		hexdump(w, 0, r.iface.Code())
		return nil
	case "info":
		return r.info(w)
	}
	return fmt.Errorf("unknown command %q; try help", cmd)
}

func (r *repl) info(w io.Writer) error {
	var t table
	target := fmt.Sprintf("%#x", r.iface.FunctionPointer())
	if r.sym != "" {
		target = fmt.Sprintf("%s (%s in %s)", target, r.sym, r.lib)
	}
	t.row("target", target)
	t.row("convention", r.iface.CallingConvention().String())
	shapes := make([]string, r.iface.NumArguments())
	for n := range shapes {
		shape, _ := r.iface.ArgumentShape(n)
		shapes[n] = shape.String()
	}
	t.row("arguments", "("+strings.Join(shapes, ", ")+")")
	t.row("returns", r.ret)
	t.row("compiled", fmt.Sprintf("%v (%d compiles)", !r.iface.Dirty(), r.iface.Compiles()))
	return t.write(w)
}
