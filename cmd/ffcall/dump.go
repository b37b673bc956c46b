package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/docker/go-units"

	"github.com/tinyrange/ffcall/internal/asm"
	"github.com/tinyrange/ffcall/internal/asm/x86"
	"github.com/tinyrange/ffcall/internal/callconv"
	"github.com/tinyrange/ffcall/internal/codebuf"
)

// Placeholder addresses used when compiling a stub that will never run. They
// fit in 32 bits so the same values work for x86.
const (
	dumpCodeBase = 0x00400000
	dumpTarget   = 0x10000000
	dumpResult   = 0x20000000
	dumpArgs     = 0x30000000
)

type dumpConfig struct {
	arch     callconv.Arch
	abi      callconv.ABI
	conv     callconv.Convention
	capacity int
	shapes   []callconv.Shape
}

func dumpMain(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	archName := fs.String("arch", "", "target architecture (x86, x86_64); default is the host")
	abiName := fs.String("abi", "", "x86_64 register assignment (sysv, windows); default is the host")
	convName := conventionFlag(fs)
	capacity := fs.Int("capacity", 0, "code buffer size in bytes; default is one page")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: ffcall dump [flags] SHAPE...\n\nshapes: i8 i16 i32 i64 u8 u16 u32 u64 f32 f64 ptr\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := dumpConfig{abi: callconv.HostABI(), capacity: *capacity}
	var err error
	if *archName != "" {
		cfg.arch, err = callconv.ParseArch(*archName)
	} else {
		cfg.arch, err = callconv.HostArch()
	}
	if err != nil {
		return err
	}
	if *abiName != "" {
		if cfg.abi, err = callconv.ParseABI(*abiName); err != nil {
			return err
		}
	}
	cfg.conv = callconv.DefaultConvention(cfg.arch)
	if *convName != "" {
		if cfg.conv, err = callconv.ParseConvention(*convName); err != nil {
			return err
		}
	}
	if cfg.capacity == 0 {
		cfg.capacity = codebuf.PageSize()
	}
	for _, s := range fs.Args() {
		shape, err := callconv.ParseShape(s, cfg.arch)
		if err != nil {
			return err
		}
		cfg.shapes = append(cfg.shapes, shape)
	}
	return dump(os.Stdout, cfg)
}

func (cfg dumpConfig) request() callconv.Request {
	req := callconv.Request{
		Arch:       cfg.arch,
		ABI:        cfg.abi,
		Convention: cfg.conv,
		Target:     dumpTarget,
		Result:     dumpResult,
	}
	for n, shape := range cfg.shapes {
		req.Args = append(req.Args, callconv.Arg{Shape: shape, Addr: dumpArgs + uintptr(8*n)})
	}
	return req
}

func dump(w io.Writer, cfg dumpConfig) error {
	req := cfg.request()
	plan, err := callconv.PlanCall(req)
	if err != nil {
		return err
	}
	frag, err := callconv.Build(req)
	if err != nil {
		return err
	}
	code, err := asm.Assemble(frag, cfg.capacity, dumpCodeBase)
	if err != nil {
		return err
	}

	abi := ""
	if cfg.arch == callconv.ArchX64 {
		abi = " " + cfg.abi.String()
	}
	fmt.Fprintf(w, "%s%s %s: %d bytes of %s\n\n", cfg.arch, abi, cfg.conv, len(code), units.BytesSize(float64(cfg.capacity)))

	var t table
	t.row("ARG", "SHAPE", "STORAGE", "PLACEMENT")
	for n, shape := range cfg.shapes {
		t.row(strconv.Itoa(n), shape.String(), fmt.Sprintf("%#x", req.Args[n].Addr), placement(plan, n))
	}
	if err := t.write(w); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nstack: %d bytes pushed, %d padding", plan.StackBytes(), plan.Padding)
	if plan.HomeSpace > 0 {
		fmt.Fprintf(w, ", %d home space", plan.HomeSpace)
	}
	if plan.SetAL {
		fmt.Fprintf(w, ", al=%d", plan.FloatRegs)
	}
	fmt.Fprintf(w, "\n\n")

	hexdump(w, dumpCodeBase, code)
	return nil
}

// placement describes where argument n ends up.
func placement(plan callconv.Plan, n int) string {
	for _, slot := range plan.Registers {
		if slot.Arg != n {
			continue
		}
		if slot.Float {
			return slot.XMM.String()
		}
		if plan.Arch == callconv.ArchX86 {
			return x86.Reg32(slot.GPR).String()
		}
		return x86.Reg64(slot.GPR).String()
	}
	var words []string
	for order, slot := range plan.Stack {
		if slot.Arg == n {
			words = append(words, fmt.Sprintf("push#%d+%d", order, slot.Offset))
		}
	}
	switch len(words) {
	case 0:
		return "-"
	case 1:
		return "stack " + words[0]
	}
	return fmt.Sprintf("stack %s %s", words[0], words[1])
}
