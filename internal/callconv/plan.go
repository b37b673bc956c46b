package callconv

import (
	"fmt"
	"slices"

	"github.com/tinyrange/ffcall/internal/asm/x86"
)

// RegisterSlot loads argument Arg into a general-purpose or SSE register.
type RegisterSlot struct {
	Arg   int
	Float bool
	GPR   x86.RegID
	XMM   x86.XMM
}

// StackSlot pushes one stack word taken Offset bytes into the storage of
// argument Arg.
type StackSlot struct {
	Arg    int
	Offset int
}

// Plan is where every argument of a Request goes. Stack slots are listed in
// push order; registers in load order.
type Plan struct {
	Arch      Arch
	Registers []RegisterSlot
	Stack     []StackSlot
	Padding   int // bytes reserved before the first push to align the call
	HomeSpace int // bytes reserved after the pushes (Windows x64)
	SetAL     bool
	FloatRegs int // value loaded into AL when SetAL is set
}

// StackBytes is the number of argument bytes pushed.
func (p Plan) StackBytes() int {
	return len(p.Stack) * p.Arch.WordSize()
}

var (
	fastCallRegs   = []x86.RegID{x86.ECX, x86.EDX}
	sysvIntRegs    = []x86.RegID{x86.RDI, x86.RSI, x86.RDX, x86.RCX, x86.R8, x86.R9}
	sysvFloatRegs  = []x86.XMM{x86.XMM0, x86.XMM1, x86.XMM2, x86.XMM3, x86.XMM4, x86.XMM5, x86.XMM6, x86.XMM7}
	windowsIntRegs = []x86.RegID{x86.RCX, x86.RDX, x86.R8, x86.R9}
	windowsFloats  = []x86.XMM{x86.XMM0, x86.XMM1, x86.XMM2, x86.XMM3}
)

// windowsHomeSpace is the register spill area a Windows x64 caller reserves.
const windowsHomeSpace = 32

// Validate checks a request without placing anything.
func (r Request) Validate() error {
	if err := CheckConvention(r.Arch, r.Convention); err != nil {
		return err
	}
	if r.Target == 0 {
		return &ConfigurationError{Op: "target", Index: -1, Reason: "function pointer is null"}
	}
	if r.Result == 0 {
		return &ConfigurationError{Op: "result", Index: -1, Reason: "return slot address is null"}
	}
	for i, arg := range r.Args {
		if reason := arg.Shape.reason(r.Arch); reason != "" {
			return &ConfigurationError{Op: "shape", Index: i, Reason: reason}
		}
	}
	if r.Convention == ThisCall {
		if len(r.Args) == 0 {
			return &ConfigurationError{Op: "thiscall", Index: -1, Reason: "requires an instance pointer argument"}
		}
		if r.Args[0].Shape.Kind != KindPointer {
			return &ConfigurationError{
				Op:     "thiscall",
				Index:  0,
				Reason: fmt.Sprintf("instance argument is %s, want ptr", r.Args[0].Shape),
			}
		}
	}
	return nil
}

// PlanCall decides the placement of every argument of req.
func PlanCall(req Request) (Plan, error) {
	if err := req.Validate(); err != nil {
		return Plan{}, err
	}
	if req.Arch == ArchX64 {
		if req.ABI == ABIWindows {
			return planWindows(req), nil
		}
		return planSysV(req), nil
	}
	return plan32(req), nil
}

func plan32(req Request) Plan {
	plan := Plan{Arch: ArchX86}
	onStack := make([]int, 0, len(req.Args))

	switch req.Convention {
	case FastCall:
		next := 0
		for i, arg := range req.Args {
			if next < len(fastCallRegs) && arg.Shape.Kind != KindFloat && arg.Shape.Width <= 4 {
				plan.Registers = append(plan.Registers, RegisterSlot{Arg: i, GPR: fastCallRegs[next]})
				next++
				continue
			}
			onStack = append(onStack, i)
		}
	case ThisCall:
		plan.Registers = append(plan.Registers, RegisterSlot{Arg: 0, GPR: x86.ECX})
		for i := 1; i < len(req.Args); i++ {
			onStack = append(onStack, i)
		}
	default:
		for i := range req.Args {
			onStack = append(onStack, i)
		}
	}

	if req.Convention != Pascal {
		slices.Reverse(onStack)
	}
	for _, i := range onStack {
		words := req.Args[i].Shape.Words(ArchX86)
		// Higher words first so the value sits little-endian on the stack.
		for w := words - 1; w >= 0; w-- {
			plan.Stack = append(plan.Stack, StackSlot{Arg: i, Offset: w * 4})
		}
	}
	plan.Padding = (16 - plan.StackBytes()%16) % 16
	return plan
}

func planWindows(req Request) Plan {
	plan := Plan{Arch: ArchX64, HomeSpace: windowsHomeSpace}
	var onStack []int
	for i, arg := range req.Args {
		switch {
		case i >= len(windowsIntRegs):
			onStack = append(onStack, i)
		case arg.Shape.Kind == KindFloat:
			plan.Registers = append(plan.Registers, RegisterSlot{Arg: i, Float: true, XMM: windowsFloats[i]})
		default:
			plan.Registers = append(plan.Registers, RegisterSlot{Arg: i, GPR: windowsIntRegs[i]})
		}
	}
	plan.Stack = stackSlots64(onStack)
	plan.Padding = padding64(len(plan.Stack))
	return plan
}

func planSysV(req Request) Plan {
	plan := Plan{Arch: ArchX64, SetAL: true}
	var onStack []int
	nextInt, nextFloat := 0, 0
	for i, arg := range req.Args {
		if arg.Shape.Kind == KindFloat {
			if nextFloat < len(sysvFloatRegs) {
				plan.Registers = append(plan.Registers, RegisterSlot{Arg: i, Float: true, XMM: sysvFloatRegs[nextFloat]})
				nextFloat++
				continue
			}
		} else if nextInt < len(sysvIntRegs) {
			plan.Registers = append(plan.Registers, RegisterSlot{Arg: i, GPR: sysvIntRegs[nextInt]})
			nextInt++
			continue
		}
		onStack = append(onStack, i)
	}
	plan.FloatRegs = nextFloat
	plan.Stack = stackSlots64(onStack)
	plan.Padding = padding64(len(plan.Stack))
	return plan
}

// stackSlots64 pushes the remaining arguments right to left.
func stackSlots64(args []int) []StackSlot {
	slices.Reverse(args)
	slots := make([]StackSlot, 0, len(args))
	for _, i := range args {
		slots = append(slots, StackSlot{Arg: i})
	}
	return slots
}

// padding64 keeps the call on a 16-byte boundary. The frame pointer push
// leaves RSP aligned, so only an odd number of pushes needs a filler word.
func padding64(pushes int) int {
	if pushes%2 == 1 {
		return 8
	}
	return 0
}
