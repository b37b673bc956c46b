package callconv

import (
	"fmt"
	"math"

	"github.com/tinyrange/ffcall/internal/asm"
	"github.com/tinyrange/ffcall/internal/asm/x86"
)

// Compile writes the stub for req into e and resolves its labels.
func Compile(e *asm.Emitter, req Request) error {
	frag, err := Build(req)
	if err != nil {
		return err
	}
	return asm.Emit(e, frag)
}

// Build plans req and returns the stub as a fragment. The stub takes no
// arguments and follows the host C ABI, so it can be entered like any
// zero-argument function.
func Build(req Request) (asm.Fragment, error) {
	plan, err := PlanCall(req)
	if err != nil {
		return nil, err
	}
	if plan.Arch == ArchX64 {
		return build64(req, plan), nil
	}
	return build32(req, plan)
}

func build64(req Request, plan Plan) asm.Fragment {
	var (
		rbp     = x86.Reg64(x86.RBP)
		rsp     = x86.Reg64(x86.RSP)
		scratch = x86.Reg64(x86.R10)
		callee  = x86.Reg64(x86.R11)
	)
	addr := func(i int) asm.Fragment {
		return x86.MovImmediate(scratch, int64(req.Args[i].Addr))
	}

	frag := asm.Group{
		x86.Push(rbp),
		x86.MovReg(rbp, rsp),
	}
	if plan.Padding > 0 {
		frag = append(frag, x86.SubRegImm(rsp, int32(plan.Padding)))
	}
	for _, slot := range plan.Stack {
		frag = append(frag, addr(slot.Arg), x86.PushMem(x86.Mem(scratch)))
	}
	if plan.HomeSpace > 0 {
		frag = append(frag, x86.SubRegImm(rsp, int32(plan.HomeSpace)))
	}
	for _, slot := range plan.Registers {
		frag = append(frag, addr(slot.Arg))
		switch {
		case !slot.Float:
			frag = append(frag, x86.MovFromMemory(x86.Reg64(slot.GPR), x86.Mem(scratch)))
		case req.Args[slot.Arg].Shape.Width == 4:
			frag = append(frag, x86.MovssLoad(slot.XMM, x86.Mem(scratch)))
		default:
			frag = append(frag, x86.MovsdLoad(slot.XMM, x86.Mem(scratch)))
		}
	}
	if plan.SetAL {
		frag = append(frag, x86.MovImmediate32(x86.Reg64(x86.RAX), uint32(plan.FloatRegs)))
	}

	result := x86.Mem(callee)
	frag = append(frag,
		x86.MovImmediate(callee, int64(req.Target)),
		x86.CallReg(callee),
		x86.MovImmediate(callee, int64(req.Result)),
		x86.MovToMemory(result.WithDisp(ResultRawOffset), x86.Reg64(x86.RAX)),
		x86.MovssStore(result.WithDisp(ResultFloat32Offset), x86.XMM0),
		x86.MovsdStore(result.WithDisp(ResultFloat64Offset), x86.XMM0),
		x86.Leave(),
		x86.Ret(),
	)
	return frag
}

// fpuEmpty is the FXAM class "empty" as seen in AH: C3 (bit 6) and C0
// (bit 0) set.
const fpuEmpty = 0x41

func build32(req Request, plan Plan) (asm.Fragment, error) {
	var (
		ebp = x86.Reg32(x86.EBP)
		esp = x86.Reg32(x86.ESP)
		eax = x86.Reg32(x86.EAX)
		edx = x86.Reg32(x86.EDX)
	)
	abs := func(what string, addr uintptr) (x86.Memory, error) {
		if uint64(addr) > math.MaxUint32 {
			return x86.Memory{}, &ConfigurationError{
				Op:     what,
				Index:  -1,
				Reason: fmt.Sprintf("address 0x%x is not reachable from 32-bit code", addr),
			}
		}
		return x86.Abs(uint32(addr)), nil
	}

	frag := asm.Group{
		x86.Push(ebp),
		x86.MovReg(ebp, esp),
		x86.AndRegImm(esp, -16),
	}
	if plan.Padding > 0 {
		frag = append(frag, x86.SubRegImm(esp, int32(plan.Padding)))
	}
	for _, slot := range plan.Stack {
		mem, err := abs("argument", req.Args[slot.Arg].Addr)
		if err != nil {
			return nil, err
		}
		frag = append(frag, x86.PushMem(mem.WithDisp(int32(slot.Offset))))
	}
	for _, slot := range plan.Registers {
		mem, err := abs("argument", req.Args[slot.Arg].Addr)
		if err != nil {
			return nil, err
		}
		frag = append(frag, x86.MovFromMemory(x86.Reg32(slot.GPR), mem))
	}

	if _, err := abs("target", req.Target); err != nil {
		return nil, err
	}
	result, err := abs("result", req.Result)
	if err != nil {
		return nil, err
	}
	const noFloat asm.Label = "no_float_result"
	frag = append(frag,
		x86.MovImmediate(eax, int64(req.Target)),
		x86.CallReg(eax),
		x86.MovToMemory(result.WithDisp(ResultRawOffset), eax),
		x86.MovToMemory(result.WithDisp(ResultRawOffset+4), edx),
		// Without a signature there is no telling whether the target
		// returned on the FPU stack, so peek at ST(0) and store it only
		// when it holds something.
		x86.Fxam(),
		x86.FnstswAX(),
		x86.AndAH(fpuEmpty),
		x86.CmpAH(fpuEmpty),
		x86.JumpIfEqual(noFloat),
		x86.FstMem32(result.WithDisp(ResultFloat32Offset)),
		x86.FstpMem64(result.WithDisp(ResultFloat64Offset)),
		asm.MarkLabel(noFloat),
		x86.Leave(),
		x86.Ret(),
	)
	return frag, nil
}
