package x86

import (
	"fmt"

	"github.com/tinyrange/ffcall/internal/asm"
)

// RegID is the hardware register number used in ModRM and opcode encodings.
type RegID uint8

const (
	RAX RegID = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// 32-bit names for the legacy registers.
const (
	EAX = RAX
	ECX = RCX
	EDX = RDX
	EBX = RBX
	ESP = RSP
	EBP = RBP
	ESI = RSI
	EDI = RDI
)

var regNames64 = [...]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}

var regNames32 = [...]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}

type operandSize uint8

const (
	size32 operandSize = 4
	size64 operandSize = 8
)

// Reg is a general-purpose register with an explicit operand size. A 64-bit
// register implies 64-bit code; a 32-bit one implies 32-bit protected mode.
type Reg struct {
	id   RegID
	size operandSize
}

// Reg64 constructs a 64-bit register operand.
func Reg64(id RegID) Reg { return Reg{id: id, size: size64} }

// Reg32 constructs a 32-bit register operand for 32-bit code.
func Reg32(id RegID) Reg { return Reg{id: id, size: size32} }

func (r Reg) ID() RegID { return r.id }

func (r Reg) String() string {
	if r.size == size32 && int(r.id) < len(regNames32) {
		return regNames32[r.id]
	}
	if int(r.id) < len(regNames64) {
		return regNames64[r.id]
	}
	return fmt.Sprintf("reg%d", r.id)
}

func (r Reg) code() byte { return byte(r.id) & 7 }
func (r Reg) high() bool { return r.id >= R8 }

func (r Reg) validate() error {
	switch r.size {
	case size64:
		if r.id > R15 {
			return fmt.Errorf("invalid register %d", r.id)
		}
	case size32:
		if r.id > EDI {
			return fmt.Errorf("register %s is not available in 32-bit code", regNames64[r.id&15])
		}
	default:
		return fmt.Errorf("unsupported register width %d", r.size)
	}
	return nil
}

// XMM is an SSE register.
type XMM uint8

const (
	XMM0 XMM = iota
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15
)

func (x XMM) String() string { return fmt.Sprintf("xmm%d", uint8(x)) }

func (x XMM) code() byte { return byte(x) & 7 }
func (x XMM) high() bool { return x >= XMM8 }

// Memory is an effective address: [base+disp], or an absolute 32-bit address
// that is only encodable in 32-bit code.
type Memory struct {
	base     Reg
	disp     int32
	abs      uint32
	absolute bool
}

// Mem constructs a memory operand referencing [base].
func Mem(base Reg) Memory {
	return Memory{base: base}
}

// Abs constructs a memory operand referencing an absolute 32-bit address.
func Abs(addr uint32) Memory {
	return Memory{abs: addr, absolute: true}
}

// WithDisp returns a copy of the memory operand with the supplied displacement.
func (m Memory) WithDisp(disp int32) Memory {
	if m.absolute {
		m.abs += uint32(disp)
		return m
	}
	m.disp = disp
	return m
}

// wide reports whether the operand is addressed with 64-bit registers.
func (m Memory) wide() bool {
	return !m.absolute && m.base.size == size64
}

func (m Memory) validate() error {
	if m.absolute {
		return nil
	}
	return m.base.validate()
}

type fragmentFunc func(*asm.Emitter) error

func (f fragmentFunc) Emit(e *asm.Emitter) error { return f(e) }

// encoded turns an encoder into a fragment.
func encoded(enc func() ([]byte, error)) asm.Fragment {
	return fragmentFunc(func(e *asm.Emitter) error {
		code, err := enc()
		if err != nil {
			return err
		}
		return e.EmitBytes(code...)
	})
}
