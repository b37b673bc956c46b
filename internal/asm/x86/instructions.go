package x86

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/ffcall/internal/asm"
)

func Push(r Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodePushPop(0x50, r) })
}

func Pop(r Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodePushPop(0x58, r) })
}

// PushMem pushes one stack word read from memory.
func PushMem(mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeExtMem([]byte{0xFF}, 6, mem) })
}

func MovReg(dst, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeRegReg(0x89, dst, src) })
}

// MovImmediate loads value into dst. A 64-bit register takes the full
// 8-byte immediate (movabs).
func MovImmediate(dst Reg, value int64) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeMovRegImm(dst, value) })
}

// MovImmediate32 loads a 32-bit immediate, zero-extending in 64-bit code.
func MovImmediate32(dst Reg, value uint32) asm.Fragment {
	return encoded(func() ([]byte, error) {
		if err := dst.validate(); err != nil {
			return nil, err
		}
		return encodeMovImm32(dst.id, value, dst.size == size64)
	})
}

func MovFromMemory(dst Reg, mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeRegMem(0x8B, dst, mem) })
}

func MovToMemory(mem Memory, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeRegMem(0x89, src, mem) })
}

func AddReg(dst, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeRegReg(0x01, dst, src) })
}

func AddFromMemory(dst Reg, mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeRegMem(0x03, dst, mem) })
}

func AddRegImm(dst Reg, imm int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeGroupImm(0, dst, imm) })
}

func SubRegImm(dst Reg, imm int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeGroupImm(5, dst, imm) })
}

func AndRegImm(dst Reg, imm int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeGroupImm(4, dst, imm) })
}

func CallReg(target Reg) asm.Fragment {
	return encoded(func() ([]byte, error) {
		if err := target.validate(); err != nil {
			return nil, err
		}
		return instruction{
			rex:    rexState{b: target.high()},
			wide:   target.size == size64,
			opcode: []byte{0xFF},
			modrm:  registerModRM(2, target.code()),
		}.bytes()
	})
}

func Leave() asm.Fragment { return asm.Raw(0xC9) }

func Ret() asm.Fragment { return asm.Raw(0xC3) }

// RetN returns and pops n bytes of arguments (callee-clean conventions).
func RetN(n uint16) asm.Fragment {
	var imm [2]byte
	binary.LittleEndian.PutUint16(imm[:], n)
	return asm.Raw(0xC2, imm[0], imm[1])
}

func JumpIfEqual(label asm.Label) asm.Fragment {
	return fragmentFunc(func(e *asm.Emitter) error {
		if err := e.EmitBytes(0x74); err != nil {
			return err
		}
		return e.EmitRel8(label)
	})
}

func Jump(label asm.Label) asm.Fragment {
	return fragmentFunc(func(e *asm.Emitter) error {
		if err := e.EmitBytes(0xEB); err != nil {
			return err
		}
		return e.EmitRel8(label)
	})
}

// SSE scalar moves and arithmetic.

func MovssLoad(dst XMM, mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeSSEMem(0xF3, 0x10, dst, mem) })
}

func MovsdLoad(dst XMM, mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeSSEMem(0xF2, 0x10, dst, mem) })
}

func MovssStore(mem Memory, src XMM) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeSSEMem(0xF3, 0x11, src, mem) })
}

func MovsdStore(mem Memory, src XMM) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeSSEMem(0xF2, 0x11, src, mem) })
}

func Cvtss2sd(dst, src XMM) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeSSEReg(0xF3, 0x5A, dst, src) })
}

func Cvtsd2ss(dst, src XMM) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeSSEReg(0xF2, 0x5A, dst, src) })
}

func Addsd(dst, src XMM) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeSSEReg(0xF2, 0x58, dst, src) })
}

func Mulsd(dst, src XMM) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeSSEReg(0xF2, 0x59, dst, src) })
}

func Movapd(dst, src XMM) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeSSEReg(0x66, 0x28, dst, src) })
}

// Cvtsi2sd converts a signed 64-bit integer register to a double.
func Cvtsi2sd(dst XMM, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) {
		if src.size != size64 {
			return nil, fmt.Errorf("cvtsi2sd: expected 64-bit source, got %s", src)
		}
		if dst > XMM15 {
			return nil, fmt.Errorf("invalid register %s", dst)
		}
		return instruction{
			prefix: 0xF2,
			rex:    rexState{w: true, r: dst.high(), b: src.high()},
			wide:   true,
			opcode: []byte{0x0F, 0x2A},
			modrm:  registerModRM(dst.code(), src.code()),
		}.bytes()
	})
}

// x87 instructions used for 32-bit floating-point returns.

// Fxam classifies ST(0) into C3, C2 and C0.
func Fxam() asm.Fragment { return asm.Raw(0xD9, 0xE5) }

// FnstswAX stores the FPU status word in AX.
func FnstswAX() asm.Fragment { return asm.Raw(0xDF, 0xE0) }

func FldMem32(mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeExtMem([]byte{0xD9}, 0, mem) })
}

func FldMem64(mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeExtMem([]byte{0xDD}, 0, mem) })
}

// FaddMem64 adds a double from memory to ST(0).
func FaddMem64(mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeExtMem([]byte{0xDC}, 0, mem) })
}

// FstMem32 stores ST(0) as a float without popping.
func FstMem32(mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeExtMem([]byte{0xD9}, 2, mem) })
}

// FstpMem64 stores ST(0) as a double and pops it.
func FstpMem64(mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeExtMem([]byte{0xDD}, 3, mem) })
}

// AndAH and CmpAH operate on the high byte of AX, where FnstswAX leaves the
// condition codes (C0 is bit 0, C3 is bit 6).
func AndAH(imm uint8) asm.Fragment { return asm.Raw(0x80, 0xE4, imm) }

func CmpAH(imm uint8) asm.Fragment { return asm.Raw(0x80, 0xFC, imm) }
