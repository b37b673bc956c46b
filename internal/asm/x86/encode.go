package x86

import (
	"encoding/binary"
	"fmt"
)

type rexState struct {
	w bool
	r bool
	b bool
}

func (r rexState) prefix() byte {
	if !r.w && !r.r && !r.b {
		return 0
	}
	p := byte(0x40)
	if r.w {
		p |= 0x08
	}
	if r.r {
		p |= 0x04
	}
	if r.b {
		p |= 0x01
	}
	return p
}

// instruction collects the pieces of one encoding in emission order.
type instruction struct {
	prefix byte // mandatory prefix (0x66, 0xF2, 0xF3), zero when absent
	rex    rexState
	wide   bool // 64-bit code: REX is legal
	opcode []byte
	modrm  []byte // ModRM, SIB and displacement
	imm    []byte
}

func (in instruction) bytes() ([]byte, error) {
	rex := in.rex.prefix()
	if rex != 0 && !in.wide {
		return nil, fmt.Errorf("REX prefix 0x%02x required in 32-bit code", rex)
	}
	out := make([]byte, 0, 2+len(in.opcode)+len(in.modrm)+len(in.imm))
	if in.prefix != 0 {
		out = append(out, in.prefix)
	}
	if rex != 0 {
		out = append(out, rex)
	}
	out = append(out, in.opcode...)
	out = append(out, in.modrm...)
	out = append(out, in.imm...)
	return out, nil
}

// memoryModRM encodes mem with reg in the ModRM reg field.
func memoryModRM(reg byte, regHigh bool, mem Memory) (rexState, []byte, error) {
	if err := mem.validate(); err != nil {
		return rexState{}, nil, err
	}

	rex := rexState{r: regHigh}

	if mem.absolute {
		out := make([]byte, 5)
		out[0] = 0x05 | (reg&7)<<3
		binary.LittleEndian.PutUint32(out[1:], mem.abs)
		return rex, out, nil
	}

	base := mem.base
	rex.b = base.high()
	rm := base.code()

	var mod byte
	var disp []byte
	switch {
	case mem.disp == 0 && rm != 5:
		mod = 0x00
	case mem.disp >= -128 && mem.disp <= 127:
		mod = 0x40
		disp = []byte{byte(int8(mem.disp))}
	default:
		mod = 0x80
		disp = make([]byte, 4)
		binary.LittleEndian.PutUint32(disp, uint32(mem.disp))
	}

	out := []byte{mod | (reg&7)<<3 | rm}
	if rm == 4 {
		// [rsp] / [r12] need a SIB byte with no index.
		out = append(out, 0x24)
	}
	out = append(out, disp...)
	return rex, out, nil
}

func registerModRM(reg byte, rm byte) []byte {
	return []byte{0xC0 | (reg&7)<<3 | (rm & 7)}
}

func immediate8or32(imm int32) ([]byte, bool) {
	if imm >= -128 && imm <= 127 {
		return []byte{byte(int8(imm))}, true
	}
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(imm))
	return out, false
}

func checkSameMode(r Reg, mem Memory) error {
	if mem.absolute {
		if r.size == size64 {
			return fmt.Errorf("absolute addressing is only available in 32-bit code")
		}
		return nil
	}
	if r.size != mem.base.size {
		return fmt.Errorf("operand %s and base %s use different code widths", r, mem.base)
	}
	return nil
}

func encodeRegMem(opcode byte, r Reg, mem Memory) ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	if err := checkSameMode(r, mem); err != nil {
		return nil, err
	}
	rex, modrm, err := memoryModRM(r.code(), r.high(), mem)
	if err != nil {
		return nil, err
	}
	rex.w = r.size == size64
	return instruction{
		rex:    rex,
		wide:   r.size == size64,
		opcode: []byte{opcode},
		modrm:  modrm,
	}.bytes()
}

func encodeRegReg(opcode byte, dst, src Reg) ([]byte, error) {
	if err := dst.validate(); err != nil {
		return nil, err
	}
	if err := src.validate(); err != nil {
		return nil, err
	}
	if dst.size != src.size {
		return nil, fmt.Errorf("register width mismatch: %s vs %s", dst, src)
	}
	return instruction{
		rex:    rexState{w: dst.size == size64, r: src.high(), b: dst.high()},
		wide:   dst.size == size64,
		opcode: []byte{opcode},
		modrm:  registerModRM(src.code(), dst.code()),
	}.bytes()
}

// encodeGroup encodes "op r/m, imm" forms where ext selects the operation.
func encodeGroupImm(ext byte, dst Reg, imm int32) ([]byte, error) {
	if err := dst.validate(); err != nil {
		return nil, err
	}
	immBytes, short := immediate8or32(imm)
	opcode := byte(0x81)
	if short {
		opcode = 0x83
	}
	return instruction{
		rex:    rexState{w: dst.size == size64, b: dst.high()},
		wide:   dst.size == size64,
		opcode: []byte{opcode},
		modrm:  registerModRM(ext, dst.code()),
		imm:    immBytes,
	}.bytes()
}

func encodeMovRegImm(dst Reg, value int64) ([]byte, error) {
	if err := dst.validate(); err != nil {
		return nil, err
	}
	in := instruction{
		rex:    rexState{w: dst.size == size64, b: dst.high()},
		wide:   dst.size == size64,
		opcode: []byte{0xB8 + dst.code()},
	}
	if dst.size == size64 {
		in.imm = make([]byte, 8)
		binary.LittleEndian.PutUint64(in.imm, uint64(value))
	} else {
		in.imm = make([]byte, 4)
		binary.LittleEndian.PutUint32(in.imm, uint32(value))
	}
	return in.bytes()
}

// encodeMovImm32 loads a zero-extended 32-bit immediate (mov r32, imm32).
func encodeMovImm32(dst RegID, value uint32, wide bool) ([]byte, error) {
	if dst > R15 || (!wide && dst > EDI) {
		return nil, fmt.Errorf("invalid register %d", dst)
	}
	imm := make([]byte, 4)
	binary.LittleEndian.PutUint32(imm, value)
	return instruction{
		rex:    rexState{b: dst >= R8},
		wide:   wide,
		opcode: []byte{0xB8 + byte(dst)&7},
		imm:    imm,
	}.bytes()
}

func encodePushPop(base byte, r Reg) ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	return instruction{
		rex:    rexState{b: r.high()},
		wide:   r.size == size64,
		opcode: []byte{base + r.code()},
	}.bytes()
}

// encodeExtMem encodes opcode /ext with a memory operand and no register.
func encodeExtMem(opcode []byte, ext byte, mem Memory) ([]byte, error) {
	rex, modrm, err := memoryModRM(ext, false, mem)
	if err != nil {
		return nil, err
	}
	return instruction{
		rex:    rex,
		wide:   mem.wide(),
		opcode: opcode,
		modrm:  modrm,
	}.bytes()
}

// encodeSSEMem encodes prefix 0F op xmm, m.
func encodeSSEMem(prefix byte, op byte, x XMM, mem Memory) ([]byte, error) {
	if x > XMM15 {
		return nil, fmt.Errorf("invalid register %s", x)
	}
	rex, modrm, err := memoryModRM(x.code(), x.high(), mem)
	if err != nil {
		return nil, err
	}
	return instruction{
		prefix: prefix,
		rex:    rex,
		wide:   mem.wide(),
		opcode: []byte{0x0F, op},
		modrm:  modrm,
	}.bytes()
}

// encodeSSEReg encodes prefix 0F op dst, src for register operands.
func encodeSSEReg(prefix byte, op byte, dst, src XMM) ([]byte, error) {
	if dst > XMM15 || src > XMM15 {
		return nil, fmt.Errorf("invalid register %s, %s", dst, src)
	}
	return instruction{
		prefix: prefix,
		rex:    rexState{r: dst.high(), b: src.high()},
		wide:   dst.high() || src.high(),
		opcode: []byte{0x0F, op},
		modrm:  registerModRM(dst.code(), src.code()),
	}.bytes()
}
