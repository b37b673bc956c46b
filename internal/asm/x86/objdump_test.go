package x86

import (
	"testing"

	"github.com/tinyrange/ffcall/internal/asm"
	"github.com/tinyrange/ffcall/internal/asm/testutil"
)

type sinkBuilder struct {
	fragments    []asm.Fragment
	expectations []testutil.Expectation
}

func (b *sinkBuilder) add(name, mnemonic string, frag asm.Fragment, contains ...string) {
	b.fragments = append(b.fragments, frag)
	b.expectations = append(b.expectations, testutil.Expectation{
		Name:     name,
		Mnemonic: mnemonic,
		Contains: contains,
	})
}

func (b *sinkBuilder) verify(t *testing.T, machine uint16) {
	t.Helper()
	code, err := asm.Assemble(asm.Group(b.fragments), 512, 0)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	lines := testutil.DisassembleWithObjdump(t, code, machine)
	testutil.VerifyExpectations(t, lines, b.expectations)
}

func TestKitchenSinkDisassembly64(t *testing.T) {
	var b sinkBuilder
	b.add("push", "push", Push(Reg64(RBP)), "%rbp")
	b.add("mov_reg", "mov", MovReg(Reg64(RBP), Reg64(RSP)), "%rsp,%rbp")
	b.add("sub_imm", "sub", SubRegImm(Reg64(RSP), 8), "$0x8,%rsp")
	b.add("movabs", "movabs", MovImmediate(Reg64(R10), 0x1122334455667788), "$0x1122334455667788,%r10")
	b.add("push_mem", "push", PushMem(Mem(Reg64(R10))), "(%r10)")
	b.add("load", "mov", MovFromMemory(Reg64(RDI), Mem(Reg64(R10))), "(%r10),%rdi")
	b.add("movss", "movss", MovssLoad(XMM0, Mem(Reg64(R10))), "(%r10),%xmm0")
	b.add("movsd", "movsd", MovsdLoad(XMM7, Mem(Reg64(R10))), "(%r10),%xmm7")
	b.add("mov_imm32", "mov", MovImmediate32(Reg64(RAX), 2), "$0x2,%eax")
	b.add("call", "call", CallReg(Reg64(R11)), "*%r11")
	b.add("store", "mov", MovToMemory(Mem(Reg64(R11)), Reg64(RAX)), "%rax,(%r11)")
	b.add("movss_store", "movss", MovssStore(Mem(Reg64(R11)).WithDisp(8), XMM0), "%xmm0,0x8(%r11)")
	b.add("movsd_store", "movsd", MovsdStore(Mem(Reg64(R11)).WithDisp(16), XMM0), "%xmm0,0x10(%r11)")
	b.add("cvtsi2sd", "", Cvtsi2sd(XMM1, Reg64(RDI)), "cvtsi2sd", "%rdi,%xmm1")
	b.add("addsd", "addsd", Addsd(XMM8, XMM0), "%xmm0,%xmm8")
	b.add("leave", "leave", Leave())
	b.add("ret", "ret", Ret())
	b.verify(t, testutil.MachineX86_64)
}

func TestKitchenSinkDisassembly32(t *testing.T) {
	var b sinkBuilder
	b.add("push", "push", Push(Reg32(EBP)), "%ebp")
	b.add("mov_reg", "mov", MovReg(Reg32(EBP), Reg32(ESP)), "%esp,%ebp")
	b.add("and_imm", "and", AndRegImm(Reg32(ESP), -16), "$0xfffffff0,%esp")
	b.add("push_abs", "push", PushMem(Abs(0x1000)), "0x1000")
	b.add("load_abs", "mov", MovFromMemory(Reg32(ECX), Abs(0x2000)), "0x2000,%ecx")
	b.add("mov_imm", "mov", MovImmediate(Reg32(EAX), 0x3000), "$0x3000,%eax")
	b.add("call", "call", CallReg(Reg32(EAX)), "*%eax")
	b.add("store_abs", "mov", MovToMemory(Abs(0x4000), Reg32(EAX)), "%eax,0x4000")
	b.add("fxam", "fxam", Fxam())
	b.add("fnstsw", "fnstsw", FnstswAX(), "%ax")
	b.add("and_ah", "and", AndAH(0x41), "$0x41,%ah")
	b.add("cmp_ah", "cmp", CmpAH(0x41), "$0x41,%ah")
	b.add("fst", "", FstMem32(Abs(0x4008)), "fst", "0x4008")
	b.add("fstp", "", FstpMem64(Abs(0x4010)), "fstp", "0x4010")
	b.add("leave", "leave", Leave())
	b.add("ret", "ret", Ret())
	b.verify(t, testutil.MachineI386)
}
