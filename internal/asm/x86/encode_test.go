package x86

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/tinyrange/ffcall/internal/asm"
)

func assemble(t *testing.T, frag asm.Fragment) []byte {
	t.Helper()
	code, err := asm.Assemble(frag, 64, 0)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return code
}

func TestEncodings(t *testing.T) {
	for _, tc := range []struct {
		name string
		frag asm.Fragment
		want string
	}{
		{"push_rbp", Push(Reg64(RBP)), "55"},
		{"push_r12", Push(Reg64(R12)), "4154"},
		{"pop_ebp", Pop(Reg32(EBP)), "5d"},
		{"mov_rbp_rsp", MovReg(Reg64(RBP), Reg64(RSP)), "4889e5"},
		{"mov_ebp_esp", MovReg(Reg32(EBP), Reg32(ESP)), "89e5"},
		{"mov_eax_ecx", MovReg(Reg32(EAX), Reg32(ECX)), "89c8"},
		{"movabs_r11", MovImmediate(Reg64(R11), 0x1122334455667788), "49bb8877665544332211"},
		{"mov_r10_imm", MovImmediate(Reg64(R10), 0x1000), "49ba0010000000000000"},
		{"mov_eax_imm32", MovImmediate32(Reg64(RAX), 3), "b803000000"},
		{"mov_eax_imm", MovImmediate(Reg32(EAX), 0x12345678), "b878563412"},
		{"load_rdi_r10", MovFromMemory(Reg64(RDI), Mem(Reg64(R10))), "498b3a"},
		{"load_r9_r10", MovFromMemory(Reg64(R9), Mem(Reg64(R10))), "4d8b0a"},
		{"load_ecx_abs", MovFromMemory(Reg32(ECX), Abs(0x11223344)), "8b0d44332211"},
		{"load_edx_abs", MovFromMemory(Reg32(EDX), Abs(0x11223344)), "8b1544332211"},
		{"load_eax_esp4", MovFromMemory(Reg32(EAX), Mem(Reg32(ESP)).WithDisp(4)), "8b442404"},
		{"add_eax_esp8", AddFromMemory(Reg32(EAX), Mem(Reg32(ESP)).WithDisp(8)), "03442408"},
		{"add_rax_rsi", AddReg(Reg64(RAX), Reg64(RSI)), "4801f0"},
		{"store_r11_rax", MovToMemory(Mem(Reg64(R11)), Reg64(RAX)), "498903"},
		{"store_abs_eax", MovToMemory(Abs(0x1000), Reg32(EAX)), "890500100000"},
		{"store_abs4_edx", MovToMemory(Abs(0x1000).WithDisp(4), Reg32(EDX)), "891504100000"},
		{"push_mem_r10", PushMem(Mem(Reg64(R10))), "41ff32"},
		{"push_mem_abs", PushMem(Abs(0x2000)), "ff3500200000"},
		{"sub_rsp_8", SubRegImm(Reg64(RSP), 8), "4883ec08"},
		{"sub_rsp_32", SubRegImm(Reg64(RSP), 32), "4883ec20"},
		{"sub_esp_256", SubRegImm(Reg32(ESP), 0x100), "81ec00010000"},
		{"and_esp_16", AndRegImm(Reg32(ESP), -16), "83e4f0"},
		{"call_r11", CallReg(Reg64(R11)), "41ffd3"},
		{"call_eax", CallReg(Reg32(EAX)), "ffd0"},
		{"leave", Leave(), "c9"},
		{"ret", Ret(), "c3"},
		{"ret_8", RetN(8), "c20800"},
		{"movss_load", MovssLoad(XMM0, Mem(Reg64(R10))), "f3410f1002"},
		{"movsd_load_xmm7", MovsdLoad(XMM7, Mem(Reg64(R10))), "f2410f103a"},
		{"movss_store", MovssStore(Mem(Reg64(R11)).WithDisp(8), XMM0), "f3410f114308"},
		{"movsd_store", MovsdStore(Mem(Reg64(R11)).WithDisp(16), XMM0), "f2410f114310"},
		{"cvtsi2sd", Cvtsi2sd(XMM1, Reg64(RDI)), "f2480f2acf"},
		{"cvtss2sd", Cvtss2sd(XMM1, XMM1), "f30f5ac9"},
		{"mulsd", Mulsd(XMM0, XMM1), "f20f59c1"},
		{"addsd_xmm8", Addsd(XMM8, XMM0), "f2440f58c0"},
		{"fxam", Fxam(), "d9e5"},
		{"fnstsw", FnstswAX(), "dfe0"},
		{"and_ah", AndAH(0x41), "80e441"},
		{"cmp_ah", CmpAH(0x41), "80fc41"},
		{"fst_m32", FstMem32(Abs(0x1008)), "d91508100000"},
		{"fstp_m64", FstpMem64(Abs(0x1010)), "dd1d10100000"},
		{"fld_m64", FldMem64(Mem(Reg32(ESP)).WithDisp(4)), "dd442404"},
		{"fadd_m64", FaddMem64(Mem(Reg32(ESP)).WithDisp(12)), "dc44240c"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			want, err := hex.DecodeString(tc.want)
			if err != nil {
				t.Fatalf("invalid hex %q: %v", tc.want, err)
			}
			if got := assemble(t, tc.frag); !bytes.Equal(got, want) {
				t.Fatalf("encoding=%x, want %x", got, want)
			}
		})
	}
}

func TestEncodingErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		frag asm.Fragment
	}{
		{"abs_in_64bit", MovFromMemory(Reg64(RAX), Abs(0x1000))},
		{"r8_in_32bit", Push(Reg32(R8))},
		{"width_mismatch", MovReg(Reg64(RAX), Reg32(EAX))},
		{"mixed_base", MovFromMemory(Reg32(EAX), Mem(Reg64(R10)))},
		{"cvtsi2sd_32", Cvtsi2sd(XMM0, Reg32(EAX))},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := asm.Assemble(tc.frag, 64, 0); err == nil {
				t.Fatalf("Assemble succeeded, want error")
			}
		})
	}
}

func TestJumpIfEqualResolvesForward(t *testing.T) {
	code := assemble(t, asm.Group{
		JumpIfEqual("skip"),
		FstMem32(Abs(0x1008)),
		asm.MarkLabel("skip"),
		Ret(),
	})

	want := []byte{0x74, 0x06, 0xd9, 0x15, 0x08, 0x10, 0x00, 0x00, 0xc3}
	if !bytes.Equal(code, want) {
		t.Fatalf("code=%x, want %x", code, want)
	}
}
