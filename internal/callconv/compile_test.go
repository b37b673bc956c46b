package callconv

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/tinyrange/ffcall/internal/asm"
	"github.com/tinyrange/ffcall/internal/asm/testutil"
)

func compile(t *testing.T, req Request, capacity int) []byte {
	t.Helper()
	frag, err := Build(req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	code, err := asm.Assemble(frag, capacity, 0)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return code
}

func hexBytes(t *testing.T, parts ...string) []byte {
	t.Helper()
	out, err := hex.DecodeString(strings.ReplaceAll(strings.Join(parts, ""), " ", ""))
	if err != nil {
		t.Fatalf("bad hex: %v", err)
	}
	return out
}

func TestCompileSysVExactBytes(t *testing.T) {
	code := compile(t, request(ArchX64, ABISysV, X64Native, Signed(4), Float(8)), 256)

	want := hexBytes(t,
		"55",                            // push rbp
		"48 89 e5",                      // mov rbp, rsp
		"49 ba 0010000000000000",        // mov r10, arg0
		"49 8b 3a",                      // mov rdi, [r10]
		"49 ba 1010000000000000",        // mov r10, arg1
		"f2 41 0f 10 02",                // movsd xmm0, [r10]
		"b8 01000000",                   // mov eax, 1
		"49 bb 0020000000000000",        // mov r11, target
		"41 ff d3",                      // call r11
		"49 bb 0030000000000000",        // mov r11, result
		"49 89 03",                      // mov [r11], rax
		"f3 41 0f 11 43 08",             // movss [r11+8], xmm0
		"f2 41 0f 11 43 10",             // movsd [r11+16], xmm0
		"c9 c3",                         // leave; ret
	)
	if !bytes.Equal(code, want) {
		t.Fatalf("stub=%x\nwant %x", code, want)
	}
}

func TestCompileWindowsStackArgument(t *testing.T) {
	code := compile(t, request(ArchX64, ABIWindows, X64Native, Signed(8), Signed(8), Signed(8), Signed(8), Float(4)), 256)

	want := hexBytes(t,
		"55 48 89 e5",
		"48 83 ec 08",                   // sub rsp, 8
		"49 ba 4010000000000000 41 ff 32", // push [arg4]
		"48 83 ec 20",                   // sub rsp, 32
		"49 ba 0010000000000000 49 8b 0a", // mov rcx, [arg0]
		"49 ba 1010000000000000 49 8b 12", // mov rdx, [arg1]
		"49 ba 2010000000000000 4d 8b 02", // mov r8, [arg2]
		"49 ba 3010000000000000 4d 8b 0a", // mov r9, [arg3]
		"49 bb 0020000000000000 41 ff d3",
		"49 bb 0030000000000000 49 89 03",
		"f3 41 0f 11 43 08 f2 41 0f 11 43 10",
		"c9 c3",
	)
	if !bytes.Equal(code, want) {
		t.Fatalf("stub=%x\nwant %x", code, want)
	}
}

func TestCompileCDeclExactBytes(t *testing.T) {
	code := compile(t, request(ArchX86, ABISysV, CDecl, Signed(4), Signed(8)), 256)

	want := hexBytes(t,
		"55 89 e5",          // push ebp; mov ebp, esp
		"83 e4 f0",          // and esp, -16
		"83 ec 04",          // sub esp, 4
		"ff 35 14100000",    // push [arg1+4]
		"ff 35 10100000",    // push [arg1]
		"ff 35 00100000",    // push [arg0]
		"b8 00200000 ff d0", // mov eax, target; call eax
		"89 05 00300000",    // mov [result], eax
		"89 15 04300000",    // mov [result+4], edx
		"d9 e5 df e0",       // fxam; fnstsw ax
		"80 e4 41 80 fc 41", // and ah, 0x41; cmp ah, 0x41
		"74 0c",             // je done
		"d9 15 08300000",    // fst dword [result+8]
		"dd 1d 10300000",    // fstp qword [result+16]
		"c9 c3",
	)
	if !bytes.Equal(code, want) {
		t.Fatalf("stub=%x\nwant %x", code, want)
	}
}

func TestCompileFastCallLoadsRegisters(t *testing.T) {
	code := compile(t, request(ArchX86, ABISysV, FastCall, Signed(4), Signed(4)), 256)

	want := hexBytes(t,
		"55 89 e5 83 e4 f0",
		"8b 0d 00100000", // mov ecx, [arg0]
		"8b 15 10100000", // mov edx, [arg1]
		"b8 00200000 ff d0",
	)
	if !bytes.HasPrefix(code, want) {
		t.Fatalf("stub=%x\nwant prefix %x", code, want)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	req := request(ArchX64, ABISysV, X64Native, Signed(4), Float(4), Pointer(ArchX64))
	first := compile(t, req, 256)
	second := compile(t, req, 256)
	if !bytes.Equal(first, second) {
		t.Fatalf("stubs differ:\n%x\n%x", first, second)
	}
}

func TestCompileOverflow(t *testing.T) {
	req := request(ArchX64, ABISysV, X64Native, Signed(4), Signed(4))
	need := len(compile(t, req, 256))

	e := asm.NewEmitter(make([]byte, need-1), 0)
	err := Compile(e, req)
	if !errors.Is(err, asm.ErrCapacity) {
		t.Fatalf("err=%v, want ErrCapacity", err)
	}

	e = asm.NewEmitter(make([]byte, need), 0)
	if err := Compile(e, req); err != nil {
		t.Fatalf("Compile with exact capacity: %v", err)
	}
	if e.Len() != need {
		t.Fatalf("emitted %d bytes, want %d", e.Len(), need)
	}
}

func TestCompile32RejectsHighAddresses(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("addresses above 4GiB do not exist on this host")
	}
	high := uint64(1) << 40
	req := request(ArchX86, ABISysV, CDecl, Signed(4))
	req.Args[0].Addr = uintptr(high)
	if _, err := Build(req); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err=%v, want ErrConfiguration", err)
	}
}

func TestStubDisassemblySysV(t *testing.T) {
	code := compile(t, request(ArchX64, ABISysV, X64Native,
		Signed(4), Signed(4), Signed(4), Signed(4), Signed(4), Signed(4), Signed(4), Float(4)), 512)

	lines := testutil.DisassembleWithObjdump(t, code, testutil.MachineX86_64)
	testutil.VerifyExpectations(t, lines, []testutil.Expectation{
		{Name: "frame", Mnemonic: "push", Contains: []string{"%rbp"}},
		{Name: "frame_mov", Mnemonic: "mov", Contains: []string{"%rsp,%rbp"}},
		{Name: "pad", Mnemonic: "sub", Contains: []string{"$0x8,%rsp"}},
		{Name: "arg6_addr", Mnemonic: "movabs", Contains: []string{"$0x1060,%r10"}},
		{Name: "arg6_push", Mnemonic: "push", Contains: []string{"(%r10)"}},
		{Name: "arg0_addr", Mnemonic: "movabs", Contains: []string{"$0x1000,%r10"}},
		{Name: "arg0_load", Mnemonic: "mov", Contains: []string{"(%r10),%rdi"}},
		{Name: "arg1_addr", Mnemonic: "movabs"},
		{Name: "arg1_load", Mnemonic: "mov", Contains: []string{"(%r10),%rsi"}},
		{Name: "arg2_addr", Mnemonic: "movabs"},
		{Name: "arg2_load", Mnemonic: "mov", Contains: []string{"(%r10),%rdx"}},
		{Name: "arg3_addr", Mnemonic: "movabs"},
		{Name: "arg3_load", Mnemonic: "mov", Contains: []string{"(%r10),%rcx"}},
		{Name: "arg4_addr", Mnemonic: "movabs"},
		{Name: "arg4_load", Mnemonic: "mov", Contains: []string{"(%r10),%r8"}},
		{Name: "arg5_addr", Mnemonic: "movabs"},
		{Name: "arg5_load", Mnemonic: "mov", Contains: []string{"(%r10),%r9"}},
		{Name: "arg7_addr", Mnemonic: "movabs", Contains: []string{"$0x1070,%r10"}},
		{Name: "arg7_load", Mnemonic: "movss", Contains: []string{"(%r10),%xmm0"}},
		{Name: "al", Mnemonic: "mov", Contains: []string{"$0x1,%eax"}},
		{Name: "target", Mnemonic: "movabs", Contains: []string{"$0x2000,%r11"}},
		{Name: "call", Mnemonic: "call", Contains: []string{"*%r11"}},
		{Name: "result", Mnemonic: "movabs", Contains: []string{"$0x3000,%r11"}},
		{Name: "store_raw", Mnemonic: "mov", Contains: []string{"%rax,(%r11)"}},
		{Name: "store_f32", Mnemonic: "movss", Contains: []string{"%xmm0,0x8(%r11)"}},
		{Name: "store_f64", Mnemonic: "movsd", Contains: []string{"%xmm0,0x10(%r11)"}},
		{Name: "leave", Mnemonic: "leave"},
		{Name: "ret", Mnemonic: "ret"},
	})
}

func TestStubDisassemblyThisCall(t *testing.T) {
	code := compile(t, request(ArchX86, ABISysV, ThisCall, Pointer(ArchX86), Float(8)), 512)

	lines := testutil.DisassembleWithObjdump(t, code, testutil.MachineI386)
	testutil.VerifyExpectations(t, lines, []testutil.Expectation{
		{Name: "frame", Mnemonic: "push", Contains: []string{"%ebp"}},
		{Name: "frame_mov", Mnemonic: "mov", Contains: []string{"%esp,%ebp"}},
		{Name: "align", Mnemonic: "and", Contains: []string{"$0xfffffff0,%esp"}},
		{Name: "pad", Mnemonic: "sub", Contains: []string{"$0x8,%esp"}},
		{Name: "arg1_high", Mnemonic: "push", Contains: []string{"0x1014"}},
		{Name: "arg1_low", Mnemonic: "push", Contains: []string{"0x1010"}},
		{Name: "this", Mnemonic: "mov", Contains: []string{"0x1000,%ecx"}},
		{Name: "target", Mnemonic: "mov", Contains: []string{"$0x2000,%eax"}},
		{Name: "call", Mnemonic: "call", Contains: []string{"*%eax"}},
		{Name: "store_eax", Mnemonic: "mov", Contains: []string{"%eax,0x3000"}},
		{Name: "store_edx", Mnemonic: "mov", Contains: []string{"%edx,0x3004"}},
		{Name: "fxam", Mnemonic: "fxam"},
		{Name: "fnstsw", Mnemonic: "fnstsw", Contains: []string{"%ax"}},
		{Name: "mask", Mnemonic: "and", Contains: []string{"$0x41,%ah"}},
		{Name: "cmp", Mnemonic: "cmp", Contains: []string{"$0x41,%ah"}},
		{Name: "skip", Mnemonic: "je"},
		{Name: "fst", Contains: []string{"fst", "0x3008"}},
		{Name: "fstp", Contains: []string{"fstp", "0x3010"}},
		{Name: "leave", Mnemonic: "leave"},
		{Name: "ret", Mnemonic: "ret"},
	})
}
