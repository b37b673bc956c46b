package testutil

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
)

const (
	// MachineI386 is the ELF e_machine value for 32-bit x86.
	MachineI386 = 3
	// MachineX86_64 is the ELF e_machine value for AMD64.
	MachineX86_64 = 62
)

// DisasmLine represents a single instruction line emitted by objdump.
type DisasmLine struct {
	Text       string
	Normalized string
	Mnemonic   string
}

// Contains reports whether the normalized instruction text contains the provided substring.
func (l DisasmLine) Contains(substr string) bool {
	return strings.Contains(l.Normalized, substr)
}

// DisassembleWithObjdump wraps the provided code bytes into a minimal ELF for
// the supplied machine type and runs GNU objdump -d --no-show-raw-insn.
// The test is skipped when objdump is not installed.
func DisassembleWithObjdump(t *testing.T, code []byte, machine uint16, extraArgs ...string) []DisasmLine {
	t.Helper()

	toolPath, err := exec.LookPath("objdump")
	if err != nil {
		t.Skipf("objdump not found: %v", err)
	}

	tmp, err := os.CreateTemp("", "ffcall-objdump-*.elf")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(buildMinimalELF(code, machine)); err != nil {
		t.Fatalf("write temp ELF: %v", err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatalf("close temp ELF: %v", err)
	}

	args := []string{"-d", "--no-show-raw-insn"}
	args = append(args, extraArgs...)
	args = append(args, tmp.Name())
	output, err := exec.Command(toolPath, args...).CombinedOutput()
	if err != nil {
		// Builds of binutils without the target's BFD backend cannot read the file.
		if strings.Contains(string(output), "file format not recognized") {
			t.Skipf("objdump cannot disassemble machine %d: %s", machine, output)
		}
		t.Fatalf("objdump failed: %v\n\n%s", err, output)
	}

	lines, err := parseObjdumpOutput(string(output))
	if err != nil {
		t.Fatalf("parse objdump output: %v", err)
	}
	if len(lines) == 0 {
		t.Fatalf("objdump produced no instructions:\n%s", output)
	}
	return lines
}

var shstrtab = []byte("\x00.text\x00.shstrtab\x00")

const textAlign = 16

// buildMinimalELF produces a relocatable-free ELF with a single .text
// section. i386 gets an ELFCLASS32 image, everything else ELFCLASS64.
func buildMinimalELF(code []byte, machine uint16) []byte {
	if machine == MachineI386 {
		return buildELF32(code, machine)
	}
	return buildELF64(code, machine)
}

func buildELF64(code []byte, machine uint16) []byte {
	const (
		ehSize = 64
		shSize = 64
	)

	textOff := ehSize
	shstrOff := align(textOff+len(code), textAlign)
	shOff := align(shstrOff+len(shstrtab), 8)
	buf := make([]byte, shOff+3*shSize)
	copy(buf[textOff:], code)
	copy(buf[shstrOff:], shstrtab)

	writeIdent(buf, 2)
	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2) // ET_EXEC
	le.PutUint16(buf[18:], machine)
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[40:], uint64(shOff))
	le.PutUint16(buf[52:], ehSize)
	le.PutUint16(buf[58:], shSize)
	le.PutUint16(buf[60:], 3)
	le.PutUint16(buf[62:], 2)

	text := buf[shOff+shSize:]
	le.PutUint32(text[0:], 1) // ".text"
	le.PutUint32(text[4:], 1) // SHT_PROGBITS
	le.PutUint64(text[8:], 0x6)
	le.PutUint64(text[24:], uint64(textOff))
	le.PutUint64(text[32:], uint64(len(code)))
	le.PutUint64(text[48:], textAlign)

	strtab := buf[shOff+2*shSize:]
	le.PutUint32(strtab[0:], 7) // ".shstrtab"
	le.PutUint32(strtab[4:], 3) // SHT_STRTAB
	le.PutUint64(strtab[24:], uint64(shstrOff))
	le.PutUint64(strtab[32:], uint64(len(shstrtab)))
	le.PutUint64(strtab[48:], 1)

	return buf
}

func buildELF32(code []byte, machine uint16) []byte {
	const (
		ehSize = 52
		shSize = 40
	)

	textOff := align(ehSize, textAlign)
	shstrOff := align(textOff+len(code), textAlign)
	shOff := align(shstrOff+len(shstrtab), 4)
	buf := make([]byte, shOff+3*shSize)
	copy(buf[textOff:], code)
	copy(buf[shstrOff:], shstrtab)

	writeIdent(buf, 1)
	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2) // ET_EXEC
	le.PutUint16(buf[18:], machine)
	le.PutUint32(buf[20:], 1)
	le.PutUint32(buf[32:], uint32(shOff))
	le.PutUint16(buf[40:], ehSize)
	le.PutUint16(buf[46:], shSize)
	le.PutUint16(buf[48:], 3)
	le.PutUint16(buf[50:], 2)

	text := buf[shOff+shSize:]
	le.PutUint32(text[0:], 1)
	le.PutUint32(text[4:], 1)
	le.PutUint32(text[8:], 0x6)
	le.PutUint32(text[16:], uint32(textOff))
	le.PutUint32(text[20:], uint32(len(code)))
	le.PutUint32(text[32:], textAlign)

	strtab := buf[shOff+2*shSize:]
	le.PutUint32(strtab[0:], 7)
	le.PutUint32(strtab[4:], 3)
	le.PutUint32(strtab[16:], uint32(shstrOff))
	le.PutUint32(strtab[20:], uint32(len(shstrtab)))
	le.PutUint32(strtab[32:], 1)

	return buf
}

func writeIdent(buf []byte, class byte) {
	copy(buf, []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = class
	buf[5] = 1 // little endian
	buf[6] = 1 // current version
}

func parseObjdumpOutput(out string) ([]DisasmLine, error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	var lines []DisasmLine
	for scanner.Scan() {
		line := scanner.Text()
		colon := strings.IndexRune(line, ':')
		if colon == -1 {
			continue
		}
		text := strings.TrimSpace(line[colon+1:])
		if text == "" || strings.HasPrefix(text, "<") {
			continue
		}
		if strings.HasPrefix(text, ".") || strings.HasPrefix(text, "file format") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		lines = append(lines, DisasmLine{
			Text:       text,
			Normalized: strings.Join(fields, " "),
			Mnemonic:   strings.ToLower(fields[0]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return lines, nil
}

func align(value int, boundary int) int {
	if boundary <= 0 {
		return value
	}
	if rem := value % boundary; rem != 0 {
		return value + boundary - rem
	}
	return value
}
