package testutil

import (
	"fmt"
	"strings"
	"testing"
)

// Expectation describes a single instruction that should appear in the
// disassembly output. Mnemonic is compared after stripping AT&T size
// suffixes objdump may or may not print (pushl/push, callq/call).
type Expectation struct {
	Name     string
	Mnemonic string
	Contains []string
}

func (e Expectation) match(line DisasmLine) error {
	if e.Mnemonic != "" && !sameMnemonic(line.Mnemonic, e.Mnemonic) {
		return fmt.Errorf("mnemonic=%s, want %s", line.Mnemonic, e.Mnemonic)
	}
	for _, needle := range e.Contains {
		if !line.Contains(needle) {
			return fmt.Errorf("missing %q in %q", needle, line.Normalized)
		}
	}
	return nil
}

func sameMnemonic(got, want string) bool {
	if got == want {
		return true
	}
	if strings.HasPrefix(got, want) && len(got) == len(want)+1 {
		switch got[len(got)-1] {
		case 'b', 'w', 'l', 'q':
			return true
		}
	}
	return false
}

// VerifyExpectations walks the objdump output and ensures each expectation is
// satisfied in order. Extra instructions after all expectations are ignored.
func VerifyExpectations(t *testing.T, lines []DisasmLine, expect []Expectation) {
	t.Helper()
	if len(lines) < len(expect) {
		t.Fatalf("objdump returned %d instructions, want at least %d\n%s", len(lines), len(expect), Listing(lines))
	}
	for idx, exp := range expect {
		line := lines[idx]
		if err := exp.match(line); err != nil {
			t.Fatalf("instruction %q mismatch at line %d: %v\n%s", exp.Name, idx, err, Listing(lines))
		}
	}
}

// Listing renders the disassembly one instruction per line.
func Listing(lines []DisasmLine) string {
	var sb strings.Builder
	for idx, line := range lines {
		fmt.Fprintf(&sb, "%3d  %s\n", idx, line.Normalized)
	}
	return sb.String()
}
