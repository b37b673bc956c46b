// Package callconv turns a runtime description of a foreign call into an x86
// or x86-64 stub that loads the arguments the way a calling convention
// demands, calls the target and captures every form of its return value.
package callconv

import (
	"fmt"
	"runtime"
	"strings"
)

// Arch is the instruction set a stub is generated for.
type Arch int

const (
	ArchX86 Arch = iota
	ArchX64
)

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "x86"
	case ArchX64:
		return "x86_64"
	default:
		return fmt.Sprintf("Arch(%d)", int(a))
	}
}

// WordSize is the width of a stack slot and of a pointer.
func (a Arch) WordSize() int {
	if a == ArchX64 {
		return 8
	}
	return 4
}

func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "x86", "386", "i386":
		return ArchX86, nil
	case "x86_64", "x64", "amd64":
		return ArchX64, nil
	}
	return 0, &ConfigurationError{Op: "parse arch", Index: -1, Reason: fmt.Sprintf("unknown architecture %q", s)}
}

// HostArch reports the architecture of the running process.
func HostArch() (Arch, error) {
	switch runtime.GOARCH {
	case "386":
		return ArchX86, nil
	case "amd64":
		return ArchX64, nil
	}
	return 0, &ConfigurationError{Op: "host arch", Index: -1, Reason: fmt.Sprintf("unsupported architecture %s", runtime.GOARCH)}
}

// ABI selects between the two 64-bit register assignments. It is ignored for
// 32-bit conventions.
type ABI int

const (
	ABISysV ABI = iota
	ABIWindows
)

func (a ABI) String() string {
	switch a {
	case ABISysV:
		return "sysv"
	case ABIWindows:
		return "windows"
	default:
		return fmt.Sprintf("ABI(%d)", int(a))
	}
}

func ParseABI(s string) (ABI, error) {
	switch strings.ToLower(s) {
	case "sysv", "systemv", "linux", "darwin":
		return ABISysV, nil
	case "windows", "win64", "ms":
		return ABIWindows, nil
	}
	return 0, &ConfigurationError{Op: "parse abi", Index: -1, Reason: fmt.Sprintf("unknown ABI %q", s)}
}

func HostABI() ABI {
	if runtime.GOOS == "windows" {
		return ABIWindows
	}
	return ABISysV
}

type Convention int

const (
	CDecl Convention = iota
	Pascal
	StdCall
	FastCall
	ThisCall
	X64Native
)

var conventionNames = map[Convention]string{
	CDecl:     "cdecl",
	Pascal:    "pascal",
	StdCall:   "stdcall",
	FastCall:  "fastcall",
	ThisCall:  "thiscall",
	X64Native: "x64",
}

func (c Convention) String() string {
	if name, ok := conventionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Convention(%d)", int(c))
}

func ParseConvention(s string) (Convention, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "x64native", "native", "win64", "sysv":
		return X64Native, nil
	}
	for conv, n := range conventionNames {
		if n == name {
			return conv, nil
		}
	}
	return 0, &ConfigurationError{Op: "parse convention", Index: -1, Reason: fmt.Sprintf("unknown calling convention %q", s)}
}

// Conventions lists the conventions available on arch, default first.
func Conventions(arch Arch) []Convention {
	switch arch {
	case ArchX86:
		return []Convention{CDecl, Pascal, StdCall, FastCall, ThisCall}
	case ArchX64:
		return []Convention{X64Native}
	}
	return nil
}

func DefaultConvention(arch Arch) Convention {
	if arch == ArchX64 {
		return X64Native
	}
	return CDecl
}

func CheckConvention(arch Arch, conv Convention) error {
	for _, c := range Conventions(arch) {
		if c == conv {
			return nil
		}
	}
	return &ConfigurationError{
		Op:     "convention",
		Index:  -1,
		Reason: fmt.Sprintf("%s is not available on %s", conv, arch),
	}
}

// Kind is the trait of an argument that decides where it is placed.
type Kind uint8

const (
	KindUnsigned Kind = iota
	KindSigned
	KindFloat
	KindPointer
)

func (k Kind) String() string {
	switch k {
	case KindUnsigned:
		return "unsigned"
	case KindSigned:
		return "signed"
	case KindFloat:
		return "float"
	case KindPointer:
		return "pointer"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Shape is the declared type of an argument: its trait and byte width.
type Shape struct {
	Kind  Kind
	Width int
}

func Unsigned(width int) Shape { return Shape{Kind: KindUnsigned, Width: width} }
func Signed(width int) Shape   { return Shape{Kind: KindSigned, Width: width} }
func Float(width int) Shape    { return Shape{Kind: KindFloat, Width: width} }

// Pointer is a machine address on arch.
func Pointer(arch Arch) Shape { return Shape{Kind: KindPointer, Width: arch.WordSize()} }

func (s Shape) String() string {
	switch s.Kind {
	case KindUnsigned:
		return fmt.Sprintf("u%d", s.Width*8)
	case KindSigned:
		return fmt.Sprintf("i%d", s.Width*8)
	case KindFloat:
		return fmt.Sprintf("f%d", s.Width*8)
	case KindPointer:
		return "ptr"
	}
	return fmt.Sprintf("%s%d", s.Kind, s.Width)
}

var shapeNames = map[string]Shape{
	"u8": Unsigned(1), "u16": Unsigned(2), "u32": Unsigned(4), "u64": Unsigned(8),
	"i8": Signed(1), "i16": Signed(2), "i32": Signed(4), "i64": Signed(8),
	"f32": Float(4), "f64": Float(8),
}

// ParseShape parses the String form of a shape. "ptr" takes the word size of
// arch.
func ParseShape(s string, arch Arch) (Shape, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "ptr" || name == "pointer" {
		return Pointer(arch), nil
	}
	shape, ok := shapeNames[name]
	if !ok {
		return Shape{}, &ConfigurationError{Op: "parse shape", Index: -1, Reason: fmt.Sprintf("unknown shape %q", s)}
	}
	return shape, nil
}

func (s Shape) reason(arch Arch) string {
	switch s.Width {
	case 1, 2, 4, 8:
	default:
		return fmt.Sprintf("unsupported width %d", s.Width)
	}
	switch s.Kind {
	case KindUnsigned, KindSigned:
	case KindFloat:
		if s.Width != 4 && s.Width != 8 {
			return fmt.Sprintf("floating-point width %d (want 4 or 8)", s.Width)
		}
	case KindPointer:
		if s.Width != arch.WordSize() {
			return fmt.Sprintf("pointer width %d on %s (want %d)", s.Width, arch, arch.WordSize())
		}
	default:
		return fmt.Sprintf("unknown kind %s", s.Kind)
	}
	return ""
}

// Validate reports whether s can be passed on arch.
func (s Shape) Validate(arch Arch) error {
	if r := s.reason(arch); r != "" {
		return &ConfigurationError{Op: "shape", Index: -1, Reason: r}
	}
	return nil
}

// Words returns the number of stack words s occupies on arch.
func (s Shape) Words(arch Arch) int {
	ws := arch.WordSize()
	return (s.Width + ws - 1) / ws
}

// Arg is one argument of a call: its shape and the address of its storage.
// Storage is at least 8 bytes and holds the value extended to full width.
type Arg struct {
	Shape Shape
	Addr  uintptr
}

// Request is everything needed to compile a stub.
type Request struct {
	Arch       Arch
	ABI        ABI
	Convention Convention
	Target     uintptr
	Result     uintptr // address of a ResultSize byte return slot
	Args       []Arg
}

// Return slot layout written by every stub.
const (
	ResultRawOffset     = 0
	ResultFloat32Offset = 8
	ResultFloat64Offset = 16
	ResultSize          = 24
)
