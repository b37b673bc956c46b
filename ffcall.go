// Package ffcall calls native functions whose signature is only known at run
// time. An Interface is configured with a function pointer, a calling
// convention and typed argument values; on first use it compiles a small x86
// or x86-64 stub that places the arguments, calls the function and captures
// the result, and it reuses that stub until the shape of the call changes.
//
//	iface, err := ffcall.New(fn)
//	if err != nil {
//		return err
//	}
//	defer iface.Close()
//	iface.AddArgument(int32(2))
//	iface.AddArgument(int32(3))
//	if err := iface.Invoke(); err != nil {
//		return err
//	}
//	sum := ffcall.ReturnValue[int32](iface)
package ffcall

import (
	"log/slog"

	"github.com/tinyrange/ffcall/internal/callconv"
	"github.com/tinyrange/ffcall/internal/ffi"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from internal/ffi and internal/callconv
// -----------------------------------------------------------------------------

// Interface is a reusable description of one foreign call.
type Interface = ffi.Interface

// Option configures an Interface.
type Option = ffi.Option

// Convention is a calling convention.
type Convention = callconv.Convention

// Shape is the declared type of an argument.
type Shape = callconv.Shape

// Kind is the trait part of a Shape.
type Kind = callconv.Kind

// Arch is the instruction set stubs are generated for.
type Arch = callconv.Arch

// Number is every type ReturnValue can produce.
type Number = ffi.Number

// Error types.
type (
	ConfigurationError   = ffi.ConfigurationError
	CompileOverflowError = ffi.CompileOverflowError
	OSResourceError      = ffi.OSResourceError
	InvocationError      = ffi.InvocationError
)

// Calling conventions. X64Native is the only convention on x86-64 and picks
// the Windows or System V register assignment from the host OS.
const (
	CDecl     = callconv.CDecl
	Pascal    = callconv.Pascal
	StdCall   = callconv.StdCall
	FastCall  = callconv.FastCall
	ThisCall  = callconv.ThisCall
	X64Native = callconv.X64Native
)

// Argument kinds.
const (
	KindUnsigned = callconv.KindUnsigned
	KindSigned   = callconv.KindSigned
	KindFloat    = callconv.KindFloat
	KindPointer  = callconv.KindPointer
)

// Sentinel errors, matched with errors.Is.
var (
	ErrConfiguration   = ffi.ErrConfiguration
	ErrCompileOverflow = ffi.ErrCompileOverflow
	ErrOSResource      = ffi.ErrOSResource
	ErrReleased        = ffi.ErrReleased
)

// -----------------------------------------------------------------------------
// Functions
// -----------------------------------------------------------------------------

// New allocates an Interface calling target. The code buffer is allocated
// immediately; Close releases it.
func New(target uintptr, opts ...Option) (*Interface, error) {
	return ffi.New(target, opts...)
}

// ReturnValue interprets the last result as T.
func ReturnValue[T Number](iface *Interface) T {
	return ffi.ReturnValue[T](iface)
}

// ReturnPointer interprets the last result as a pointer to E.
func ReturnPointer[E any](iface *Interface) *E {
	return ffi.ReturnPointer[E](iface)
}

// ParseConvention accepts the names printed by Convention.String.
func ParseConvention(s string) (Convention, error) {
	return callconv.ParseConvention(s)
}

// Conventions lists the calling conventions usable on this machine.
func Conventions() []Convention {
	arch, err := callconv.HostArch()
	if err != nil {
		return nil
	}
	return callconv.Conventions(arch)
}

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// WithCallingConvention selects the convention instead of the platform
// default.
func WithCallingConvention(conv Convention) Option {
	return &conventionOption{conv: conv}
}

type conventionOption struct{ conv Convention }

func (*conventionOption) IsOption()                       {}
func (o *conventionOption) CallingConvention() Convention { return o.conv }

// WithCapacity limits how many bytes of the code buffer a stub may use. It
// can only lower the capacity below one page.
func WithCapacity(bytes int) Option {
	return &capacityOption{bytes: bytes}
}

type capacityOption struct{ bytes int }

func (*capacityOption) IsOption()       {}
func (o *capacityOption) Capacity() int { return o.bytes }

// WithLogger sets the logger compile events are reported to at debug level.
// The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return &loggerOption{logger: logger}
}

type loggerOption struct{ logger *slog.Logger }

func (*loggerOption) IsOption()              {}
func (o *loggerOption) Logger() *slog.Logger { return o.logger }
