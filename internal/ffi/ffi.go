// Package ffi calls native functions whose signature is only known at run
// time. An Interface collects a target, a calling convention and typed
// argument values, compiles a call stub for them on first use and recompiles
// only when the shape of the call changes.
package ffi

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/tinyrange/ffcall/internal/asm"
	"github.com/tinyrange/ffcall/internal/callconv"
	"github.com/tinyrange/ffcall/internal/codebuf"
	"github.com/tinyrange/ffcall/internal/debug"
	"github.com/tinyrange/ffcall/internal/timeslice"
)

var (
	tsCompile = timeslice.RegisterKind("ffi.compile", timeslice.SliceFlagCodegen)
	tsProtect = timeslice.RegisterKind("ffi.protect", timeslice.SliceFlagCodegen)
	tsInvoke  = timeslice.RegisterKind("ffi.invoke", timeslice.SliceFlagForeign)
)

const (
	traceCompile debug.Source = "ffi/compile"
	traceInvoke  debug.Source = "ffi/invoke"
)

// returnSlot is written by the stub: the raw integer register(s) at offset
// 0, the float form at 8 and the double form at 16.
type returnSlot struct {
	raw uint64
	f32 float32
	_   uint32
	f64 float64
}

// Interface is a reusable description of one foreign call. It is not safe
// for concurrent use.
type Interface struct {
	arch     callconv.Arch
	abi      callconv.ABI
	conv     callconv.Convention
	target   uintptr
	args     []*argument
	ret      *returnSlot
	buf      *codebuf.Buffer
	exec     *codebuf.Executable
	capacity int
	codeLen  int
	compiles int
	dirty    bool
	released bool
	log      *slog.Logger
}

// New allocates the code buffer for a call to target. target may be 0 and
// set later with SetFunctionPointer.
func New(target uintptr, opts ...Option) (*Interface, error) {
	arch, err := callconv.HostArch()
	if err != nil {
		return nil, err
	}
	cfg := parseOptions(opts)

	iface := &Interface{
		arch:   arch,
		abi:    callconv.HostABI(),
		conv:   callconv.DefaultConvention(arch),
		target: target,
		ret:    new(returnSlot),
		dirty:  true,
		log:    cfg.logger,
	}
	if cfg.hasConvention {
		if err := callconv.CheckConvention(arch, cfg.convention); err != nil {
			return nil, err
		}
		iface.conv = cfg.convention
	}

	buf, err := codebuf.New()
	if err != nil {
		return nil, &OSResourceError{Op: "allocate code buffer", Err: err}
	}
	iface.buf = buf
	iface.capacity = buf.Size()
	if cfg.capacity != 0 {
		if cfg.capacity < 0 || cfg.capacity > buf.Size() {
			_ = buf.Release()
			return nil, configError("capacity", -1, "%d bytes requested, buffer holds %d", cfg.capacity, buf.Size())
		}
		iface.capacity = cfg.capacity
	}
	return iface, nil
}

func (i *Interface) check() error {
	if i.released {
		return ErrReleased
	}
	return nil
}

func (i *Interface) markDirty() {
	i.dirty = true
}

func (i *Interface) SetFunctionPointer(target uintptr) error {
	if err := i.check(); err != nil {
		return err
	}
	i.target = target
	i.markDirty()
	return nil
}

func (i *Interface) FunctionPointer() uintptr { return i.target }

// SetCallingConvention selects conv if the host architecture offers it.
func (i *Interface) SetCallingConvention(conv callconv.Convention) error {
	if err := i.check(); err != nil {
		return err
	}
	if err := callconv.CheckConvention(i.arch, conv); err != nil {
		return err
	}
	if len(i.args) > 0 {
		if err := checkInstance(conv, i.args[0].shape); err != nil {
			return err
		}
	}
	i.conv = conv
	i.markDirty()
	return nil
}

func (i *Interface) CallingConvention() callconv.Convention { return i.conv }

func (i *Interface) Arch() callconv.Arch { return i.arch }

// SetArgument stores v at index. The first write to an index fixes its
// shape; later writes must have the same shape and only replace the value.
// index may equal NumArguments to append.
func (i *Interface) SetArgument(index int, v any) error {
	if err := i.check(); err != nil {
		return err
	}
	if index < 0 || index > len(i.args) {
		return configError("set argument", index, "index out of range with %d arguments", len(i.args))
	}
	val, ok := encodeValue(i.arch, v)
	if !ok {
		return configError("set argument", index, "unsupported type %T", v)
	}

	if index == 0 {
		if err := checkInstance(i.conv, val.shape); err != nil {
			return err
		}
	}

	if index == len(i.args) {
		arg := &argument{shape: val.shape}
		arg.store(val)
		i.args = append(i.args, arg)
		i.markDirty()
		return nil
	}

	arg := i.args[index]
	if arg.shape != val.shape {
		return configError("set argument", index, "declared as %s, cannot store %s", arg.shape, val.shape)
	}
	arg.store(val)
	return nil
}

// checkInstance rejects a first argument that cannot be a thiscall instance
// pointer. An empty argument list is only caught at compile time.
func checkInstance(conv callconv.Convention, first callconv.Shape) error {
	if conv != callconv.ThisCall || first.Kind == callconv.KindPointer {
		return nil
	}
	return configError("thiscall", 0, "instance argument is %s, want ptr", first)
}

func (i *Interface) AddArgument(v any) error {
	return i.SetArgument(len(i.args), v)
}

// ResetArguments drops every argument, shapes included.
func (i *Interface) ResetArguments() error {
	if err := i.check(); err != nil {
		return err
	}
	i.args = nil
	i.markDirty()
	return nil
}

func (i *Interface) NumArguments() int { return len(i.args) }

func (i *Interface) ArgumentShape(index int) (callconv.Shape, bool) {
	if index < 0 || index >= len(i.args) {
		return callconv.Shape{}, false
	}
	return i.args[index].shape, true
}

// Dirty reports whether the next Invoke will recompile.
func (i *Interface) Dirty() bool { return i.dirty }

// Compiles counts how many stubs this Interface has generated.
func (i *Interface) Compiles() int { return i.compiles }

// Capacity is the number of code bytes a stub may occupy.
func (i *Interface) Capacity() int { return i.capacity }

func (i *Interface) request() callconv.Request {
	req := callconv.Request{
		Arch:       i.arch,
		ABI:        i.abi,
		Convention: i.conv,
		Target:     i.target,
		Result:     uintptrOf(i.ret),
		Args:       make([]callconv.Arg, len(i.args)),
	}
	for n, arg := range i.args {
		req.Args[n] = callconv.Arg{Shape: arg.shape, Addr: arg.addr()}
	}
	return req
}

// Compile generates the stub now instead of on the next Invoke. It does
// nothing when the Interface is clean.
func (i *Interface) Compile() error {
	if err := i.compile(); err != nil {
		return &InvocationError{Op: "compile", Err: err}
	}
	return nil
}

func (i *Interface) compile() error {
	if err := i.check(); err != nil {
		return err
	}
	if !i.dirty {
		return nil
	}
	i.exec = nil

	rec := timeslice.NewRecorder()
	frag, err := callconv.Build(i.request())
	if err != nil {
		return err
	}

	w, err := i.buf.Writable()
	if err != nil {
		return &OSResourceError{Op: "make code buffer writable", Err: err}
	}
	mem, err := w.Bytes(i.capacity)
	if err != nil {
		return &OSResourceError{Op: "map code buffer", Err: err}
	}
	e := asm.NewEmitter(mem, w.Base())
	if err := asm.Emit(e, frag); err != nil {
		if abandonErr := w.Abandon(); abandonErr != nil {
			i.log.Warn("failed to revoke code buffer access", "error", abandonErr)
		}
		var capErr *asm.CapacityError
		if errors.As(err, &capErr) {
			return &CompileOverflowError{Capacity: capErr.Capacity, Need: capErr.Need, Err: err}
		}
		return fmt.Errorf("emit call stub: %w", err)
	}
	if debug.Enabled() {
		traceCompile.WriteCode(w.Base(), e.Bytes())
	}
	rec.Record(tsCompile)

	exec, err := w.Seal()
	if err != nil {
		return &OSResourceError{Op: "make code buffer executable", Err: err}
	}
	rec.Record(tsProtect)

	i.exec = exec
	i.codeLen = e.Len()
	i.compiles++
	i.dirty = false
	i.log.Debug("compiled call stub",
		"target", fmt.Sprintf("%#x", i.target),
		"convention", i.conv,
		"args", len(i.args),
		"bytes", i.codeLen,
	)
	return nil
}

// Invoke calls the target with the current argument values, recompiling
// first if the shape of the call changed.
func (i *Interface) Invoke() error {
	if err := i.compile(); err != nil {
		return &InvocationError{Op: "invoke", Err: err}
	}
	entry, err := i.exec.Entry()
	if err != nil {
		return &InvocationError{Op: "invoke", Err: err}
	}

	if debug.Enabled() {
		traceInvoke.Writef("call %#x via %#x with %d args", i.target, entry, len(i.args))
	}
	start := time.Now()
	err = enter(entry)
	timeslice.Record(tsInvoke, time.Since(start))

	runtime.KeepAlive(i.args)
	runtime.KeepAlive(i.ret)
	if err != nil {
		return &InvocationError{Op: "invoke", Err: err}
	}
	return nil
}

// Code returns a copy of the compiled stub, or nil while the Interface is
// dirty.
func (i *Interface) Code() []byte {
	if i.released || i.dirty || i.exec == nil {
		return nil
	}
	code, err := i.buf.Bytes(i.codeLen)
	if err != nil {
		return nil
	}
	return code
}

// Clone returns an independent Interface with the same target, convention
// and arguments. It owns a fresh code buffer and compiles on first use.
func (i *Interface) Clone() (*Interface, error) {
	if err := i.check(); err != nil {
		return nil, err
	}
	buf, err := codebuf.New()
	if err != nil {
		return nil, &OSResourceError{Op: "allocate code buffer", Err: err}
	}
	c := &Interface{
		arch:     i.arch,
		abi:      i.abi,
		conv:     i.conv,
		target:   i.target,
		args:     make([]*argument, len(i.args)),
		ret:      new(returnSlot),
		buf:      buf,
		capacity: min(i.capacity, buf.Size()),
		dirty:    true,
		log:      i.log,
	}
	for n, arg := range i.args {
		c.args[n] = arg.clone()
	}
	return c, nil
}

// Move transfers the code buffer, arguments and compiled state to a new
// Interface. The receiver is released afterwards.
func (i *Interface) Move() *Interface {
	moved := *i
	*i = Interface{released: true, log: i.log}
	return &moved
}

// Close releases the code buffer. Closing twice is a no-op.
func (i *Interface) Close() error {
	if i.released {
		return nil
	}
	i.released = true
	i.exec = nil
	i.args = nil
	buf := i.buf
	i.buf = nil
	if err := buf.Release(); err != nil {
		return &OSResourceError{Op: "release code buffer", Err: err}
	}
	return nil
}
