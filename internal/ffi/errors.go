package ffi

import (
	"errors"
	"fmt"

	"github.com/tinyrange/ffcall/internal/callconv"
)

var (
	// ErrReleased is returned by every operation on a closed or moved-from
	// Interface.
	ErrReleased = errors.New("ffi: interface released")

	ErrCompileOverflow = errors.New("ffi: call stub exceeds code buffer capacity")
	ErrOSResource      = errors.New("ffi: operating system refused a memory operation")

	// ErrConfiguration matches any ConfigurationError.
	ErrConfiguration = callconv.ErrConfiguration
)

type ConfigurationError = callconv.ConfigurationError

// CompileOverflowError reports a stub larger than the usable capacity of the
// code buffer.
type CompileOverflowError struct {
	Capacity int
	Need     int
	Err      error
}

func (e *CompileOverflowError) Error() string {
	return fmt.Sprintf("ffi: call stub needs %d bytes, code buffer holds %d", e.Need, e.Capacity)
}

func (e *CompileOverflowError) Is(target error) bool { return target == ErrCompileOverflow }

func (e *CompileOverflowError) Unwrap() error { return e.Err }

// OSResourceError reports a failed allocation or protection change. These
// are not retried.
type OSResourceError struct {
	Op  string
	Err error
}

func (e *OSResourceError) Error() string {
	return fmt.Sprintf("ffi: %s: %v", e.Op, e.Err)
}

func (e *OSResourceError) Is(target error) bool { return target == ErrOSResource }

func (e *OSResourceError) Unwrap() error { return e.Err }

// InvocationError wraps whatever stopped Compile or Invoke.
type InvocationError struct {
	Op  string
	Err error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("ffi: %s failed: %v", e.Op, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

func configError(op string, index int, format string, args ...any) error {
	return &ConfigurationError{Op: op, Index: index, Reason: fmt.Sprintf(format, args...)}
}
