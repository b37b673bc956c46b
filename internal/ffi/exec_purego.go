//go:build amd64 && (linux || darwin || freebsd || windows)

package ffi

import "github.com/ebitengine/purego"

// enter runs the stub on the system stack. The stub takes no arguments and
// its return registers are ignored; results arrive through the return slot.
func enter(entry uintptr) error {
	purego.SyscallN(entry)
	return nil
}
