//go:build unix

package codebuf

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func osPageSize() int {
	return unix.Getpagesize()
}

func osAllocate(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return mem, nil
}

func osProtect(mem []byte, mode Mode) error {
	var prot int
	switch mode {
	case ModeInaccessible:
		prot = unix.PROT_NONE
	case ModeWritable:
		prot = unix.PROT_READ | unix.PROT_WRITE
	case ModeExecutable:
		prot = unix.PROT_READ | unix.PROT_EXEC
	default:
		return fmt.Errorf("unknown mode %s", mode)
	}
	if err := unix.Mprotect(mem, prot); err != nil {
		return fmt.Errorf("mprotect: %w", err)
	}
	return nil
}

func osRelease(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

// flushInstructionCache is a no-op: x86 keeps instruction fetch coherent
// with data writes.
func flushInstructionCache(mem []byte) {}
