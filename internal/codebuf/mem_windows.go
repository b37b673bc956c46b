//go:build windows

package codebuf

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

func osPageSize() int {
	return windows.Getpagesize()
}

func osAllocate(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return nil, fmt.Errorf("VirtualAlloc: %w", err)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func osProtect(mem []byte, mode Mode) error {
	var prot uint32
	switch mode {
	case ModeInaccessible:
		prot = windows.PAGE_NOACCESS
	case ModeWritable:
		prot = windows.PAGE_READWRITE
	case ModeExecutable:
		prot = windows.PAGE_EXECUTE_READ
	default:
		return fmt.Errorf("unknown mode %s", mode)
	}
	var old uint32
	if err := windows.VirtualProtect(uintptr(unsafe.Pointer(&mem[0])), uintptr(len(mem)), prot, &old); err != nil {
		return fmt.Errorf("VirtualProtect: %w", err)
	}
	return nil
}

func osRelease(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := windows.VirtualFree(uintptr(unsafe.Pointer(&mem[0])), 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("VirtualFree: %w", err)
	}
	return nil
}

func flushInstructionCache(mem []byte) {
	if procFlushInstructionCache.Find() != nil {
		return
	}
	_, _, _ = procFlushInstructionCache.Call(
		uintptr(windows.CurrentProcess()),
		uintptr(unsafe.Pointer(&mem[0])),
		uintptr(len(mem)),
	)
}
