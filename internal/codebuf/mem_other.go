//go:build !unix && !windows

package codebuf

import (
	"fmt"
	"runtime"
)

var errUnsupported = fmt.Errorf("executable memory is not supported on %s", runtime.GOOS)

func osPageSize() int { return 4096 }

func osAllocate(size int) ([]byte, error) { return nil, errUnsupported }

func osProtect(mem []byte, mode Mode) error { return errUnsupported }

func osRelease(mem []byte) error { return nil }

func flushInstructionCache(mem []byte) {}
