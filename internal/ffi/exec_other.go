//go:build !386 && !(amd64 && (linux || darwin || freebsd || windows))

package ffi

import (
	"fmt"
	"runtime"
)

func enter(entry uintptr) error {
	return fmt.Errorf("calling native code is not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
}
