//go:build !windows && !((darwin || freebsd || linux) && amd64)

package main

import (
	"fmt"
	"runtime"
)

type loader struct{}

func newLoader() resolver { return loader{} }

func (loader) Lookup(lib, sym string) (uintptr, error) {
	return 0, fmt.Errorf("loading %s from %s is not supported on %s/%s", sym, lib, runtime.GOOS, runtime.GOARCH)
}

func (loader) Close() error { return nil }
