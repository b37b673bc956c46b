//go:build windows

package main

import (
	"fmt"

	"golang.org/x/sys/windows"
)

type loader struct {
	handles map[string]windows.Handle
}

func newLoader() resolver {
	return &loader{handles: make(map[string]windows.Handle)}
}

func (l *loader) Lookup(lib, sym string) (uintptr, error) {
	h, ok := l.handles[lib]
	if !ok {
		var err error
		h, err = windows.LoadLibrary(lib)
		if err != nil {
			return 0, fmt.Errorf("load %s: %w", lib, err)
		}
		l.handles[lib] = h
	}
	addr, err := windows.GetProcAddress(h, sym)
	if err != nil {
		return 0, fmt.Errorf("lookup %s in %s: %w", sym, lib, err)
	}
	return addr, nil
}

func (l *loader) Close() error {
	var first error
	for lib, h := range l.handles {
		if err := windows.FreeLibrary(h); err != nil && first == nil {
			first = fmt.Errorf("free %s: %w", lib, err)
		}
		delete(l.handles, lib)
	}
	return first
}
