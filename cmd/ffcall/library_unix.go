//go:build (darwin || freebsd || linux) && amd64

package main

import (
	"fmt"

	"github.com/ebitengine/purego"
)

type loader struct {
	handles map[string]uintptr
}

func newLoader() resolver {
	return &loader{handles: make(map[string]uintptr)}
}

func (l *loader) Lookup(lib, sym string) (uintptr, error) {
	h, ok := l.handles[lib]
	if !ok {
		var err error
		h, err = purego.Dlopen(lib, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			return 0, fmt.Errorf("open %s: %w", lib, err)
		}
		l.handles[lib] = h
	}
	addr, err := purego.Dlsym(h, sym)
	if err != nil {
		return 0, fmt.Errorf("lookup %s in %s: %w", sym, lib, err)
	}
	return addr, nil
}

func (l *loader) Close() error {
	var first error
	for lib, h := range l.handles {
		if err := purego.Dlclose(h); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", lib, err)
		}
		delete(l.handles, lib)
	}
	return first
}
