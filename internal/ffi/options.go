package ffi

import (
	"log/slog"

	"github.com/tinyrange/ffcall/internal/callconv"
)

// Option configures an Interface. Concrete options are defined by the public
// package; they are recognised here by the accessor they implement.
type Option interface {
	IsOption()
}

type config struct {
	convention    callconv.Convention
	hasConvention bool
	capacity      int
	logger        *slog.Logger
}

func parseOptions(opts []Option) config {
	var cfg config
	for _, opt := range opts {
		switch o := opt.(type) {
		case interface{ CallingConvention() callconv.Convention }:
			cfg.convention = o.CallingConvention()
			cfg.hasConvention = true
		case interface{ Capacity() int }:
			cfg.capacity = o.Capacity()
		case interface{ Logger() *slog.Logger }:
			cfg.logger = o.Logger()
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg
}
