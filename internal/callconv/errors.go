package callconv

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every ConfigurationError.
var ErrConfiguration = errors.New("invalid call configuration")

// ConfigurationError reports a call description that no stub can be
// generated for. Index is the offending argument, or -1.
type ConfigurationError struct {
	Op     string
	Index  int
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s: argument %d: %s", e.Op, e.Index, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
