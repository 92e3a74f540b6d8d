package bitonic

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrInvalidConfig is returned when a configuration or input violates a
	// structural requirement of the network. Check with errors.Is; the
	// concrete error is a *ConfigError.
	ErrInvalidConfig = errors.New("bitonic: invalid configuration")

	// ErrResourceUnavailable is returned when the device fails to allocate,
	// bind or dispatch. The invocation is abandoned; the sorter returns to
	// idle and the next invocation restarts from the first pass.
	ErrResourceUnavailable = errors.New("bitonic: resource unavailable")

	// ErrClosed is returned by operations on a closed Sorter.
	ErrClosed = errors.New("bitonic: sorter closed")
)

// ConfigError describes a rejected configuration value.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("bitonic: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Unwrap returns ErrInvalidConfig.
func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

func configError(field string, value any, format string, args ...any) error {
	return &ConfigError{Field: field, Value: value, Reason: fmt.Sprintf(format, args...)}
}
