package session

import (
	"errors"
	"fmt"
)

// CompileError reports that the engine rejected a model or its options.
type CompileError struct {
	Name string
	Err  error
}

func (e *CompileError) Error() string { return fmt.Sprintf("compile %s: %v", e.Name, e.Err) }

func (e *CompileError) Unwrap() error { return e.Err }

// IsCompileError reports whether err is or wraps a CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}

// CapabilityError reports a hardware feature required by the selected
// provider that the host lacks.
type CapabilityError struct {
	Provider string
	Feature  string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s provider requires %s, which this GPU or driver does not support", e.Provider, e.Feature)
}

// IsCapabilityError reports whether err is or wraps a CapabilityError.
func IsCapabilityError(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}
