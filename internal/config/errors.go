package config

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid configuration: an unknown key, a value
// that does not parse, or a file that cannot be read. It is fatal at
// startup.
type ConfigError struct {
	Source string
	Key    string
	Err    error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Key != "" && e.Source != "":
		return fmt.Sprintf("config %s: %s: %v", e.Source, e.Key, e.Err)
	case e.Key != "":
		return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
	case e.Source != "":
		return fmt.Sprintf("config %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ErrUnknownKey is wrapped by ConfigError for option names that do not exist.
var ErrUnknownKey = errors.New("unknown option")

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
