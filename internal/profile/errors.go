package profile

import (
	"errors"
	"fmt"
)

// ConfigError kinds.
const (
	KindProfile    = "profile"
	KindPattern    = "pattern"
	KindList       = "list"
	KindSettings   = "settings"
	KindRecognizer = "recognizer"
)

// ErrProfileNotFound is wrapped by the ConfigError returned for an unknown
// profile name.
var ErrProfileNotFound = errors.New("profile not found")

// ConfigError is a fatal, load-time configuration failure. It is always
// surfaced before any text is analyzed.
type ConfigError struct {
	Kind    string // one of the Kind* constants
	Subject string // profile, pattern, file or recognizer name
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error (%s %q): %v", e.Kind, e.Subject, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
