package anonymizer

import "errors"

// Per-unit errors. They never abort a batch: the unit passes through
// unchanged with no entities.
var (
	ErrEmptyText   = errors.New("empty text unit")
	ErrInvalidText = errors.New("text unit is not valid UTF-8")
)

// ErrInvalidEntities is returned by Rewrite for entities that are unsorted,
// overlapping or out of bounds.
var ErrInvalidEntities = errors.New("invalid confirmed entities")

// ErrUnknownRecognizer is wrapped by the configuration error for an
// identifier missing from the registry.
var ErrUnknownRecognizer = errors.New("unknown recognizer")

// IsUnitError reports whether err is a recoverable per-unit condition.
func IsUnitError(err error) bool {
	return errors.Is(err, ErrEmptyText) || errors.Is(err, ErrInvalidText)
}
