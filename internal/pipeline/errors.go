package pipeline

import (
	"errors"
	"time"
)

// invalidInputError marks upload problems the client can fix (bad extension,
// empty body, undecodable image) for 400 mapping.
type invalidInputError struct{ reason string }

func (e invalidInputError) Error() string { return "invalid input: " + e.reason }

// ErrInvalidInput constructs an invalidInputError.
func ErrInvalidInput(reason string) error { return invalidInputError{reason: reason} }

// IsInvalidInput reports whether err indicates a rejectable upload (return 400).
func IsInvalidInput(err error) bool {
	var ie invalidInputError
	return errors.As(err, &ie)
}

// tooBusyError signals admission timeout/overflow for 429 mapping.
type tooBusyError struct{ wait time.Duration }

func (e tooBusyError) Error() string {
	return "too busy: no prediction slot within " + e.wait.String()
}

// ErrTooBusy constructs a tooBusyError for the given wait budget.
func ErrTooBusy(wait time.Duration) error { return tooBusyError{wait: wait} }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var te tooBusyError
	return errors.As(err, &te)
}
