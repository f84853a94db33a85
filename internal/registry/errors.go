package registry

import "errors"

// modelUnavailableError signals that required model artifacts could not be
// loaded. The daemon treats this as fatal at startup: no serving without a
// model.
type modelUnavailableError struct {
	dir string
	err error
}

func (e modelUnavailableError) Error() string {
	return "model artifacts unavailable in " + e.dir + ": " + e.err.Error()
}

func (e modelUnavailableError) Unwrap() error { return e.err }

// ErrModelUnavailable constructs a modelUnavailableError for dir.
func ErrModelUnavailable(dir string, err error) error {
	return modelUnavailableError{dir: dir, err: err}
}

// IsModelUnavailable reports whether err indicates a broken or missing
// artifact bundle.
func IsModelUnavailable(err error) bool {
	var mu modelUnavailableError
	return errors.As(err, &mu)
}
