package ingest

import "errors"

// terminalError marks a failure that redelivery cannot fix: unsupported
// media types, corrupt content, malformed configuration. The worker fails
// the job immediately instead of consuming the retry budget.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string {
	return e.err.Error()
}

func (e *terminalError) Unwrap() error {
	return e.err
}

// Terminal wraps err as a terminal pipeline failure. Returns nil for nil.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err (or anything it wraps) is terminal.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}
