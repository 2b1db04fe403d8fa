package transport

import (
	"errors"
	"fmt"
)

// Error is returned when all attempts for a request have failed.
// Timeout distinguishes a per-attempt deadline from a connection failure.
type Error struct {
	Timeout  bool
	Attempts int
	URL      string
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	kind := "transport failure"
	if e.Timeout {
		kind = "transport timeout"
	}
	return fmt.Sprintf("%s: %s after %d attempts: %v", kind, e.URL, e.Attempts, e.Cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTimeout reports whether err is a transport error caused by the
// per-attempt timeout.
func IsTimeout(err error) bool {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Timeout
	}
	return false
}
