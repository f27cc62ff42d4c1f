package resilience

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// UnavailableError marks an oracle failure caused by the oracle being unreachable
// or failing server-side, as opposed to a bad request or a bad response.
type UnavailableError struct {
	Err        error
	StatusCode int
}

func (e *UnavailableError) Error() string {
	return e.Err.Error()
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err with an optional HTTP status code.
func Unavailable(err error, statusCode int) *UnavailableError {
	return &UnavailableError{Err: err, StatusCode: statusCode}
}

// IsUnavailable reports whether err counts against a Breaker.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}

	var ue *UnavailableError
	if errors.As(err, &ue) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED)
}
