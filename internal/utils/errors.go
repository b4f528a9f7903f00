package utils

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// StatusCoder is implemented by errors that carry an upstream HTTP status
type StatusCoder interface {
	StatusCode() int
}

// IsRecoverableError reports whether retrying the operation may succeed:
// upstream 429 and 5xx responses and network timeouts are recoverable,
// cancellation and everything else is not.
func IsRecoverableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
