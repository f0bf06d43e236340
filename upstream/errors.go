package upstream

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// UnavailableError means the upstream proxy could not be reached at all
// (connection refused, DNS failure, timeout) after retries were exhausted.
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable: %v", e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

// HTTPError means the upstream proxy responded, but with a status code that
// was not retried (or retries were exhausted against a retryable status).
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// isConnError reports whether err indicates a transport-level failure (as
// opposed to an HTTP response with an error status).
func isConnError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return true
}
