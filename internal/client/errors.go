package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthRequired reports that the access token expired and no new one could
// be obtained; the user has to sign in again.
var ErrAuthRequired = errors.New("authentication required")

// ErrResponseTooLarge reports a success body over the 4 MiB read limit.
var ErrResponseTooLarge = errors.New("response body exceeds 4 MiB")

// HTTPStatusError is a non-2xx response. Request is the descriptor that was
// sent, so callers can branch on the status and inspect what failed.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Request    Request
	Body       []byte
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http request failed"
	}
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("http status %d", e.StatusCode)
	}
	if e.Request.Method == "" {
		return status
	}
	return fmt.Sprintf("%s %s: %s", e.Request.Method, e.Request.URL, status)
}

func StatusCode(err error) (int, bool) {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.StatusCode, true
}

// IsUnauthorized matches 401 only; 403 is a permission failure and passes
// through without a refresh.
func IsUnauthorized(err error) bool {
	code, ok := StatusCode(err)
	return ok && code == http.StatusUnauthorized
}
