package realtime

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected  = errors.New("realtime connection is not open")
	ErrClosed        = errors.New("realtime client is closed")
	ErrRateLimited   = errors.New("realtime send rate exceeded")
	ErrSendQueueFull = errors.New("realtime send queue is full")
)

// HandshakeError is a websocket upgrade rejected with an HTTP status.
type HandshakeError struct {
	StatusCode int
	Status     string
}

func (e *HandshakeError) Error() string {
	if e == nil {
		return "websocket handshake failed"
	}
	if e.Status != "" {
		return "websocket handshake failed: " + e.Status
	}
	return fmt.Sprintf("websocket handshake failed: http status %d", e.StatusCode)
}

// IsUnauthorized reports whether the upgrade was refused for credentials.
func IsUnauthorized(err error) bool {
	var handshakeErr *HandshakeError
	if !errors.As(err, &handshakeErr) {
		return false
	}
	return handshakeErr.StatusCode == 401 || handshakeErr.StatusCode == 403
}
