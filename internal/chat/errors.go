package chat

import "errors"

var (
	ErrConnectionLost = errors.New("chat connection lost")
	ErrAuthRequired   = errors.New("chat requires sign-in")
)
