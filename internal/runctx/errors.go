package runctx

import "errors"

// ErrSourceClosed is the cancel cause set by CancelOnDone.
var ErrSourceClosed = errors.New("source closed")
