package coordinator

import "errors"

// Coordinator errors
var (
	ErrNotOpen           = errors.New("transport is not open")
	ErrAlreadyConnected  = errors.New("coordinator already connected")
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")
	ErrHandshakeTimeout  = errors.New("timed out waiting for role assignment")
	ErrClosed            = errors.New("coordinator closed")
)
