package session

import "errors"

// Registry errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyID         = errors.New("session id is required")
	ErrSuperseded      = errors.New("session was superseded by a newer connection")
)
