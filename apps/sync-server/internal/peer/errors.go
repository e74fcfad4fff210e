package peer

import "errors"

// Negotiator errors
var (
	ErrProtocolViolation = errors.New("peer negotiation protocol violation")
	ErrNoControlChannel  = errors.New("no open control channel")
	ErrClosed            = errors.New("negotiator closed")
)
