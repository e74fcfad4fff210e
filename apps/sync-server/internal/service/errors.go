package service

import "errors"

// Service errors
var (
	ErrInvalidClientID   = errors.New("invalid client id")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrClientAssignment  = errors.New("clients may not send role assignments")
	ErrNoRecipient       = errors.New("negotiation envelope without recipient")
	ErrUnknownRecipient  = errors.New("recipient is not connected")
)
