package feedback

import "errors"

// Feedback errors
var (
	ErrInvalidRequest    = errors.New("invalid feedback request")
	ErrNotModerator      = errors.New("role may not author feedback")
	ErrNotFound          = errors.New("feedback not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStoreUnavailable  = errors.New("feedback store unavailable")
)
