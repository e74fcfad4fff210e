package router

import "errors"

// Router errors
var (
	ErrUnknownType     = errors.New("unknown message type")
	ErrPolicyViolation = errors.New("sender role not authorized for message type")
	ErrNilEnvelope     = errors.New("nil envelope")
	ErrNilHandler      = errors.New("nil handler")
)
