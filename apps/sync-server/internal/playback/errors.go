package playback

import "errors"

// Synchronizer errors
var (
	ErrNotAuthoritative = errors.New("only the source may drive playback")
	ErrInvalidCommand   = errors.New("invalid playback command")
	ErrStale            = errors.New("view is stale until the next source snapshot")
	ErrNotDelivered     = errors.New("state applied locally but not delivered")
)
