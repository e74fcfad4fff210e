package repository

import (
	"context"
	"errors"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

// Repository errors shared by every backend
var (
	ErrNotFound       = errors.New("record not found")
	ErrAlreadyExists  = errors.New("record already exists")
	ErrStatusConflict = errors.New("record status changed concurrently")
)

// FeedbackRepository defines the interface for feedback storage
type FeedbackRepository interface {
	// Create stores a new message; ErrAlreadyExists if the id is taken
	Create(ctx context.Context, msg *model.FeedbackMessage) error

	// GetByID retrieves a message by ID
	GetByID(ctx context.Context, id string) (*model.FeedbackMessage, error)

	// List retrieves messages matching filter, oldest first
	List(ctx context.Context, filter model.FeedbackFilter) ([]*model.FeedbackMessage, error)

	// UpdateStatus sets the status to `to` only if it is currently `from`,
	// returning ErrStatusConflict otherwise
	UpdateStatus(ctx context.Context, id string, from, to model.FeedbackStatus) (*model.FeedbackMessage, error)

	// Ping reports whether the backend is reachable
	Ping(ctx context.Context) error

	Close() error
}

// SessionRepository stores participant metadata for operators
type SessionRepository interface {
	SaveSession(ctx context.Context, s model.Session) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]model.Session, error)
}

// Limit truncates msgs to filter.Limit when set
func Limit(msgs []*model.FeedbackMessage, filter model.FeedbackFilter) []*model.FeedbackMessage {
	if filter.Limit > 0 && len(msgs) > filter.Limit {
		return msgs[:filter.Limit]
	}
	return msgs
}
