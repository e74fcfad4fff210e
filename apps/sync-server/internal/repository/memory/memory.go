package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/repository"
)

// FeedbackRepository implements repository.FeedbackRepository with in-memory storage
type FeedbackRepository struct {
	messages map[string]*model.FeedbackMessage
	mu       sync.RWMutex
}

// NewFeedbackRepository creates a new memory-based feedback repository
func NewFeedbackRepository() *FeedbackRepository {
	return &FeedbackRepository{
		messages: make(map[string]*model.FeedbackMessage),
	}
}

// Create adds a new message to the repository
func (r *FeedbackRepository) Create(ctx context.Context, msg *model.FeedbackMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.messages[msg.ID]; exists {
		return repository.ErrAlreadyExists
	}
	r.messages[msg.ID] = msg.Clone()
	return nil
}

// GetByID retrieves a message by ID
func (r *FeedbackRepository) GetByID(ctx context.Context, id string) (*model.FeedbackMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, exists := r.messages[id]
	if !exists {
		return nil, repository.ErrNotFound
	}

	// Return a copy to prevent concurrent modification
	return msg.Clone(), nil
}

// List retrieves messages matching the filter
func (r *FeedbackRepository) List(ctx context.Context, filter model.FeedbackFilter) ([]*model.FeedbackMessage, error) {
	r.mu.RLock()
	var out []*model.FeedbackMessage
	for _, msg := range r.messages {
		if filter.Matches(msg) {
			out = append(out, msg.Clone())
		}
	}
	r.mu.RUnlock()

	model.SortFeedback(out)
	return repository.Limit(out, filter), nil
}

// UpdateStatus compares and sets the status of a message
func (r *FeedbackRepository) UpdateStatus(ctx context.Context, id string, from, to model.FeedbackStatus) (*model.FeedbackMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, exists := r.messages[id]
	if !exists {
		return nil, repository.ErrNotFound
	}
	if msg.Status != from {
		return nil, repository.ErrStatusConflict
	}
	msg.Status = to
	return msg.Clone(), nil
}

// Ping always succeeds
func (r *FeedbackRepository) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (r *FeedbackRepository) Close() error {
	return nil
}

// SessionRepository implements repository.SessionRepository in memory
type SessionRepository struct {
	sessions map[string]model.Session
	mu       sync.RWMutex
}

// NewSessionRepository creates a new memory-based session repository
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]model.Session),
	}
}

// SaveSession stores or replaces a session record
func (r *SessionRepository) SaveSession(ctx context.Context, s model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

// DeleteSession removes a session record
func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// ListSessions returns every session record ordered by id
func (r *SessionRepository) ListSessions(ctx context.Context) ([]model.Session, error) {
	r.mu.RLock()
	out := make([]model.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
