package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/repository"
)

const feedbackPrefix = "feedback:"

// FeedbackRepository stores feedback messages in an embedded pebble database
type FeedbackRepository struct {
	db *pebble.DB

	// serializes read-modify-write so UpdateStatus is a compare-and-set
	mu sync.Mutex
}

// Open opens (or creates) the database at path
func Open(path string) (*FeedbackRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create feedback dir: %w", err)
	}
	return open(path, &pebble.Options{})
}

// OpenInMemory opens a database backed by an in-memory filesystem
func OpenInMemory() (*FeedbackRepository, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(path string, opts *pebble.Options) (*FeedbackRepository, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble: %w", err)
	}
	return &FeedbackRepository{db: db}, nil
}

func feedbackKey(id string) []byte {
	return []byte(feedbackPrefix + id)
}

// Create stores a new message
func (r *FeedbackRepository) Create(ctx context.Context, msg *model.FeedbackMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode feedback: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.get(msg.ID); err == nil {
		return repository.ErrAlreadyExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	if err := r.db.Set(feedbackKey(msg.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write feedback: %w", err)
	}
	return nil
}

// GetByID retrieves a message by ID
func (r *FeedbackRepository) GetByID(ctx context.Context, id string) (*model.FeedbackMessage, error) {
	return r.get(id)
}

func (r *FeedbackRepository) get(id string) (*model.FeedbackMessage, error) {
	v, closer, err := r.db.Get(feedbackKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read feedback: %w", err)
	}
	defer closer.Close()

	var msg model.FeedbackMessage
	if err := json.Unmarshal(v, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode feedback %s: %w", id, err)
	}
	return &msg, nil
}

// List scans every feedback key and applies filter
func (r *FeedbackRepository) List(ctx context.Context, filter model.FeedbackFilter) ([]*model.FeedbackMessage, error) {
	it, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(feedbackPrefix),
		UpperBound: prefixEnd([]byte(feedbackPrefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer it.Close()

	var out []*model.FeedbackMessage
	for ok := it.First(); ok; ok = it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var msg model.FeedbackMessage
		if err := json.Unmarshal(it.Value(), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode feedback %s: %w", it.Key(), err)
		}
		if filter.Matches(&msg) {
			out = append(out, &msg)
		}
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to scan feedback: %w", err)
	}

	model.SortFeedback(out)
	return repository.Limit(out, filter), nil
}

// UpdateStatus compares and sets the status of a message
func (r *FeedbackRepository) UpdateStatus(ctx context.Context, id string, from, to model.FeedbackStatus) (*model.FeedbackMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, err := r.get(id)
	if err != nil {
		return nil, err
	}
	if msg.Status != from {
		return nil, repository.ErrStatusConflict
	}
	msg.Status = to

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode feedback: %w", err)
	}
	if err := r.db.Set(feedbackKey(id), data, pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to write feedback: %w", err)
	}
	return msg, nil
}

// Ping checks that the database still answers reads
func (r *FeedbackRepository) Ping(ctx context.Context) error {
	_, closer, err := r.db.Get([]byte(feedbackPrefix))
	if err == nil {
		closer.Close()
		return nil
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	return err
}

// Close closes the database
func (r *FeedbackRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
