package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/repository"
)

// maxCASRetries bounds optimistic retries in UpdateStatus
const maxCASRetries = 10

// createScript stores a message only if its key is free and indexes it by timestamp.
// KEYS[1] = message key, KEYS[2] = index key
// ARGV[1] = encoded message, ARGV[2] = score, ARGV[3] = id
var createScript = redis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
    return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// Store implements the feedback and session repositories on Redis
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a store backed by Redis
func New(addr, password string, db int, prefix string) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewWithClient(rdb, prefix)
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "broadcastsync"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) feedbackKey(id string) string {
	return fmt.Sprintf("%s:feedback:%s", s.prefix, id)
}

func (s *Store) indexKey() string {
	return s.prefix + ":feedback:index"
}

func (s *Store) sessionsKey() string {
	return s.prefix + ":sessions"
}

// Create stores a new message
func (s *Store) Create(ctx context.Context, msg *model.FeedbackMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode feedback: %w", err)
	}

	created, err := createScript.Run(ctx, s.client,
		[]string{s.feedbackKey(msg.ID), s.indexKey()},
		data, msg.Timestamp.UnixNano(), msg.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("redis create feedback: %w", err)
	}
	if created == 0 {
		return repository.ErrAlreadyExists
	}
	return nil
}

// GetByID retrieves a message by ID
func (s *Store) GetByID(ctx context.Context, id string) (*model.FeedbackMessage, error) {
	data, err := s.client.Get(ctx, s.feedbackKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get feedback: %w", err)
	}
	return decode(id, data)
}

// List reads the timestamp index and applies filter
func (s *Store) List(ctx context.Context, filter model.FeedbackFilter) ([]*model.FeedbackMessage, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list feedback: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.feedbackKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list feedback: %w", err)
	}

	var out []*model.FeedbackMessage
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		msg, err := decode(ids[i], []byte(str))
		if err != nil {
			return nil, err
		}
		if filter.Matches(msg) {
			out = append(out, msg)
		}
	}

	model.SortFeedback(out)
	return repository.Limit(out, filter), nil
}

// UpdateStatus compares and sets the status inside a WATCH transaction
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to model.FeedbackStatus) (*model.FeedbackMessage, error) {
	key := s.feedbackKey(id)
	var updated *model.FeedbackMessage

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return repository.ErrNotFound
			}
			return err
		}
		msg, err := decode(id, data)
		if err != nil {
			return err
		}
		if msg.Status != from {
			return repository.ErrStatusConflict
		}
		msg.Status = to
		encoded, err := json.Marshal(msg)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err == nil {
			updated = msg
		}
		return err
	}

	for i := 0; i < maxCASRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			// key changed under us; re-read and re-check
			continue
		}
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrStatusConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("redis update feedback: %w", err)
	}
	return nil, repository.ErrStatusConflict
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *Store) Close() error {
	return s.client.Close()
}

// SaveSession stores a session record in the sessions hash
func (s *Store) SaveSession(ctx context.Context, sess model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return s.client.HSet(ctx, s.sessionsKey(), sess.ID, data).Err()
}

// DeleteSession removes a session record
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.client.HDel(ctx, s.sessionsKey(), id).Err()
}

// ListSessions returns every stored session ordered by id
func (s *Store) ListSessions(ctx context.Context) ([]model.Session, error) {
	all, err := s.client.HGetAll(ctx, s.sessionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sessions: %w", err)
	}

	out := make([]model.Session, 0, len(all))
	for id, raw := range all {
		var sess model.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func decode(id string, data []byte) (*model.FeedbackMessage, error) {
	var msg model.FeedbackMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode feedback %s: %w", id, err)
	}
	return &msg, nil
}
