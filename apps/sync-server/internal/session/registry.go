package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/metrics"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

// Store receives a write-through copy of session metadata
type Store interface {
	SaveSession(ctx context.Context, s model.Session) error
	DeleteSession(ctx context.Context, id string) error
}

// EventKind identifies a registry event
type EventKind string

// Registry events
const (
	EventRegistered   EventKind = "registered"
	EventStateChanged EventKind = "state_changed"
	EventEvicted      EventKind = "evicted"
)

// Eviction reasons
const (
	ReasonExplicit         = "explicit"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonMaxAttempts      = "max_attempts"
)

// Event reports a change to a session
type Event struct {
	Kind       EventKind
	Session    model.Session
	Previous   model.ConnectionState
	Superseded bool
	Reason     string
}

// Options configures a Registry
type Options struct {
	HeartbeatInterval time.Duration
	// ReconnectAfter defaults to 2x HeartbeatInterval
	ReconnectAfter time.Duration
	// EvictAfter defaults to 5x HeartbeatInterval
	EvictAfter    time.Duration
	SweepInterval time.Duration
	MaxAttempts   int

	Store   Store
	Logger  *slog.Logger
	Metrics metrics.Collector
	Now     func() time.Time
}

// Registry tracks every live participant session
type Registry struct {
	opts    Options
	logger  *slog.Logger
	metrics metrics.Collector
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*model.Session
	gen      uint64

	subsMu sync.RWMutex
	subs   []subscriber
	nextID uint64
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// NewRegistry creates a registry
func NewRegistry(opts Options) *Registry {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.ReconnectAfter <= 0 {
		opts.ReconnectAfter = 2 * opts.HeartbeatInterval
	}
	if opts.EvictAfter <= 0 {
		opts.EvictAfter = 5 * opts.HeartbeatInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = opts.HeartbeatInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Registry{
		opts:     opts,
		logger:   logger.OrDiscard(opts.Logger).With("component", "session"),
		metrics:  metrics.OrNop(opts.Metrics),
		now:      now,
		sessions: make(map[string]*model.Session),
	}
}

// Subscribe registers fn for registry events. fn is called outside the
// registry lock, on the goroutine that caused the change.
func (r *Registry) Subscribe(fn func(Event)) func() {
	r.subsMu.Lock()
	r.nextID++
	id := r.nextID
	next := make([]subscriber, len(r.subs), len(r.subs)+1)
	copy(next, r.subs)
	r.subs = append(next, subscriber{id: id, fn: fn})
	r.subsMu.Unlock()

	return func() {
		r.subsMu.Lock()
		defer r.subsMu.Unlock()
		next := make([]subscriber, 0, len(r.subs))
		for _, s := range r.subs {
			if s.id != id {
				next = append(next, s)
			}
		}
		r.subs = next
	}
}

// Register creates the session for id, superseding any prior record. A
// superseded record keeps its reconnect attempts until the next heartbeat.
func (r *Registry) Register(id string, role model.Role) (model.Session, error) {
	if id == "" {
		return model.Session{}, ErrEmptyID
	}
	now := r.now()

	r.mu.Lock()
	prev, exists := r.sessions[id]
	r.gen++
	s := &model.Session{
		ID:              id,
		Role:            role,
		State:           model.StateOpen,
		LastHeartbeatAt: now,
		ConnectedAt:     now,
		Generation:      r.gen,
	}
	ev := Event{Kind: EventRegistered, Previous: model.StateConnecting}
	if exists {
		s.ReconnectAttempts = prev.ReconnectAttempts
		ev.Previous = prev.State
		ev.Superseded = true
	}
	r.sessions[id] = s
	ev.Session = *s
	r.mu.Unlock()

	if exists {
		r.logger.Info("session superseded", "id", id, "role", role, "previous_state", prev.State)
	} else {
		r.metrics.SessionRegistered(string(role))
		r.logger.Info("session registered", "id", id, "role", role)
	}

	r.persist(*s)
	r.emit(ev)
	return *s, nil
}

// Touch records a heartbeat for id
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	prevState := s.State
	s.LastHeartbeatAt = r.now()
	s.ReconnectAttempts = 0
	s.State = model.StateOpen
	snapshot := *s
	r.mu.Unlock()

	r.persist(snapshot)
	if prevState != model.StateOpen {
		r.stateChanged(snapshot, prevState)
	}
	return nil
}

// MarkReconnecting moves id to reconnecting and counts the attempt. A
// session whose attempts exceed the configured maximum is evicted.
func (r *Registry) MarkReconnecting(id string) error {
	return r.markReconnecting(id, 0)
}

// MarkReconnectingGeneration is MarkReconnecting for the connection gen
// only. It returns ErrSuperseded when id has been registered again since.
func (r *Registry) MarkReconnectingGeneration(id string, gen uint64) error {
	return r.markReconnecting(id, gen)
}

func (r *Registry) markReconnecting(id string, gen uint64) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	if gen != 0 && s.Generation != gen {
		r.mu.Unlock()
		return ErrSuperseded
	}
	prevState := s.State
	s.State = model.StateReconnecting
	s.ReconnectAttempts++
	if s.ReconnectAttempts > r.opts.MaxAttempts {
		delete(r.sessions, id)
		s.State = model.StateClosed
		snapshot := *s
		r.mu.Unlock()

		r.evicted(snapshot, prevState, ReasonMaxAttempts)
		return nil
	}
	snapshot := *s
	r.mu.Unlock()

	r.persist(snapshot)
	if prevState != model.StateReconnecting {
		r.stateChanged(snapshot, prevState)
	}
	return nil
}

// Evict removes id. It reports whether a session was removed.
func (r *Registry) Evict(id string) bool {
	return r.evict(id, 0, ReasonExplicit)
}

// EvictGeneration removes id only while gen is its current connection
func (r *Registry) EvictGeneration(id string, gen uint64) bool {
	return r.evict(id, gen, ReasonExplicit)
}

func (r *Registry) evict(id string, gen uint64, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || (gen != 0 && s.Generation != gen) {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	prevState := s.State
	s.State = model.StateClosed
	snapshot := *s
	r.mu.Unlock()

	r.evicted(snapshot, prevState, reason)
	return true
}

// Get returns a copy of the session for id
func (r *Registry) Get(id string) (model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return *s, true
}

// List returns copies of every session ordered by connect time
func (r *Registry) List() []model.Session {
	r.mu.Lock()
	out := make([]model.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Count returns the number of sessions
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Source returns the session currently holding the source role
func (r *Registry) Source() (model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.Role == model.RoleSource {
			return *s, true
		}
	}
	return model.Session{}, false
}

// Sweep applies the heartbeat thresholds as of now
func (r *Registry) Sweep(now time.Time) {
	type change struct {
		session model.Session
		prev    model.ConnectionState
		evicted bool
		reason  string
	}
	var changes []change

	r.mu.Lock()
	for id, s := range r.sessions {
		silent := now.Sub(s.LastHeartbeatAt)
		switch {
		case silent > r.opts.EvictAfter || s.ReconnectAttempts > r.opts.MaxAttempts:
			reason := ReasonHeartbeatTimeout
			if s.ReconnectAttempts > r.opts.MaxAttempts {
				reason = ReasonMaxAttempts
			}
			prev := s.State
			delete(r.sessions, id)
			s.State = model.StateClosed
			changes = append(changes, change{session: *s, prev: prev, evicted: true, reason: reason})
		case silent > r.opts.ReconnectAfter && s.State == model.StateOpen:
			s.State = model.StateReconnecting
			changes = append(changes, change{session: *s, prev: model.StateOpen})
		}
	}
	r.mu.Unlock()

	for _, c := range changes {
		if c.evicted {
			r.evicted(c.session, c.prev, c.reason)
			continue
		}
		r.persist(c.session)
		r.stateChanged(c.session, c.prev)
	}
}

// Run sweeps on a ticker until ctx is done
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(r.now())
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry) stateChanged(s model.Session, prev model.ConnectionState) {
	r.metrics.SessionStateChanged(string(prev), string(s.State))
	r.logger.Info("session state changed", "id", s.ID, "from", prev, "to", s.State, "attempts", s.ReconnectAttempts)
	r.emit(Event{Kind: EventStateChanged, Session: s, Previous: prev})
}

func (r *Registry) evicted(s model.Session, prev model.ConnectionState, reason string) {
	r.metrics.SessionEvicted(string(s.Role), reason)
	r.logger.Info("session evicted", "id", s.ID, "role", s.Role, "reason", reason)

	if r.opts.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.opts.Store.DeleteSession(ctx, s.ID); err != nil {
			r.logger.Warn("failed to delete session metadata", "id", s.ID, "error", err)
		}
	}
	r.emit(Event{Kind: EventEvicted, Session: s, Previous: prev, Reason: reason})
}

func (r *Registry) persist(s model.Session) {
	if r.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.opts.Store.SaveSession(ctx, s); err != nil {
		r.logger.Warn("failed to save session metadata", "id", s.ID, "error", err)
	}
}

func (r *Registry) emit(ev Event) {
	r.subsMu.RLock()
	subs := r.subs
	r.subsMu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
