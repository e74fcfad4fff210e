package router

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/metrics"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

// Wildcard subscribes a handler to every message type
const Wildcard model.MessageType = "*"

// Handler consumes a dispatched envelope. Handlers run on the publishing
// goroutine and must hand off anything that blocks.
type Handler func(env *model.Envelope) error

// SubscribeOption configures a subscription
type SubscribeOption func(*subscription)

// WithRoles restricts a subscription to envelopes sent by the given roles
func WithRoles(roles ...model.Role) SubscribeOption {
	return func(s *subscription) {
		if s.roles == nil {
			s.roles = make(map[model.Role]struct{}, len(roles))
		}
		for _, r := range roles {
			s.roles[r] = struct{}{}
		}
	}
}

// WithName labels a subscription in logs
func WithName(name string) SubscribeOption {
	return func(s *subscription) {
		s.name = name
	}
}

type subscription struct {
	id      uint64
	name    string
	msgType model.MessageType
	roles   map[model.Role]struct{}
	handler Handler
}

func (s *subscription) matches(env *model.Envelope) bool {
	if s.msgType != Wildcard && s.msgType != env.Type {
		return false
	}
	if s.roles == nil {
		return true
	}
	_, ok := s.roles[env.SenderRole]
	return ok
}

// Router dispatches envelopes to subscribers keyed by message type
type Router struct {
	logger  *slog.Logger
	metrics metrics.Collector

	mu     sync.RWMutex
	subs   []*subscription // replaced, never mutated in place
	nextID uint64
}

// New creates a router
func New(log *slog.Logger, m metrics.Collector) *Router {
	return &Router{
		logger:  logger.OrDiscard(log).With("component", "router"),
		metrics: metrics.OrNop(m),
	}
}

// Subscribe registers h for msgType (or Wildcard). Handlers are invoked in
// registration order. The returned func removes the subscription and is
// safe to call more than once.
func (r *Router) Subscribe(msgType model.MessageType, h Handler, opts ...SubscribeOption) func() {
	if h == nil {
		panic(ErrNilHandler)
	}

	r.mu.Lock()
	r.nextID++
	sub := &subscription{id: r.nextID, msgType: msgType, handler: h}
	for _, opt := range opts {
		opt(sub)
	}
	next := make([]*subscription, len(r.subs), len(r.subs)+1)
	copy(next, r.subs)
	r.subs = append(next, sub)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(sub.id) })
	}
}

func (r *Router) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		if s.id != id {
			next = append(next, s)
		}
	}
	r.subs = next
}

// Len returns the number of live subscriptions
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Publish validates env and synchronously invokes every matching subscriber.
// Handler failures are logged and never stop the remaining handlers.
func (r *Router) Publish(env *model.Envelope) error {
	if env == nil {
		return ErrNilEnvelope
	}

	if !env.Type.IsKnown() {
		r.metrics.EnvelopeRejected(string(env.Type), "unknown_type")
		r.logger.Warn("rejected envelope with unknown type",
			"type", env.Type, "sender", env.SenderID, "role", env.SenderRole)
		return fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	if err := Authorize(env); err != nil {
		r.metrics.EnvelopeRejected(string(env.Type), "policy")
		r.logger.Warn("policy violation",
			"type", env.Type, "sender", env.SenderID, "role", env.SenderRole,
			"timestamp", env.Timestamp)
		return err
	}

	r.mu.RLock()
	subs := r.subs
	r.mu.RUnlock()

	r.metrics.EnvelopePublished(string(env.Type))
	for _, s := range subs {
		if s.matches(env) {
			r.invoke(s, env)
		}
	}
	return nil
}

// Authorize applies the single-authority rule: state sync types are only
// accepted from the source role.
func Authorize(env *model.Envelope) error {
	if env.Type.IsStateSync() && env.SenderRole != model.RoleSource {
		return fmt.Errorf("%w: %s from %s (%s)", ErrPolicyViolation, env.Type, env.SenderID, env.SenderRole)
	}
	return nil
}

func (r *Router) invoke(s *subscription, env *model.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("subscriber panicked",
				"type", env.Type, "subscriber", s.name, "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	if err := s.handler(env); err != nil {
		r.logger.Warn("subscriber failed",
			"type", env.Type, "sender", env.SenderID, "subscriber", s.name, "error", err)
	}
}
