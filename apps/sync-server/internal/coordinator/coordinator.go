package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/metrics"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/router"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/session"
)

// EventKind identifies a coordinator lifecycle event
type EventKind string

// Lifecycle events. Disconnected is terminal and emitted exactly once per
// exhausted connection.
const (
	EventConnecting   EventKind = "connecting"
	EventOpen         EventKind = "open"
	EventReconnecting EventKind = "reconnecting"
	EventClosed       EventKind = "closed"
	EventDisconnected EventKind = "disconnected"
)

// Event reports a coordinator state change
type Event struct {
	Kind     EventKind
	Attempt  int
	ClientID string
	Role     model.Role
	Err      error
}

// Options configures a Coordinator
type Options struct {
	URL               string
	ClientID          string
	Token             string
	Dialer            Dialer
	Router            *router.Router
	Registry          *session.Registry
	Backoff           Backoff
	MaxAttempts       int
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	EventBuffer       int
	// OnAssigned is called with every role assignment addressed to this client
	OnAssigned func(model.RoleAssignment)
	Logger     *slog.Logger
	Metrics    metrics.Collector
}

// Coordinator owns one participant's primary connection: handshake,
// heartbeat, ordered inbound dispatch, reconnection and teardown.
type Coordinator struct {
	mu         sync.Mutex
	state      model.ConnectionState
	transport  Transport
	clientID   string
	requested  model.Role
	role       model.Role
	runCancel  context.CancelFunc
	connCancel context.CancelFunc
	closers    []io.Closer
	unsubs     []func()
	closed     bool
	terminated bool

	events chan Event
	seq    atomic.Uint64
	opts   Options
	log    *slog.Logger
	m      metrics.Collector
}

// New creates a coordinator
func New(opts Options) *Coordinator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff{Base: time.Second, Max: 30 * time.Second}
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if opts.Dialer == nil {
		opts.Dialer = &WebSocketDialer{HandshakeTimeout: opts.HandshakeTimeout}
	}

	return &Coordinator{
		state:    model.StateClosed,
		clientID: opts.ClientID,
		events:   make(chan Event, opts.EventBuffer),
		opts:     opts,
		log:      logger.OrDiscard(opts.Logger).With("component", "coordinator"),
		m:        metrics.OrNop(opts.Metrics),
	}
}

// Events returns the lifecycle event channel
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// State returns the current connection state
func (c *Coordinator) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the client ID and effective role
func (c *Coordinator) Identity() (string, model.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID, c.role
}

// Subscribe registers h on the coordinator's router; the subscription is
// dropped on Close.
func (c *Coordinator) Subscribe(msgType model.MessageType, h router.Handler, opts ...router.SubscribeOption) {
	if c.opts.Router == nil {
		return
	}
	unsub := c.opts.Router.Subscribe(msgType, h, opts...)
	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsub)
	c.mu.Unlock()
}

// AddCloser registers a resource, such as a peer connection, to be closed
// with the coordinator.
func (c *Coordinator) AddCloser(cl io.Closer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, cl)
}

// Connect dials the server and waits for the role assignment. It tries up
// to MaxAttempts times and fails with ErrAttemptsExhausted after emitting
// EventDisconnected.
func (c *Coordinator) Connect(ctx context.Context, role model.Role) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != model.StateClosed {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel
	c.requested = role
	c.terminated = false
	c.state = model.StateConnecting
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := c.attempt(runCtx, EventConnecting)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// attempt runs the dial loop until a handshake succeeds or attempts run out.
// The first dial of Connect is immediate; every reconnect waits its backoff.
func (c *Coordinator) attempt(ctx context.Context, kind EventKind) error {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		wait := attempt - 1
		if kind == EventReconnecting {
			wait = attempt
		}
		if wait > 0 {
			timer := time.NewTimer(c.opts.Backoff.Delay(wait))
			select {
			case <-ctx.Done():
				timer.Stop()
				c.terminate(ctx.Err())
				return ctx.Err()
			case <-timer.C:
			}
			c.m.ReconnectAttempt(string(c.requested))
		}

		c.emit(Event{Kind: kind, Attempt: attempt, Role: c.requested})

		t, assignment, pending, err := c.dial(ctx)
		if err == nil {
			if !c.open(ctx, t, assignment, pending) {
				return ErrClosed
			}
			return nil
		}
		if ctx.Err() != nil {
			c.terminate(ctx.Err())
			return ctx.Err()
		}

		lastErr = err
		c.log.Warn("connection attempt failed", "attempt", attempt, "max_attempts", c.opts.MaxAttempts, "error", err)
	}

	err := fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, c.opts.MaxAttempts, lastErr)
	c.terminate(err)
	return err
}

type readResult struct {
	data []byte
	err  error
}

// dial opens a transport and reads until the role assignment for this
// client arrives. Frames received before it are returned for dispatch.
func (c *Coordinator) dial(ctx context.Context) (Transport, model.RoleAssignment, []*model.Envelope, error) {
	c.mu.Lock()
	target := Target{URL: c.opts.URL, ClientID: c.clientID, Role: c.requested, Token: c.opts.Token}
	c.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	t, err := c.opts.Dialer.Dial(hctx, target)
	if err != nil {
		return nil, model.RoleAssignment{}, nil, err
	}

	var pending []*model.Envelope
	for {
		ch := make(chan readResult, 1)
		go func() {
			data, err := t.ReadMessage()
			ch <- readResult{data: data, err: err}
		}()

		var res readResult
		select {
		case <-hctx.Done():
			t.Close()
			if ctx.Err() != nil {
				return nil, model.RoleAssignment{}, nil, ctx.Err()
			}
			return nil, model.RoleAssignment{}, nil, ErrHandshakeTimeout
		case res = <-ch:
		}
		if res.err != nil {
			t.Close()
			return nil, model.RoleAssignment{}, nil, fmt.Errorf("handshake read failed: %w", res.err)
		}

		env, err := model.ParseEnvelope(res.data)
		if err != nil {
			c.log.Warn("dropping malformed frame during handshake", "error", err)
			continue
		}
		if env.Type != model.MessageTypeRoleAssignment {
			pending = append(pending, env)
			continue
		}

		var ra model.RoleAssignment
		if err := env.Decode(&ra); err != nil {
			c.log.Warn("dropping malformed role assignment", "error", err)
			continue
		}
		if ra.Status != model.AssignmentAssigned || (target.ClientID != "" && ra.ClientID != target.ClientID) {
			pending = append(pending, env)
			continue
		}
		return t, ra, pending, nil
	}
}

func (c *Coordinator) open(runCtx context.Context, t Transport, ra model.RoleAssignment, pending []*model.Envelope) bool {
	connCtx, connCancel := context.WithCancel(runCtx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		connCancel()
		t.Close()
		return false
	}
	c.transport = t
	c.clientID = ra.ClientID
	c.role = ra.Role
	c.state = model.StateOpen
	c.connCancel = connCancel
	c.mu.Unlock()

	if c.opts.Registry != nil {
		if _, err := c.opts.Registry.Register(ra.ClientID, ra.Role); err != nil {
			c.log.Warn("failed to register session", "client_id", ra.ClientID, "error", err)
		}
	}

	if ra.Role != c.requested {
		c.log.Info("requested role was downgraded", "requested", c.requested, "assigned", ra.Role)
	}
	c.log.Info("connected", "client_id", ra.ClientID, "role", ra.Role)
	if c.opts.OnAssigned != nil {
		c.opts.OnAssigned(ra)
	}
	c.emit(Event{Kind: EventOpen, ClientID: ra.ClientID, Role: ra.Role})

	for _, env := range pending {
		c.dispatch(env)
	}

	go c.heartbeat(connCtx)
	go c.readLoop(connCtx, runCtx, t)
	return true
}

func (c *Coordinator) readLoop(connCtx, runCtx context.Context, t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			if connCtx.Err() != nil {
				return
			}
			c.log.Warn("transport closed", "error", err)
			c.dropped(runCtx, t)
			return
		}

		env, err := model.ParseEnvelope(data)
		if err != nil {
			c.log.Warn("dropping malformed frame", "error", err)
			c.m.EnvelopeRejected("unknown", "malformed")
			continue
		}
		c.m.EnvelopeReceived(string(env.Type), len(data))

		if env.Type == model.MessageTypeRoleAssignment {
			c.handleAssignment(env)
		}
		c.dispatch(env)
	}
}

func (c *Coordinator) handleAssignment(env *model.Envelope) {
	var ra model.RoleAssignment
	if err := env.Decode(&ra); err != nil || ra.Status != model.AssignmentAssigned {
		return
	}

	c.mu.Lock()
	mine := ra.ClientID == c.clientID
	if mine {
		c.role = ra.Role
	}
	c.mu.Unlock()

	if mine && c.opts.OnAssigned != nil {
		c.opts.OnAssigned(ra)
	}
}

func (c *Coordinator) dispatch(env *model.Envelope) {
	if c.opts.Registry != nil {
		c.mu.Lock()
		id := c.clientID
		c.mu.Unlock()
		_ = c.opts.Registry.Touch(id)
	}
	if c.opts.Router == nil {
		return
	}
	// Rejections are logged by the router
	_ = c.opts.Router.Publish(env)
}

// dropped handles an unexpected transport loss
func (c *Coordinator) dropped(runCtx context.Context, t Transport) {
	c.mu.Lock()
	if c.transport != t || c.closed {
		c.mu.Unlock()
		return
	}
	if c.connCancel != nil {
		c.connCancel()
	}
	c.transport = nil
	c.state = model.StateReconnecting
	id := c.clientID
	c.mu.Unlock()

	t.Close()
	if c.opts.Registry != nil {
		_ = c.opts.Registry.MarkReconnecting(id)
	}

	go c.attempt(runCtx, EventReconnecting)
}

func (c *Coordinator) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			env, err := model.NewEnvelope(model.MessageTypeHeartbeat, "", "", model.Heartbeat{Sequence: c.seq.Add(1)})
			if err != nil {
				continue
			}
			if err := c.Send(env); err != nil {
				c.log.Debug("heartbeat not sent", "error", err)
			}
		}
	}
}

// Send writes env on the primary transport. Sender fields default to this
// client's identity. Nothing is queued while the transport is down.
func (c *Coordinator) Send(env *model.Envelope) error {
	c.mu.Lock()
	t, state := c.transport, c.state
	if env.SenderID == "" {
		env.SenderID = c.clientID
	}
	if env.SenderRole == "" {
		env.SenderRole = c.role
	}
	c.mu.Unlock()

	if state != model.StateOpen || t == nil {
		c.log.Warn("dropping outbound envelope, transport not open", "type", env.Type, "state", state)
		return ErrNotOpen
	}

	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if err := t.WriteMessage(data); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	c.m.EnvelopeSent(string(env.Type), len(data))
	return nil
}

// terminate ends a connection that cannot be re-established
func (c *Coordinator) terminate(cause error) {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.terminated = true
	wasClosed := c.closed
	c.state = model.StateClosed
	c.transport = nil
	runCancel := c.runCancel
	c.runCancel = nil
	id, role := c.clientID, c.role
	c.mu.Unlock()

	if runCancel != nil {
		runCancel()
	}
	if wasClosed {
		return
	}
	if c.opts.Registry != nil {
		c.opts.Registry.Evict(id)
	}
	c.log.Error("disconnected", "client_id", id, "error", cause)
	c.emit(Event{Kind: EventDisconnected, ClientID: id, Role: role, Err: cause})
}

// Close tears everything down in order: timers and transport, owned peer
// connections, the registry entry, router subscriptions. Every step runs
// even if an earlier one fails.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.terminated = true
	runCancel, t := c.runCancel, c.transport
	closers, unsubs := c.closers, c.unsubs
	c.closers, c.unsubs = nil, nil
	c.transport = nil
	c.state = model.StateClosed
	id, role := c.clientID, c.role
	c.mu.Unlock()

	var errs []error

	if runCancel != nil {
		runCancel()
	}
	if t != nil {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}

	for _, cl := range closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.opts.Registry != nil && id != "" {
		c.opts.Registry.Evict(id)
	}

	for _, unsub := range unsubs {
		unsub()
	}

	c.emitFinal(Event{Kind: EventClosed, ClientID: id, Role: role})
	return errors.Join(errs...)
}

func (c *Coordinator) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.sendLocked(ev)
}

func (c *Coordinator) emitFinal(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendLocked(ev)
}

func (c *Coordinator) sendLocked(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("event buffer full, dropping event", "kind", ev.Kind)
	}
}
