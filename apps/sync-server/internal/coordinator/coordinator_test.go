package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/config"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/router"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/session"
)

func newCoordinator(d Dialer, r *router.Router, reg *session.Registry, maxAttempts int) *Coordinator {
	return New(Options{
		URL:               "ws://sync.test/ws",
		Dialer:            d,
		Router:            r,
		Registry:          reg,
		Backoff:           LinearBackoff{Base: time.Millisecond},
		MaxAttempts:       maxAttempts,
		HandshakeTimeout:  20 * time.Millisecond,
		HeartbeatInterval: time.Hour,
	})
}

func TestConnectNeverHandshakingExhaustsAttempts(t *testing.T) {
	d := &fakeDialer{fallback: silent()}
	c := newCoordinator(d, nil, nil, 3)

	err := c.Connect(context.Background(), model.RoleObserver)
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 3, d.dials())
	assert.Equal(t, model.StateClosed, c.State())

	events := drainEvents(c.Events())
	assert.Equal(t, 3, countKind(events, EventConnecting))
	assert.Equal(t, 1, countKind(events, EventDisconnected))
	assert.Equal(t, EventDisconnected, events[len(events)-1].Kind)
}

func TestExhaustedConnectReleasesRunContext(t *testing.T) {
	d := &fakeDialer{}
	c := newCoordinator(d, nil, nil, 2)
	defer c.Close()

	require.ErrorIs(t, c.Connect(context.Background(), model.RoleObserver), ErrAttemptsExhausted)
	c.mu.Lock()
	assert.Nil(t, c.runCancel)
	c.mu.Unlock()

	// a terminal coordinator may be connected again from scratch
	require.ErrorIs(t, c.Connect(context.Background(), model.RoleObserver), ErrAttemptsExhausted)
	assert.Equal(t, 4, d.dials())
	assert.Equal(t, 2, countKind(drainEvents(c.Events()), EventDisconnected))
}

func TestConnectAttemptBoundProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("a refused coordinator dials exactly max_attempts times", prop.ForAll(
		func(maxAttempts int) bool {
			d := &fakeDialer{}
			c := newCoordinator(d, nil, nil, maxAttempts)
			err := c.Connect(context.Background(), model.RoleObserver)
			events := drainEvents(c.Events())
			return err != nil &&
				d.dials() == maxAttempts &&
				countKind(events, EventDisconnected) == 1
		},
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}

func TestConnectSucceedsAfterRefusals(t *testing.T) {
	d := &fakeDialer{script: []func(Target) (*fakeTransport, error){nil, nil, handshaking("cl_1", model.RoleObserver, nil)}}
	c := newCoordinator(d, nil, nil, 5)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background(), model.RoleObserver))
	assert.Equal(t, 3, d.dials())
	assert.Equal(t, model.StateOpen, c.State())

	events := drainEvents(c.Events())
	assert.Equal(t, 0, countKind(events, EventDisconnected))
	assert.Equal(t, EventOpen, events[len(events)-1].Kind)
}

func TestConnectDowngradedRole(t *testing.T) {
	var assigned []model.RoleAssignment
	d := &fakeDialer{fallback: handshaking("cl_2", model.RoleObserver, nil)}
	c := New(Options{
		URL:              "ws://sync.test/ws",
		Dialer:           d,
		HandshakeTimeout: 50 * time.Millisecond,
		OnAssigned:       func(ra model.RoleAssignment) { assigned = append(assigned, ra) },
	})
	defer c.Close()

	require.NoError(t, c.Connect(context.Background(), model.RoleSource))
	id, role := c.Identity()
	assert.Equal(t, "cl_2", id)
	assert.Equal(t, model.RoleObserver, role)
	require.Len(t, assigned, 1)
	assert.Equal(t, model.RoleObserver, assigned[0].Role)

	assert.Equal(t, model.RoleSource, d.targets[0].Role)
	assert.ErrorIs(t, c.Connect(context.Background(), model.RoleSource), ErrAlreadyConnected)
}

func TestInboundDispatchedInOrder(t *testing.T) {
	r := router.New(nil, nil)
	created := make(chan *fakeTransport, 1)
	d := &fakeDialer{fallback: handshaking("cl_3", model.RoleObserver, created)}
	c := newCoordinator(d, r, nil, 1)
	defer c.Close()

	var mu sync.Mutex
	var got []int
	c.Subscribe(model.MessageTypeCapsuleSync, func(env *model.Envelope) error {
		var st model.PlaybackState
		if err := env.Decode(&st); err != nil {
			return err
		}
		mu.Lock()
		got = append(got, st.Index)
		mu.Unlock()
		return nil
	})

	require.NoError(t, c.Connect(context.Background(), model.RoleObserver))
	tr := <-created

	tr.inbound <- []byte("{broken")
	for i := 0; i < 50; i++ {
		env, err := model.NewEnvelope(model.MessageTypeCapsuleSync, "src", model.RoleSource, model.PlaybackState{Index: i, Speed: 1})
		require.NoError(t, err)
		tr.push(env)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 50
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, idx := range got {
		assert.Equal(t, i, idx)
	}
}

func TestFramesBeforeAssignmentAreDispatched(t *testing.T) {
	r := router.New(nil, nil)
	d := &fakeDialer{fallback: func(Target) (*fakeTransport, error) {
		tr := newFakeTransport()
		env, _ := model.NewEnvelope(model.MessageTypeCapsuleSync, "src", model.RoleSource, model.PlaybackState{Index: 7, Speed: 1})
		tr.push(env)
		tr.push(assignment("cl_4", model.RoleObserver))
		return tr, nil
	}}
	c := newCoordinator(d, r, nil, 1)
	defer c.Close()

	var got []*model.Envelope
	c.Subscribe(model.MessageTypeCapsuleSync, func(env *model.Envelope) error {
		got = append(got, env)
		return nil
	})

	require.NoError(t, c.Connect(context.Background(), model.RoleObserver))
	require.Len(t, got, 1)
	assert.Equal(t, "src", got[0].SenderID)
}

func TestSendRequiresOpenTransport(t *testing.T) {
	created := make(chan *fakeTransport, 1)
	d := &fakeDialer{fallback: handshaking("cl_5", model.RoleModerator, created)}
	c := newCoordinator(d, nil, nil, 1)
	defer c.Close()

	env, err := model.NewEnvelope(model.MessageTypeHeartbeat, "", "", model.Heartbeat{Sequence: 1})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Send(env), ErrNotOpen)

	require.NoError(t, c.Connect(context.Background(), model.RoleModerator))
	tr := <-created

	env, err = model.NewEnvelope(model.MessageTypeHeartbeat, "", "", model.Heartbeat{Sequence: 2})
	require.NoError(t, err)
	require.NoError(t, c.Send(env))

	sent := tr.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "cl_5", sent[0].SenderID)
	assert.Equal(t, model.RoleModerator, sent[0].SenderRole)
}

func TestHeartbeatTicker(t *testing.T) {
	created := make(chan *fakeTransport, 1)
	d := &fakeDialer{fallback: handshaking("cl_6", model.RoleObserver, created)}
	c := New(Options{
		URL:               "ws://sync.test/ws",
		Dialer:            d,
		HandshakeTimeout:  50 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
	})
	defer c.Close()

	require.NoError(t, c.Connect(context.Background(), model.RoleObserver))
	tr := <-created

	require.Eventually(t, func() bool {
		return len(tr.sentTypes()) >= 2
	}, time.Second, 5*time.Millisecond)

	var seqs []uint64
	for _, env := range tr.sent() {
		require.Equal(t, model.MessageTypeHeartbeat, env.Type)
		var hb model.Heartbeat
		require.NoError(t, env.Decode(&hb))
		seqs = append(seqs, hb.Sequence)
	}
	assert.Equal(t, uint64(1), seqs[0])
	assert.Equal(t, uint64(2), seqs[1])
}

func TestReconnectAfterDrop(t *testing.T) {
	reg := session.NewRegistry(session.Options{})
	created := make(chan *fakeTransport, 4)
	d := &fakeDialer{fallback: handshaking("cl_7", model.RoleObserver, created)}
	c := newCoordinator(d, nil, reg, 3)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background(), model.RoleObserver))
	first := <-created
	_, ok := reg.Get("cl_7")
	require.True(t, ok)

	first.drop()

	second := <-created
	var events []Event
	require.Eventually(t, func() bool {
		events = append(events, drainEvents(c.Events())...)
		return countKind(events, EventOpen) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.StateOpen, c.State())
	assert.NotSame(t, first, second)
	assert.Equal(t, "cl_7", d.targets[1].ClientID, "reconnect reuses the assigned client id")

	assert.Equal(t, 1, countKind(events, EventReconnecting))
	assert.Equal(t, 2, countKind(events, EventOpen))
	assert.Equal(t, 0, countKind(events, EventDisconnected))

	s, ok := reg.Get("cl_7")
	require.True(t, ok)
	assert.Equal(t, model.StateOpen, s.State)
}

func TestReconnectExhaustionIsTerminal(t *testing.T) {
	reg := session.NewRegistry(session.Options{})
	created := make(chan *fakeTransport, 1)
	d := &fakeDialer{script: []func(Target) (*fakeTransport, error){handshaking("cl_8", model.RoleObserver, created)}}
	c := newCoordinator(d, nil, reg, 2)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background(), model.RoleObserver))
	(<-created).drop()

	require.Eventually(t, func() bool { return c.State() == model.StateClosed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, d.dials())

	time.Sleep(20 * time.Millisecond)
	events := drainEvents(c.Events())
	assert.Equal(t, 2, countKind(events, EventReconnecting))
	assert.Equal(t, 1, countKind(events, EventDisconnected))

	_, ok := reg.Get("cl_8")
	assert.False(t, ok)

	// a fresh Connect is allowed after exhaustion
	d.mu.Lock()
	d.fallback = handshaking("cl_8", model.RoleObserver, nil)
	d.mu.Unlock()
	require.NoError(t, c.Connect(context.Background(), model.RoleObserver))
}

func TestCloseOrder(t *testing.T) {
	r := router.New(nil, nil)
	reg := session.NewRegistry(session.Options{})
	log := &orderLog{}

	d := &fakeDialer{fallback: func(target Target) (*fakeTransport, error) {
		tr, _ := handshaking("cl_9", model.RoleSource, nil)(target)
		tr.onClose = func() { log.add("transport") }
		return tr, nil
	}}
	c := newCoordinator(d, r, reg, 1)

	reg.Subscribe(func(ev session.Event) {
		if ev.Kind == session.EventEvicted {
			log.add("registry")
		}
	})
	c.AddCloser(closerFunc(func() error {
		log.add("peer")
		return nil
	}))
	c.Subscribe(model.MessageTypeCapsuleSync, func(*model.Envelope) error { return nil })
	c.Subscribe(model.MessageTypeRoleAssignment, func(*model.Envelope) error { return nil })

	require.NoError(t, c.Connect(context.Background(), model.RoleSource))
	require.Equal(t, 2, r.Len())

	require.NoError(t, c.Close())
	assert.Equal(t, []string{"transport", "peer", "registry"}, log.list())
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, model.StateClosed, c.State())

	events := drainEvents(c.Events())
	assert.Equal(t, EventClosed, events[len(events)-1].Kind)
	assert.Equal(t, 0, countKind(events, EventDisconnected))

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Connect(context.Background(), model.RoleSource), ErrClosed)
}

func TestConnectCanceled(t *testing.T) {
	d := &fakeDialer{fallback: silent()}
	c := New(Options{
		URL:              "ws://sync.test/ws",
		Dialer:           d,
		HandshakeTimeout: time.Second,
		MaxAttempts:      3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Connect(ctx, model.RoleObserver)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, d.dials())
}

func TestBackoffStrategies(t *testing.T) {
	linear := LinearBackoff{Base: time.Second, Max: 3 * time.Second}
	assert.Equal(t, time.Second, linear.Delay(1))
	assert.Equal(t, 2*time.Second, linear.Delay(2))
	assert.Equal(t, 3*time.Second, linear.Delay(5))

	exp := ExponentialBackoff{Base: 100 * time.Millisecond, Max: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := exp.Delay(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	// jitter is at most 50% around the nominal interval
	assert.GreaterOrEqual(t, exp.Delay(1), 50*time.Millisecond)
	assert.LessOrEqual(t, exp.Delay(1), 150*time.Millisecond)

	assert.IsType(t, LinearBackoff{}, NewBackoff(config.ReconnectConfig{Strategy: config.StrategyLinear, BaseDelay: time.Second}))
	assert.IsType(t, ExponentialBackoff{}, NewBackoff(config.ReconnectConfig{Strategy: config.StrategyExponential, BaseDelay: time.Second}))
	assert.IsType(t, ExponentialBackoff{}, NewBackoff(config.ReconnectConfig{}))
}
