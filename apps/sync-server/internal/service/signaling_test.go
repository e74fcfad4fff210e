package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/auth"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/config"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/router"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/session"
)

type delivery struct {
	to     string
	except string
	env    *model.Envelope
}

type fakeHub struct {
	mu           sync.Mutex
	deliveries   []delivery
	disconnected []string
}

func (h *fakeHub) record(to, except string, data []byte) {
	env, err := model.ParseEnvelope(data)
	if err != nil {
		panic(err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliveries = append(h.deliveries, delivery{to: to, except: except, env: env})
}

func (h *fakeHub) SendToClient(clientID string, data []byte) { h.record(clientID, "", data) }

func (h *fakeHub) Broadcast(data []byte, exceptID string) { h.record("*", exceptID, data) }

func (h *fakeHub) Disconnect(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, clientID)
}

func (h *fakeHub) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliveries = nil
}

func (h *fakeHub) all() []delivery {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]delivery(nil), h.deliveries...)
}

type fixture struct {
	svc      *Service
	hub      *fakeHub
	registry *session.Registry
	router   *router.Router
}

func newFixture(t *testing.T, verifier *auth.Verifier, limiter *RateLimiter) *fixture {
	t.Helper()
	f := &fixture{
		hub:      &fakeHub{},
		registry: session.NewRegistry(session.Options{}),
		router:   router.New(nil, nil),
	}
	f.svc = New(Deps{
		Hub:      f.hub,
		Router:   f.router,
		Registry: f.registry,
		Verifier: verifier,
		Limiter:  limiter,
	})
	t.Cleanup(f.svc.Close)
	return f
}

func (f *fixture) join(t *testing.T, id string, role model.Role) model.RoleAssignment {
	t.Helper()
	ra, err := f.svc.Admit(id, role, "")
	require.NoError(t, err)
	f.svc.Welcome(ra)
	return ra
}

func frame(t *testing.T, msgType model.MessageType, claimedSender string, claimedRole model.Role, payload interface{}) []byte {
	t.Helper()
	env, err := model.NewEnvelope(msgType, claimedSender, claimedRole, payload)
	require.NoError(t, err)
	data, err := env.Marshal()
	require.NoError(t, err)
	return data
}

func TestAdmitSingleSource(t *testing.T) {
	f := newFixture(t, nil, nil)

	ra, err := f.svc.Admit("alpha", model.RoleSource, "")
	require.NoError(t, err)
	assert.Equal(t, model.RoleSource, ra.Role)

	ra, err = f.svc.Admit("beta", model.RoleSource, "")
	require.NoError(t, err)
	assert.Equal(t, model.RoleObserver, ra.Role)
	assert.Equal(t, model.RoleSource, ra.RequestedRole)

	// the holder reconnecting keeps the slot
	ra, err = f.svc.Admit("alpha", model.RoleSource, "")
	require.NoError(t, err)
	assert.Equal(t, model.RoleSource, ra.Role)
}

func TestAdmitValidation(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.svc.Admit("alpha", "admin", "")
	assert.ErrorIs(t, err, model.ErrInvalidRole)

	_, err = f.svc.Admit("bad id!", model.RoleObserver, "")
	assert.ErrorIs(t, err, ErrInvalidClientID)

	_, err = f.svc.Admit(model.ServerSenderID, model.RoleObserver, "")
	assert.ErrorIs(t, err, ErrInvalidClientID)

	ra, err := f.svc.Admit("", model.RoleObserver, "")
	require.NoError(t, err)
	assert.Regexp(t, `^cl_[0-9a-f]{32}$`, ra.ClientID)
}

func TestAdmitTokenCapsRole(t *testing.T) {
	v := auth.NewVerifier(config.AuthConfig{JWTSecret: "secret", RequireToken: true, JWTExpiration: time.Hour})
	f := newFixture(t, v, nil)

	_, err := f.svc.Admit("alpha", model.RoleObserver, "")
	assert.ErrorIs(t, err, auth.ErrTokenRequired)

	token, err := v.GenerateToken("alpha", model.RoleHeirObserver)
	require.NoError(t, err)

	ra, err := f.svc.Admit("alpha", model.RoleSource, token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleHeirObserver, ra.Role)

	ra, err = f.svc.Admit("beta", model.RoleObserver, token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleObserver, ra.Role, "a token never raises the requested role")
}

func TestWelcomeSendsAssignmentRosterAndSnapshot(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.join(t, "src", model.RoleSource)

	st := model.PlaybackState{Index: 12, IsPlaying: true, Speed: 2, Mode: model.ModeSeasonal, EntityStatus: model.EntityOperational}
	f.svc.HandleFrame("src", frame(t, model.MessageTypeCapsuleSync, "", "", st))
	f.hub.reset()

	f.join(t, "late", model.RoleObserver)
	got := f.hub.all()
	require.Len(t, got, 4)

	assert.Equal(t, "late", got[0].to)
	assert.Equal(t, model.MessageTypeRoleAssignment, got[0].env.Type)
	var own model.RoleAssignment
	require.NoError(t, got[0].env.Decode(&own))
	assert.Equal(t, "late", own.ClientID)
	assert.Equal(t, model.RoleObserver, own.Role)

	var roster model.RoleAssignment
	require.NoError(t, got[1].env.Decode(&roster))
	assert.Equal(t, "src", roster.ClientID)
	assert.Equal(t, model.RoleSource, roster.Role)

	assert.Equal(t, "late", got[2].to)
	assert.Equal(t, model.MessageTypeCapsuleSync, got[2].env.Type)
	var replayed model.PlaybackState
	require.NoError(t, got[2].env.Decode(&replayed))
	assert.Equal(t, st, replayed)

	assert.Equal(t, "*", got[3].to)
	assert.Equal(t, "late", got[3].except)
}

func TestSyncRelayedToEveryoneButSender(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.join(t, "src", model.RoleSource)
	f.join(t, "obs", model.RoleObserver)
	f.hub.reset()

	// claimed identity is ignored in favor of the session
	f.svc.HandleFrame("src", frame(t, model.MessageTypePlaybackControl, "spoofed", model.RoleObserver,
		model.PlaybackControl{Action: model.ActionPlay, IsPlaying: true, Speed: 1}))

	got := f.hub.all()
	require.Len(t, got, 1)
	assert.Equal(t, "*", got[0].to)
	assert.Equal(t, "src", got[0].except)
	assert.Equal(t, "src", got[0].env.SenderID)
	assert.Equal(t, model.RoleSource, got[0].env.SenderRole)

	assert.True(t, f.svc.Playback().State.IsPlaying)
}

func TestObserverCannotDrivePlayback(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.join(t, "src", model.RoleSource)
	f.join(t, "obs", model.RoleObserver)
	f.hub.reset()

	f.svc.HandleFrame("obs", frame(t, model.MessageTypeCapsuleSync, "src", model.RoleSource,
		model.PlaybackState{Index: 99, Speed: 1}))
	f.svc.HandleFrame("obs", frame(t, model.MessageTypeRoleAssignment, "", "",
		model.RoleAssignment{ClientID: "obs", Role: model.RoleSource, Status: model.AssignmentAssigned}))
	f.svc.HandleFrame("obs", []byte("{nope"))
	f.svc.HandleFrame("ghost", frame(t, model.MessageTypeHeartbeat, "", "", model.Heartbeat{Sequence: 1}))

	assert.Empty(t, f.hub.all())
	assert.Equal(t, 0, f.svc.Playback().State.Index)
}

func TestNegotiationRelayedToRecipientOnly(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.join(t, "src", model.RoleSource)
	f.join(t, "obs", model.RoleObserver)
	f.hub.reset()

	env, err := model.NewEnvelope(model.MessageTypeOffer, "", "", model.SessionDescription{Type: "offer", SDP: "v=0"})
	require.NoError(t, err)
	env.RecipientID = "obs"
	data, err := env.Marshal()
	require.NoError(t, err)
	f.svc.HandleFrame("src", data)

	got := f.hub.all()
	require.Len(t, got, 1)
	assert.Equal(t, "obs", got[0].to)
	assert.Equal(t, "src", got[0].env.SenderID)

	f.hub.reset()
	f.svc.HandleFrame("src", frame(t, model.MessageTypeICECandidate, "", "", model.ICECandidate{Candidate: "c"}))
	env.RecipientID = "nobody"
	data, err = env.Marshal()
	require.NoError(t, err)
	f.svc.HandleFrame("src", data)
	assert.Empty(t, f.hub.all())
}

func TestHeartbeatTouchesSession(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.join(t, "obs", model.RoleObserver)

	require.NoError(t, f.registry.MarkReconnecting("obs"))
	f.svc.HandleFrame("obs", frame(t, model.MessageTypeHeartbeat, "", "", model.Heartbeat{Sequence: 1}))

	s, ok := f.registry.Get("obs")
	require.True(t, ok)
	assert.Equal(t, model.StateOpen, s.State)
	assert.Equal(t, 0, s.ReconnectAttempts)
}

func TestRateLimitedFramesDropped(t *testing.T) {
	limiter := NewRateLimiter(config.RateLimitConfig{Enabled: true, FramesPerSecond: 0.001, Burst: 2})
	f := newFixture(t, nil, limiter)
	f.join(t, "src", model.RoleSource)
	f.hub.reset()

	for i := 0; i < 3; i++ {
		f.svc.HandleFrame("src", frame(t, model.MessageTypeCapsuleSync, "", "", model.PlaybackState{Index: i, Speed: 1}))
	}
	assert.Len(t, f.hub.all(), 2)
}

func TestSourceDepartureFreezesObservers(t *testing.T) {
	f := newFixture(t, nil, nil)
	src := f.join(t, "src", model.RoleSource)
	f.join(t, "obs", model.RoleObserver)
	f.svc.HandleFrame("src", frame(t, model.MessageTypeCapsuleSync, "", "", model.PlaybackState{Index: 4, Speed: 1, Mode: model.ModeDaily, EntityStatus: model.EntityOperational}))
	f.hub.reset()

	f.svc.HandleDisconnect("src", src.Generation, true)

	_, ok := f.registry.Get("src")
	assert.False(t, ok)
	assert.Contains(t, f.hub.disconnected, "src")

	got := f.hub.all()
	require.Len(t, got, 1)
	assert.Equal(t, "*", got[0].to)
	var ra model.RoleAssignment
	require.NoError(t, got[0].env.Decode(&ra))
	assert.Equal(t, model.AssignmentDeparted, ra.Status)
	assert.Equal(t, "src", ra.ClientID)
	assert.Equal(t, model.RoleSource, ra.Role)

	view := f.svc.Playback()
	assert.True(t, view.Stale)
	assert.Equal(t, 4, view.State.Index)

	// the slot is free again and late joiners get no stale snapshot
	f.hub.reset()
	ra2 := f.join(t, "next", model.RoleSource)
	assert.Equal(t, model.RoleSource, ra2.Role)
	for _, d := range f.hub.all() {
		assert.NotEqual(t, model.MessageTypeCapsuleSync, d.env.Type)
	}
}

func TestUncleanDisconnectKeepsSession(t *testing.T) {
	f := newFixture(t, nil, nil)
	obs := f.join(t, "obs", model.RoleObserver)

	f.svc.HandleDisconnect("obs", obs.Generation, false)

	s, ok := f.registry.Get("obs")
	require.True(t, ok)
	assert.Equal(t, model.StateReconnecting, s.State)
	assert.Empty(t, f.hub.disconnected)
}

func TestStaleCloseAfterRejoinIsIgnored(t *testing.T) {
	f := newFixture(t, nil, nil)
	old := f.join(t, "src", model.RoleSource)
	f.join(t, "obs", model.RoleObserver)

	// the same client reconnects before its old socket is torn down
	fresh := f.join(t, "src", model.RoleSource)
	require.NotEqual(t, old.Generation, fresh.Generation)
	assert.Equal(t, model.RoleSource, fresh.Role)
	f.hub.reset()

	f.svc.HandleDisconnect("src", old.Generation, false)
	f.svc.HandleDisconnect("src", old.Generation, true)

	s, ok := f.registry.Get("src")
	require.True(t, ok)
	assert.Equal(t, model.StateOpen, s.State)
	assert.Equal(t, fresh.Generation, s.Generation)
	assert.Empty(t, f.hub.all(), "no departure may be announced")
	assert.Empty(t, f.hub.disconnected)
	assert.False(t, f.svc.Playback().Stale)

	// the live connection still releases its session
	f.svc.HandleDisconnect("src", fresh.Generation, true)
	_, ok = f.registry.Get("src")
	assert.False(t, ok)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.join(t, "src", model.RoleSource)
	f.join(t, "obs", model.RoleObserver)

	st := f.svc.Status()
	assert.Equal(t, 2, st.Sessions)
	assert.Equal(t, "src", st.SourceID)
	assert.Len(t, f.svc.Sessions(), 2)
}

func TestRateLimiterExpiry(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, FramesPerSecond: 10, Burst: 1, ExpirationTime: time.Minute})
	defer rl.Stop()

	require.NoError(t, rl.Allow("a"))
	assert.ErrorIs(t, rl.Allow("a"), ErrRateLimitExceeded)
	require.NoError(t, rl.Allow("b"))
	assert.Equal(t, 2, rl.Len())

	rl.removeExpiredLimiters(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, rl.Len())

	disabled := NewRateLimiter(config.RateLimitConfig{})
	defer disabled.Stop()
	for i := 0; i < 100; i++ {
		require.NoError(t, disabled.Allow("a"))
	}
}
