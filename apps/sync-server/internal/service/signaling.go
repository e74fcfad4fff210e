package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/auth"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/metrics"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/playback"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/router"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/session"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/pkg/util"
)

// Sender delivers frames to connected clients
type Sender interface {
	SendToClient(clientID string, data []byte)
	Broadcast(data []byte, exceptID string)
	Disconnect(clientID string)
}

// Deps holds the collaborators of a Service
type Deps struct {
	Hub      Sender
	Router   *router.Router
	Registry *session.Registry
	Verifier *auth.Verifier
	Limiter  *RateLimiter
	Logger   *slog.Logger
	Metrics  metrics.Collector
}

// Service is the server side of every participant connection: it admits
// clients, stamps and publishes their envelopes and relays the results.
type Service struct {
	hub      Sender
	router   *router.Router
	registry *session.Registry
	verifier *auth.Verifier
	limiter  *RateLimiter
	mirror   *playback.Synchronizer
	log      *slog.Logger
	metrics  metrics.Collector

	// admitMu serializes role resolution so only one client wins the source slot
	admitMu sync.Mutex

	cacheMu sync.RWMutex
	latest  map[model.MessageType]*model.Envelope

	unsubs []func()
}

// New creates the service and subscribes its relays
func New(deps Deps) *Service {
	log := logger.OrDiscard(deps.Logger).With("component", "relay")
	s := &Service{
		hub:      deps.Hub,
		router:   deps.Router,
		registry: deps.Registry,
		verifier: deps.Verifier,
		limiter:  deps.Limiter,
		log:      log,
		metrics:  metrics.OrNop(deps.Metrics),
		latest:   make(map[model.MessageType]*model.Envelope),
		mirror: playback.New(playback.Options{
			LocalID: model.ServerSenderID,
			Role:    model.RoleObserver,
			Logger:  deps.Logger,
		}),
	}

	for _, t := range []model.MessageType{
		model.MessageTypeCapsuleSync,
		model.MessageTypeConstellationUpdate,
		model.MessageTypePlaybackControl,
	} {
		s.unsubs = append(s.unsubs, s.router.Subscribe(t, s.relaySync, router.WithName("relay-sync")))
	}
	for _, t := range []model.MessageType{
		model.MessageTypeOffer,
		model.MessageTypeAnswer,
		model.MessageTypeICECandidate,
	} {
		s.unsubs = append(s.unsubs, s.router.Subscribe(t, s.relayDirect, router.WithName("relay-direct")))
	}
	s.unsubs = append(s.unsubs,
		s.router.Subscribe(model.MessageTypeRoleAssignment, s.relayAssignment, router.WithName("relay-assignment")),
		s.router.Subscribe(router.Wildcard, s.mirror.Apply, router.WithName("playback-mirror")),
		s.registry.Subscribe(s.onSessionEvent),
	)

	return s
}

// Admit resolves the effective role of a connecting client and registers
// its session. The role may be lowered, never raised. An empty clientID
// gets a generated one.
func (s *Service) Admit(clientID string, requested model.Role, token string) (model.RoleAssignment, error) {
	if !requested.Valid() {
		return model.RoleAssignment{}, model.ErrInvalidRole
	}
	if clientID == "" {
		clientID = util.GenerateClientID()
	} else if !util.ValidClientID(clientID) || clientID == model.ServerSenderID {
		return model.RoleAssignment{}, fmt.Errorf("%w: %q", ErrInvalidClientID, clientID)
	}

	limit := model.RoleSource
	if s.verifier != nil {
		var err error
		if limit, err = s.verifier.RoleCap(token); err != nil {
			return model.RoleAssignment{}, err
		}
	}

	s.admitMu.Lock()
	defer s.admitMu.Unlock()

	role := requested.Cap(limit)
	if role == model.RoleSource {
		if src, ok := s.registry.Source(); ok && src.ID != clientID && src.Live() {
			s.log.Info("source slot taken, admitting as observer", "client_id", clientID, "source", src.ID)
			role = model.RoleObserver
		}
	}

	sess, err := s.registry.Register(clientID, role)
	if err != nil {
		return model.RoleAssignment{}, err
	}

	return model.RoleAssignment{
		ClientID:      clientID,
		Role:          role,
		RequestedRole: requested,
		Status:        model.AssignmentAssigned,
		Generation:    sess.Generation,
	}, nil
}

// Welcome tells a freshly connected client its role, who else is present
// and the latest broadcast state, then announces it to everyone else.
func (s *Service) Welcome(ra model.RoleAssignment) {
	own, err := s.serverEnvelope(model.MessageTypeRoleAssignment, ra)
	if err != nil {
		s.log.Error("failed to build role assignment", "error", err)
		return
	}
	own.RecipientID = ra.ClientID
	s.sendTo(ra.ClientID, own)

	for _, sess := range s.registry.List() {
		if sess.ID == ra.ClientID {
			continue
		}
		env, err := s.serverEnvelope(model.MessageTypeRoleAssignment, model.RoleAssignment{
			ClientID: sess.ID,
			Role:     sess.Role,
			Status:   model.AssignmentAssigned,
		})
		if err != nil {
			continue
		}
		env.RecipientID = ra.ClientID
		s.sendTo(ra.ClientID, env)
	}

	s.cacheMu.RLock()
	replay := make([]*model.Envelope, 0, 2)
	for _, t := range []model.MessageType{model.MessageTypeCapsuleSync, model.MessageTypeConstellationUpdate} {
		if env, ok := s.latest[t]; ok {
			replay = append(replay, env)
		}
	}
	s.cacheMu.RUnlock()
	for _, env := range replay {
		s.sendTo(ra.ClientID, env)
	}

	announce, err := s.serverEnvelope(model.MessageTypeRoleAssignment, model.RoleAssignment{
		ClientID: ra.ClientID,
		Role:     ra.Role,
		Status:   model.AssignmentAssigned,
	})
	if err != nil {
		return
	}
	s.broadcast(announce, ra.ClientID)
}

// HandleFrame implements hub.FrameHandler
func (s *Service) HandleFrame(clientID string, data []byte) {
	sess, ok := s.registry.Get(clientID)
	if !ok {
		s.log.Warn("dropping frame from unknown session", "client_id", clientID)
		return
	}

	if err := s.limiter.Allow(clientID); err != nil {
		s.metrics.EnvelopeRejected("unknown", "rate_limited")
		s.log.Warn("dropping frame", "client_id", clientID, "error", err)
		return
	}

	env, err := model.ParseEnvelope(data)
	if err != nil {
		s.metrics.EnvelopeRejected("unknown", "malformed")
		s.log.Warn("dropping malformed frame", "client_id", clientID, "error", err)
		return
	}
	s.metrics.EnvelopeReceived(string(env.Type), len(data))

	// Identity comes from the session, never from the frame
	env.SenderID = clientID
	env.SenderRole = sess.Role

	switch env.Type {
	case model.MessageTypeRoleAssignment:
		s.metrics.EnvelopeRejected(string(env.Type), "forbidden")
		s.log.Warn("dropping frame", "client_id", clientID, "error", ErrClientAssignment)
		return
	case model.MessageTypeHeartbeat:
		if err := s.registry.Touch(clientID); err != nil {
			s.log.Debug("heartbeat for unknown session", "client_id", clientID)
		}
	}

	// Rejections are logged and counted by the router
	_ = s.router.Publish(env)
}

// HandleDisconnect implements hub.FrameHandler. A clean close releases the
// session at once; anything else leaves it reconnecting until it returns or
// the heartbeat sweep evicts it. Closes from a connection that was since
// superseded under the same ID are ignored.
func (s *Service) HandleDisconnect(clientID string, gen uint64, explicit bool) {
	if explicit {
		if !s.registry.EvictGeneration(clientID, gen) {
			s.log.Debug("ignoring close for unknown or superseded session", "client_id", clientID, "generation", gen)
		}
		return
	}
	switch err := s.registry.MarkReconnectingGeneration(clientID, gen); {
	case errors.Is(err, session.ErrSuperseded):
		s.log.Debug("ignoring drop of superseded connection", "client_id", clientID, "generation", gen)
	case err != nil:
		s.log.Debug("disconnect for unknown session", "client_id", clientID)
	}
}

func (s *Service) relaySync(env *model.Envelope) error {
	if env.Type != model.MessageTypePlaybackControl {
		s.cacheMu.Lock()
		s.latest[env.Type] = env.Clone()
		s.cacheMu.Unlock()
	}
	s.broadcast(env, env.SenderID)
	return nil
}

func (s *Service) relayDirect(env *model.Envelope) error {
	if env.RecipientID == "" {
		return ErrNoRecipient
	}
	if _, ok := s.registry.Get(env.RecipientID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, env.RecipientID)
	}
	s.sendTo(env.RecipientID, env)
	return nil
}

func (s *Service) relayAssignment(env *model.Envelope) error {
	if env.RecipientID != "" {
		s.sendTo(env.RecipientID, env)
		return nil
	}
	s.broadcast(env, "")
	return nil
}

func (s *Service) onSessionEvent(ev session.Event) {
	if ev.Kind != session.EventEvicted {
		return
	}

	id := ev.Session.ID
	s.hub.Disconnect(id)
	s.limiter.Reset(id)

	if ev.Session.Role == model.RoleSource {
		s.cacheMu.Lock()
		s.latest = make(map[model.MessageType]*model.Envelope)
		s.cacheMu.Unlock()
	}

	env, err := s.serverEnvelope(model.MessageTypeRoleAssignment, model.RoleAssignment{
		ClientID: id,
		Role:     ev.Session.Role,
		Status:   model.AssignmentDeparted,
	})
	if err != nil {
		return
	}
	// Published so the mirror freezes too when the source leaves
	_ = s.router.Publish(env)
}

func (s *Service) serverEnvelope(msgType model.MessageType, payload interface{}) (*model.Envelope, error) {
	return model.NewEnvelope(msgType, model.ServerSenderID, "", payload)
}

func (s *Service) sendTo(clientID string, env *model.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		s.log.Error("failed to encode envelope", "type", env.Type, "error", err)
		return
	}
	s.hub.SendToClient(clientID, data)
	s.metrics.EnvelopeSent(string(env.Type), len(data))
}

func (s *Service) broadcast(env *model.Envelope, exceptID string) {
	data, err := env.Marshal()
	if err != nil {
		s.log.Error("failed to encode envelope", "type", env.Type, "error", err)
		return
	}
	s.hub.Broadcast(data, exceptID)
	s.metrics.EnvelopeSent(string(env.Type), len(data))
}

// Playback returns the server's view of the broadcast
func (s *Service) Playback() playback.View {
	return s.mirror.Snapshot()
}

// Sessions returns all live sessions
func (s *Service) Sessions() []model.Session {
	return s.registry.List()
}

// Status summarizes the relay
type Status struct {
	Sessions int           `json:"sessions"`
	SourceID string        `json:"sourceId,omitempty"`
	Playback playback.View `json:"playback"`
}

// Status returns a summary of the relay
func (s *Service) Status() Status {
	st := Status{
		Sessions: s.registry.Count(),
		Playback: s.mirror.Snapshot(),
	}
	if src, ok := s.registry.Source(); ok {
		st.SourceID = src.ID
	}
	return st
}

// Close drops the relay subscriptions
func (s *Service) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.limiter.Stop()
	s.mirror.Close()
}
