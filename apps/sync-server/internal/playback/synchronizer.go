package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

// Emitter delivers envelopes on the primary transport
type Emitter interface {
	Send(env *model.Envelope) error
}

// ControlPath is a lower-latency path for playback_control, typically a
// peer data channel. An error means the path is not usable right now.
type ControlPath interface {
	SendControl(env *model.Envelope) error
}

// Options configures a Synchronizer
type Options struct {
	LocalID     string
	Role        model.Role
	Emitter     Emitter
	Initial     *model.PlaybackState
	EventBuffer int
	Logger      *slog.Logger
}

// Synchronizer keeps one participant's view of the broadcast. On the source
// it is the authoritative state machine; everywhere else it is a replica
// fed by envelopes from the source.
type Synchronizer struct {
	// opMu serializes authoritative operations so emissions keep their order
	opMu sync.Mutex

	mu          sync.RWMutex
	localID     string
	role        model.Role
	state       model.PlaybackState
	stale       bool
	initialized bool
	sourceID    string
	control     ControlPath
	closed      bool

	emitter Emitter
	events  chan Event
	log     *slog.Logger
}

// New creates a synchronizer
func New(opts Options) *Synchronizer {
	st := model.DefaultPlaybackState()
	if opts.Initial != nil {
		st = *opts.Initial
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 32
	}

	s := &Synchronizer{
		localID: opts.LocalID,
		role:    opts.Role,
		state:   st,
		emitter: opts.Emitter,
		events:  make(chan Event, opts.EventBuffer),
		log:     logger.OrDiscard(opts.Logger).With("component", "playback"),
	}
	if s.role == model.RoleSource {
		s.initialized = true
		s.sourceID = s.localID
	}
	return s
}

// Events returns the channel on which view changes are reported
func (s *Synchronizer) Events() <-chan Event {
	return s.events
}

// SetRole updates the local role, e.g. after the server capped a request
func (s *Synchronizer) SetRole(role model.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
	if role == model.RoleSource {
		s.initialized = true
		s.stale = false
		s.sourceID = s.localID
	}
}

// SetLocalID updates the identity used as sender on emitted envelopes
func (s *Synchronizer) SetLocalID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sourceID == s.localID && s.role == model.RoleSource {
		s.sourceID = id
	}
	s.localID = id
}

// SetControlPath installs or clears the low-latency control path
func (s *Synchronizer) SetControlPath(cp ControlPath) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.control = cp
}

// Snapshot returns the current view
func (s *Synchronizer) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

func (s *Synchronizer) viewLocked() View {
	return View{
		State:       s.state,
		Phase:       phaseOf(s.state),
		Stale:       s.stale,
		Initialized: s.initialized,
		SourceID:    s.sourceID,
	}
}

// Control applies a playback command on the source and emits the result.
// Commands that leave the state unchanged emit nothing.
func (s *Synchronizer) Control(cmd Command) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.role != model.RoleSource {
		s.mu.Unlock()
		return ErrNotAuthoritative
	}
	next, changed, err := transition(s.state, cmd)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", err, cmd.Action)
	}
	if !changed {
		s.mu.Unlock()
		return nil
	}
	s.state = next
	view := s.viewLocked()
	s.notifyLocked(EventStateChanged, view)
	s.mu.Unlock()

	s.log.Debug("playback command applied", "action", cmd.Action, "index", next.Index, "speed", next.Speed)

	ctrl := model.PlaybackControl{
		Action:    cmd.Action,
		Index:     next.Index,
		Speed:     next.Speed,
		IsPlaying: next.IsPlaying,
	}
	return errors.Join(
		s.emit(model.MessageTypePlaybackControl, ctrl, true),
		s.emit(model.MessageTypeCapsuleSync, next, false),
	)
}

// Advance moves the index forward by one step while playing
func (s *Synchronizer) Advance() error {
	return s.mutate(func(st *model.PlaybackState) error {
		if !st.IsPlaying {
			return nil
		}
		st.Index++
		return nil
	})
}

// SetMode switches the timeline granularity
func (s *Synchronizer) SetMode(mode model.TimelineMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: mode %q", ErrInvalidCommand, mode)
	}
	return s.mutate(func(st *model.PlaybackState) error {
		st.Mode = mode
		return nil
	})
}

// Highlight changes the highlighted entity and its status
func (s *Synchronizer) Highlight(entity string, status model.EntityStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: entity status %q", ErrInvalidCommand, status)
	}
	return s.mutate(func(st *model.PlaybackState) error {
		st.HighlightedEntity = entity
		st.EntityStatus = status
		return nil
	})
}

// Announce re-emits the full snapshot, e.g. after (re)connecting
func (s *Synchronizer) Announce() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	role, st := s.role, s.state
	s.mu.RUnlock()

	if role != model.RoleSource {
		return ErrNotAuthoritative
	}
	return s.emit(model.MessageTypeCapsuleSync, st, false)
}

// mutate runs fn against the authoritative state and emits capsule_sync,
// plus constellation_update when the highlighted entity changed.
func (s *Synchronizer) mutate(fn func(st *model.PlaybackState) error) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.role != model.RoleSource {
		s.mu.Unlock()
		return ErrNotAuthoritative
	}
	prev := s.state
	next := prev
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	if next == prev {
		s.mu.Unlock()
		return nil
	}
	s.state = next
	s.notifyLocked(EventStateChanged, s.viewLocked())
	s.mu.Unlock()

	var errs []error
	errs = append(errs, s.emit(model.MessageTypeCapsuleSync, next, false))
	if next.HighlightedEntity != prev.HighlightedEntity || next.EntityStatus != prev.EntityStatus {
		update := model.ConstellationUpdate{
			HighlightedEntity: next.HighlightedEntity,
			EntityStatus:      next.EntityStatus,
		}
		errs = append(errs, s.emit(model.MessageTypeConstellationUpdate, update, false))
	}
	return errors.Join(errs...)
}

// emit sends one envelope. playback_control goes out on the control path
// first when one is installed; the primary transport always gets a copy.
func (s *Synchronizer) emit(msgType model.MessageType, payload interface{}, preferControl bool) error {
	s.mu.RLock()
	localID, control := s.localID, s.control
	s.mu.RUnlock()

	env, err := model.NewEnvelope(msgType, localID, model.RoleSource, payload)
	if err != nil {
		return err
	}

	if preferControl && control != nil {
		if err := control.SendControl(env); err != nil {
			s.log.Debug("control path unavailable, using primary transport", "error", err)
		}
	}

	if s.emitter == nil {
		return nil
	}
	if err := s.emitter.Send(env); err != nil {
		s.log.Warn("failed to deliver playback update", "type", msgType, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrNotDelivered, msgType, err)
	}
	return nil
}

// Apply folds an inbound envelope into the local replica. Only envelopes
// sent by the source may change state. While stale, everything except a
// fresh capsule_sync is ignored.
func (s *Synchronizer) Apply(env *model.Envelope) error {
	if env == nil {
		return nil
	}

	switch env.Type {
	case model.MessageTypeRoleAssignment:
		return s.applyAssignment(env)
	case model.MessageTypeCapsuleSync, model.MessageTypeConstellationUpdate, model.MessageTypePlaybackControl:
	default:
		return nil
	}

	if env.SenderRole != model.RoleSource {
		s.log.Warn("ignoring playback update from non-source sender",
			"type", env.Type, "sender", env.SenderID, "role", env.SenderRole)
		return ErrNotAuthoritative
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role == model.RoleSource {
		s.log.Warn("ignoring playback update while acting as source", "type", env.Type, "sender", env.SenderID)
		return ErrNotAuthoritative
	}
	if s.stale && env.Type != model.MessageTypeCapsuleSync {
		return ErrStale
	}

	next := s.state
	switch env.Type {
	case model.MessageTypeCapsuleSync:
		var st model.PlaybackState
		if err := env.Decode(&st); err != nil {
			return err
		}
		if !st.Mode.Valid() || !st.EntityStatus.Valid() {
			return fmt.Errorf("%w: mode %q, entity status %q", ErrInvalidCommand, st.Mode, st.EntityStatus)
		}
		next = st
	case model.MessageTypeConstellationUpdate:
		var u model.ConstellationUpdate
		if err := env.Decode(&u); err != nil {
			return err
		}
		if !u.EntityStatus.Valid() {
			return fmt.Errorf("%w: entity status %q", ErrInvalidCommand, u.EntityStatus)
		}
		next.HighlightedEntity = u.HighlightedEntity
		next.EntityStatus = u.EntityStatus
	case model.MessageTypePlaybackControl:
		var c model.PlaybackControl
		if err := env.Decode(&c); err != nil {
			return err
		}
		next.Index = c.Index
		next.Speed = c.Speed
		next.IsPlaying = c.IsPlaying
	}

	restored := s.stale
	changed := next != s.state || !s.initialized || s.sourceID != env.SenderID
	if env.Type == model.MessageTypeCapsuleSync {
		s.initialized = true
		s.stale = false
	}
	s.state = next
	s.sourceID = env.SenderID

	switch {
	case restored:
		s.notifyLocked(EventSourceRestored, s.viewLocked())
	case changed:
		s.notifyLocked(EventStateChanged, s.viewLocked())
	}
	return nil
}

func (s *Synchronizer) applyAssignment(env *model.Envelope) error {
	var ra model.RoleAssignment
	if err := env.Decode(&ra); err != nil {
		return err
	}
	if ra.Status != model.AssignmentDeparted || ra.Role != model.RoleSource {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role == model.RoleSource || s.stale {
		return nil
	}
	if s.sourceID != "" && ra.ClientID != "" && ra.ClientID != s.sourceID {
		return nil
	}
	s.stale = true
	s.log.Info("source disconnected, freezing view", "source", ra.ClientID)
	s.notifyLocked(EventSourceDisconnected, s.viewLocked())
	return nil
}

// notifyLocked publishes without blocking; a slow consumer loses events,
// never state.
func (s *Synchronizer) notifyLocked(kind EventKind, view View) {
	if s.closed {
		return
	}
	select {
	case s.events <- Event{Kind: kind, View: view}:
	default:
		s.log.Debug("dropping playback event, consumer is behind", "kind", kind)
	}
}

// Close stops event delivery
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
