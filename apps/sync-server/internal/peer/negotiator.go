package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/metrics"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

// State is the state of one negotiation
type State string

// Negotiation states
const (
	StateIdle           State = "idle"
	StateOfferSent      State = "offer-sent"
	StateAnswerReceived State = "answer-received"
	StateConnected      State = "connected"
	StateFailed         State = "failed"
	StateClosed         State = "closed"
)

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Signaler sends negotiation envelopes over the primary transport
type Signaler interface {
	Send(env *model.Envelope) error
}

// ControlSink receives playback envelopes arriving on a data channel
type ControlSink interface {
	Apply(env *model.Envelope) error
}

// Options configures a Negotiator
type Options struct {
	LocalID          string
	Role             model.Role
	Factory          Factory
	Capture          CaptureFactory
	Signaler         Signaler
	Sink             ControlSink
	Timeout          time.Duration
	DataChannelLabel string
	Logger           *slog.Logger
	Metrics          metrics.Collector
}

type negotiation struct {
	peerID    string
	state     State
	pc        PeerConnection
	capture   CaptureSource
	channel   DataChannel
	pending   []webrtc.ICECandidateInit
	remoteSet bool
	timer     *time.Timer
}

// Negotiator runs one offer/answer exchange per peer pair and keeps the
// resulting data channels as a control path.
type Negotiator struct {
	mu           sync.Mutex
	localID      string
	role         model.Role
	negotiations map[string]*negotiation
	closed       bool

	opts    Options
	log     *slog.Logger
	metrics metrics.Collector
}

// NewNegotiator creates a negotiator
func NewNegotiator(opts Options) *Negotiator {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.DataChannelLabel == "" {
		opts.DataChannelLabel = "playback-control"
	}
	return &Negotiator{
		localID:      opts.LocalID,
		role:         opts.Role,
		negotiations: make(map[string]*negotiation),
		opts:         opts,
		log:          logger.OrDiscard(opts.Logger).With("component", "peer"),
		metrics:      metrics.OrNop(opts.Metrics),
	}
}

// SetIdentity updates the local identity once the server has assigned it
func (n *Negotiator) SetIdentity(id string, role model.Role) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.localID = id
	n.role = role
}

// State returns the state of the negotiation with peerID
func (n *Negotiator) State(peerID string) (State, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	neg, ok := n.negotiations[peerID]
	if !ok {
		return "", false
	}
	return neg.state, true
}

// Peers returns the IDs of all known negotiations
func (n *Negotiator) Peers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(n.negotiations))
	for id := range n.negotiations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Offer starts a negotiation with peerID. Only the source offers.
func (n *Negotiator) Offer(ctx context.Context, peerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	if n.role != model.RoleSource {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s may not offer", ErrProtocolViolation, n.role)
	}
	if old, ok := n.negotiations[peerID]; ok && !old.state.Terminal() {
		n.mu.Unlock()
		return fmt.Errorf("%w: negotiation with %s already %s", ErrProtocolViolation, peerID, old.state)
	}

	neg, err := n.newNegotiationLocked(peerID)
	if err != nil {
		n.mu.Unlock()
		return err
	}

	if n.opts.Capture != nil {
		capture, err := n.opts.Capture(peerID)
		if err != nil {
			n.failLocked(neg, "capture")
			n.mu.Unlock()
			return fmt.Errorf("failed to acquire capture source: %w", err)
		}
		neg.capture = capture
		for _, track := range capture.Tracks() {
			if err := neg.pc.AddTrack(track); err != nil {
				n.failLocked(neg, "add_track")
				n.mu.Unlock()
				return fmt.Errorf("failed to add track: %w", err)
			}
		}
	}

	dc, err := neg.pc.CreateDataChannel(n.opts.DataChannelLabel)
	if err != nil {
		n.failLocked(neg, "data_channel")
		n.mu.Unlock()
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	n.attachChannelLocked(neg, dc)

	offer, err := neg.pc.CreateOffer()
	if err != nil {
		n.failLocked(neg, "create_offer")
		n.mu.Unlock()
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := neg.pc.SetLocalDescription(offer); err != nil {
		n.failLocked(neg, "set_local")
		n.mu.Unlock()
		return fmt.Errorf("failed to set local description: %w", err)
	}
	n.setStateLocked(neg, StateOfferSent)
	n.startTimerLocked(neg)
	env, err := n.envelopeLocked(model.MessageTypeOffer, peerID, model.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP})
	n.mu.Unlock()
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		n.Remove(peerID)
		return err
	}
	if err := n.opts.Signaler.Send(env); err != nil {
		return fmt.Errorf("failed to send offer: %w", err)
	}

	n.log.Info("offer sent", "peer", peerID)
	return nil
}

// HandleEnvelope processes negotiation envelopes addressed to this
// participant. A departed role_assignment closes the negotiation with that
// participant.
func (n *Negotiator) HandleEnvelope(env *model.Envelope) error {
	var err error
	switch env.Type {
	case model.MessageTypeOffer:
		err = n.handleOffer(env)
	case model.MessageTypeAnswer:
		err = n.handleAnswer(env)
	case model.MessageTypeICECandidate:
		err = n.handleCandidate(env)
	case model.MessageTypeRoleAssignment:
		var ra model.RoleAssignment
		if decodeErr := env.Decode(&ra); decodeErr == nil && ra.Status == model.AssignmentDeparted {
			n.Remove(ra.ClientID)
		}
		return nil
	default:
		return nil
	}

	if errors.Is(err, ErrProtocolViolation) {
		n.log.Warn("rejected negotiation message", "type", env.Type, "sender", env.SenderID, "error", err)
	}
	return err
}

func (n *Negotiator) handleOffer(env *model.Envelope) error {
	var desc model.SessionDescription
	if err := env.Decode(&desc); err != nil {
		return err
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	if n.role == model.RoleSource {
		n.mu.Unlock()
		return fmt.Errorf("%w: source received an offer", ErrProtocolViolation)
	}
	if env.SenderRole != model.RoleSource {
		n.mu.Unlock()
		return fmt.Errorf("%w: offer from %s", ErrProtocolViolation, env.SenderRole)
	}

	neg, ok := n.negotiations[env.SenderID]
	switch {
	case !ok || neg.state.Terminal():
		var err error
		if neg, err = n.newNegotiationLocked(env.SenderID); err != nil {
			n.mu.Unlock()
			return err
		}
	case neg.pc == nil && neg.state == StateIdle:
		// placeholder holding early candidates
		pc, err := n.opts.Factory.NewPeerConnection()
		if err != nil {
			n.mu.Unlock()
			return err
		}
		neg.pc = pc
		n.hookLocked(neg)
	default:
		n.mu.Unlock()
		return fmt.Errorf("%w: offer while %s", ErrProtocolViolation, neg.state)
	}

	neg.pc.OnDataChannel(func(dc DataChannel) {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.negotiations[neg.peerID] == neg {
			n.attachChannelLocked(neg, dc)
		}
	})

	if err := neg.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}); err != nil {
		n.failLocked(neg, "set_remote")
		n.mu.Unlock()
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	n.setStateLocked(neg, StateOfferSent)
	n.flushLocked(neg)

	answer, err := neg.pc.CreateAnswer()
	if err != nil {
		n.failLocked(neg, "create_answer")
		n.mu.Unlock()
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := neg.pc.SetLocalDescription(answer); err != nil {
		n.failLocked(neg, "set_local")
		n.mu.Unlock()
		return fmt.Errorf("failed to set local description: %w", err)
	}
	n.setStateLocked(neg, StateAnswerReceived)
	n.startTimerLocked(neg)
	out, err := n.envelopeLocked(model.MessageTypeAnswer, neg.peerID, model.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP})
	n.mu.Unlock()
	if err != nil {
		return err
	}

	if err := n.opts.Signaler.Send(out); err != nil {
		return fmt.Errorf("failed to send answer: %w", err)
	}
	n.log.Info("answer sent", "peer", env.SenderID)
	return nil
}

func (n *Negotiator) handleAnswer(env *model.Envelope) error {
	var desc model.SessionDescription
	if err := env.Decode(&desc); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != model.RoleSource {
		return fmt.Errorf("%w: %s received an answer", ErrProtocolViolation, n.role)
	}
	neg, ok := n.negotiations[env.SenderID]
	if !ok || neg.state != StateOfferSent {
		state := State("none")
		if ok {
			state = neg.state
		}
		return fmt.Errorf("%w: answer from %s while %s", ErrProtocolViolation, env.SenderID, state)
	}

	if err := neg.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP}); err != nil {
		n.failLocked(neg, "set_remote")
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	n.setStateLocked(neg, StateAnswerReceived)
	n.flushLocked(neg)
	return nil
}

func (n *Negotiator) handleCandidate(env *model.Envelope) error {
	var c model.ICECandidate
	if err := env.Decode(&c); err != nil {
		return err
	}
	init := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	neg, ok := n.negotiations[env.SenderID]
	if !ok || neg.state.Terminal() {
		if n.role == model.RoleSource {
			return fmt.Errorf("%w: candidate from %s without an offer", ErrProtocolViolation, env.SenderID)
		}
		// Candidates may overtake the offer; park them until it arrives
		neg = &negotiation{peerID: env.SenderID, state: StateIdle}
		n.negotiations[env.SenderID] = neg
	}

	if !neg.remoteSet {
		neg.pending = append(neg.pending, init)
		return nil
	}
	if err := neg.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// SendControl writes env to every open data channel
func (n *Negotiator) SendControl(env *model.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	n.mu.Lock()
	channels := make([]DataChannel, 0, len(n.negotiations))
	for _, neg := range n.negotiations {
		if neg.channel != nil {
			channels = append(channels, neg.channel)
		}
	}
	n.mu.Unlock()

	if len(channels) == 0 {
		return ErrNoControlChannel
	}

	var errs []error
	for _, dc := range channels {
		if err := dc.SendText(string(data)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dc.Label(), err))
		}
	}
	return errors.Join(errs...)
}

// Remove closes and forgets the negotiation with peerID
func (n *Negotiator) Remove(peerID string) {
	n.mu.Lock()
	neg, ok := n.negotiations[peerID]
	if ok {
		delete(n.negotiations, peerID)
		n.setStateLocked(neg, StateClosed)
	}
	n.mu.Unlock()

	if ok {
		n.release(neg)
	}
}

// Close closes every negotiation
func (n *Negotiator) Close() error {
	n.mu.Lock()
	n.closed = true
	negs := make([]*negotiation, 0, len(n.negotiations))
	for id, neg := range n.negotiations {
		n.setStateLocked(neg, StateClosed)
		negs = append(negs, neg)
		delete(n.negotiations, id)
	}
	n.mu.Unlock()

	var errs []error
	for _, neg := range negs {
		if err := n.release(neg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Negotiator) newNegotiationLocked(peerID string) (*negotiation, error) {
	pc, err := n.opts.Factory.NewPeerConnection()
	if err != nil {
		return nil, err
	}

	neg := &negotiation{peerID: peerID, state: StateIdle, pc: pc}
	if old, ok := n.negotiations[peerID]; ok {
		neg.pending = old.pending
	}
	n.negotiations[peerID] = neg
	n.hookLocked(neg)
	return neg, nil
}

func (n *Negotiator) hookLocked(neg *negotiation) {
	neg.pc.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			return
		}
		n.mu.Lock()
		current := n.negotiations[neg.peerID] == neg
		env, err := n.envelopeLocked(model.MessageTypeICECandidate, neg.peerID, model.ICECandidate{
			Candidate:        c.Candidate,
			SDPMid:           c.SDPMid,
			SDPMLineIndex:    c.SDPMLineIndex,
			UsernameFragment: c.UsernameFragment,
		})
		n.mu.Unlock()
		if !current || err != nil {
			return
		}
		if err := n.opts.Signaler.Send(env); err != nil {
			n.log.Warn("failed to send ICE candidate", "peer", neg.peerID, "error", err)
		}
	})

	neg.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.mu.Lock()
		if n.negotiations[neg.peerID] != neg || neg.state.Terminal() {
			n.mu.Unlock()
			return
		}
		var release bool
		switch state {
		case webrtc.PeerConnectionStateConnected:
			n.setStateLocked(neg, StateConnected)
			if neg.timer != nil {
				neg.timer.Stop()
			}
		case webrtc.PeerConnectionStateFailed:
			n.setStateLocked(neg, StateFailed)
			release = true
		case webrtc.PeerConnectionStateClosed:
			n.setStateLocked(neg, StateClosed)
		}
		n.mu.Unlock()

		n.log.Debug("peer connection state changed", "peer", neg.peerID, "state", state.String())
		if release {
			n.release(neg)
		}
	})
}

func (n *Negotiator) attachChannelLocked(neg *negotiation, dc DataChannel) {
	dc.OnOpen(func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.negotiations[neg.peerID] == neg && !neg.state.Terminal() {
			neg.channel = dc
		}
		n.log.Debug("control channel open", "peer", neg.peerID, "label", dc.Label())
	})
	dc.OnMessage(func(data []byte) {
		env, err := model.ParseEnvelope(data)
		if err != nil {
			n.log.Warn("dropping malformed control message", "peer", neg.peerID, "error", err)
			return
		}
		if n.opts.Sink == nil {
			return
		}
		if err := n.opts.Sink.Apply(env); err != nil {
			n.log.Debug("control message not applied", "peer", neg.peerID, "error", err)
		}
	})
	dc.OnClose(func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if neg.channel == dc {
			neg.channel = nil
		}
	})
}

func (n *Negotiator) flushLocked(neg *negotiation) {
	neg.remoteSet = true
	for _, c := range neg.pending {
		if err := neg.pc.AddICECandidate(c); err != nil {
			n.log.Warn("failed to add buffered ICE candidate", "peer", neg.peerID, "error", err)
		}
	}
	neg.pending = nil
}

func (n *Negotiator) startTimerLocked(neg *negotiation) {
	if neg.timer != nil {
		neg.timer.Stop()
	}
	neg.timer = time.AfterFunc(n.opts.Timeout, func() {
		n.mu.Lock()
		if n.negotiations[neg.peerID] != neg || neg.state == StateConnected || neg.state.Terminal() {
			n.mu.Unlock()
			return
		}
		n.setStateLocked(neg, StateFailed)
		n.mu.Unlock()

		n.log.Warn("peer negotiation timed out", "peer", neg.peerID, "timeout", n.opts.Timeout)
		n.release(neg)
	})
}

func (n *Negotiator) failLocked(neg *negotiation, stage string) {
	n.setStateLocked(neg, StateFailed)
	n.log.Warn("peer negotiation failed", "peer", neg.peerID, "stage", stage)
	go n.release(neg)
}

func (n *Negotiator) setStateLocked(neg *negotiation, state State) {
	if neg.state == state {
		return
	}
	neg.state = state
	n.metrics.NegotiationStateChanged(string(n.role), string(state))
}

func (n *Negotiator) envelopeLocked(msgType model.MessageType, peerID string, payload interface{}) (*model.Envelope, error) {
	env, err := model.NewEnvelope(msgType, n.localID, n.role, payload)
	if err != nil {
		return nil, err
	}
	env.RecipientID = peerID
	return env, nil
}

// release frees a negotiation's resources; it must not hold n.mu
func (n *Negotiator) release(neg *negotiation) error {
	n.mu.Lock()
	timer, pc, capture := neg.timer, neg.pc, neg.capture
	neg.timer, neg.pc, neg.capture, neg.channel = nil, nil, nil, nil
	n.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	var errs []error
	if pc != nil {
		if err := pc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close peer connection %s: %w", neg.peerID, err))
		}
	}
	if capture != nil {
		if err := capture.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
