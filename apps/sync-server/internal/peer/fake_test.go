package peer

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

type fakeChannel struct {
	mu      sync.Mutex
	label   string
	onOpen  func()
	onClose func()
	onMsg   func([]byte)
	sent    []string
	closed  bool
}

func (c *fakeChannel) Label() string { return c.label }

func (c *fakeChannel) OnOpen(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = fn
}

func (c *fakeChannel) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

func (c *fakeChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMsg = fn
}

func (c *fakeChannel) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("channel closed")
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) open() {
	c.mu.Lock()
	fn := c.onOpen
	c.mu.Unlock()
	fn()
}

func (c *fakeChannel) deliver(data []byte) {
	c.mu.Lock()
	fn := c.onMsg
	c.mu.Unlock()
	fn(data)
}

func (c *fakeChannel) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type fakePeerConnection struct {
	mu          sync.Mutex
	ops         []string
	candidates  []string
	tracks      int
	channels    []*fakeChannel
	closed      bool
	onCandidate func(*webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onChannel   func(DataChannel)
}

func (p *fakePeerConnection) record(op string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, op)
}

func (p *fakePeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	p.record("create_offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	p.record("create_answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeerConnection) SetLocalDescription(webrtc.SessionDescription) error {
	p.record("set_local")
	return nil
}

func (p *fakePeerConnection) SetRemoteDescription(webrtc.SessionDescription) error {
	p.record("set_remote")
	return nil
}

func (p *fakePeerConnection) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, "add_candidate")
	p.candidates = append(p.candidates, c.Candidate)
	return nil
}

func (p *fakePeerConnection) AddTrack(webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks++
	return nil
}

func (p *fakePeerConnection) CreateDataChannel(label string) (DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dc := &fakeChannel{label: label}
	p.channels = append(p.channels, dc)
	return dc, nil
}

func (p *fakePeerConnection) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

func (p *fakePeerConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeerConnection) OnDataChannel(fn func(DataChannel)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChannel = fn
}

func (p *fakePeerConnection) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeerConnection) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeerConnection) added() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.candidates...)
}

func (p *fakePeerConnection) opLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

func (p *fakePeerConnection) setState(state webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(state)
}

func (p *fakePeerConnection) gather(candidate string) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	fn(&webrtc.ICECandidateInit{Candidate: candidate})
}

func (p *fakePeerConnection) remoteChannel(label string) *fakeChannel {
	p.mu.Lock()
	fn := p.onChannel
	p.mu.Unlock()
	dc := &fakeChannel{label: label}
	fn(dc)
	return dc
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakePeerConnection
}

func (f *fakeFactory) NewPeerConnection() (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc := &fakePeerConnection{}
	f.conns = append(f.conns, pc)
	return pc, nil
}

func (f *fakeFactory) last() *fakePeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []*model.Envelope
}

func (s *fakeSignaler) Send(env *model.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env.Clone())
	return nil
}

func (s *fakeSignaler) ofType(t model.MessageType) []*model.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Envelope
	for _, env := range s.sent {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

type fakeCapture struct {
	closed bool
}

func (c *fakeCapture) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{nil, nil}
}

func (c *fakeCapture) Close() error {
	c.closed = true
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	applied []*model.Envelope
}

func (s *recordingSink) Apply(env *model.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, env)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}
