package peer

import (
	"fmt"

	"github.com/pion/webrtc/v3"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/config"
)

// PeerConnection is the subset of a WebRTC peer connection the negotiator drives
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) error
	CreateDataChannel(label string) (DataChannel, error)
	// OnICECandidate is called with nil once gathering completes
	OnICECandidate(fn func(*webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnDataChannel(fn func(DataChannel))
	Close() error
}

// DataChannel is the subset of a WebRTC data channel used for control messages
type DataChannel interface {
	Label() string
	OnOpen(fn func())
	OnClose(fn func())
	OnMessage(fn func(data []byte))
	SendText(text string) error
	Close() error
}

// Factory creates peer connections
type Factory interface {
	NewPeerConnection() (PeerConnection, error)
}

// PionFactory creates pion peer connections with the configured ICE servers
type PionFactory struct {
	config webrtc.Configuration
}

// NewPionFactory creates a factory from the webrtc config section
func NewPionFactory(cfg config.WebRTCConfig) *PionFactory {
	iceServers := []webrtc.ICEServer{}
	for _, server := range cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}
	return &PionFactory{config: webrtc.Configuration{ICEServers: iceServers}}
}

// NewPeerConnection implements Factory
func (f *PionFactory) NewPeerConnection() (PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &pionConnection{pc: pc}, nil
}

type pionConnection struct {
	pc *webrtc.PeerConnection
}

func (c *pionConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *pionConnection) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}

	// Drain RTCP so the interceptors keep running
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := sender.Read(rtcpBuf); rtcpErr != nil {
				return
			}
		}
	}()
	return nil
}

func (c *pionConnection) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return &pionChannel{dc: dc}, nil
}

func (c *pionConnection) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			fn(nil)
			return
		}
		init := candidate.ToJSON()
		fn(&init)
	})
}

func (c *pionConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

func (c *pionConnection) OnDataChannel(fn func(DataChannel)) {
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(&pionChannel{dc: dc})
	})
}

func (c *pionConnection) Close() error {
	return c.pc.Close()
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) Label() string { return c.dc.Label() }

func (c *pionChannel) OnOpen(fn func()) { c.dc.OnOpen(fn) }

func (c *pionChannel) OnClose(fn func()) { c.dc.OnClose(fn) }

func (c *pionChannel) OnMessage(fn func(data []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (c *pionChannel) SendText(text string) error { return c.dc.SendText(text) }

func (c *pionChannel) Close() error { return c.dc.Close() }
