package peer

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// CaptureSource provides the media tracks the source attaches to a peer connection
type CaptureSource interface {
	Tracks() []webrtc.TrackLocal
	Close() error
}

// CaptureFactory acquires a capture source per negotiation
type CaptureFactory func(peerID string) (CaptureSource, error)

// SampleCapture is a VP8 video plus Opus audio capture fed with encoded samples
type SampleCapture struct {
	Width     int
	Height    int
	FrameRate int

	video *webrtc.TrackLocalStaticSample
	audio *webrtc.TrackLocalStaticSample
}

// Opus frames are written in 20ms packets
const opusFrameDuration = 20 * time.Millisecond

// NewSampleCapture creates the tracks for one broadcast
func NewSampleCapture(streamID string, width, height, frameRate int) (*SampleCapture, error) {
	if frameRate <= 0 {
		frameRate = 30
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		fmt.Sprintf("video-%s", streamID),
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		fmt.Sprintf("audio-%s", streamID),
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	return &SampleCapture{
		Width:     width,
		Height:    height,
		FrameRate: frameRate,
		video:     videoTrack,
		audio:     audioTrack,
	}, nil
}

// Tracks implements CaptureSource
func (c *SampleCapture) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{c.video, c.audio}
}

// WriteVideo writes one encoded VP8 frame
func (c *SampleCapture) WriteVideo(frame []byte) error {
	err := c.video.WriteSample(media.Sample{
		Data:     frame,
		Duration: time.Second / time.Duration(c.FrameRate),
	})
	if errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// WriteAudio writes one encoded Opus packet
func (c *SampleCapture) WriteAudio(packet []byte) error {
	err := c.audio.WriteSample(media.Sample{
		Data:     packet,
		Duration: opusFrameDuration,
	})
	if errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// Close implements CaptureSource. Static sample tracks hold no resources of
// their own; they stop once every peer connection using them is closed.
func (c *SampleCapture) Close() error {
	return nil
}
