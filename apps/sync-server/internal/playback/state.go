package playback

import "github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"

// Phase is the authoritative play/pause state
type Phase string

// Phases
const (
	PhaseIdle    Phase = "idle"
	PhasePlaying Phase = "playing"
	PhasePaused  Phase = "paused"
)

// Speed bounds for fast_forward and rewind
const (
	MaxSpeed = 16.0
	MinSpeed = 0.25
)

// Command is a playback control request on the authoritative side
type Command struct {
	Action model.PlaybackAction `json:"action"`
	// Index is the target for seek
	Index int `json:"index,omitempty"`
	// Speed overrides the doubling/halving of fast_forward and rewind
	Speed float64 `json:"speed,omitempty"`
}

// View is what a participant currently shows
type View struct {
	State       model.PlaybackState `json:"state"`
	Phase       Phase               `json:"phase"`
	Stale       bool                `json:"stale"`
	Initialized bool                `json:"initialized"`
	SourceID    string              `json:"sourceId,omitempty"`
}

// EventKind identifies a synchronizer event
type EventKind string

// Synchronizer events
const (
	EventStateChanged       EventKind = "state_changed"
	EventSourceDisconnected EventKind = "source_disconnected"
	EventSourceRestored     EventKind = "source_restored"
)

// Event reports a change to the local view
type Event struct {
	Kind EventKind
	View View
}

// phaseOf derives the phase from the playback state. Source and observers
// both use it, so a replica never disagrees with the source about phase.
func phaseOf(st model.PlaybackState) Phase {
	switch {
	case st.IsPlaying:
		return PhasePlaying
	case st.Index == 0:
		return PhaseIdle
	default:
		return PhasePaused
	}
}

func clampSpeed(v float64) float64 {
	if v > MaxSpeed {
		return MaxSpeed
	}
	if v < MinSpeed {
		return MinSpeed
	}
	return v
}

// transition applies cmd to st and reports whether anything changed
func transition(st model.PlaybackState, cmd Command) (model.PlaybackState, bool, error) {
	next := st

	switch cmd.Action {
	case model.ActionPlay:
		next.IsPlaying = true
	case model.ActionPause:
		next.IsPlaying = false
	case model.ActionSeek:
		if cmd.Index < 0 {
			return st, false, ErrInvalidCommand
		}
		next.Index = cmd.Index
	case model.ActionReset:
		next.Index = 0
		next.IsPlaying = false
		next.Speed = 1
	case model.ActionFastForward:
		if cmd.Speed > 0 {
			next.Speed = clampSpeed(cmd.Speed)
		} else {
			next.Speed = clampSpeed(st.Speed * 2)
		}
	case model.ActionRewind:
		if cmd.Speed > 0 {
			next.Speed = clampSpeed(cmd.Speed)
		} else {
			next.Speed = clampSpeed(st.Speed / 2)
		}
	default:
		return st, false, ErrInvalidCommand
	}

	return next, next != st, nil
}
