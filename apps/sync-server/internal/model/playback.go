package model

// TimelineMode describes the granularity of the underlying timeline
type TimelineMode string

// Timeline modes
const (
	ModeDaily      TimelineMode = "daily"
	ModeSeasonal   TimelineMode = "seasonal"
	ModeEpochal    TimelineMode = "epochal"
	ModeMillennial TimelineMode = "millennial"
)

// Valid reports whether the mode belongs to the closed set
func (m TimelineMode) Valid() bool {
	switch m {
	case ModeDaily, ModeSeasonal, ModeEpochal, ModeMillennial:
		return true
	}
	return false
}

// EntityStatus is the status of the highlighted entity
type EntityStatus string

// Entity statuses
const (
	EntityOperational EntityStatus = "operational"
	EntityDegraded    EntityStatus = "degraded"
	EntityFailed      EntityStatus = "failed"
)

// Valid reports whether the status belongs to the closed set
func (s EntityStatus) Valid() bool {
	switch s {
	case EntityOperational, EntityDegraded, EntityFailed:
		return true
	}
	return false
}

// PlaybackAction is a control action driving the authoritative state machine
type PlaybackAction string

// Playback actions
const (
	ActionPlay        PlaybackAction = "play"
	ActionPause       PlaybackAction = "pause"
	ActionSeek        PlaybackAction = "seek"
	ActionReset       PlaybackAction = "reset"
	ActionFastForward PlaybackAction = "fast_forward"
	ActionRewind      PlaybackAction = "rewind"
)

// Valid reports whether the action belongs to the closed set
func (a PlaybackAction) Valid() bool {
	switch a {
	case ActionPlay, ActionPause, ActionSeek, ActionReset, ActionFastForward, ActionRewind:
		return true
	}
	return false
}

// PlaybackState is the replicated "what is being shown" snapshot.
// It is the payload of capsule_sync.
type PlaybackState struct {
	Index             int          `json:"index"`
	IsPlaying         bool         `json:"isPlaying"`
	Speed             float64      `json:"speed"`
	Mode              TimelineMode `json:"mode"`
	HighlightedEntity string       `json:"highlightedEntity"`
	EntityStatus      EntityStatus `json:"entityStatus"`
}

// DefaultPlaybackState returns the state of a freshly started broadcast
func DefaultPlaybackState() PlaybackState {
	return PlaybackState{
		Speed:        1,
		Mode:         ModeDaily,
		EntityStatus: EntityOperational,
	}
}

// ConstellationUpdate is the payload of constellation_update
type ConstellationUpdate struct {
	HighlightedEntity string       `json:"highlightedEntity"`
	EntityStatus      EntityStatus `json:"entityStatus"`
}

// PlaybackControl is the payload of playback_control. It carries the
// resulting absolute position so that applying it twice is harmless.
type PlaybackControl struct {
	Action    PlaybackAction `json:"action"`
	Index     int            `json:"index"`
	Speed     float64        `json:"speed"`
	IsPlaying bool           `json:"isPlaying"`
}
