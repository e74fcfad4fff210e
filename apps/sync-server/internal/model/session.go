package model

import "time"

// ConnectionState is the transport state of a session
type ConnectionState string

// Connection states
const (
	StateConnecting   ConnectionState = "connecting"
	StateOpen         ConnectionState = "open"
	StateReconnecting ConnectionState = "reconnecting"
	StateClosed       ConnectionState = "closed"
)

// Session represents one connected participant
type Session struct {
	ID                string          `json:"id"`
	Role              Role            `json:"role"`
	State             ConnectionState `json:"connectionState"`
	ReconnectAttempts int             `json:"reconnectAttempts"`
	LastHeartbeatAt   time.Time       `json:"lastHeartbeatAt"`
	ConnectedAt       time.Time       `json:"connectedAt"`
	// Generation increases every time the ID is registered again
	Generation uint64 `json:"generation"`
}

// Live reports whether the session still holds its slot
func (s Session) Live() bool {
	return s.State == StateOpen || s.State == StateReconnecting || s.State == StateConnecting
}
