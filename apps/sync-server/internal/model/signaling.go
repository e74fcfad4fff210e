// apps/sync-server/internal/model/signaling.go

package model

// AssignmentStatus tells whether a role_assignment grants or releases a slot
type AssignmentStatus string

// Assignment statuses
const (
	AssignmentAssigned AssignmentStatus = "assigned"
	AssignmentDeparted AssignmentStatus = "departed"
)

// RoleAssignment is the payload of role_assignment
type RoleAssignment struct {
	ClientID      string           `json:"clientId"`
	Role          Role             `json:"role"`
	RequestedRole Role             `json:"requestedRole,omitempty"`
	Status        AssignmentStatus `json:"status"`
	// Generation identifies the server-side connection; never sent
	Generation uint64 `json:"-"`
}

// Heartbeat is the payload of heartbeat
type Heartbeat struct {
	Sequence uint64 `json:"sequence"`
}

// SessionDescription is the payload of offer and answer
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is the payload of ice_candidate
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}
