// apps/sync-server/internal/model/envelope.go

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType is the type tag carried by every envelope
type MessageType string

// Message types accepted on the primary transport
const (
	MessageTypeCapsuleSync         MessageType = "capsule_sync"
	MessageTypeConstellationUpdate MessageType = "constellation_update"
	MessageTypePlaybackControl     MessageType = "playback_control"
	MessageTypeRoleAssignment      MessageType = "role_assignment"
	MessageTypeHeartbeat           MessageType = "heartbeat"
	MessageTypeOffer               MessageType = "offer"
	MessageTypeAnswer              MessageType = "answer"
	MessageTypeICECandidate        MessageType = "ice_candidate"
)

// ServerSenderID is the sender ID stamped on envelopes produced by the server itself
const ServerSenderID = "server"

var (
	// ErrMalformedFrame is returned when a frame cannot be decoded into an envelope
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrEmptyPayload is returned when decoding an envelope without a payload
	ErrEmptyPayload = errors.New("envelope has no payload")
)

var knownTypes = map[MessageType]struct{}{
	MessageTypeCapsuleSync:         {},
	MessageTypeConstellationUpdate: {},
	MessageTypePlaybackControl:     {},
	MessageTypeRoleAssignment:      {},
	MessageTypeHeartbeat:           {},
	MessageTypeOffer:               {},
	MessageTypeAnswer:              {},
	MessageTypeICECandidate:        {},
}

// IsKnown reports whether the type belongs to the closed set of envelope types
func (t MessageType) IsKnown() bool {
	_, ok := knownTypes[t]
	return ok
}

// IsNegotiation reports whether the type is part of the peer negotiation exchange
func (t MessageType) IsNegotiation() bool {
	return t == MessageTypeOffer || t == MessageTypeAnswer || t == MessageTypeICECandidate
}

// IsStateSync reports whether the type mutates replicated playback state
func (t MessageType) IsStateSync() bool {
	return t == MessageTypeCapsuleSync || t == MessageTypeConstellationUpdate || t == MessageTypePlaybackControl
}

// Envelope is the unit of transport on the primary connection
type Envelope struct {
	Type        MessageType     `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	SenderID    string          `json:"senderId"`
	SenderRole  Role            `json:"role,omitempty"`
	RecipientID string          `json:"recipientId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope with the given payload encoded as JSON
func NewEnvelope(msgType MessageType, senderID string, role Role, payload interface{}) (*Envelope, error) {
	env := &Envelope{
		Type:       msgType,
		Timestamp:  time.Now().UTC(),
		SenderID:   senderID,
		SenderRole: role,
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		env.Payload = data
	}

	return env, nil
}

// ParseEnvelope decodes a JSON text frame into an envelope.
// Type validation against the closed set is left to the router.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return &env, nil
}

// Decode unmarshals the payload into v
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Marshal encodes the envelope as a JSON text frame
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Clone returns a copy that can be mutated independently
func (e *Envelope) Clone() *Envelope {
	c := *e
	if e.Payload != nil {
		c.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return &c
}
