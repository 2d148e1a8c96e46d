package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SignalType is the kind of a signaling relay message.
type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
)

// Signal is a directed message in the persisted signaling log used to
// bootstrap peer connections. A nil ToPeerID means broadcast to every
// peer in the room. Rows stay in the store until explicitly consumed.
type Signal struct {
	ID         uuid.UUID       `json:"id"`
	RoomID     uuid.UUID       `json:"room_id"`
	FromPeerID string          `json:"from_peer_id"`
	ToPeerID   *string         `json:"to_peer_id,omitempty"`
	Type       SignalType      `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	IsConsumed bool            `json:"is_consumed"`
	CreatedAt  time.Time       `json:"created_at"`
}
