package models

import (
	"time"

	"github.com/google/uuid"
)

// Player represents a participant in a room. PeerID is the transport
// address used for the peer mesh, not an identity. IsConnected is a
// liveness hint only; the roster row is the authoritative membership.
type Player struct {
	ID          uuid.UUID `json:"id"`
	RoomID      uuid.UUID `json:"room_id"`
	Name        string    `json:"player_name"`
	PeerID      string    `json:"peer_id"`
	IsHost      bool      `json:"is_host"`
	IsPsychic   bool      `json:"is_psychic"`
	IsConnected bool      `json:"is_connected"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSeen    time.Time `json:"last_seen"`
}
