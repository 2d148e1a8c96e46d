// Package protocol defines the typed message envelope exchanged over
// peer channels, plus helpers for fanning messages out and routing
// inbound ones to per-type handlers.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates the payload carried by a Message.
type MessageType string

const (
	MessageDialUpdate    MessageType = "dial-update"
	MessageLockPosition  MessageType = "lock-position"
	MessageReveal        MessageType = "reveal"
	MessageChat          MessageType = "chat"
	MessagePlayerJoined  MessageType = "player-joined"
	MessagePlayerLeft    MessageType = "player-left"
	MessageRoundStart    MessageType = "round-start"
	MessageGameStateSync MessageType = "game-state-sync"
)

// Message is the wire envelope. FromPeerID is stamped by the sender;
// receivers trust the transport-level peer identity over it.
type Message struct {
	Type       MessageType     `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	FromPeerID string          `json:"fromPeerId"`
	Timestamp  time.Time       `json:"timestamp"`
}

// DialUpdatePayload carries a live dial position, 0-100.
type DialUpdatePayload struct {
	PlayerID   uuid.UUID `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Position   float64   `json:"position"`
}

// LockPositionPayload announces that a player committed their guess.
type LockPositionPayload struct {
	PlayerID   uuid.UUID `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Position   float64   `json:"position"`
}

// RevealPayload announces the round outcome.
type RevealPayload struct {
	RoundNumber    int     `json:"roundNumber"`
	TargetPosition float64 `json:"targetPosition"`
	Points         int     `json:"points"`
	LostLife       bool    `json:"lostLife"`
}

// ChatPayload is a free-text message shown to the room.
type ChatPayload struct {
	PlayerName string `json:"playerName"`
	Text       string `json:"text"`
}

// PlayerPresencePayload is shared by player-joined and player-left.
type PlayerPresencePayload struct {
	PlayerID   uuid.UUID `json:"playerId"`
	PlayerName string    `json:"playerName"`
	PeerID     string    `json:"peerId"`
}

// RoundStartPayload announces a fresh round and its psychic.
type RoundStartPayload struct {
	RoundNumber  int       `json:"roundNumber"`
	PsychicID    uuid.UUID `json:"psychicId"`
	ConceptLeft  string    `json:"conceptLeft"`
	ConceptRight string    `json:"conceptRight"`
}

// GameStateSyncPayload is the authoritative snapshot pushed after any
// scoring mutation so peers converge without refetching.
type GameStateSyncPayload struct {
	CurrentRound   int        `json:"currentRound"`
	TeamScore      int        `json:"teamScore"`
	LivesRemaining int        `json:"livesRemaining"`
	PsychicID      *uuid.UUID `json:"psychicId,omitempty"`
}

// Encode wraps a payload in an envelope and serializes it once.
func Encode(typ MessageType, fromPeerID string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
		}
		raw = data
	}
	msg := Message{
		Type:       typ,
		Payload:    raw,
		FromPeerID: fromPeerID,
		Timestamp:  time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", typ, err)
	}
	return data, nil
}
