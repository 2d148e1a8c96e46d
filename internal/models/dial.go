package models

import (
	"time"

	"github.com/google/uuid"
)

// DialUpdate is the live per-player cursor for a round, upserted on
// the unique (room, round, player) key. Only the latest write per
// player survives; it reflects in-progress dragging and is distinct
// from the round's locked-position ledger used for scoring.
type DialUpdate struct {
	ID           uuid.UUID `json:"id"`
	RoomID       uuid.UUID `json:"room_id"`
	RoundNumber  int       `json:"round_number"`
	PlayerID     uuid.UUID `json:"player_id"`
	DialPosition float64   `json:"dial_position"`
	IsLocked     bool      `json:"is_locked"`
	CreatedAt    time.Time `json:"created_at"`
}
