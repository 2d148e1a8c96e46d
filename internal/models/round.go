package models

import (
	"time"

	"github.com/google/uuid"
)

// LockedPosition is one entry in a round's append-only lock-in ledger.
// Entries are immutable once written; scoring reads this ledger, never
// the live dial rows.
type LockedPosition struct {
	PlayerID   uuid.UUID `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Position   float64   `json:"position"`
	LockedAt   time.Time `json:"lockedAt"`
}

// Round represents one round of play. TargetPosition stays nil until
// the psychic sets it; that nullability gates whether non-psychic
// players may interact. After Revealed flips true the row is immutable
// except through advance creating the next round.
type Round struct {
	ID              uuid.UUID        `json:"id"`
	RoomID          uuid.UUID        `json:"room_id"`
	RoundNumber     int              `json:"round_number"`
	LeftConcept     string           `json:"left_concept"`
	RightConcept    string           `json:"right_concept"`
	PsychicHint     *string          `json:"psychic_hint,omitempty"`
	TargetPosition  *float64         `json:"target_position,omitempty"`
	LockedPositions []LockedPosition `json:"locked_positions"`
	Revealed        bool             `json:"revealed"`
	PointsEarned    int              `json:"points_earned"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// TargetSet reports whether the psychic has committed a target for
// this round.
func (r *Round) TargetSet() bool {
	return r.TargetPosition != nil
}
