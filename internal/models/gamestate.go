package models

import (
	"time"

	"github.com/google/uuid"
)

// GameState is the per-room authoritative game progress row (1:1 with
// the room). TeamScore is monotonically non-decreasing and
// LivesRemaining monotonically non-increasing within a game; both are
// mutated only through atomic increments on reveal.
type GameState struct {
	ID               uuid.UUID  `json:"id"`
	RoomID           uuid.UUID  `json:"room_id"`
	CurrentRound     int        `json:"current_round"`
	TeamScore        int        `json:"team_score"`
	LivesRemaining   int        `json:"lives_remaining"`
	CurrentPsychicID *uuid.UUID `json:"current_psychic_id,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
