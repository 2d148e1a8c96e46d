package game

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/partywave/wavelength/internal/models"
)

// Points maps the distance between a guess and the target onto the
// banded score, relative to the room's configured maximum. Inner band
// pays full points and the outer bands step down but never below one
// point; beyond the widest band the guess pays nothing.
func Points(distance float64, maxPoints int) int {
	d := math.Abs(distance)
	switch {
	case d <= 5:
		return maxPoints
	case d <= 10:
		return maxInt(1, maxPoints-1)
	case d <= 20:
		return maxInt(1, maxPoints-2)
	default:
		return 0
	}
}

// PlayerScore is one guesser's outcome for a revealed round.
type PlayerScore struct {
	PlayerID   uuid.UUID `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Position   float64   `json:"position"`
	Distance   float64   `json:"distance"`
	Points     int       `json:"points"`
}

// Scores computes the per-player outcomes for a round's lock-in
// ledger, ordered closest first.
func Scores(entries []models.LockedPosition, target float64, maxPoints int) []PlayerScore {
	scores := make([]PlayerScore, 0, len(entries))
	for _, entry := range entries {
		distance := math.Abs(entry.Position - target)
		scores = append(scores, PlayerScore{
			PlayerID:   entry.PlayerID,
			PlayerName: entry.PlayerName,
			Position:   entry.Position,
			Distance:   distance,
			Points:     Points(distance, maxPoints),
		})
	}
	sort.Slice(scores, func(i, j int) bool {
		return scores[i].Distance < scores[j].Distance
	})
	return scores
}

// RoundPoints is the team's take for the round: the best locked guess
// decides, the rest are commentary.
func RoundPoints(scores []PlayerScore) int {
	best := 0
	for _, s := range scores {
		if s.Points > best {
			best = s.Points
		}
	}
	return best
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
