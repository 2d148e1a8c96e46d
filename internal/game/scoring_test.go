package game

import (
	"testing"

	"github.com/google/uuid"

	"github.com/partywave/wavelength/internal/models"
)

func TestPoints(t *testing.T) {
	tests := []struct {
		name      string
		distance  float64
		maxPoints int
		want      int
	}{
		{"bullseye", 0, 4, 4},
		{"inner band edge", 5, 4, 4},
		{"middle band", 8, 4, 3},
		{"middle band edge", 10, 4, 3},
		{"outer band", 15, 4, 2},
		{"outer band edge", 20, 4, 2},
		{"miss", 21, 4, 0},
		{"far miss", 100, 4, 0},
		{"low max middle band floors at one", 8, 1, 1},
		{"low max outer band floors at one", 20, 2, 1},
		{"low max miss still zero", 30, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Points(tt.distance, tt.maxPoints); got != tt.want {
				t.Errorf("Points(%v, %d) = %d, want %d", tt.distance, tt.maxPoints, got, tt.want)
			}
		})
	}
}

func TestScoresSortedByDistance(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	entries := []models.LockedPosition{
		{PlayerID: a, PlayerName: "far", Position: 90},
		{PlayerID: b, PlayerName: "close", Position: 52},
		{PlayerID: c, PlayerName: "mid", Position: 62},
	}

	scores := Scores(entries, 50, 4)
	if len(scores) != 3 {
		t.Fatalf("len = %d, want 3", len(scores))
	}
	wantOrder := []uuid.UUID{b, c, a}
	for i, want := range wantOrder {
		if scores[i].PlayerID != want {
			t.Errorf("scores[%d].PlayerID = %s, want %s", i, scores[i].PlayerID, want)
		}
	}
	if scores[0].Points != 4 {
		t.Errorf("closest points = %d, want 4", scores[0].Points)
	}
	if got := RoundPoints(scores); got != 4 {
		t.Errorf("RoundPoints = %d, want the best guess's 4", got)
	}
}

func TestRoundPointsEmptyLedger(t *testing.T) {
	if got := RoundPoints(nil); got != 0 {
		t.Errorf("RoundPoints(nil) = %d, want 0", got)
	}
}
