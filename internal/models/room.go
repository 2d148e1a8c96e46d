package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus defines the lifecycle status of a game room.
// Transitions are monotonic: waiting -> in_progress -> finished.
type RoomStatus string

const (
	RoomStatusWaiting    RoomStatus = "waiting"
	RoomStatusInProgress RoomStatus = "in_progress"
	RoomStatusFinished   RoomStatus = "finished"
)

// RoomSettings holds JSONB configuration chosen by the host at creation.
// Immutable after the room is created.
type RoomSettings struct {
	NumberOfLives  int `json:"numberOfLives"`
	NumberOfRounds int `json:"numberOfRounds"`
	MaxPoints      int `json:"maxPoints"`
}

// Room represents a game room joinable by code.
type Room struct {
	ID           uuid.UUID    `json:"id"`
	Code         string       `json:"room_code"`
	Name         string       `json:"room_name"`
	Status       RoomStatus   `json:"status"`
	Settings     RoomSettings `json:"settings"`
	HostPlayerID *uuid.UUID   `json:"host_player_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
