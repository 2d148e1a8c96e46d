package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/partywave/wavelength/internal/models"
)

// Conditional-write outcomes surfaced to the state machine. Guard
// rejections are explicit errors, never silent overwrites.
var (
	ErrNotFound          = errors.New("store: not found")
	ErrTargetAlreadySet  = errors.New("store: target position already set")
	ErrAlreadyLocked     = errors.New("store: dial already locked")
	ErrInvalidTransition = errors.New("store: invalid status transition")
	ErrDuplicateRound    = errors.New("store: round number already exists")
)

type CreateRoomParams struct {
	Code     string
	Name     string
	Settings models.RoomSettings
}

type CreatePlayerParams struct {
	RoomID uuid.UUID
	Name   string
	PeerID string
	IsHost bool
}

type UpsertGameStateParams struct {
	RoomID           uuid.UUID
	CurrentRound     int
	TeamScore        int
	LivesRemaining   int
	CurrentPsychicID *uuid.UUID
}

type CreateRoundParams struct {
	RoomID       uuid.UUID
	RoundNumber  int
	LeftConcept  string
	RightConcept string
}

type UpsertDialParams struct {
	RoomID      uuid.UUID
	RoundNumber int
	PlayerID    uuid.UUID
	Position    float64
	Locked      bool
}

type InsertSignalParams struct {
	RoomID     uuid.UUID
	FromPeerID string
	ToPeerID   *string
	Type       models.SignalType
	Payload    json.RawMessage
}

// RoomStore persists rooms. Status transitions are conditional on the
// expected current status so they stay monotonic under racing writers.
type RoomStore interface {
	CreateRoom(ctx context.Context, params CreateRoomParams) (*models.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	SetRoomHost(ctx context.Context, roomID, playerID uuid.UUID) error
	TransitionRoomStatus(ctx context.Context, roomID uuid.UUID, from, to models.RoomStatus) error
}

// PlayerStore persists the room roster. GetPlayers returns players in
// stable join order; SetPsychic swaps the psychic flag atomically so
// at most one psychic exists at any instant.
type PlayerStore interface {
	CreatePlayer(ctx context.Context, params CreatePlayerParams) (*models.Player, error)
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
	GetPlayerByPeerID(ctx context.Context, peerID string) (*models.Player, error)
	GetPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error)
	SetPsychic(ctx context.Context, roomID, playerID uuid.UUID) error
	SetConnected(ctx context.Context, peerID string, connected bool) error
}

// GameStateStore persists the 1:1 game progress row. ApplyRevealDelta
// uses atomic increments rather than read-modify-write.
type GameStateStore interface {
	UpsertGameState(ctx context.Context, params UpsertGameStateParams) (*models.GameState, error)
	GetGameState(ctx context.Context, roomID uuid.UUID) (*models.GameState, error)
	ApplyRevealDelta(ctx context.Context, roomID uuid.UUID, points, livesDelta int) (*models.GameState, error)
	SetGameStateRound(ctx context.Context, roomID uuid.UUID, round int, psychicID uuid.UUID) error
}

// RoundStore persists rounds. SetRoundTarget succeeds only while the
// target is null; RevealRound flips revealed exactly once and reports
// whether this caller won the transition.
type RoundStore interface {
	CreateRound(ctx context.Context, params CreateRoundParams) (*models.Round, error)
	GetRound(ctx context.Context, roomID uuid.UUID, roundNumber int) (*models.Round, error)
	SetRoundTarget(ctx context.Context, roomID uuid.UUID, roundNumber int, position float64) error
	SetRoundHint(ctx context.Context, roomID uuid.UUID, roundNumber int, hint string) error
	AppendLockedPosition(ctx context.Context, roundID uuid.UUID, entry models.LockedPosition) error
	RevealRound(ctx context.Context, roundID uuid.UUID, points int) (bool, error)
	DeleteRounds(ctx context.Context, roomID uuid.UUID) error
}

// DialStore persists live dial cursors. UpsertDial refuses to touch a
// row whose is_locked flag is already true.
type DialStore interface {
	UpsertDial(ctx context.Context, params UpsertDialParams) error
	GetDials(ctx context.Context, roomID uuid.UUID, roundNumber int) ([]models.DialUpdate, error)
	CountLockedDials(ctx context.Context, roomID uuid.UUID, roundNumber int) (int, error)
	DeleteDials(ctx context.Context, roomID uuid.UUID) error
}

// SignalStore persists the signaling relay log. ConsumeSignals checks
// and sets the consumed flag in one statement so a message is
// delivered at most once.
type SignalStore interface {
	InsertSignal(ctx context.Context, params InsertSignalParams) (*models.Signal, error)
	ConsumeSignals(ctx context.Context, roomID uuid.UUID, peerID string) ([]models.Signal, error)
}

// Store is the full storage surface the coordinator consumes. It is
// injected into the core components at construction; nothing reaches
// for a global client.
type Store interface {
	RoomStore
	PlayerStore
	GameStateStore
	RoundStore
	DialStore
	SignalStore
}
