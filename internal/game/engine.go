// Package game implements the authoritative round and turn state
// machine. Every mutation goes through a conditional store write, so
// racing participants resolve to exactly one winner and the rest get a
// typed rejection.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/partywave/wavelength/internal/models"
	"github.com/partywave/wavelength/internal/store"
)

var (
	ErrNotHost            = errors.New("game: only the host may do that")
	ErrNotPsychic         = errors.New("game: only the psychic may do that")
	ErrPsychicCannotGuess = errors.New("game: the psychic does not guess")
	ErrRoomFinished       = errors.New("game: room is finished")
	ErrNotEnoughPlayers   = errors.New("game: at least two players required")
	ErrInvalidPosition    = errors.New("game: position must be between 0 and 100")
	ErrTargetNotSet       = errors.New("game: target not set yet")
	ErrNotAllLocked       = errors.New("game: not all players have locked in")
	ErrRoundNotRevealed   = errors.New("game: round not revealed yet")
)

const (
	DefaultLives  = 3
	DefaultRounds = 5
	DefaultPoints = 4
)

// Engine drives the game state machine on top of the store. It holds
// no per-room state of its own; any number of participants may call it
// concurrently and the store's guards arbitrate.
type Engine struct {
	store store.Store
	clock clockwork.Clock
}

func NewEngine(s store.Store, clock clockwork.Clock) *Engine {
	return &Engine{store: s, clock: clock}
}

type CreateRoomParams struct {
	RoomName string
	HostName string
	Settings models.RoomSettings
}

// CreateRoom creates a waiting room and its host player.
func (e *Engine) CreateRoom(ctx context.Context, params CreateRoomParams) (*models.Room, *models.Player, error) {
	settings := params.Settings
	if settings.NumberOfLives <= 0 {
		settings.NumberOfLives = DefaultLives
	}
	if settings.NumberOfRounds <= 0 {
		settings.NumberOfRounds = DefaultRounds
	}
	if settings.MaxPoints <= 0 {
		settings.MaxPoints = DefaultPoints
	}

	code, err := GenerateRoomCode()
	if err != nil {
		return nil, nil, err
	}

	room, err := e.store.CreateRoom(ctx, store.CreateRoomParams{
		Code:     code,
		Name:     params.RoomName,
		Settings: settings,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create room: %w", err)
	}

	host, err := e.store.CreatePlayer(ctx, store.CreatePlayerParams{
		RoomID: room.ID,
		Name:   params.HostName,
		PeerID: GeneratePeerID(),
		IsHost: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create host player: %w", err)
	}
	if err := e.store.SetRoomHost(ctx, room.ID, host.ID); err != nil {
		return nil, nil, fmt.Errorf("failed to set room host: %w", err)
	}
	room.HostPlayerID = &host.ID

	log.Info().Str("room_code", room.Code).Str("room_id", room.ID.String()).Msg("room created")
	return room, host, nil
}

// JoinRoom adds a player to a room looked up by code. Joining a
// finished room is refused; joining mid-game is allowed, the newcomer
// catches up from persisted state.
func (e *Engine) JoinRoom(ctx context.Context, code, playerName string) (*models.Room, *models.Player, error) {
	room, err := e.store.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if room.Status == models.RoomStatusFinished {
		return nil, nil, ErrRoomFinished
	}

	player, err := e.store.CreatePlayer(ctx, store.CreatePlayerParams{
		RoomID: room.ID,
		Name:   playerName,
		PeerID: GeneratePeerID(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create player: %w", err)
	}

	log.Info().Str("room_code", room.Code).Str("player", playerName).Msg("player joined")
	return room, player, nil
}

// StartGame moves a waiting room into play: fresh game state, round 1
// with no target, and an initial psychic drawn from the non-host
// players. Only the host may start; a second start attempt loses the
// status transition and returns an error.
func (e *Engine) StartGame(ctx context.Context, roomID, requesterID uuid.UUID) (*models.GameState, *models.Round, error) {
	room, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	requester, err := e.store.GetPlayer(ctx, requesterID)
	if err != nil {
		return nil, nil, err
	}
	if !requester.IsHost {
		return nil, nil, ErrNotHost
	}

	players, err := e.store.GetPlayers(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	if len(players) < 2 {
		return nil, nil, ErrNotEnoughPlayers
	}

	if err := e.store.TransitionRoomStatus(ctx, roomID, models.RoomStatusWaiting, models.RoomStatusInProgress); err != nil {
		return nil, nil, err
	}

	// Leftovers from an abandoned earlier game in the same room.
	if err := e.store.DeleteRounds(ctx, roomID); err != nil {
		return nil, nil, err
	}
	if err := e.store.DeleteDials(ctx, roomID); err != nil {
		return nil, nil, err
	}

	psychic := pickInitialPsychic(players)
	if err := e.store.SetPsychic(ctx, roomID, psychic.ID); err != nil {
		return nil, nil, err
	}

	state, err := e.store.UpsertGameState(ctx, store.UpsertGameStateParams{
		RoomID:           roomID,
		CurrentRound:     1,
		TeamScore:        0,
		LivesRemaining:   room.Settings.NumberOfLives,
		CurrentPsychicID: &psychic.ID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize game state: %w", err)
	}

	round, err := e.createRound(ctx, roomID, 1)
	if err != nil {
		return nil, nil, err
	}

	log.Info().Str("room_id", roomID.String()).Str("psychic", psychic.Name).Msg("game started")
	return state, round, nil
}

// SetTarget commits the psychic's hidden target for a round. The
// target is write-once; a second attempt gets ErrTargetAlreadySet from
// the store regardless of who raced whom.
func (e *Engine) SetTarget(ctx context.Context, roomID, playerID uuid.UUID, roundNumber int, position float64) error {
	if err := validatePosition(position); err != nil {
		return err
	}
	player, err := e.store.GetPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	if !player.IsPsychic {
		return ErrNotPsychic
	}
	return e.store.SetRoundTarget(ctx, roomID, roundNumber, position)
}

// SubmitHint records the psychic's spoken clue for the round.
func (e *Engine) SubmitHint(ctx context.Context, roomID, playerID uuid.UUID, roundNumber int, hint string) error {
	player, err := e.store.GetPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	if !player.IsPsychic {
		return ErrNotPsychic
	}
	return e.store.SetRoundHint(ctx, roomID, roundNumber, hint)
}

// MoveDial records a guesser's live dial position. Rejected before the
// target exists and after the player has locked.
func (e *Engine) MoveDial(ctx context.Context, roomID, playerID uuid.UUID, roundNumber int, position float64) error {
	if err := validatePosition(position); err != nil {
		return err
	}
	player, _, err := e.guesserAndRound(ctx, roomID, playerID, roundNumber)
	if err != nil {
		return err
	}
	return e.store.UpsertDial(ctx, store.UpsertDialParams{
		RoomID:      roomID,
		RoundNumber: roundNumber,
		PlayerID:    player.ID,
		Position:    position,
		Locked:      false,
	})
}

// LockPosition commits a guesser's final answer. The dial row latch is
// won first; only the winner appends to the round's lock-in ledger, so
// the ledger holds at most one entry per player and later dial writes
// cannot disturb it.
func (e *Engine) LockPosition(ctx context.Context, roomID, playerID uuid.UUID, roundNumber int, position float64) error {
	if err := validatePosition(position); err != nil {
		return err
	}
	player, round, err := e.guesserAndRound(ctx, roomID, playerID, roundNumber)
	if err != nil {
		return err
	}

	err = e.store.UpsertDial(ctx, store.UpsertDialParams{
		RoomID:      roomID,
		RoundNumber: roundNumber,
		PlayerID:    player.ID,
		Position:    position,
		Locked:      true,
	})
	if err != nil {
		return err
	}

	return e.store.AppendLockedPosition(ctx, round.ID, models.LockedPosition{
		PlayerID:   player.ID,
		PlayerName: player.Name,
		Position:   position,
		LockedAt:   e.clock.Now().UTC(),
	})
}

// RevealResult is the outcome of a reveal attempt. Applied reports
// whether this caller won the reveal transition; losers still get the
// final numbers.
type RevealResult struct {
	Round    *models.Round     `json:"round"`
	Scores   []PlayerScore     `json:"scores"`
	Points   int               `json:"points"`
	LostLife bool              `json:"lostLife"`
	Applied  bool              `json:"applied"`
	State    *models.GameState `json:"state"`
}

// MaybeReveal reveals the round once every guesser has locked in. Any
// participant may call it when they observe the last lock; the store's
// revealed flag picks exactly one winner to apply the score and life
// deltas, so concurrent observers cannot double-count.
func (e *Engine) MaybeReveal(ctx context.Context, roomID uuid.UUID, roundNumber int) (*RevealResult, error) {
	round, err := e.store.GetRound(ctx, roomID, roundNumber)
	if err != nil {
		return nil, err
	}
	if !round.TargetSet() {
		return nil, ErrTargetNotSet
	}

	if !round.Revealed {
		players, err := e.store.GetPlayers(ctx, roomID)
		if err != nil {
			return nil, err
		}
		guessers := 0
		for _, p := range players {
			if !p.IsPsychic {
				guessers++
			}
		}
		if len(round.LockedPositions) < guessers {
			return nil, ErrNotAllLocked
		}
	}

	scores := Scores(round.LockedPositions, *round.TargetPosition, e.maxPoints(ctx, roomID))
	points := RoundPoints(scores)
	lostLife := points == 0

	applied, err := e.store.RevealRound(ctx, round.ID, points)
	if err != nil {
		return nil, err
	}
	if applied {
		livesDelta := 0
		if lostLife {
			livesDelta = -1
		}
		if _, err := e.store.ApplyRevealDelta(ctx, roomID, points, livesDelta); err != nil {
			return nil, fmt.Errorf("failed to apply reveal delta: %w", err)
		}
		log.Info().
			Str("room_id", roomID.String()).
			Int("round", roundNumber).
			Int("points", points).
			Bool("lost_life", lostLife).
			Msg("round revealed")
	}

	round.Revealed = true
	round.PointsEarned = points

	state, err := e.store.GetGameState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &RevealResult{
		Round:    round,
		Scores:   scores,
		Points:   points,
		LostLife: lostLife,
		Applied:  applied,
		State:    state,
	}, nil
}

// AdvanceRound closes out a revealed round: either the game ends, or
// the psychic hat passes to the next player in join order and a fresh
// round opens. Host only. Returns the new round, or nil with finished
// true when the game is over.
func (e *Engine) AdvanceRound(ctx context.Context, roomID, requesterID uuid.UUID) (*models.Round, bool, error) {
	requester, err := e.store.GetPlayer(ctx, requesterID)
	if err != nil {
		return nil, false, err
	}
	if !requester.IsHost {
		return nil, false, ErrNotHost
	}

	room, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	state, err := e.store.GetGameState(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	current, err := e.store.GetRound(ctx, roomID, state.CurrentRound)
	if err != nil {
		return nil, false, err
	}
	if !current.Revealed {
		return nil, false, ErrRoundNotRevealed
	}

	next := state.CurrentRound + 1
	if next > room.Settings.NumberOfRounds || state.LivesRemaining <= 0 {
		if err := e.store.TransitionRoomStatus(ctx, roomID, models.RoomStatusInProgress, models.RoomStatusFinished); err != nil {
			return nil, false, err
		}
		log.Info().Str("room_id", roomID.String()).Int("score", state.TeamScore).Msg("game finished")
		return nil, true, nil
	}

	players, err := e.store.GetPlayers(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	psychic := nextPsychic(players, state.CurrentPsychicID)
	if err := e.store.SetPsychic(ctx, roomID, psychic.ID); err != nil {
		return nil, false, err
	}
	if err := e.store.SetGameStateRound(ctx, roomID, next, psychic.ID); err != nil {
		return nil, false, err
	}

	round, err := e.createRound(ctx, roomID, next)
	if err != nil {
		return nil, false, err
	}
	log.Info().Str("room_id", roomID.String()).Int("round", next).Str("psychic", psychic.Name).Msg("round advanced")
	return round, false, nil
}

// Snapshot is the full room view a late joiner or poller needs.
type Snapshot struct {
	Room    *models.Room        `json:"room"`
	Players []models.Player     `json:"players"`
	State   *models.GameState   `json:"state,omitempty"`
	Round   *models.Round       `json:"round,omitempty"`
	Dials   []models.DialUpdate `json:"dials,omitempty"`
}

// GetSnapshot assembles the current authoritative view of a room.
// Game state, round and dials are omitted while the room is waiting.
func (e *Engine) GetSnapshot(ctx context.Context, roomID uuid.UUID) (*Snapshot, error) {
	room, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	players, err := e.store.GetPlayers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Room: room, Players: players}

	state, err := e.store.GetGameState(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return nil, err
	}
	snap.State = state

	round, err := e.store.GetRound(ctx, roomID, state.CurrentRound)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	snap.Round = round

	dials, err := e.store.GetDials(ctx, roomID, state.CurrentRound)
	if err != nil {
		return nil, err
	}
	snap.Dials = dials
	return snap, nil
}

func (e *Engine) createRound(ctx context.Context, roomID uuid.UUID, number int) (*models.Round, error) {
	pair := RandomConceptPair()
	round, err := e.store.CreateRound(ctx, store.CreateRoundParams{
		RoomID:       roomID,
		RoundNumber:  number,
		LeftConcept:  pair.Left,
		RightConcept: pair.Right,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create round %d: %w", number, err)
	}
	return round, nil
}

// guesserAndRound loads and validates the common preconditions of the
// guessing operations: the player is not the psychic and the round has
// a target.
func (e *Engine) guesserAndRound(ctx context.Context, roomID, playerID uuid.UUID, roundNumber int) (*models.Player, *models.Round, error) {
	player, err := e.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, nil, err
	}
	if player.IsPsychic {
		return nil, nil, ErrPsychicCannotGuess
	}
	round, err := e.store.GetRound(ctx, roomID, roundNumber)
	if err != nil {
		return nil, nil, err
	}
	if !round.TargetSet() {
		return nil, nil, ErrTargetNotSet
	}
	return player, round, nil
}

func (e *Engine) maxPoints(ctx context.Context, roomID uuid.UUID) int {
	room, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return DefaultPoints
	}
	if room.Settings.MaxPoints <= 0 {
		return DefaultPoints
	}
	return room.Settings.MaxPoints
}

// pickInitialPsychic draws a random non-host player so the host is
// free to explain the rules during round one. Falls back to any player
// if everyone is a host.
func pickInitialPsychic(players []models.Player) models.Player {
	candidates := make([]models.Player, 0, len(players))
	for _, p := range players {
		if !p.IsHost {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		candidates = players
	}
	return candidates[rand.Intn(len(candidates))]
}

// nextPsychic rotates the psychic role through the roster in join
// order, wrapping at the end. With an unknown current psychic the
// rotation restarts at the first player.
func nextPsychic(players []models.Player, currentID *uuid.UUID) models.Player {
	if currentID != nil {
		for i, p := range players {
			if p.ID == *currentID {
				return players[(i+1)%len(players)]
			}
		}
	}
	return players[0]
}

func validatePosition(position float64) error {
	if position < 0 || position > 100 {
		return ErrInvalidPosition
	}
	return nil
}
