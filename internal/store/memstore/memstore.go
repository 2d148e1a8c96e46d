// Package memstore is an in-memory Store implementation. It backs the
// standalone single-node mode and every test double; all conditional
// semantics match the Postgres implementation.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/partywave/wavelength/internal/models"
	"github.com/partywave/wavelength/internal/store"
)

type MemStore struct {
	mu sync.RWMutex

	rooms   map[uuid.UUID]*models.Room
	players map[uuid.UUID]*models.Player
	states  map[uuid.UUID]*models.GameState // keyed by room ID
	rounds  map[uuid.UUID]*models.Round
	dials   map[dialKey]*models.DialUpdate
	signals []*models.Signal

	joinSeq map[uuid.UUID]int // player ID -> join order tiebreaker
	seq     int
}

type dialKey struct {
	roomID      uuid.UUID
	roundNumber int
	playerID    uuid.UUID
}

func New() *MemStore {
	return &MemStore{
		rooms:   make(map[uuid.UUID]*models.Room),
		players: make(map[uuid.UUID]*models.Player),
		states:  make(map[uuid.UUID]*models.GameState),
		rounds:  make(map[uuid.UUID]*models.Round),
		dials:   make(map[dialKey]*models.DialUpdate),
		joinSeq: make(map[uuid.UUID]int),
	}
}

var _ store.Store = (*MemStore)(nil)

func (m *MemStore) CreateRoom(_ context.Context, params store.CreateRoomParams) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	room := &models.Room{
		ID:        uuid.New(),
		Code:      params.Code,
		Name:      params.Name,
		Status:    models.RoomStatusWaiting,
		Settings:  params.Settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.rooms[room.ID] = room
	return copyRoom(room), nil
}

func (m *MemStore) GetRoom(_ context.Context, id uuid.UUID) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyRoom(room), nil
}

func (m *MemStore) GetRoomByCode(_ context.Context, code string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, room := range m.rooms {
		if room.Code == code {
			return copyRoom(room), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemStore) SetRoomHost(_ context.Context, roomID, playerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	id := playerID
	room.HostPlayerID = &id
	room.UpdatedAt = time.Now()
	return nil
}

func (m *MemStore) TransitionRoomStatus(_ context.Context, roomID uuid.UUID, from, to models.RoomStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok || room.Status != from {
		return store.ErrInvalidTransition
	}
	room.Status = to
	room.UpdatedAt = time.Now()
	return nil
}

func (m *MemStore) CreatePlayer(_ context.Context, params store.CreatePlayerParams) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	player := &models.Player{
		ID:          uuid.New(),
		RoomID:      params.RoomID,
		Name:        params.Name,
		PeerID:      params.PeerID,
		IsHost:      params.IsHost,
		IsConnected: true,
		JoinedAt:    now,
		LastSeen:    now,
	}
	m.players[player.ID] = player
	m.seq++
	m.joinSeq[player.ID] = m.seq
	return copyPlayer(player), nil
}

func (m *MemStore) GetPlayer(_ context.Context, id uuid.UUID) (*models.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	player, ok := m.players[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyPlayer(player), nil
}

func (m *MemStore) GetPlayerByPeerID(_ context.Context, peerID string) (*models.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, player := range m.players {
		if player.PeerID == peerID {
			return copyPlayer(player), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemStore) GetPlayers(_ context.Context, roomID uuid.UUID) ([]models.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var players []models.Player
	for _, player := range m.players {
		if player.RoomID == roomID {
			players = append(players, *copyPlayer(player))
		}
	}
	sort.Slice(players, func(i, j int) bool {
		return m.joinSeq[players[i].ID] < m.joinSeq[players[j].ID]
	})
	return players, nil
}

func (m *MemStore) SetPsychic(_ context.Context, roomID, playerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	for _, player := range m.players {
		if player.RoomID != roomID {
			continue
		}
		player.IsPsychic = player.ID == playerID
		found = true
	}
	if !found {
		return store.ErrNotFound
	}
	return nil
}

func (m *MemStore) SetConnected(_ context.Context, peerID string, connected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, player := range m.players {
		if player.PeerID == peerID {
			player.IsConnected = connected
			player.LastSeen = time.Now()
		}
	}
	return nil
}

func (m *MemStore) UpsertGameState(_ context.Context, params store.UpsertGameStateParams) (*models.GameState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[params.RoomID]
	if !ok {
		state = &models.GameState{ID: uuid.New(), RoomID: params.RoomID}
		m.states[params.RoomID] = state
	}
	state.CurrentRound = params.CurrentRound
	state.TeamScore = params.TeamScore
	state.LivesRemaining = params.LivesRemaining
	state.CurrentPsychicID = copyUUIDPtr(params.CurrentPsychicID)
	state.UpdatedAt = time.Now()
	return copyGameState(state), nil
}

func (m *MemStore) GetGameState(_ context.Context, roomID uuid.UUID) (*models.GameState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[roomID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyGameState(state), nil
}

func (m *MemStore) ApplyRevealDelta(_ context.Context, roomID uuid.UUID, points, livesDelta int) (*models.GameState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[roomID]
	if !ok {
		return nil, store.ErrNotFound
	}
	state.TeamScore += points
	state.LivesRemaining += livesDelta
	if state.LivesRemaining < 0 {
		state.LivesRemaining = 0
	}
	state.UpdatedAt = time.Now()
	return copyGameState(state), nil
}

func (m *MemStore) SetGameStateRound(_ context.Context, roomID uuid.UUID, round int, psychicID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[roomID]
	if !ok {
		return store.ErrNotFound
	}
	id := psychicID
	state.CurrentRound = round
	state.CurrentPsychicID = &id
	state.UpdatedAt = time.Now()
	return nil
}

func (m *MemStore) CreateRound(_ context.Context, params store.CreateRoundParams) (*models.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, round := range m.rounds {
		if round.RoomID == params.RoomID && round.RoundNumber == params.RoundNumber {
			return nil, store.ErrDuplicateRound
		}
	}

	now := time.Now()
	round := &models.Round{
		ID:           uuid.New(),
		RoomID:       params.RoomID,
		RoundNumber:  params.RoundNumber,
		LeftConcept:  params.LeftConcept,
		RightConcept: params.RightConcept,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.rounds[round.ID] = round
	return copyRound(round), nil
}

func (m *MemStore) GetRound(_ context.Context, roomID uuid.UUID, roundNumber int) (*models.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	round := m.findRound(roomID, roundNumber)
	if round == nil {
		return nil, store.ErrNotFound
	}
	return copyRound(round), nil
}

func (m *MemStore) SetRoundTarget(_ context.Context, roomID uuid.UUID, roundNumber int, position float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	round := m.findRound(roomID, roundNumber)
	if round == nil {
		return store.ErrNotFound
	}
	if round.TargetPosition != nil {
		return store.ErrTargetAlreadySet
	}
	round.TargetPosition = &position
	round.UpdatedAt = time.Now()
	return nil
}

func (m *MemStore) SetRoundHint(_ context.Context, roomID uuid.UUID, roundNumber int, hint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	round := m.findRound(roomID, roundNumber)
	if round == nil || round.Revealed {
		return store.ErrNotFound
	}
	round.PsychicHint = &hint
	round.UpdatedAt = time.Now()
	return nil
}

func (m *MemStore) AppendLockedPosition(_ context.Context, roundID uuid.UUID, entry models.LockedPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	round, ok := m.rounds[roundID]
	if !ok || round.Revealed {
		return store.ErrNotFound
	}
	round.LockedPositions = append(round.LockedPositions, entry)
	round.UpdatedAt = time.Now()
	return nil
}

func (m *MemStore) RevealRound(_ context.Context, roundID uuid.UUID, points int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	round, ok := m.rounds[roundID]
	if !ok {
		return false, store.ErrNotFound
	}
	if round.Revealed {
		return false, nil
	}
	round.Revealed = true
	round.PointsEarned = points
	round.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemStore) DeleteRounds(_ context.Context, roomID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, round := range m.rounds {
		if round.RoomID == roomID {
			delete(m.rounds, id)
		}
	}
	return nil
}

func (m *MemStore) UpsertDial(_ context.Context, params store.UpsertDialParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dialKey{roomID: params.RoomID, roundNumber: params.RoundNumber, playerID: params.PlayerID}
	if existing, ok := m.dials[key]; ok {
		if existing.IsLocked {
			return store.ErrAlreadyLocked
		}
		existing.DialPosition = params.Position
		existing.IsLocked = params.Locked
		return nil
	}
	m.dials[key] = &models.DialUpdate{
		ID:           uuid.New(),
		RoomID:       params.RoomID,
		RoundNumber:  params.RoundNumber,
		PlayerID:     params.PlayerID,
		DialPosition: params.Position,
		IsLocked:     params.Locked,
		CreatedAt:    time.Now(),
	}
	return nil
}

func (m *MemStore) GetDials(_ context.Context, roomID uuid.UUID, roundNumber int) ([]models.DialUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var dials []models.DialUpdate
	for _, dial := range m.dials {
		if dial.RoomID == roomID && dial.RoundNumber == roundNumber {
			dials = append(dials, *dial)
		}
	}
	sort.Slice(dials, func(i, j int) bool { return dials[i].CreatedAt.Before(dials[j].CreatedAt) })
	return dials, nil
}

func (m *MemStore) CountLockedDials(_ context.Context, roomID uuid.UUID, roundNumber int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, dial := range m.dials {
		if dial.RoomID == roomID && dial.RoundNumber == roundNumber && dial.IsLocked {
			count++
		}
	}
	return count, nil
}

func (m *MemStore) DeleteDials(_ context.Context, roomID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.dials {
		if key.roomID == roomID {
			delete(m.dials, key)
		}
	}
	return nil
}

func (m *MemStore) InsertSignal(_ context.Context, params store.InsertSignalParams) (*models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	signal := &models.Signal{
		ID:         uuid.New(),
		RoomID:     params.RoomID,
		FromPeerID: params.FromPeerID,
		ToPeerID:   copyStringPtr(params.ToPeerID),
		Type:       params.Type,
		Payload:    append(json.RawMessage(nil), params.Payload...),
		CreatedAt:  time.Now(),
	}
	m.signals = append(m.signals, signal)
	return copySignal(signal), nil
}

func (m *MemStore) ConsumeSignals(_ context.Context, roomID uuid.UUID, peerID string) ([]models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Signal
	for _, signal := range m.signals {
		if signal.RoomID != roomID || signal.IsConsumed || signal.FromPeerID == peerID {
			continue
		}
		if signal.ToPeerID != nil && *signal.ToPeerID != peerID {
			continue
		}
		signal.IsConsumed = true
		out = append(out, *copySignal(signal))
	}
	return out, nil
}

func (m *MemStore) findRound(roomID uuid.UUID, roundNumber int) *models.Round {
	for _, round := range m.rounds {
		if round.RoomID == roomID && round.RoundNumber == roundNumber {
			return round
		}
	}
	return nil
}

func copyRoom(r *models.Room) *models.Room {
	out := *r
	out.HostPlayerID = copyUUIDPtr(r.HostPlayerID)
	return &out
}

func copyPlayer(p *models.Player) *models.Player {
	out := *p
	return &out
}

func copyGameState(s *models.GameState) *models.GameState {
	out := *s
	out.CurrentPsychicID = copyUUIDPtr(s.CurrentPsychicID)
	return &out
}

func copyRound(r *models.Round) *models.Round {
	out := *r
	if r.PsychicHint != nil {
		hint := *r.PsychicHint
		out.PsychicHint = &hint
	}
	if r.TargetPosition != nil {
		target := *r.TargetPosition
		out.TargetPosition = &target
	}
	out.LockedPositions = append([]models.LockedPosition(nil), r.LockedPositions...)
	return &out
}

func copySignal(s *models.Signal) *models.Signal {
	out := *s
	out.ToPeerID = copyStringPtr(s.ToPeerID)
	out.Payload = append(json.RawMessage(nil), s.Payload...)
	return &out
}

func copyUUIDPtr(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	out := *id
	return &out
}

func copyStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
