// Package session is the per-participant coordinator. It owns one
// peer mesh, applies game actions through the authoritative state
// machine, pushes them to peers for latency, and reconciles from the
// store through the synchronization bridge for correctness.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/partywave/wavelength/internal/bridge"
	"github.com/partywave/wavelength/internal/game"
	"github.com/partywave/wavelength/internal/models"
	"github.com/partywave/wavelength/internal/peer"
	"github.com/partywave/wavelength/internal/protocol"
	"github.com/partywave/wavelength/internal/signaling"
	"github.com/partywave/wavelength/internal/store"
)

// View is a copy of the session's current local picture of the game.
// Peer pushes land here first; bridge refetches overwrite it with the
// authoritative rows.
type View struct {
	Room    *models.Room
	Self    *models.Player
	Players []models.Player
	State   *models.GameState
	Round   *models.Round
	Dials   map[uuid.UUID]models.DialUpdate
}

// Callbacks are the session's observer hooks. All fire off the
// caller's goroutine; nil hooks are skipped.
type Callbacks struct {
	OnUpdate func(View)
	OnChat   func(playerName, text string)
	OnReveal func(result game.RevealResult)
}

type Session struct {
	engine   *game.Engine
	store    store.Store
	mesh     *peer.Manager
	relay    *signaling.Client
	bridge   *bridge.Bridge
	notifier bridge.Notifier
	bcast    *protocol.Broadcaster
	disp     *protocol.Dispatcher

	callbacks Callbacks

	mu          sync.Mutex
	room        *models.Room
	self        *models.Player
	players     []models.Player
	state       *models.GameState
	round       *models.Round
	dials       map[uuid.UUID]models.DialUpdate
	cancels     []func()
	roundCancel func()
}

func New(engine *game.Engine, s store.Store, mesh *peer.Manager, relay *signaling.Client, b *bridge.Bridge, notifier bridge.Notifier) *Session {
	sess := &Session{
		engine:   engine,
		store:    s,
		mesh:     mesh,
		relay:    relay,
		bridge:   b,
		notifier: notifier,
		bcast:    protocol.NewBroadcaster(mesh, mesh.PeerID()),
		disp:     protocol.NewDispatcher(),
		dials:    make(map[uuid.UUID]models.DialUpdate),
	}
	sess.registerHandlers()
	return sess
}

func (s *Session) SetCallbacks(cb Callbacks) {
	s.callbacks = cb
}

// Host creates a room and enters it as its host.
func (s *Session) Host(ctx context.Context, roomName, hostName string, settings models.RoomSettings) error {
	room, self, err := s.engine.CreateRoom(ctx, game.CreateRoomParams{
		RoomName: roomName,
		HostName: hostName,
		Settings: settings,
	})
	if err != nil {
		return err
	}
	return s.enter(ctx, room, self)
}

// Join enters an existing room by code.
func (s *Session) Join(ctx context.Context, code, playerName string) error {
	room, self, err := s.engine.JoinRoom(ctx, code, playerName)
	if err != nil {
		return err
	}
	s.notifier.Notify(ctx, bridge.TablePlayers, room.ID)
	return s.enter(ctx, room, self)
}

func (s *Session) enter(ctx context.Context, room *models.Room, self *models.Player) error {
	s.mu.Lock()
	s.room = room
	s.self = self
	s.mu.Unlock()

	s.mesh.SetCallbacks(peer.Callbacks{
		OnPeerConnected:    s.onPeerConnected,
		OnPeerDisconnected: s.onPeerDisconnected,
		OnMessage:          s.disp.Dispatch,
	})
	if err := s.mesh.JoinRoom(ctx, room.ID); err != nil {
		return err
	}

	cancels := []func(){
		s.bridge.WatchSignaling(room.ID, s.relay.Nudge),
		s.bridge.WatchRoster(s.store, room.ID, s.onRoster),
		s.bridge.WatchGameState(s.store, room.ID, s.onGameState),
	}
	s.mu.Lock()
	s.cancels = cancels
	s.mu.Unlock()

	log.Info().Str("room_code", room.Code).Str("player", self.Name).Msg("session entered room")
	return nil
}

// Leave tears the session down: announces departure to peers, stops
// the watchers and closes the mesh. Idempotent.
func (s *Session) Leave(ctx context.Context) {
	s.mu.Lock()
	room := s.room
	self := s.self
	cancels := s.cancels
	roundCancel := s.roundCancel
	s.cancels = nil
	s.roundCancel = nil
	s.mu.Unlock()

	if room == nil {
		return
	}

	s.bcast.Broadcast(protocol.MessagePlayerLeft, protocol.PlayerPresencePayload{
		PlayerID:   self.ID,
		PlayerName: self.Name,
		PeerID:     self.PeerID,
	})
	if roundCancel != nil {
		roundCancel()
	}
	for _, cancel := range cancels {
		cancel()
	}
	s.mesh.LeaveRoom()

	if err := s.store.SetConnected(ctx, self.PeerID, false); err != nil {
		log.Warn().Err(err).Msg("failed to mark player disconnected")
	}
	s.notifier.Notify(ctx, bridge.TablePlayers, room.ID)
}

// View returns a copy of the current local picture.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Start begins the game. Host only.
func (s *Session) Start(ctx context.Context) error {
	room, self := s.identity()
	state, round, err := s.engine.StartGame(ctx, room.ID, self.ID)
	if err != nil {
		return err
	}
	s.notifier.Notify(ctx, bridge.TableRooms, room.ID)
	s.notifier.Notify(ctx, bridge.TableGameStates, room.ID)
	s.notifier.Notify(ctx, bridge.TableRounds, room.ID)

	s.bcast.Broadcast(protocol.MessageRoundStart, protocol.RoundStartPayload{
		RoundNumber:  round.RoundNumber,
		PsychicID:    *state.CurrentPsychicID,
		ConceptLeft:  round.LeftConcept,
		ConceptRight: round.RightConcept,
	})
	s.broadcastStateSync(state)
	return nil
}

// SetTarget commits the hidden target. Psychic only.
func (s *Session) SetTarget(ctx context.Context, position float64) error {
	room, self := s.identity()
	round := s.currentRoundNumber()
	if err := s.engine.SetTarget(ctx, room.ID, self.ID, round, position); err != nil {
		return err
	}
	s.notifier.Notify(ctx, bridge.TableRounds, room.ID)
	return nil
}

// SubmitHint records the psychic's clue.
func (s *Session) SubmitHint(ctx context.Context, hint string) error {
	room, self := s.identity()
	round := s.currentRoundNumber()
	if err := s.engine.SubmitHint(ctx, room.ID, self.ID, round, hint); err != nil {
		return err
	}
	s.notifier.Notify(ctx, bridge.TableRounds, room.ID)
	return nil
}

// MoveDial pushes a live dial position: peers first for latency, then
// the store for late joiners and reconciliation.
func (s *Session) MoveDial(ctx context.Context, position float64) error {
	room, self := s.identity()
	round := s.currentRoundNumber()

	s.applyDial(models.DialUpdate{
		RoomID:       room.ID,
		RoundNumber:  round,
		PlayerID:     self.ID,
		DialPosition: position,
	})
	s.bcast.Broadcast(protocol.MessageDialUpdate, protocol.DialUpdatePayload{
		PlayerID:   self.ID,
		PlayerName: self.Name,
		Position:   position,
	})

	if err := s.engine.MoveDial(ctx, room.ID, self.ID, round, position); err != nil {
		return err
	}
	s.notifier.Notify(ctx, bridge.TableDials, room.ID)
	return nil
}

// LockPosition commits the final answer and attempts the reveal in
// case this was the last lock.
func (s *Session) LockPosition(ctx context.Context, position float64) error {
	room, self := s.identity()
	round := s.currentRoundNumber()

	if err := s.engine.LockPosition(ctx, room.ID, self.ID, round, position); err != nil {
		return err
	}
	s.notifier.Notify(ctx, bridge.TableDials, room.ID)
	s.notifier.Notify(ctx, bridge.TableRounds, room.ID)

	s.bcast.Broadcast(protocol.MessageLockPosition, protocol.LockPositionPayload{
		PlayerID:   self.ID,
		PlayerName: self.Name,
		Position:   position,
	})

	s.tryReveal(ctx)
	return nil
}

// Advance moves to the next round, or ends the game. Host only.
func (s *Session) Advance(ctx context.Context) error {
	room, self := s.identity()
	round, finished, err := s.engine.AdvanceRound(ctx, room.ID, self.ID)
	if err != nil {
		return err
	}
	s.notifier.Notify(ctx, bridge.TableGameStates, room.ID)
	s.notifier.Notify(ctx, bridge.TableRounds, room.ID)
	if finished {
		s.notifier.Notify(ctx, bridge.TableRooms, room.ID)
		return nil
	}

	state, err := s.store.GetGameState(ctx, room.ID)
	if err != nil {
		return err
	}
	s.bcast.Broadcast(protocol.MessageRoundStart, protocol.RoundStartPayload{
		RoundNumber:  round.RoundNumber,
		PsychicID:    *state.CurrentPsychicID,
		ConceptLeft:  round.LeftConcept,
		ConceptRight: round.RightConcept,
	})
	s.broadcastStateSync(state)
	return nil
}

// Chat sends a free-text message to the room.
func (s *Session) Chat(text string) {
	_, self := s.identity()
	s.bcast.Broadcast(protocol.MessageChat, protocol.ChatPayload{
		PlayerName: self.Name,
		Text:       text,
	})
}

// tryReveal attempts the reveal; every participant races for it when
// they observe the last lock and the store picks one winner.
func (s *Session) tryReveal(ctx context.Context) {
	room, _ := s.identity()
	round := s.currentRoundNumber()

	result, err := s.engine.MaybeReveal(ctx, room.ID, round)
	if errors.Is(err, game.ErrNotAllLocked) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("reveal attempt failed")
		return
	}
	if !result.Applied {
		return
	}

	s.notifier.Notify(ctx, bridge.TableRounds, room.ID)
	s.notifier.Notify(ctx, bridge.TableGameStates, room.ID)

	s.bcast.Broadcast(protocol.MessageReveal, protocol.RevealPayload{
		RoundNumber:    round,
		TargetPosition: *result.Round.TargetPosition,
		Points:         result.Points,
		LostLife:       result.LostLife,
	})
	s.broadcastStateSync(result.State)

	if s.callbacks.OnReveal != nil {
		s.callbacks.OnReveal(*result)
	}
}

func (s *Session) broadcastStateSync(state *models.GameState) {
	s.bcast.Broadcast(protocol.MessageGameStateSync, protocol.GameStateSyncPayload{
		CurrentRound:   state.CurrentRound,
		TeamScore:      state.TeamScore,
		LivesRemaining: state.LivesRemaining,
		PsychicID:      state.CurrentPsychicID,
	})
}

func (s *Session) identity() (*models.Room, *models.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.self
}

func (s *Session) currentRoundNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil {
		return s.state.CurrentRound
	}
	return 1
}
