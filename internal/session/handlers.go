package session

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/partywave/wavelength/internal/models"
	"github.com/partywave/wavelength/internal/protocol"
)

// registerHandlers wires the inbound peer message types. Pushes are
// applied optimistically to the local view; the bridge's refetch of
// the same rows is the authoritative correction.
func (s *Session) registerHandlers() {
	s.disp.Handle(protocol.MessageDialUpdate, s.onDialUpdateMsg)
	s.disp.Handle(protocol.MessageLockPosition, s.onLockPositionMsg)
	s.disp.Handle(protocol.MessageReveal, s.onRevealMsg)
	s.disp.Handle(protocol.MessageChat, s.onChatMsg)
	s.disp.Handle(protocol.MessageRoundStart, s.onRoundStartMsg)
	s.disp.Handle(protocol.MessageGameStateSync, s.onStateSyncMsg)
	s.disp.Handle(protocol.MessagePlayerJoined, s.onPresenceMsg)
	s.disp.Handle(protocol.MessagePlayerLeft, s.onPresenceMsg)
}

func (s *Session) onDialUpdateMsg(fromPeerID string, payload json.RawMessage) {
	var p protocol.DialUpdatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Warn().Err(err).Str("from_peer", fromPeerID).Msg("malformed dial update")
		return
	}
	s.mu.Lock()
	roomID := s.room.ID
	round := 1
	if s.state != nil {
		round = s.state.CurrentRound
	}
	s.mu.Unlock()

	s.applyDial(models.DialUpdate{
		RoomID:       roomID,
		RoundNumber:  round,
		PlayerID:     p.PlayerID,
		DialPosition: p.Position,
	})
}

// onLockPositionMsg races for the reveal too: the sender may drop
// right after locking, and someone has to close the round out.
func (s *Session) onLockPositionMsg(fromPeerID string, payload json.RawMessage) {
	var p protocol.LockPositionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Warn().Err(err).Str("from_peer", fromPeerID).Msg("malformed lock message")
		return
	}
	s.tryReveal(context.Background())
}

func (s *Session) onRevealMsg(fromPeerID string, payload json.RawMessage) {
	var p protocol.RevealPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Warn().Err(err).Str("from_peer", fromPeerID).Msg("malformed reveal message")
		return
	}
	s.mu.Lock()
	if s.round != nil && s.round.RoundNumber == p.RoundNumber {
		s.round.Revealed = true
		s.round.TargetPosition = &p.TargetPosition
		s.round.PointsEarned = p.Points
	}
	view := s.viewLocked()
	s.mu.Unlock()
	s.notifyUpdate(view)
}

func (s *Session) onChatMsg(fromPeerID string, payload json.RawMessage) {
	var p protocol.ChatPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Warn().Err(err).Str("from_peer", fromPeerID).Msg("malformed chat message")
		return
	}
	if s.callbacks.OnChat != nil {
		s.callbacks.OnChat(p.PlayerName, p.Text)
	}
}

func (s *Session) onRoundStartMsg(fromPeerID string, payload json.RawMessage) {
	var p protocol.RoundStartPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Warn().Err(err).Str("from_peer", fromPeerID).Msg("malformed round start")
		return
	}
	// Clear stale dials immediately; the authoritative round row
	// arrives through the bridge.
	s.mu.Lock()
	s.dials = make(map[uuid.UUID]models.DialUpdate)
	view := s.viewLocked()
	s.mu.Unlock()
	s.notifyUpdate(view)
}

func (s *Session) onStateSyncMsg(fromPeerID string, payload json.RawMessage) {
	var p protocol.GameStateSyncPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Warn().Err(err).Str("from_peer", fromPeerID).Msg("malformed state sync")
		return
	}
	s.mu.Lock()
	if s.state == nil {
		s.state = &models.GameState{RoomID: s.room.ID}
	}
	s.state.CurrentRound = p.CurrentRound
	s.state.TeamScore = p.TeamScore
	s.state.LivesRemaining = p.LivesRemaining
	s.state.CurrentPsychicID = p.PsychicID
	view := s.viewLocked()
	s.mu.Unlock()

	s.rewatchRound(p.CurrentRound)
	s.notifyUpdate(view)
}

func (s *Session) onPresenceMsg(fromPeerID string, payload json.RawMessage) {
	// Membership truth lives in the roster watcher; presence pushes
	// only accelerate the refetch.
	var p protocol.PlayerPresencePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	log.Debug().Str("player", p.PlayerName).Str("peer_id", p.PeerID).Msg("presence update")
}

func (s *Session) onPeerConnected(peerID string) {
	_, self := s.identity()
	log.Info().Str("remote_peer", peerID).Msg("peer channel open")
	s.bcast.SendTo(peerID, protocol.MessagePlayerJoined, protocol.PlayerPresencePayload{
		PlayerID:   self.ID,
		PlayerName: self.Name,
		PeerID:     self.PeerID,
	})
}

func (s *Session) onPeerDisconnected(peerID string) {
	log.Info().Str("remote_peer", peerID).Msg("peer channel closed")
}

// onRoster is the bridge refetch handler for the player list. New
// roster members are reached by their own offers; we only reconcile
// the local view.
func (s *Session) onRoster(players []models.Player) {
	s.mu.Lock()
	s.players = players
	for i := range players {
		if s.self != nil && players[i].ID == s.self.ID {
			self := players[i]
			s.self = &self
		}
	}
	view := s.viewLocked()
	s.mu.Unlock()
	s.notifyUpdate(view)
}

func (s *Session) onGameState(state *models.GameState) {
	s.mu.Lock()
	prevRound := 0
	if s.state != nil {
		prevRound = s.state.CurrentRound
	}
	s.state = state
	if state.CurrentRound != prevRound {
		s.dials = make(map[uuid.UUID]models.DialUpdate)
	}
	view := s.viewLocked()
	s.mu.Unlock()

	if state.CurrentRound != prevRound {
		s.rewatchRound(state.CurrentRound)
	}
	s.notifyUpdate(view)
}

func (s *Session) onRound(round *models.Round) {
	s.mu.Lock()
	s.round = round
	view := s.viewLocked()
	s.mu.Unlock()
	s.notifyUpdate(view)
}

func (s *Session) onDials(dials []models.DialUpdate) {
	s.mu.Lock()
	for _, d := range dials {
		s.dials[d.PlayerID] = d
	}
	view := s.viewLocked()
	s.mu.Unlock()
	s.notifyUpdate(view)
}

// rewatchRound repoints the round and dial watchers at the current
// round. Idempotent per round number.
func (s *Session) rewatchRound(roundNumber int) {
	s.mu.Lock()
	room := s.room
	prevCancel := s.roundCancel
	s.mu.Unlock()
	if room == nil {
		return
	}
	if prevCancel != nil {
		prevCancel()
	}

	cancelRound := s.bridge.WatchRound(s.store, room.ID, roundNumber, s.onRound)
	cancelDials := s.bridge.WatchDials(s.store, room.ID, roundNumber, s.onDials)
	cancel := func() {
		cancelRound()
		cancelDials()
	}

	s.mu.Lock()
	s.roundCancel = cancel
	s.mu.Unlock()
}

func (s *Session) applyDial(dial models.DialUpdate) {
	s.mu.Lock()
	if existing, ok := s.dials[dial.PlayerID]; ok && existing.IsLocked {
		// A locked dial is final; late pushes cannot move it.
		s.mu.Unlock()
		return
	}
	s.dials[dial.PlayerID] = dial
	view := s.viewLocked()
	s.mu.Unlock()
	s.notifyUpdate(view)
}

// viewLocked copies the local picture. Caller holds s.mu.
func (s *Session) viewLocked() View {
	view := View{
		Room:    s.room,
		Self:    s.self,
		Players: append([]models.Player(nil), s.players...),
		State:   s.state,
		Round:   s.round,
		Dials:   make(map[uuid.UUID]models.DialUpdate, len(s.dials)),
	}
	for id, d := range s.dials {
		view.Dials[id] = d
	}
	return view
}

func (s *Session) notifyUpdate(view View) {
	if s.callbacks.OnUpdate != nil {
		s.callbacks.OnUpdate(view)
	}
}
