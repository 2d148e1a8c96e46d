package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/partywave/wavelength/internal/bridge"
	"github.com/partywave/wavelength/internal/game"
	"github.com/partywave/wavelength/internal/models"
	"github.com/partywave/wavelength/internal/store"
)

type createGameRequest struct {
	RoomName string              `json:"roomName"`
	HostName string              `json:"hostName"`
	Settings models.RoomSettings `json:"settings"`
}

type joinGameRequest struct {
	Code       string `json:"code"`
	PlayerName string `json:"playerName"`
}

type roomPlayerRequest struct {
	RoomID   uuid.UUID `json:"roomId"`
	PlayerID uuid.UUID `json:"playerId"`
}

type positionRequest struct {
	RoomID      uuid.UUID `json:"roomId"`
	PlayerID    uuid.UUID `json:"playerId"`
	RoundNumber int       `json:"roundNumber"`
	Position    float64   `json:"position"`
}

type hintRequest struct {
	RoomID      uuid.UUID `json:"roomId"`
	PlayerID    uuid.UUID `json:"playerId"`
	RoundNumber int       `json:"roundNumber"`
	Hint        string    `json:"hint"`
}

type revealRequest struct {
	RoomID      uuid.UUID `json:"roomId"`
	RoundNumber int       `json:"roundNumber"`
}

type signalRequest struct {
	RoomID     uuid.UUID       `json:"roomId"`
	FromPeerID string          `json:"fromPeerId"`
	ToPeerID   *string         `json:"toPeerId,omitempty"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createGameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	room, player, err := s.engine.CreateRoom(r.Context(), game.CreateRoomParams{
		RoomName: req.RoomName,
		HostName: req.HostName,
		Settings: req.Settings,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"room": room, "player": player})
}

func (s *Server) handleJoinGame(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req joinGameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	room, player, err := s.engine.JoinRoom(r.Context(), req.Code, req.PlayerName)
	if err != nil {
		writeError(w, err)
		return
	}
	s.notifier.Notify(r.Context(), bridge.TablePlayers, room.ID)
	writeJSON(w, http.StatusOK, map[string]any{"room": room, "player": player})
}

func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req roomPlayerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	state, round, err := s.engine.StartGame(r.Context(), req.RoomID, req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.notifyAll(r.Context(), req.RoomID, bridge.TableRooms, bridge.TableGameStates, bridge.TableRounds, bridge.TablePlayers)
	writeJSON(w, http.StatusOK, map[string]any{"state": state, "round": round})
}

func (s *Server) handleSetTarget(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req positionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.SetTarget(r.Context(), req.RoomID, req.PlayerID, req.RoundNumber, req.Position); err != nil {
		writeError(w, err)
		return
	}
	s.notifyAll(r.Context(), req.RoomID, bridge.TableRounds)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSubmitHint(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req hintRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.SubmitHint(r.Context(), req.RoomID, req.PlayerID, req.RoundNumber, req.Hint); err != nil {
		writeError(w, err)
		return
	}
	s.notifyAll(r.Context(), req.RoomID, bridge.TableRounds)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMoveDial(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req positionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.MoveDial(r.Context(), req.RoomID, req.PlayerID, req.RoundNumber, req.Position); err != nil {
		writeError(w, err)
		return
	}
	s.notifyAll(r.Context(), req.RoomID, bridge.TableDials)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLockPosition(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req positionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.LockPosition(r.Context(), req.RoomID, req.PlayerID, req.RoundNumber, req.Position); err != nil {
		writeError(w, err)
		return
	}
	s.notifyAll(r.Context(), req.RoomID, bridge.TableDials, bridge.TableRounds)

	// Closing lock also closes the round when everyone is in.
	result, err := s.engine.MaybeReveal(r.Context(), req.RoomID, req.RoundNumber)
	if err != nil && !errors.Is(err, game.ErrNotAllLocked) {
		log.Warn().Err(err).Msg("reveal attempt after lock failed")
	}
	if err == nil && result.Applied {
		s.notifyAll(r.Context(), req.RoomID, bridge.TableRounds, bridge.TableGameStates)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req revealRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.engine.MaybeReveal(r.Context(), req.RoomID, req.RoundNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Applied {
		s.notifyAll(r.Context(), req.RoomID, bridge.TableRounds, bridge.TableGameStates)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAdvanceRound(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req roomPlayerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	round, finished, err := s.engine.AdvanceRound(r.Context(), req.RoomID, req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	tables := []string{bridge.TableGameStates, bridge.TableRounds, bridge.TablePlayers}
	if finished {
		tables = append(tables, bridge.TableRooms)
	}
	s.notifyAll(r.Context(), req.RoomID, tables...)
	writeJSON(w, http.StatusOK, map[string]any{"round": round, "finished": finished})
}

// handleGameState serves the full snapshot, looked up by room id or
// join code. This is the poll fallback for clients without a working
// push channel.
func (s *Server) handleGameState(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	roomID, err := s.resolveRoomID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snapshot, err := s.engine.GetSnapshot(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleRoomQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("code")
	if _, err := s.store.GetRoomByCode(r.Context(), code); err != nil {
		writeError(w, err)
		return
	}
	png, err := qrcode.Encode(s.joinURL(code), qrcode.Medium, 256)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (s *Server) handleSendSignal(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req signalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	signal, err := s.store.InsertSignal(r.Context(), store.InsertSignalParams{
		RoomID:     req.RoomID,
		FromPeerID: req.FromPeerID,
		ToPeerID:   req.ToPeerID,
		Type:       models.SignalType(req.Type),
		Payload:    req.Payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.notifyAll(r.Context(), req.RoomID, bridge.TableSignaling)
	writeJSON(w, http.StatusCreated, signal)
}

func (s *Server) handleConsumeSignals(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	roomID, err := uuid.Parse(r.URL.Query().Get("room_id"))
	if err != nil {
		writeError(w, errBadRequest("invalid room_id"))
		return
	}
	peerID := r.URL.Query().Get("peer_id")
	if peerID == "" {
		writeError(w, errBadRequest("peer_id is required"))
		return
	}
	signals, err := s.store.ConsumeSignals(r.Context(), roomID, peerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if signals == nil {
		signals = []models.Signal{}
	}
	writeJSON(w, http.StatusOK, signals)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	roomID, err := s.resolveRoomID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.hub.Upgrade(w, r, roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to upgrade websocket connection")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	rooms, connections := s.hub.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"rooms":       rooms,
		"connections": connections,
	})
}

// resolveRoomID accepts either room_id or a join code.
func (s *Server) resolveRoomID(r *http.Request) (uuid.UUID, error) {
	if raw := r.URL.Query().Get("room_id"); raw != "" {
		roomID, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, errBadRequest("invalid room_id")
		}
		return roomID, nil
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		return uuid.Nil, errBadRequest("room_id or code is required")
	}
	room, err := s.store.GetRoomByCode(r.Context(), code)
	if err != nil {
		return uuid.Nil, err
	}
	return room.ID, nil
}
