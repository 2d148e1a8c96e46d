package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/partywave/wavelength/internal/bridge"
	"github.com/partywave/wavelength/internal/game"
	"github.com/partywave/wavelength/internal/models"
	"github.com/partywave/wavelength/internal/store/memstore"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	st := memstore.New()
	clock := clockwork.NewFakeClock()
	engine := game.NewEngine(st, clock)
	feed := bridge.NewPollFeed()
	b := bridge.New(feed, clock, bridge.DefaultConfig())
	srv := NewServer(engine, st, b, bridge.NewLocalNotifier(feed), DefaultConfig())
	return srv, srv.routes()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

type createdGame struct {
	Room   models.Room   `json:"room"`
	Player models.Player `json:"player"`
}

func createGame(t *testing.T, handler http.Handler) createdGame {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/game/create", createGameRequest{
		RoomName: "Test Night",
		HostName: "Alice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body)
	}
	var out createdGame
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return out
}

func TestCreateJoinStartFlow(t *testing.T) {
	_, handler := newTestServer(t)
	created := createGame(t, handler)
	if created.Room.Code == "" || !created.Player.IsHost {
		t.Fatalf("created = %+v", created)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/game/join", joinGameRequest{
		Code:       created.Room.Code,
		PlayerName: "Bob",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("join status = %d body=%s", rec.Code, rec.Body)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/game/start", roomPlayerRequest{
		RoomID:   created.Room.ID,
		PlayerID: created.Player.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d body=%s", rec.Code, rec.Body)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/game/state?room_id="+created.Room.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state status = %d body=%s", rec.Code, rec.Body)
	}
	var snap game.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.State == nil || snap.State.CurrentRound != 1 || snap.Round == nil {
		t.Errorf("snapshot = %+v, want round 1 in progress", snap)
	}
}

func TestJoinUnknownCode(t *testing.T) {
	_, handler := newTestServer(t)
	rec := doJSON(t, handler, http.MethodPost, "/api/game/join", joinGameRequest{
		Code:       "NOSUCH",
		PlayerName: "Bob",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, handler := newTestServer(t)
	created := createGame(t, handler)
	rec := doJSON(t, handler, http.MethodPost, "/api/game/join", joinGameRequest{Code: created.Room.Code, PlayerName: "Bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("join: %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/game/start", roomPlayerRequest{RoomID: created.Room.ID, PlayerID: created.Player.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d", rec.Code)
	}

	// Non-psychic setting the target is forbidden, not a server error.
	ctx := context.Background()
	players, err := srv.store.GetPlayers(ctx, created.Room.ID)
	if err != nil {
		t.Fatalf("GetPlayers: %v", err)
	}
	var guesser uuid.UUID
	for _, p := range players {
		if !p.IsPsychic {
			guesser = p.ID
			break
		}
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/game/set-target", positionRequest{
		RoomID: created.Room.ID, PlayerID: guesser, RoundNumber: 1, Position: 40,
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("set-target by guesser status = %d, want 403", rec.Code)
	}

	// Guessing before the target exists is a conflict.
	rec = doJSON(t, handler, http.MethodPost, "/api/game/dial", positionRequest{
		RoomID: created.Room.ID, PlayerID: guesser, RoundNumber: 1, Position: 50,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("early dial status = %d, want 409", rec.Code)
	}
}

func TestRoomQR(t *testing.T) {
	_, handler := newTestServer(t)
	created := createGame(t, handler)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/rooms/%s/qr", created.Room.Code), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("qr status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %s, want image/png", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty qr body")
	}
}

func TestSignalingEndpoints(t *testing.T) {
	_, handler := newTestServer(t)
	created := createGame(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/signaling", signalRequest{
		RoomID:     created.Room.ID,
		FromPeerID: "peer-a",
		ToPeerID:   ptr("peer-b"),
		Type:       "offer",
		Payload:    json.RawMessage(`{"sdp":"x"}`),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send signal status = %d body=%s", rec.Code, rec.Body)
	}

	path := "/api/signaling?room_id=" + created.Room.ID.String() + "&peer_id=peer-b"
	rec = doJSON(t, handler, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("consume status = %d", rec.Code)
	}
	var signals []models.Signal
	if err := json.Unmarshal(rec.Body.Bytes(), &signals); err != nil {
		t.Fatalf("decode signals: %v", err)
	}
	if len(signals) != 1 || signals[0].Type != models.SignalOffer {
		t.Fatalf("signals = %+v, want the one offer", signals)
	}

	// Consumed means gone.
	rec = doJSON(t, handler, http.MethodGet, path, nil)
	signals = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &signals); err != nil {
		t.Fatalf("decode signals: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("redelivered %d signals, want 0", len(signals))
	}
}

func ptr(s string) *string { return &s }
