package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/partywave/wavelength/internal/models"
	"github.com/partywave/wavelength/internal/store"
)

func seedRoom(t *testing.T, m *MemStore) *models.Room {
	t.Helper()
	room, err := m.CreateRoom(context.Background(), store.CreateRoomParams{
		Code:     "ABC123",
		Name:     "test",
		Settings: models.RoomSettings{NumberOfLives: 3, NumberOfRounds: 5, MaxPoints: 4},
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

func seedRound(t *testing.T, m *MemStore, roomID uuid.UUID, number int) *models.Round {
	t.Helper()
	round, err := m.CreateRound(context.Background(), store.CreateRoundParams{
		RoomID:       roomID,
		RoundNumber:  number,
		LeftConcept:  "Hot",
		RightConcept: "Cold",
	})
	if err != nil {
		t.Fatalf("CreateRound: %v", err)
	}
	return round
}

func TestStatusTransitionConditional(t *testing.T) {
	ctx := context.Background()
	m := New()
	room := seedRoom(t, m)

	if err := m.TransitionRoomStatus(ctx, room.ID, models.RoomStatusWaiting, models.RoomStatusInProgress); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	// Losing the race: the room is no longer waiting.
	err := m.TransitionRoomStatus(ctx, room.ID, models.RoomStatusWaiting, models.RoomStatusInProgress)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestSetPsychicIsExclusive(t *testing.T) {
	ctx := context.Background()
	m := New()
	room := seedRoom(t, m)

	var ids []uuid.UUID
	for _, name := range []string{"a", "b", "c"} {
		p, err := m.CreatePlayer(ctx, store.CreatePlayerParams{RoomID: room.ID, Name: name, PeerID: "peer-" + name})
		if err != nil {
			t.Fatalf("CreatePlayer: %v", err)
		}
		ids = append(ids, p.ID)
	}

	for _, target := range []uuid.UUID{ids[0], ids[2]} {
		if err := m.SetPsychic(ctx, room.ID, target); err != nil {
			t.Fatalf("SetPsychic: %v", err)
		}
		players, err := m.GetPlayers(ctx, room.ID)
		if err != nil {
			t.Fatalf("GetPlayers: %v", err)
		}
		count := 0
		for _, p := range players {
			if p.IsPsychic {
				count++
				if p.ID != target {
					t.Errorf("psychic = %s, want %s", p.ID, target)
				}
			}
		}
		if count != 1 {
			t.Errorf("psychic count = %d, want exactly 1", count)
		}
	}
}

func TestPlayersReturnedInJoinOrder(t *testing.T) {
	ctx := context.Background()
	m := New()
	room := seedRoom(t, m)

	names := []string{"first", "second", "third", "fourth"}
	for _, name := range names {
		if _, err := m.CreatePlayer(ctx, store.CreatePlayerParams{RoomID: room.ID, Name: name, PeerID: "peer-" + name}); err != nil {
			t.Fatalf("CreatePlayer: %v", err)
		}
	}

	players, err := m.GetPlayers(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetPlayers: %v", err)
	}
	for i, p := range players {
		if p.Name != names[i] {
			t.Errorf("players[%d] = %s, want %s", i, p.Name, names[i])
		}
	}
}

func TestSetRoundTargetWriteOnce(t *testing.T) {
	ctx := context.Background()
	m := New()
	room := seedRoom(t, m)
	seedRound(t, m, room.ID, 1)

	if err := m.SetRoundTarget(ctx, room.ID, 1, 40); err != nil {
		t.Fatalf("SetRoundTarget: %v", err)
	}
	if err := m.SetRoundTarget(ctx, room.ID, 1, 60); !errors.Is(err, store.ErrTargetAlreadySet) {
		t.Errorf("err = %v, want ErrTargetAlreadySet", err)
	}
	if err := m.SetRoundTarget(ctx, room.ID, 2, 40); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing round err = %v, want ErrNotFound", err)
	}
}

func TestUpsertDialLockLatch(t *testing.T) {
	ctx := context.Background()
	m := New()
	room := seedRoom(t, m)
	playerID := uuid.New()

	params := store.UpsertDialParams{RoomID: room.ID, RoundNumber: 1, PlayerID: playerID, Position: 30}
	if err := m.UpsertDial(ctx, params); err != nil {
		t.Fatalf("UpsertDial: %v", err)
	}
	params.Position = 45
	params.Locked = true
	if err := m.UpsertDial(ctx, params); err != nil {
		t.Fatalf("locking UpsertDial: %v", err)
	}
	params.Position = 90
	params.Locked = false
	if err := m.UpsertDial(ctx, params); !errors.Is(err, store.ErrAlreadyLocked) {
		t.Errorf("err = %v, want ErrAlreadyLocked", err)
	}

	dials, err := m.GetDials(ctx, room.ID, 1)
	if err != nil {
		t.Fatalf("GetDials: %v", err)
	}
	if len(dials) != 1 || dials[0].DialPosition != 45 || !dials[0].IsLocked {
		t.Errorf("dials = %+v, want one locked row at 45", dials)
	}
}

func TestRevealRoundExactlyOnce(t *testing.T) {
	ctx := context.Background()
	m := New()
	room := seedRoom(t, m)
	round := seedRound(t, m, room.ID, 1)

	won, err := m.RevealRound(ctx, round.ID, 3)
	if err != nil || !won {
		t.Fatalf("first reveal: won=%v err=%v", won, err)
	}
	won, err = m.RevealRound(ctx, round.ID, 3)
	if err != nil {
		t.Fatalf("second reveal: %v", err)
	}
	if won {
		t.Error("second reveal should not win")
	}
}

func TestAppendLockedPositionAfterRevealRejected(t *testing.T) {
	ctx := context.Background()
	m := New()
	room := seedRoom(t, m)
	round := seedRound(t, m, room.ID, 1)

	entry := models.LockedPosition{PlayerID: uuid.New(), PlayerName: "late", Position: 50, LockedAt: time.Now()}
	if err := m.AppendLockedPosition(ctx, round.ID, entry); err != nil {
		t.Fatalf("AppendLockedPosition: %v", err)
	}
	if _, err := m.RevealRound(ctx, round.ID, 2); err != nil {
		t.Fatalf("RevealRound: %v", err)
	}
	if err := m.AppendLockedPosition(ctx, round.ID, entry); err == nil {
		t.Error("append after reveal should fail")
	}
}

func TestDuplicateRoundRejected(t *testing.T) {
	ctx := context.Background()
	m := New()
	room := seedRoom(t, m)
	seedRound(t, m, room.ID, 1)

	_, err := m.CreateRound(ctx, store.CreateRoundParams{RoomID: room.ID, RoundNumber: 1, LeftConcept: "x", RightConcept: "y"})
	if !errors.Is(err, store.ErrDuplicateRound) {
		t.Errorf("err = %v, want ErrDuplicateRound", err)
	}
}

func TestApplyRevealDeltaFloorsLives(t *testing.T) {
	ctx := context.Background()
	m := New()
	room := seedRoom(t, m)

	if _, err := m.UpsertGameState(ctx, store.UpsertGameStateParams{RoomID: room.ID, CurrentRound: 1, LivesRemaining: 0}); err != nil {
		t.Fatalf("UpsertGameState: %v", err)
	}
	state, err := m.ApplyRevealDelta(ctx, room.ID, 0, -1)
	if err != nil {
		t.Fatalf("ApplyRevealDelta: %v", err)
	}
	if state.LivesRemaining != 0 {
		t.Errorf("LivesRemaining = %d, want floored 0", state.LivesRemaining)
	}
}
