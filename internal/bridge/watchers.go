package bridge

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/partywave/wavelength/internal/models"
	"github.com/partywave/wavelength/internal/store"
)

// Typed watchers wrap Subscribe with the fetch for one table. Handlers
// receive fresh rows; a fetch error is logged and retried on the next
// tick, the handler is simply not called.

// WatchDials streams the live dial rows for a round.
func (b *Bridge) WatchDials(s store.DialStore, roomID uuid.UUID, roundNumber int, handler func([]models.DialUpdate)) (cancel func()) {
	return b.Subscribe(TableDials, roomID, func(ctx context.Context) {
		dials, err := s.GetDials(ctx, roomID, roundNumber)
		if err != nil {
			logRefetchErr(err, TableDials)
			return
		}
		handler(dials)
	})
}

// WatchRound streams a round row, target-set and reveal flips
// included.
func (b *Bridge) WatchRound(s store.RoundStore, roomID uuid.UUID, roundNumber int, handler func(*models.Round)) (cancel func()) {
	return b.Subscribe(TableRounds, roomID, func(ctx context.Context) {
		round, err := s.GetRound(ctx, roomID, roundNumber)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logRefetchErr(err, TableRounds)
			}
			return
		}
		handler(round)
	})
}

// WatchGameState streams the room's game progress row.
func (b *Bridge) WatchGameState(s store.GameStateStore, roomID uuid.UUID, handler func(*models.GameState)) (cancel func()) {
	return b.Subscribe(TableGameStates, roomID, func(ctx context.Context) {
		state, err := s.GetGameState(ctx, roomID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logRefetchErr(err, TableGameStates)
			}
			return
		}
		handler(state)
	})
}

// WatchRoster streams the room's player list in join order.
func (b *Bridge) WatchRoster(s store.PlayerStore, roomID uuid.UUID, handler func([]models.Player)) (cancel func()) {
	return b.Subscribe(TablePlayers, roomID, func(ctx context.Context) {
		players, err := s.GetPlayers(ctx, roomID)
		if err != nil {
			logRefetchErr(err, TablePlayers)
			return
		}
		handler(players)
	})
}

// WatchSignaling turns signaling writes into nudges for the relay
// client, so offers reach the addressee ahead of its poll tick.
func (b *Bridge) WatchSignaling(roomID uuid.UUID, nudge func()) (cancel func()) {
	first := true
	return b.Subscribe(TableSignaling, roomID, func(ctx context.Context) {
		// The initial pass fires before any write; the relay client
		// does its own initial drain.
		if first {
			first = false
			return
		}
		nudge()
	})
}
