package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/partywave/wavelength/internal/peer"
	"github.com/partywave/wavelength/internal/store"
)

// storeRoster adapts the player store to the mesh's roster lookup.
type storeRoster struct {
	players store.PlayerStore
}

// NewRoster returns the roster view the peer mesh enumerates when
// joining a room.
func NewRoster(s store.PlayerStore) peer.Roster {
	return storeRoster{players: s}
}

func (r storeRoster) PeerIDs(ctx context.Context, roomID uuid.UUID) ([]string, error) {
	players, err := r.players.GetPlayers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(players))
	for _, p := range players {
		ids = append(ids, p.PeerID)
	}
	return ids, nil
}
