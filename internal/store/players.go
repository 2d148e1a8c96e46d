package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/partywave/wavelength/internal/models"
)

const playerColumns = `id, room_id, player_name, peer_id, is_host, is_psychic, is_connected, joined_at, last_seen`

func (p *Postgres) CreatePlayer(ctx context.Context, params CreatePlayerParams) (*models.Player, error) {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO players (id, room_id, player_name, peer_id, is_host, is_connected)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING `+playerColumns,
		uuid.New(), params.RoomID, params.Name, params.PeerID, params.IsHost,
	)

	player, err := scanPlayer(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create player: %w", err)
	}
	return player, nil
}

func (p *Postgres) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id)
	player, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return player, nil
}

func (p *Postgres) GetPlayerByPeerID(ctx context.Context, peerID string) (*models.Player, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE peer_id = $1`, peerID)
	player, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player by peer id: %w", err)
	}
	return player, nil
}

// GetPlayers returns the roster in stable join order; psychic rotation
// depends on this ordering.
func (p *Postgres) GetPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE room_id = $1 ORDER BY joined_at, id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, *player)
	}
	return players, rows.Err()
}

// SetPsychic swaps the psychic flag in a single statement; there is no
// window with zero or two psychics.
func (p *Postgres) SetPsychic(ctx context.Context, roomID, playerID uuid.UUID) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE players SET is_psychic = (id = $2) WHERE room_id = $1`,
		roomID, playerID,
	)
	if err != nil {
		return fmt.Errorf("failed to set psychic: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetConnected(ctx context.Context, peerID string, connected bool) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE players SET is_connected = $2, last_seen = NOW() WHERE peer_id = $1`,
		peerID, connected,
	)
	if err != nil {
		return fmt.Errorf("failed to update player connection: %w", err)
	}
	return nil
}

func scanPlayer(row rowScanner) (*models.Player, error) {
	var player models.Player
	if err := row.Scan(
		&player.ID, &player.RoomID, &player.Name, &player.PeerID,
		&player.IsHost, &player.IsPsychic, &player.IsConnected,
		&player.JoinedAt, &player.LastSeen,
	); err != nil {
		return nil, err
	}
	return &player, nil
}
