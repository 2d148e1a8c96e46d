package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/partywave/wavelength/internal/models"
)

const roomColumns = `id, room_code, room_name, status, settings, host_player_id, created_at, updated_at`

func (p *Postgres) CreateRoom(ctx context.Context, params CreateRoomParams) (*models.Room, error) {
	settingsBytes, err := json.Marshal(params.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal room settings: %w", err)
	}

	row := p.db.QueryRowContext(ctx, `
		INSERT INTO game_rooms (id, room_code, room_name, status, settings)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+roomColumns,
		uuid.New(), params.Code, params.Name, models.RoomStatusWaiting, settingsBytes,
	)

	room, err := scanRoom(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return room, nil
}

func (p *Postgres) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM game_rooms WHERE id = $1`, id)
	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

func (p *Postgres) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM game_rooms WHERE room_code = $1`, code)
	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room by code: %w", err)
	}
	return room, nil
}

func (p *Postgres) SetRoomHost(ctx context.Context, roomID, playerID uuid.UUID) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE game_rooms SET host_player_id = $2, updated_at = NOW() WHERE id = $1`,
		roomID, playerID,
	)
	if err != nil {
		return fmt.Errorf("failed to set room host: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) TransitionRoomStatus(ctx context.Context, roomID uuid.UUID, from, to models.RoomStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE game_rooms SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		roomID, from, to,
	)
	if err != nil {
		return fmt.Errorf("failed to transition room status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*models.Room, error) {
	var (
		room          models.Room
		settingsBytes []byte
		hostID        uuid.NullUUID
	)
	if err := row.Scan(
		&room.ID, &room.Code, &room.Name, &room.Status,
		&settingsBytes, &hostID, &room.CreatedAt, &room.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(settingsBytes) > 0 {
		if err := json.Unmarshal(settingsBytes, &room.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal room settings: %w", err)
		}
	}
	if hostID.Valid {
		room.HostPlayerID = &hostID.UUID
	}
	return &room, nil
}
