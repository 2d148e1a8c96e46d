package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/partywave/wavelength/internal/models"
)

const dialColumns = `id, room_id, round_number, player_id, dial_position, is_locked, created_at`

// UpsertDial writes the live cursor for (room, round, player). The
// conditional DO UPDATE refuses to touch a locked row, which makes the
// lock a one-way latch: once is_locked is true no later write lands.
func (p *Postgres) UpsertDial(ctx context.Context, params UpsertDialParams) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO dial_updates (id, room_id, round_number, player_id, dial_position, is_locked)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, round_number, player_id) DO UPDATE SET
			dial_position = EXCLUDED.dial_position,
			is_locked = EXCLUDED.is_locked
		WHERE dial_updates.is_locked = FALSE`,
		uuid.New(), params.RoomID, params.RoundNumber, params.PlayerID, params.Position, params.Locked,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert dial: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyLocked
	}
	return nil
}

func (p *Postgres) GetDials(ctx context.Context, roomID uuid.UUID, roundNumber int) ([]models.DialUpdate, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+dialColumns+` FROM dial_updates WHERE room_id = $1 AND round_number = $2`,
		roomID, roundNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list dials: %w", err)
	}
	defer rows.Close()

	var dials []models.DialUpdate
	for rows.Next() {
		var dial models.DialUpdate
		if err := rows.Scan(
			&dial.ID, &dial.RoomID, &dial.RoundNumber, &dial.PlayerID,
			&dial.DialPosition, &dial.IsLocked, &dial.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dial: %w", err)
		}
		dials = append(dials, dial)
	}
	return dials, rows.Err()
}

func (p *Postgres) CountLockedDials(ctx context.Context, roomID uuid.UUID, roundNumber int) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dial_updates WHERE room_id = $1 AND round_number = $2 AND is_locked = TRUE`,
		roomID, roundNumber).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count locked dials: %w", err)
	}
	return count, nil
}

func (p *Postgres) DeleteDials(ctx context.Context, roomID uuid.UUID) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM dial_updates WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("failed to delete dials: %w", err)
	}
	return nil
}
