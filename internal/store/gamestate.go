package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/partywave/wavelength/internal/models"
)

const gameStateColumns = `id, room_id, current_round, team_score, lives_remaining, current_psychic_id, updated_at`

// UpsertGameState creates or resets the 1:1 game state row for a room.
func (p *Postgres) UpsertGameState(ctx context.Context, params UpsertGameStateParams) (*models.GameState, error) {
	var psychicID uuid.NullUUID
	if params.CurrentPsychicID != nil {
		psychicID = uuid.NullUUID{UUID: *params.CurrentPsychicID, Valid: true}
	}

	row := p.db.QueryRowContext(ctx, `
		INSERT INTO game_state (id, room_id, current_round, team_score, lives_remaining, current_psychic_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id) DO UPDATE SET
			current_round = EXCLUDED.current_round,
			team_score = EXCLUDED.team_score,
			lives_remaining = EXCLUDED.lives_remaining,
			current_psychic_id = EXCLUDED.current_psychic_id,
			updated_at = NOW()
		RETURNING `+gameStateColumns,
		uuid.New(), params.RoomID, params.CurrentRound, params.TeamScore, params.LivesRemaining, psychicID,
	)

	state, err := scanGameState(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert game state: %w", err)
	}
	return state, nil
}

func (p *Postgres) GetGameState(ctx context.Context, roomID uuid.UUID) (*models.GameState, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+gameStateColumns+` FROM game_state WHERE room_id = $1`, roomID)
	state, err := scanGameState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game state: %w", err)
	}
	return state, nil
}

// ApplyRevealDelta adds the round's points and lives delta with atomic
// increments; two revealers cannot double-apply because the caller
// only invokes this after winning the revealed flag.
func (p *Postgres) ApplyRevealDelta(ctx context.Context, roomID uuid.UUID, points, livesDelta int) (*models.GameState, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE game_state
		SET team_score = team_score + $2,
		    lives_remaining = GREATEST(lives_remaining + $3, 0),
		    updated_at = NOW()
		WHERE room_id = $1
		RETURNING `+gameStateColumns,
		roomID, points, livesDelta,
	)

	state, err := scanGameState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply reveal delta: %w", err)
	}
	return state, nil
}

func (p *Postgres) SetGameStateRound(ctx context.Context, roomID uuid.UUID, round int, psychicID uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE game_state
		SET current_round = $2, current_psychic_id = $3, updated_at = NOW()
		WHERE room_id = $1`,
		roomID, round, psychicID,
	)
	if err != nil {
		return fmt.Errorf("failed to set game state round: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanGameState(row rowScanner) (*models.GameState, error) {
	var (
		state     models.GameState
		psychicID uuid.NullUUID
	)
	if err := row.Scan(
		&state.ID, &state.RoomID, &state.CurrentRound, &state.TeamScore,
		&state.LivesRemaining, &psychicID, &state.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if psychicID.Valid {
		state.CurrentPsychicID = &psychicID.UUID
	}
	return &state, nil
}
