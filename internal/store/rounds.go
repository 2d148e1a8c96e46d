package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/partywave/wavelength/internal/models"
)

const roundColumns = `id, room_id, round_number, left_concept, right_concept, psychic_hint, target_position, locked_positions, revealed, points_earned, created_at, updated_at`

func (p *Postgres) CreateRound(ctx context.Context, params CreateRoundParams) (*models.Round, error) {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO rounds (id, room_id, round_number, left_concept, right_concept)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+roundColumns,
		uuid.New(), params.RoomID, params.RoundNumber, params.LeftConcept, params.RightConcept,
	)

	round, err := scanRound(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateRound
		}
		return nil, fmt.Errorf("failed to create round: %w", err)
	}
	return round, nil
}

func (p *Postgres) GetRound(ctx context.Context, roomID uuid.UUID, roundNumber int) (*models.Round, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE room_id = $1 AND round_number = $2`,
		roomID, roundNumber)
	round, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return round, nil
}

// SetRoundTarget commits the psychic's target. The IS NULL guard makes
// the null -> non-null transition happen exactly once per round.
func (p *Postgres) SetRoundTarget(ctx context.Context, roomID uuid.UUID, roundNumber int, position float64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rounds SET target_position = $3, updated_at = NOW()
		WHERE room_id = $1 AND round_number = $2 AND target_position IS NULL`,
		roomID, roundNumber, position,
	)
	if err != nil {
		return fmt.Errorf("failed to set round target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := p.GetRound(ctx, roomID, roundNumber); err != nil {
			return err
		}
		return ErrTargetAlreadySet
	}
	return nil
}

func (p *Postgres) SetRoundHint(ctx context.Context, roomID uuid.UUID, roundNumber int, hint string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rounds SET psychic_hint = $3, updated_at = NOW()
		WHERE room_id = $1 AND round_number = $2 AND revealed = FALSE`,
		roomID, roundNumber, hint,
	)
	if err != nil {
		return fmt.Errorf("failed to set round hint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendLockedPosition appends one entry to the round's lock-in
// ledger. The ledger is jsonb append-only; revealed rounds refuse
// further appends.
func (p *Postgres) AppendLockedPosition(ctx context.Context, roundID uuid.UUID, entry models.LockedPosition) error {
	entryBytes, err := json.Marshal([]models.LockedPosition{entry})
	if err != nil {
		return fmt.Errorf("failed to marshal locked position: %w", err)
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE rounds
		SET locked_positions = COALESCE(locked_positions, '[]'::jsonb) || $2::jsonb,
		    updated_at = NOW()
		WHERE id = $1 AND revealed = FALSE`,
		roundID, entryBytes,
	)
	if err != nil {
		return fmt.Errorf("failed to append locked position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevealRound flips the revealed flag. It reports true only for the
// single caller that won the conditional update; redundant observers
// of the all-locked predicate get false and must not re-apply deltas.
func (p *Postgres) RevealRound(ctx context.Context, roundID uuid.UUID, points int) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rounds SET revealed = TRUE, points_earned = $2, updated_at = NOW()
		WHERE id = $1 AND revealed = FALSE`,
		roundID, points,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reveal round: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read reveal result: %w", err)
	}
	return n == 1, nil
}

func (p *Postgres) DeleteRounds(ctx context.Context, roomID uuid.UUID) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM rounds WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("failed to delete rounds: %w", err)
	}
	return nil
}

func scanRound(row rowScanner) (*models.Round, error) {
	var (
		round  models.Round
		hint   sql.NullString
		target sql.NullFloat64
		ledger pqtype.NullRawMessage
		points sql.NullInt32
	)
	if err := row.Scan(
		&round.ID, &round.RoomID, &round.RoundNumber,
		&round.LeftConcept, &round.RightConcept,
		&hint, &target, &ledger, &round.Revealed, &points,
		&round.CreatedAt, &round.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if hint.Valid {
		round.PsychicHint = &hint.String
	}
	if target.Valid {
		round.TargetPosition = &target.Float64
	}
	if points.Valid {
		round.PointsEarned = int(points.Int32)
	}
	if ledger.Valid {
		if err := json.Unmarshal(ledger.RawMessage, &round.LockedPositions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal locked positions: %w", err)
		}
	}
	return &round, nil
}
