package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/partywave/wavelength/internal/models"
)

func (p *Postgres) InsertSignal(ctx context.Context, params InsertSignalParams) (*models.Signal, error) {
	var toPeer sql.NullString
	if params.ToPeerID != nil {
		toPeer = sql.NullString{String: *params.ToPeerID, Valid: true}
	}

	row := p.db.QueryRowContext(ctx, `
		INSERT INTO signaling (id, room_id, from_peer_id, to_peer_id, type, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, room_id, from_peer_id, to_peer_id, type, payload, is_consumed, created_at`,
		uuid.New(), params.RoomID, params.FromPeerID, toPeer, params.Type, []byte(params.Payload),
	)

	signal, err := scanSignal(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert signal: %w", err)
	}
	return signal, nil
}

// ConsumeSignals returns every undelivered message addressed to the
// peer (or broadcast) in the room, oldest first, and marks them
// consumed in the same statement. A message returned here is never
// redelivered.
func (p *Postgres) ConsumeSignals(ctx context.Context, roomID uuid.UUID, peerID string) ([]models.Signal, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE signaling SET is_consumed = TRUE
		WHERE id IN (
			SELECT id FROM signaling
			WHERE room_id = $1
			  AND is_consumed = FALSE
			  AND from_peer_id <> $2
			  AND (to_peer_id = $2 OR to_peer_id IS NULL)
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, room_id, from_peer_id, to_peer_id, type, payload, is_consumed, created_at`,
		roomID, peerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		signal, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, *signal)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// UPDATE ... RETURNING does not guarantee row order.
	sort.Slice(signals, func(i, j int) bool {
		return signals[i].CreatedAt.Before(signals[j].CreatedAt)
	})
	return signals, nil
}

func scanSignal(row rowScanner) (*models.Signal, error) {
	var (
		signal  models.Signal
		toPeer  sql.NullString
		payload []byte
	)
	if err := row.Scan(
		&signal.ID, &signal.RoomID, &signal.FromPeerID, &toPeer,
		&signal.Type, &payload, &signal.IsConsumed, &signal.CreatedAt,
	); err != nil {
		return nil, err
	}
	if toPeer.Valid {
		signal.ToPeerID = &toPeer.String
	}
	signal.Payload = payload
	return &signal, nil
}
