package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tapsakay/backend/internal/models"
)

// TapStore records every inbound tap, whatever its settlement outcome.
type TapStore interface {
	Record(ctx context.Context, tap *models.TapEvent) error
	ListRecent(ctx context.Context, limit int) ([]models.TapEvent, error)
}

// SQLTapStore is the Postgres-backed TapStore.
type SQLTapStore struct {
	db *sql.DB
}

func NewSQLTapStore(db *sql.DB) *SQLTapStore {
	return &SQLTapStore{db: db}
}

func (s *SQLTapStore) Record(ctx context.Context, tap *models.TapEvent) error {
	if tap.CreatedAt.IsZero() {
		tap.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tap_events
		(tap_id, card_id, device_id, lat, lng, outcome, ledger_entry_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tap.TapID, tap.CardID, tap.DeviceID, tap.Location.Latitude, tap.Location.Longitude,
		tap.Outcome, tap.LedgerEntryID, tap.CreatedAt)
	if err != nil {
		return fmt.Errorf("record tap %s: %w", tap.TapID, err)
	}
	return nil
}

func (s *SQLTapStore) ListRecent(ctx context.Context, limit int) ([]models.TapEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tap_id, card_id, device_id, lat, lng, outcome, ledger_entry_id, created_at
		FROM tap_events
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent taps: %w", err)
	}
	defer rows.Close()

	taps := []models.TapEvent{}
	for rows.Next() {
		var tap models.TapEvent
		err := rows.Scan(&tap.TapID, &tap.CardID, &tap.DeviceID,
			&tap.Location.Latitude, &tap.Location.Longitude,
			&tap.Outcome, &tap.LedgerEntryID, &tap.CreatedAt)
		if err != nil {
			return nil, err
		}
		taps = append(taps, tap)
	}
	return taps, rows.Err()
}
