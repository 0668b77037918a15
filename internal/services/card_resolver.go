package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tapsakay/backend/internal/models"
)

// CardResolver maps physical identifiers onto accounts. Card provisioning
// and driver/vehicle assignment live outside the engine; the engine only
// consumes this read-only view.
type CardResolver interface {
	// ResolvePassenger maps a card identifier to the owning passenger
	// account. Unknown or inactive cards return ErrCardUnresolved.
	ResolvePassenger(ctx context.Context, cardID string) (*models.Account, error)
	// ResolveDestination maps the tap device to the driver account currently
	// assigned to it. ErrAccountNotFound means no assignment; the engine
	// then settles against the platform account.
	ResolveDestination(ctx context.Context, deviceID string) (*models.Account, error)
}

// SQLCardResolver resolves cards and device assignments from the directory
// tables maintained by the onboarding service.
type SQLCardResolver struct {
	db *sql.DB
}

func NewSQLCardResolver(db *sql.DB) *SQLCardResolver {
	return &SQLCardResolver{db: db}
}

func (r *SQLCardResolver) ResolvePassenger(ctx context.Context, cardID string) (*models.Account, error) {
	var account models.Account
	err := r.db.QueryRowContext(ctx, `
		SELECT a.account_id, a.owner_id, a.role, a.balance, a.version, a.updated_at
		FROM cards c
		JOIN accounts a ON a.owner_id = c.owner_id AND a.role = 'passenger'
		WHERE c.card_id = $1 AND c.status = 'active'`, cardID).
		Scan(&account.AccountID, &account.OwnerID, &account.Role,
			&account.Balance, &account.Version, &account.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrCardUnresolved
	}
	if err != nil {
		return nil, fmt.Errorf("resolve card %s: %w", cardID, err)
	}
	return &account, nil
}

func (r *SQLCardResolver) ResolveDestination(ctx context.Context, deviceID string) (*models.Account, error) {
	var account models.Account
	err := r.db.QueryRowContext(ctx, `
		SELECT a.account_id, a.owner_id, a.role, a.balance, a.version, a.updated_at
		FROM devices d
		JOIN accounts a ON a.owner_id = d.driver_owner_id AND a.role = 'driver'
		WHERE d.device_id = $1`, deviceID).
		Scan(&account.AccountID, &account.OwnerID, &account.Role,
			&account.Balance, &account.Version, &account.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve device %s: %w", deviceID, err)
	}
	return &account, nil
}
