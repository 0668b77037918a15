package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tapsakay/backend/internal/models"
)

// AccountStore exposes balance reads and the single conditional write the
// settlement engine is allowed to perform.
type AccountStore interface {
	Get(ctx context.Context, accountID string) (*models.Account, error)
	GetByOwner(ctx context.Context, ownerID, role string) (*models.Account, error)
	// ConditionalUpdate applies delta to the balance and bumps the version,
	// but only if the stored version still equals expectedVersion and the
	// resulting balance stays non-negative. Zero rows on an existing account
	// is reported as ErrVersionConflict.
	ConditionalUpdate(ctx context.Context, accountID string, expectedVersion int, delta int64) (*models.Account, error)
}

// SQLAccountStore is the Postgres-backed AccountStore.
type SQLAccountStore struct {
	db *sql.DB
}

func NewSQLAccountStore(db *sql.DB) *SQLAccountStore {
	return &SQLAccountStore{db: db}
}

func (s *SQLAccountStore) Get(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, owner_id, role, balance, version, updated_at
		FROM accounts
		WHERE account_id = $1`, accountID).
		Scan(&account.AccountID, &account.OwnerID, &account.Role,
			&account.Balance, &account.Version, &account.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch account %s: %w", accountID, err)
	}
	return &account, nil
}

func (s *SQLAccountStore) GetByOwner(ctx context.Context, ownerID, role string) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, owner_id, role, balance, version, updated_at
		FROM accounts
		WHERE owner_id = $1 AND role = $2`, ownerID, role).
		Scan(&account.AccountID, &account.OwnerID, &account.Role,
			&account.Balance, &account.Version, &account.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch account for owner %s: %w", ownerID, err)
	}
	return &account, nil
}

func (s *SQLAccountStore) ConditionalUpdate(ctx context.Context, accountID string, expectedVersion int, delta int64) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET balance = balance + $1, version = version + 1, updated_at = NOW()
		WHERE account_id = $2 AND version = $3 AND balance + $1 >= 0
		RETURNING account_id, owner_id, role, balance, version, updated_at`,
		delta, accountID, expectedVersion).
		Scan(&account.AccountID, &account.OwnerID, &account.Role,
			&account.Balance, &account.Version, &account.UpdatedAt)

	if err == sql.ErrNoRows {
		// Either the account is gone or a concurrent writer moved the
		// version / drained the balance since our read.
		if _, getErr := s.Get(ctx, accountID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("conditional update on account %s: %w", accountID, err)
	}
	return &account, nil
}
