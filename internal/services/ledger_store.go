package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tapsakay/backend/internal/models"
)

// LedgerStore is the append-only settlement journal. Entries are keyed by
// their idempotency key, so a replayed request can only ever observe the
// entry its first attempt wrote.
type LedgerStore interface {
	// InsertIfAbsent appends entry unless one with the same EntryID already
	// exists. The returned entry is the stored one; inserted reports whether
	// this call created it.
	InsertIfAbsent(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, bool, error)
	GetByID(ctx context.Context, entryID string) (*models.LedgerEntry, error)
	// ListByOwner returns entries touching any of the owner's accounts,
	// newest first, ordered by (created_at, entry_id). A non-zero since
	// restarts the scan strictly before that position; sinceID breaks ties
	// between entries sharing the boundary timestamp.
	ListByOwner(ctx context.Context, ownerID string, limit int, since time.Time, sinceID string) ([]models.LedgerEntry, error)
}

// SQLLedgerStore is the Postgres-backed LedgerStore.
type SQLLedgerStore struct {
	db *sql.DB
}

func NewSQLLedgerStore(db *sql.DB) *SQLLedgerStore {
	return &SQLLedgerStore{db: db}
}

const ledgerColumns = `entry_id, kind, status, amount, commission_amount,
	       source_account, dest_account, balance_after_source, balance_after_dest,
	       reason, created_at`

func (s *SQLLedgerStore) InsertIfAbsent(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, bool, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(entry_id, kind, status, amount, commission_amount, source_account, dest_account,
		 balance_after_source, balance_after_dest, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (entry_id) DO NOTHING`,
		entry.EntryID, entry.Kind, entry.Status, entry.Amount, entry.CommissionAmount,
		entry.SourceAccount, entry.DestAccount, entry.BalanceAfterSource,
		entry.BalanceAfterDest, entry.Reason, entry.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("append ledger entry %s: %w", entry.EntryID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if rows > 0 {
		return entry, true, nil
	}

	existing, err := s.GetByID(ctx, entry.EntryID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *SQLLedgerStore) GetByID(ctx context.Context, entryID string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE entry_id = $1`, entryID)

	entry, err := scanLedgerEntry(row)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("fetch ledger entry %s: %w", entryID, err)
	}
	return entry, nil
}

func (s *SQLLedgerStore) ListByOwner(ctx context.Context, ownerID string, limit int, since time.Time, sinceID string) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if since.IsZero() {
		since = time.Now().UTC().Add(time.Minute)
		sinceID = ""
	}

	cursor := "le.created_at < $2"
	args := []any{ownerID, since}
	if sinceID != "" {
		cursor = "(le.created_at < $2 OR (le.created_at = $2 AND le.entry_id < $3))"
		args = append(args, sinceID)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT `+ledgerColumns+`
		FROM ledger_entries le
		WHERE (le.source_account IN (SELECT account_id FROM accounts WHERE owner_id = $1)
		    OR le.dest_account   IN (SELECT account_id FROM accounts WHERE owner_id = $1))
		  AND %s
		ORDER BY le.created_at DESC, le.entry_id DESC
		LIMIT $%d`, cursor, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries for owner %s: %w", ownerID, err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedgerEntry(row rowScanner) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := row.Scan(
		&entry.EntryID, &entry.Kind, &entry.Status, &entry.Amount, &entry.CommissionAmount,
		&entry.SourceAccount, &entry.DestAccount, &entry.BalanceAfterSource,
		&entry.BalanceAfterDest, &entry.Reason, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
