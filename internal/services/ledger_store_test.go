package services

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tapsakay/backend/internal/models"
)

var ledgerRowColumns = []string{
	"entry_id", "kind", "status", "amount", "commission_amount",
	"source_account", "dest_account", "balance_after_source", "balance_after_dest",
	"reason", "created_at",
}

func fareRow(entryID string, createdAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(ledgerRowColumns).
		AddRow(entryID, models.EntryKindFare, models.EntryStatusApplied, int64(1500), int64(150),
			"ACCT-P1", "ACCT-D1", int64(3500), int64(1350), "", createdAt)
}

func TestSQLLedgerStore_InsertIfAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLLedgerStore(db)

	entry := &models.LedgerEntry{
		EntryID:            "K1",
		Kind:               models.EntryKindFare,
		Status:             models.EntryStatusApplied,
		Amount:             1500,
		CommissionAmount:   150,
		SourceAccount:      sql.NullString{String: "ACCT-P1", Valid: true},
		DestAccount:        "ACCT-D1",
		BalanceAfterSource: sql.NullInt64{Int64: 3500, Valid: true},
		BalanceAfterDest:   sql.NullInt64{Int64: 1350, Valid: true},
	}

	t.Run("first append wins", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_entries")).
			WillReturnResult(sqlmock.NewResult(0, 1))

		stored, inserted, err := store.InsertIfAbsent(context.Background(), entry)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.Equal(t, "K1", stored.EntryID)
		assert.False(t, stored.CreatedAt.IsZero())
	})

	t.Run("duplicate key returns the stored entry", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_entries")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("FROM ledger_entries")).
			WithArgs("K1").
			WillReturnRows(fareRow("K1", time.Now()))

		stored, inserted, err := store.InsertIfAbsent(context.Background(), entry)
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.Equal(t, "K1", stored.EntryID)
		assert.Equal(t, int64(1500), stored.Amount)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedgerStore_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLLedgerStore(db)

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM ledger_entries")).
			WithArgs("K1").
			WillReturnRows(fareRow("K1", time.Now()))

		entry, err := store.GetByID(context.Background(), "K1")
		require.NoError(t, err)
		assert.Equal(t, models.EntryKindFare, entry.Kind)
		assert.Equal(t, "ACCT-P1", entry.SourceAccount.String)
		assert.Equal(t, int64(1350), entry.DriverShare())
	})

	t.Run("missing surfaces sql.ErrNoRows for replay detection", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM ledger_entries")).
			WithArgs("K-missing").
			WillReturnRows(sqlmock.NewRows(ledgerRowColumns))

		_, err := store.GetByID(context.Background(), "K-missing")
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedgerStore_ListByOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLLedgerStore(db)

	t.Run("returns the owner's entries newest first", func(t *testing.T) {
		now := time.Now()
		rows := sqlmock.NewRows(ledgerRowColumns).
			AddRow("K2", models.EntryKindFare, models.EntryStatusApplied, int64(1500), int64(150),
				"ACCT-P1", "ACCT-D1", int64(2000), int64(2700), "", now).
			AddRow("K1", models.EntryKindTopup, models.EntryStatusApplied, int64(10000), int64(0),
				nil, "ACCT-P1", nil, int64(10000), "", now.Add(-time.Minute))

		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY le.created_at DESC")).
			WithArgs("user-1", sqlmock.AnyArg(), 25).
			WillReturnRows(rows)

		entries, err := store.ListByOwner(context.Background(), "user-1", 25, time.Time{}, "")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "K2", entries[0].EntryID)
		assert.False(t, entries[1].SourceAccount.Valid)
	})

	t.Run("cursor breaks timestamp ties on entry id", func(t *testing.T) {
		boundary := time.Now()
		mock.ExpectQuery(regexp.QuoteMeta("(le.created_at < $2 OR (le.created_at = $2 AND le.entry_id < $3))")).
			WithArgs("user-1", boundary, "K2", 25).
			WillReturnRows(fareRow("K1", boundary))

		entries, err := store.ListByOwner(context.Background(), "user-1", 25, boundary, "K2")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "K1", entries[0].EntryID)
	})

	t.Run("clamps an out-of-range limit", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY le.created_at DESC")).
			WithArgs("user-1", sqlmock.AnyArg(), 50).
			WillReturnRows(sqlmock.NewRows(ledgerRowColumns))

		entries, err := store.ListByOwner(context.Background(), "user-1", 1000, time.Time{}, "")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
