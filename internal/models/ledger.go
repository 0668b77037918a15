package models

import (
	"database/sql"
	"time"
)

// Ledger entry kinds. A reversal documents a compensated saga step whose
// forward entry never made it into the journal; it carries the same account
// on both sides and nets to zero when balances are derived.
const (
	EntryKindTopup    = "topup"
	EntryKindFare     = "fare"
	EntryKindReversal = "reversal"
)

// Ledger entry statuses.
const (
	EntryStatusApplied  = "applied"
	EntryStatusRejected = "rejected"
)

// LedgerEntry is one committed settlement action. Entries are immutable once
// written; EntryID doubles as the idempotency key for the request that
// produced them. Rejected entries carry no balance fields.
type LedgerEntry struct {
	EntryID            string         `json:"entry_id" db:"entry_id"`
	Kind               string         `json:"kind" db:"kind"`
	Status             string         `json:"status" db:"status"`
	Amount             int64          `json:"amount" db:"amount"` // minor units, positive
	CommissionAmount   int64          `json:"commission_amount" db:"commission_amount"`
	SourceAccount      sql.NullString `json:"source_account" db:"source_account"` // null for topup
	DestAccount        string         `json:"dest_account" db:"dest_account"`
	BalanceAfterSource sql.NullInt64  `json:"balance_after_source" db:"balance_after_source"`
	BalanceAfterDest   sql.NullInt64  `json:"balance_after_dest" db:"balance_after_dest"`
	Reason             string         `json:"reason,omitempty" db:"reason"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
}

// DriverShare is the portion of a fare credited to the destination account.
func (e *LedgerEntry) DriverShare() int64 {
	if e.Kind != EntryKindFare {
		return 0
	}
	return e.Amount - e.CommissionAmount
}
