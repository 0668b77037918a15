package models

import (
	"database/sql"
	"time"
)

// Tap outcomes.
const (
	TapOutcomeSuccess             = "success"
	TapOutcomeInsufficientBalance = "insufficient_balance"
	TapOutcomeCardUnresolved      = "card_unresolved"
	TapOutcomeConflict            = "conflict"
)

// Location is the geographic point reported by the tap device.
type Location struct {
	Latitude  float64 `json:"lat" db:"lat"`
	Longitude float64 `json:"lng" db:"lng"`
}

// TapEvent records one physical tap, independent of how settlement turned
// out. Created once per inbound tap and never mutated.
type TapEvent struct {
	TapID         string         `json:"tap_id" db:"tap_id"`
	CardID        string         `json:"card_id" db:"card_id"`
	DeviceID      string         `json:"device_id" db:"device_id"`
	Location      Location       `json:"location"`
	Outcome       string         `json:"outcome" db:"outcome"`
	LedgerEntryID sql.NullString `json:"ledger_entry_id" db:"ledger_entry_id"` // set on success
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}
