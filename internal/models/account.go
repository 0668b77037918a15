package models

import (
	"time"
)

// Account roles. One account exists per (owner, role) pair.
const (
	RolePassenger = "passenger"
	RoleDriver    = "driver"
	RolePlatform  = "platform"
)

// Account holds a wallet balance in minor currency units. The balance is
// only ever mutated through the settlement engine; version is the optimistic
// concurrency counter.
type Account struct {
	AccountID string    `json:"account_id" db:"account_id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Role      string    `json:"role" db:"role"`
	Balance   int64     `json:"balance" db:"balance"` // minor units, never negative
	Version   int       `json:"version" db:"version"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
