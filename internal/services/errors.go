package services

import "errors"

// Settlement error taxonomy. Handlers map these onto HTTP status codes and
// machine-readable reason strings; the engine never retries business
// rejections, only version conflicts.
var (
	// ErrInvalidAmount rejects non-positive amounts before anything is persisted.
	ErrInvalidAmount = errors.New("amount must be a positive number of minor units")

	// ErrAccountNotFound means the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrCardUnresolved means the card identifier maps to no passenger account.
	ErrCardUnresolved = errors.New("card owner not found")

	// ErrInsufficientBalance is a definitive business rejection, never retried.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrVersionConflict signals a lost optimistic-lock race on one account.
	// The engine retries these internally with backoff.
	ErrVersionConflict = errors.New("account version conflict")

	// ErrBusy is surfaced after retry attempts are exhausted. Callers may
	// safely re-submit with the same idempotency key.
	ErrBusy = errors.New("account busy, retry with the same idempotency key")

	// ErrVoucherInvalid covers unknown, expired or already-redeemed top-up vouchers.
	ErrVoucherInvalid = errors.New("invalid or expired top-up voucher")

	// ErrNothingToPayout means a payout export found no settled earnings.
	ErrNothingToPayout = errors.New("no settled earnings to pay out")
)
