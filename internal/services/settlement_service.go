package services

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tapsakay/backend/internal/config"
	"github.com/tapsakay/backend/internal/models"
)

// Settlement outcome statuses. Rejected is a final business outcome; failed
// means an infrastructure conflict the caller may retry with the same
// idempotency key.
const (
	StatusCommitted = "committed"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// Notification topics and room keys.
const (
	TopicWalletUpdated = "wallet_updated"
	TopicTapRecorded   = "tap_recorded"
	TopicTapFailed     = "tap_failed"
	RoomDrivers        = "role:driver"
)

// AccountRoom is the notification room scoped to one owner.
func AccountRoom(ownerID string) string {
	return "account:" + ownerID
}

// Notifier receives post-commit events. Publication must never block or fail
// the settlement transaction; implementations absorb slow subscribers.
type Notifier interface {
	Publish(room, topic string, payload any)
}

// SettlementEngine turns taps and top-ups into atomic balance transitions
// across the account and ledger stores. It is the sole writer of both.
type SettlementEngine struct {
	accounts AccountStore
	ledger   LedgerStore
	taps     TapStore
	resolver CardResolver
	policy   *FarePolicy
	notifier Notifier
	cfg      *config.SettlementConfig
}

func NewSettlementEngine(accounts AccountStore, ledger LedgerStore, taps TapStore,
	resolver CardResolver, policy *FarePolicy, notifier Notifier, cfg *config.SettlementConfig) *SettlementEngine {
	return &SettlementEngine{
		accounts: accounts,
		ledger:   ledger,
		taps:     taps,
		resolver: resolver,
		policy:   policy,
		notifier: notifier,
		cfg:      cfg,
	}
}

// TopupResult is the outcome of one top-up settlement.
type TopupResult struct {
	Status  string              `json:"status"`
	Balance int64               `json:"balance"`
	Entry   *models.LedgerEntry `json:"ledger_entry"`
}

// TapRequest describes one inbound tap.
type TapRequest struct {
	CardID         string
	DeviceID       string
	Location       models.Location
	DistanceMeters int64
	IdempotencyKey string
}

// TapResult is the outcome of one tap settlement.
type TapResult struct {
	Status           string              `json:"status"`
	TapID            string              `json:"tap_id"`
	FareAmount       int64               `json:"fare_amount"`
	CommissionAmount int64               `json:"commission_amount"`
	DriverShare      int64               `json:"driver_share"`
	PassengerBalance int64               `json:"passenger_balance"`
	Entry            *models.LedgerEntry `json:"ledger_entry,omitempty"`
}

// SettleTopup credits amount to the account as one atomic transition.
// Replays with the same idempotency key return the original outcome.
func (e *SettlementEngine) SettleTopup(ctx context.Context, accountID string, amount int64, idempotencyKey string) (*TopupResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if existing, err := e.ledger.GetByID(ctx, idempotencyKey); err == nil {
		return topupResultFromEntry(existing), nil
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	// The atomic step runs detached from the caller: an abandoned request
	// must not stop mid-transition.
	dctx := context.WithoutCancel(ctx)

	account, err := e.applyWithRetry(dctx, accountID, amount, nil)
	if err != nil {
		return nil, err
	}

	entry := &models.LedgerEntry{
		EntryID:          idempotencyKey,
		Kind:             models.EntryKindTopup,
		Status:           models.EntryStatusApplied,
		Amount:           amount,
		DestAccount:      accountID,
		BalanceAfterDest: sql.NullInt64{Int64: account.Balance, Valid: true},
	}

	stored, inserted, err := e.ledger.InsertIfAbsent(dctx, entry)
	if err != nil {
		// The credit is applied but unrecorded; reverse it before failing
		// so no silent balance change survives.
		e.compensate(dctx, accountID, -amount, idempotencyKey, "topup ledger append failed")
		return nil, err
	}
	if !inserted {
		// A concurrent duplicate won the ledger race. Our credit is the
		// extra one; reverse it and hand back the recorded outcome.
		e.compensate(dctx, accountID, -amount, idempotencyKey, "duplicate topup")
		return topupResultFromEntry(stored), nil
	}

	e.notifier.Publish(AccountRoom(account.OwnerID), TopicWalletUpdated, walletPayload(account, stored))

	return &TopupResult{Status: StatusCommitted, Balance: account.Balance, Entry: stored}, nil
}

// SettleTap settles one tap: resolve, price, then debit the passenger and
// credit driver and platform as a saga with compensation.
func (e *SettlementEngine) SettleTap(ctx context.Context, req TapRequest) (*TapResult, error) {
	passenger, err := e.resolver.ResolvePassenger(ctx, req.CardID)
	if errors.Is(err, ErrCardUnresolved) {
		e.recordTap(ctx, req, models.TapOutcomeCardUnresolved, "")
		return nil, ErrCardUnresolved
	}
	if err != nil {
		return nil, err
	}

	dest, err := e.resolver.ResolveDestination(ctx, req.DeviceID)
	if errors.Is(err, ErrAccountNotFound) {
		// No driver assigned to this device; the platform absorbs the fare.
		dest, err = e.accounts.Get(ctx, e.cfg.PlatformAccountID)
	}
	if err != nil {
		return nil, err
	}

	quote, err := e.policy.Compute(TapContext{
		CardID:         req.CardID,
		DeviceID:       req.DeviceID,
		Location:       req.Location,
		DistanceMeters: req.DistanceMeters,
	})
	if err != nil {
		return nil, err
	}

	if existing, err := e.ledger.GetByID(ctx, req.IdempotencyKey); err == nil {
		return tapResultFromEntry(existing), replayError(existing)
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	if passenger.Balance < quote.FareAmount {
		return e.rejectInsufficient(ctx, req, passenger, dest, quote)
	}

	dctx := context.WithoutCancel(ctx)

	// Step 1: debit the passenger. Retries re-read the account, so a
	// concurrent drain below the fare surfaces here as a rejection.
	passenger, err = e.applyWithRetry(dctx, passenger.AccountID, -quote.FareAmount, func(a *models.Account) error {
		if a.Balance < quote.FareAmount {
			return ErrInsufficientBalance
		}
		return nil
	})
	if errors.Is(err, ErrInsufficientBalance) {
		return e.rejectInsufficient(dctx, req, passenger, dest, quote)
	}
	if err != nil {
		e.recordTap(dctx, req, models.TapOutcomeConflict, "")
		return nil, err
	}

	// Step 2: credit the driver share.
	dest, err = e.applyWithRetry(dctx, dest.AccountID, quote.DriverShare, nil)
	if err != nil {
		e.compensate(dctx, passenger.AccountID, quote.FareAmount, req.IdempotencyKey, "fare credit failed")
		e.recordTap(dctx, req, models.TapOutcomeConflict, "")
		return nil, err
	}

	// Step 3: credit the commission to the platform.
	if quote.CommissionAmount > 0 {
		if _, err = e.applyWithRetry(dctx, e.cfg.PlatformAccountID, quote.CommissionAmount, nil); err != nil {
			e.compensate(dctx, dest.AccountID, -quote.DriverShare, req.IdempotencyKey, "commission credit failed")
			e.compensate(dctx, passenger.AccountID, quote.FareAmount, req.IdempotencyKey, "commission credit failed")
			e.recordTap(dctx, req, models.TapOutcomeConflict, "")
			return nil, err
		}
	}

	entry := &models.LedgerEntry{
		EntryID:            req.IdempotencyKey,
		Kind:               models.EntryKindFare,
		Status:             models.EntryStatusApplied,
		Amount:             quote.FareAmount,
		CommissionAmount:   quote.CommissionAmount,
		SourceAccount:      sql.NullString{String: passenger.AccountID, Valid: true},
		DestAccount:        dest.AccountID,
		BalanceAfterSource: sql.NullInt64{Int64: passenger.Balance, Valid: true},
		BalanceAfterDest:   sql.NullInt64{Int64: dest.Balance, Valid: true},
	}

	stored, inserted, err := e.ledger.InsertIfAbsent(dctx, entry)
	if err != nil || !inserted {
		// Unrecorded or concurrently duplicated settlement: unwind all
		// three steps so exactly one application remains observable.
		if quote.CommissionAmount > 0 {
			e.compensate(dctx, e.cfg.PlatformAccountID, -quote.CommissionAmount, req.IdempotencyKey, "fare unwound")
		}
		e.compensate(dctx, dest.AccountID, -quote.DriverShare, req.IdempotencyKey, "fare unwound")
		e.compensate(dctx, passenger.AccountID, quote.FareAmount, req.IdempotencyKey, "fare unwound")
		if err != nil {
			return nil, err
		}
		return tapResultFromEntry(stored), replayError(stored)
	}

	tapID := e.recordTap(dctx, req, models.TapOutcomeSuccess, stored.EntryID)

	e.notifier.Publish(AccountRoom(passenger.OwnerID), TopicWalletUpdated, walletPayload(passenger, stored))
	e.notifier.Publish(AccountRoom(dest.OwnerID), TopicWalletUpdated, walletPayload(dest, stored))
	e.notifier.Publish(RoomDrivers, TopicTapRecorded, map[string]any{
		"tap_id":       tapID,
		"card_id":      req.CardID,
		"device_id":    req.DeviceID,
		"fare_amount":  quote.FareAmount,
		"driver_share": quote.DriverShare,
	})

	return &TapResult{
		Status:           StatusCommitted,
		TapID:            tapID,
		FareAmount:       quote.FareAmount,
		CommissionAmount: quote.CommissionAmount,
		DriverShare:      quote.DriverShare,
		PassengerBalance: passenger.Balance,
		Entry:            stored,
	}, nil
}

// applyWithRetry runs one conditional balance update, retrying version
// conflicts with exponential backoff. check, when set, is evaluated against
// each fresh read and its error returned verbatim.
func (e *SettlementEngine) applyWithRetry(ctx context.Context, accountID string, delta int64, check func(*models.Account) error) (*models.Account, error) {
	for attempt := 0; attempt < e.cfg.MaxRetryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(e.cfg.RetryBackoffBase << (attempt - 1))
		}

		account, err := e.accounts.Get(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if check != nil {
			if err := check(account); err != nil {
				return account, err
			}
		}

		updated, err := e.accounts.ConditionalUpdate(ctx, accountID, account.Version, delta)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, ErrBusy
}

// compensate reverses one applied saga step and journals the reversal. It
// must not give up on transient conflicts, so it retries harder than the
// forward path; a persistent failure here is logged as data needing repair.
func (e *SettlementEngine) compensate(ctx context.Context, accountID string, delta int64, causeKey, reason string) {
	var account *models.Account
	var err error
	for attempt := 0; attempt < e.cfg.MaxRetryAttempts*4; attempt++ {
		if attempt > 0 {
			time.Sleep(e.cfg.RetryBackoffBase << uint(min(attempt-1, 6)))
		}
		account, err = e.accounts.Get(ctx, accountID)
		if err != nil {
			continue
		}
		account, err = e.accounts.ConditionalUpdate(ctx, accountID, account.Version, delta)
		if err == nil {
			break
		}
	}
	if err != nil {
		log.Printf("[SETTLEMENT] UNRECONCILED: compensation of %d on account %s for %s failed: %v",
			delta, accountID, causeKey, err)
		return
	}

	// The reversed movement itself was never journalled (its batch entry is
	// what failed), so the reversal records the whole round trip on the one
	// account: amount out and back in. It nets to zero in balance
	// derivation, matching the restored balance.
	direction := "credit"
	if delta < 0 {
		direction = "debit"
	}
	entry := &models.LedgerEntry{
		EntryID:            uuid.New().String(),
		Kind:               models.EntryKindReversal,
		Status:             models.EntryStatusApplied,
		Amount:             abs(delta),
		SourceAccount:      sql.NullString{String: accountID, Valid: true},
		DestAccount:        accountID,
		BalanceAfterSource: sql.NullInt64{Int64: account.Balance, Valid: true},
		BalanceAfterDest:   sql.NullInt64{Int64: account.Balance, Valid: true},
		Reason:             reason + " (" + direction + " reverses " + causeKey + ")",
	}
	if _, _, err := e.ledger.InsertIfAbsent(ctx, entry); err != nil {
		log.Printf("[SETTLEMENT] failed to journal reversal for %s: %v", causeKey, err)
	}
}

// rejectInsufficient finalizes a tap as a business rejection: audit entry,
// tap event and failure notification, account balances untouched.
func (e *SettlementEngine) rejectInsufficient(ctx context.Context, req TapRequest, passenger, dest *models.Account, quote *FareQuote) (*TapResult, error) {
	entry := &models.LedgerEntry{
		EntryID:          req.IdempotencyKey,
		Kind:             models.EntryKindFare,
		Status:           models.EntryStatusRejected,
		Amount:           quote.FareAmount,
		CommissionAmount: quote.CommissionAmount,
		SourceAccount:    sql.NullString{String: passenger.AccountID, Valid: true},
		DestAccount:      dest.AccountID,
		Reason:           models.TapOutcomeInsufficientBalance,
	}
	stored, _, err := e.ledger.InsertIfAbsent(ctx, entry)
	if err != nil {
		return nil, err
	}

	tapID := e.recordTap(ctx, req, models.TapOutcomeInsufficientBalance, stored.EntryID)

	e.notifier.Publish(AccountRoom(passenger.OwnerID), TopicTapFailed, map[string]any{
		"tap_id":  tapID,
		"card_id": req.CardID,
		"reason":  models.TapOutcomeInsufficientBalance,
	})

	return &TapResult{
		Status:           StatusRejected,
		TapID:            tapID,
		FareAmount:       quote.FareAmount,
		CommissionAmount: quote.CommissionAmount,
		DriverShare:      quote.DriverShare,
		PassengerBalance: passenger.Balance,
		Entry:            stored,
	}, ErrInsufficientBalance
}

func (e *SettlementEngine) recordTap(ctx context.Context, req TapRequest, outcome, entryID string) string {
	tap := &models.TapEvent{
		TapID:    uuid.New().String(),
		CardID:   req.CardID,
		DeviceID: req.DeviceID,
		Location: req.Location,
		Outcome:  outcome,
	}
	if entryID != "" {
		tap.LedgerEntryID = sql.NullString{String: entryID, Valid: true}
	}
	if err := e.taps.Record(ctx, tap); err != nil {
		log.Printf("[SETTLEMENT] failed to record tap event for card %s: %v", req.CardID, err)
	}
	return tap.TapID
}

func topupResultFromEntry(entry *models.LedgerEntry) *TopupResult {
	result := &TopupResult{Status: StatusCommitted, Entry: entry}
	if entry.Status == models.EntryStatusRejected {
		result.Status = StatusRejected
	}
	if entry.BalanceAfterDest.Valid {
		result.Balance = entry.BalanceAfterDest.Int64
	}
	return result
}

func tapResultFromEntry(entry *models.LedgerEntry) *TapResult {
	result := &TapResult{
		Status:           StatusCommitted,
		FareAmount:       entry.Amount,
		CommissionAmount: entry.CommissionAmount,
		DriverShare:      entry.DriverShare(),
		Entry:            entry,
	}
	if entry.Status == models.EntryStatusRejected {
		result.Status = StatusRejected
	}
	if entry.BalanceAfterSource.Valid {
		result.PassengerBalance = entry.BalanceAfterSource.Int64
	}
	return result
}

// replayError reproduces the error of the recorded outcome so replays are
// indistinguishable from the original call.
func replayError(entry *models.LedgerEntry) error {
	if entry.Status == models.EntryStatusRejected {
		return ErrInsufficientBalance
	}
	return nil
}

// walletPayload carries the post-commit account version. Publishes from
// concurrent settlements on one account can interleave, so subscribers keep
// the update with the highest version and discard older ones.
func walletPayload(account *models.Account, entry *models.LedgerEntry) map[string]any {
	return map[string]any{
		"account_id": account.AccountID,
		"balance":    account.Balance,
		"version":    account.Version,
		"entry_id":   entry.EntryID,
		"kind":       entry.Kind,
		"amount":     entry.Amount,
	}
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
