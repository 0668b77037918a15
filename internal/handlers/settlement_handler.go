package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tapsakay/backend/internal/models"
	"github.com/tapsakay/backend/internal/services"
)

// SettlementHandler exposes the settlement engine over HTTP.
type SettlementHandler struct {
	engine    *services.SettlementEngine
	accounts  services.AccountStore
	ledger    services.LedgerStore
	taps      services.TapStore
	validator *services.ValidationHelper
}

func NewSettlementHandler(engine *services.SettlementEngine, accounts services.AccountStore,
	ledger services.LedgerStore, taps services.TapStore) *SettlementHandler {
	return &SettlementHandler{
		engine:    engine,
		accounts:  accounts,
		ledger:    ledger,
		taps:      taps,
		validator: services.NewValidationHelper(),
	}
}

// SettleTopup credits a wallet.
// POST /settle/topup
func (h *SettlementHandler) SettleTopup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountOwnerID string `json:"account_owner_id"`
		AmountMinor    int64  `json:"amount_minor" validate:"required,gt=0"`
		IdempotencyKey string `json:"idempotency_key" validate:"required,max=64"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	ownerID := req.AccountOwnerID
	if ownerID == "" {
		ownerID, _ = r.Context().Value("ownerID").(string)
	}
	if ownerID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	account, err := h.accounts.GetByOwner(r.Context(), ownerID, models.RolePassenger)
	if err != nil {
		writeSettlementError(w, err)
		return
	}

	result, err := h.engine.SettleTopup(r.Context(), account.AccountID, req.AmountMinor, req.IdempotencyKey)
	if err != nil {
		writeSettlementError(w, err)
		return
	}

	log.Printf("[SETTLEMENT] Top-up committed: owner=%s amount=%d key=%s", ownerID, req.AmountMinor, req.IdempotencyKey)
	writeJSON(w, http.StatusOK, result)
}

// SettleTap settles a card tap.
// POST /settle/tap
func (h *SettlementHandler) SettleTap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardID         string  `json:"card_id" validate:"required,max=64"`
		DeviceID       string  `json:"device_id" validate:"required,max=64"`
		Lat            float64 `json:"lat" validate:"gte=-90,lte=90"`
		Lng            float64 `json:"lng" validate:"gte=-180,lte=180"`
		DistanceMeters int64   `json:"distance_meters" validate:"gte=0"`
		IdempotencyKey string  `json:"idempotency_key" validate:"required,max=64"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.engine.SettleTap(r.Context(), services.TapRequest{
		CardID:         req.CardID,
		DeviceID:       req.DeviceID,
		Location:       models.Location{Latitude: req.Lat, Longitude: req.Lng},
		DistanceMeters: req.DistanceMeters,
		IdempotencyKey: req.IdempotencyKey,
	})
	if errors.Is(err, services.ErrInsufficientBalance) && result != nil {
		// Definitive business rejection; the recorded outcome goes back
		// with the failure reason.
		writeJSON(w, http.StatusPaymentRequired, result)
		return
	}
	if err != nil {
		writeSettlementError(w, err)
		return
	}

	log.Printf("[SETTLEMENT] Tap committed: card=%s device=%s key=%s", req.CardID, req.DeviceID, req.IdempotencyKey)
	writeJSON(w, http.StatusOK, result)
}

// ListLedger returns an owner's ledger entries, newest first.
// GET /ledger/{ownerId}?since=&limit=
func (h *SettlementHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerId")

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			limit = n
		}
	}

	var since time.Time
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339Nano, sinceStr)
		if err != nil {
			services.SendErrorReason(w, "since must be an RFC3339 timestamp", "Validation", http.StatusBadRequest, nil)
			return
		}
		since = parsed
	}
	sinceID := r.URL.Query().Get("since_id")

	entries, err := h.ledger.ListByOwner(r.Context(), ownerID, limit, since, sinceID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch ledger entries", http.StatusInternalServerError, nil)
		return
	}

	// The next page resumes strictly before (next, next_id); the id breaks
	// ties between entries sharing the boundary timestamp.
	var next, nextID string
	if len(entries) > 0 {
		last := entries[len(entries)-1]
		next = last.CreatedAt.Format(time.RFC3339Nano)
		nextID = last.EntryID
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
		"next":    next,
		"next_id": nextID,
	})
}

// RecentTaps returns the latest tap events for driver dashboards.
// GET /taps/recent?limit=
func (h *SettlementHandler) RecentTaps(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			limit = n
		}
	}

	taps, err := h.taps.ListRecent(r.Context(), limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch recent taps", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"taps":  taps,
		"count": len(taps),
	})
}

// WalletBalance returns the authenticated owner's balance.
// GET /wallets/balance?role=
func (h *SettlementHandler) WalletBalance(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value("ownerID").(string)
	if !ok || ownerID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	role := r.URL.Query().Get("role")
	if role == "" {
		role = models.RolePassenger
	}

	account, err := h.accounts.GetByOwner(r.Context(), ownerID, role)
	if err != nil {
		writeSettlementError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":    account.AccountID,
		"owner_id":      account.OwnerID,
		"role":          account.Role,
		"balance_minor": account.Balance,
	})
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorReason(w, "Invalid request body", "Validation", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorReason(w, "Request body must only contain a single JSON object", "Validation", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeSettlementError maps the settlement error taxonomy onto HTTP codes
// with a machine-readable reason.
func writeSettlementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidAmount):
		services.SendErrorReason(w, err.Error(), "InvalidAmount", http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrAccountNotFound):
		services.SendErrorReason(w, err.Error(), "NotFound", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrCardUnresolved):
		services.SendErrorReason(w, err.Error(), "CardUnresolved", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrInsufficientBalance):
		services.SendErrorReason(w, err.Error(), "InsufficientBalance", http.StatusPaymentRequired, nil)
	case errors.Is(err, services.ErrBusy):
		services.SendErrorReason(w, err.Error(), "Busy", http.StatusConflict, nil)
	case errors.Is(err, services.ErrVoucherInvalid):
		services.SendErrorReason(w, err.Error(), "VoucherInvalid", http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrNothingToPayout):
		services.SendErrorReason(w, err.Error(), "NothingToPayout", http.StatusNotFound, nil)
	default:
		log.Printf("[SETTLEMENT] internal error: %v", err)
		services.SendErrorReason(w, "Failed to process settlement", "Internal", http.StatusInternalServerError, nil)
	}
}
