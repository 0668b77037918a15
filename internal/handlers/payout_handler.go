package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/tapsakay/backend/internal/services"
)

// PayoutHandler exposes the ISO 20022 payout export.
type PayoutHandler struct {
	service   *services.PayoutService
	validator *services.ValidationHelper
}

func NewPayoutHandler(service *services.PayoutService) *PayoutHandler {
	return &PayoutHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// ExportPayout aggregates a driver's settled earnings into a pacs.008
// message and hands it to the settlement rail.
// POST /payouts/export
func (h *PayoutHandler) ExportPayout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverOwnerID string `json:"driver_owner_id" validate:"required"`
		BankCode      string `json:"bank_code" validate:"required,max=11"`
		BankAccount   string `json:"bank_account" validate:"required,max=34"`
		Since         string `json:"since"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	payoutReq := &services.PayoutRequest{
		DriverOwnerID: req.DriverOwnerID,
		BankCode:      req.BankCode,
		BankAccount:   req.BankAccount,
	}
	if req.Since != "" {
		since, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			services.SendErrorReason(w, "since must be an RFC3339 timestamp", "Validation", http.StatusBadRequest, nil)
			return
		}
		payoutReq.Since = since
	}

	batch, err := h.service.BuildPayout(r.Context(), payoutReq)
	if err != nil {
		writeSettlementError(w, err)
		return
	}

	xmlData, err := h.service.ConvertToXML(batch.Message)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	if err := h.service.SendToSettlement(batch.Message); err != nil {
		services.SendErrorResponse(w, "Failed to send payout to settlement", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[PAYOUT] Exported payout %s for driver %s: %d minor units over %d entries",
		batch.PayoutID, req.DriverOwnerID, batch.TotalAmount, batch.EntryCount)

	writeJSON(w, http.StatusOK, map[string]any{
		"payout_id":    batch.PayoutID,
		"total_amount": batch.TotalAmount,
		"entry_count":  batch.EntryCount,
		"message_type": "pacs.008.001.08",
		"xml":          xmlData,
	})
}
