package handlers

import (
	"log"
	"net/http"

	"github.com/tapsakay/backend/internal/services"
)

// VoucherHandler exposes QR top-up vouchers.
type VoucherHandler struct {
	service   *services.TopupVoucherService
	validator *services.ValidationHelper
}

func NewVoucherHandler(service *services.TopupVoucherService) *VoucherHandler {
	return &VoucherHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GenerateVoucher mints a top-up voucher for the authenticated owner.
// POST /topup/voucher
func (h *VoucherHandler) GenerateVoucher(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value("ownerID").(string)
	if !ok || ownerID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		AmountMinor int64 `json:"amount_minor" validate:"required,gt=0"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	code, qrImage, err := h.service.GenerateVoucher(r.Context(), ownerID, req.AmountMinor)
	if err != nil {
		log.Printf("[VOUCHER] generation failed for owner %s: %v", ownerID, err)
		writeSettlementError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code":     code,
		"qr_image": qrImage,
	})
}

// RedeemVoucher settles the top-up a voucher encodes.
// POST /topup/voucher/redeem
func (h *VoucherHandler) RedeemVoucher(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code" validate:"required"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.service.RedeemVoucher(r.Context(), req.Code)
	if err != nil {
		writeSettlementError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
