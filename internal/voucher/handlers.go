package voucher

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/noah-isme/backend-booking/internal/common"
	"github.com/noah-isme/backend-booking/internal/selection"
)

// Handler serves the validation endpoint consumed by HTTPValidator, backed
// by any Validator (usually a RuleValidator in development).
type Handler struct {
	Validator Validator
}

// Validate handles POST /v1/vouchers/validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Validator == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "voucher validation disabled", nil)
		return
	}
	var payload wireRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body", nil)
		return
	}
	req := payload.Request
	if payload.Scope != "" {
		scope, err := selection.ParseScope(payload.Scope)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		req.Scope = scope
	}
	res, err := h.Validator.Validate(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			common.JSONError(w, http.StatusUnprocessableEntity, "VOUCHER_REJECTED", err.Error(), nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "voucher validation failed", nil)
		return
	}
	common.JSON(w, http.StatusOK, res)
}
