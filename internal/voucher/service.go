package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-booking/internal/obs"
	"github.com/noah-isme/backend-booking/internal/selection"
)

// Service resolves voucher codes into vouchers attached to a selection node.
type Service struct {
	Validator Validator
	Logger    zerolog.Logger
}

// Apply validates req and returns the voucher to attach. The resolved amount
// is capped at the scoped subtotal.
func (s *Service) Apply(ctx context.Context, req Request) (selection.Voucher, error) {
	if s == nil || s.Validator == nil {
		return selection.Voucher{}, errors.New("voucher service not configured")
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		return selection.Voucher{}, fmt.Errorf("code is required: %w", ErrRejected)
	}
	res, err := s.Validator.Validate(ctx, req)
	if err != nil {
		evt, result := s.Logger.Info(), "rejected"
		if !errors.Is(err, ErrRejected) {
			evt, result = s.Logger.Warn(), "unavailable"
		}
		obs.CountVoucherValidation(result)
		evt.Str("code", req.Code).Str("scope", req.Scope.String()).Err(err).Msg("voucher_not_applied")
		return selection.Voucher{}, err
	}
	obs.CountVoucherValidation("applied")
	amount := res.Amount
	if amount > req.Subtotal {
		amount = req.Subtotal
	}
	if amount < 0 {
		amount = 0
	}
	code := res.Code
	if code == "" {
		code = req.Code
	}
	return selection.Voucher{ID: res.ID, Code: code, Kind: res.Kind, Value: res.Value, Amount: amount}, nil
}
