package voucher_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-booking/internal/selection"
	"github.com/noah-isme/backend-booking/internal/voucher"
)

func rules() *voucher.RuleValidator {
	return voucher.NewRuleValidator(
		voucher.Rule{ID: "v-1", Code: "STAY10", Kind: selection.VoucherPercentage, Value: decimal.NewFromInt(10)},
		voucher.Rule{ID: "v-2", Code: "BIG", Kind: selection.VoucherFixed, Value: decimal.NewFromInt(150_000)},
		voucher.Rule{ID: "v-3", Code: "MENU", Kind: selection.VoucherFixed, Value: decimal.NewFromInt(1_000), Scopes: []selection.ScopeKind{selection.ScopeMenu}},
	)
}

func TestServiceApply(t *testing.T) {
	svc := &voucher.Service{Validator: rules(), Logger: zerolog.Nop()}
	scope := selection.Scope{Kind: selection.ScopeAccommodation}

	v, err := svc.Apply(context.Background(), voucher.Request{Code: " stay10 ", Subtotal: 400_000, Scope: scope})
	require.NoError(t, err)
	require.Equal(t, "STAY10", v.Code)
	require.Equal(t, int64(40_000), v.Amount)

	v, err = svc.Apply(context.Background(), voucher.Request{Code: "BIG", Subtotal: 100_000, Scope: scope})
	require.NoError(t, err)
	require.Equal(t, int64(100_000), v.Amount)

	_, err = svc.Apply(context.Background(), voucher.Request{Code: "MENU", Subtotal: 100_000, Scope: scope})
	require.ErrorIs(t, err, voucher.ErrRejected)
	require.ErrorIs(t, err, voucher.ErrScopeMismatch)

	_, err = svc.Apply(context.Background(), voucher.Request{Code: "NOPE", Subtotal: 1, Scope: scope})
	require.ErrorIs(t, err, voucher.ErrUnknownCode)

	_, err = svc.Apply(context.Background(), voucher.Request{Code: "  ", Scope: scope})
	require.ErrorIs(t, err, voucher.ErrRejected)
}

func TestHTTPValidatorAgainstHandler(t *testing.T) {
	r := chi.NewRouter()
	h := &voucher.Handler{Validator: rules()}
	r.Post("/v1/vouchers/validate", h.Validate)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	validator := voucher.NewHTTPValidator(srv.URL, time.Second, nil)
	res, err := validator.Validate(context.Background(), voucher.Request{
		Code:     "STAY10",
		Subtotal: 200_000,
		Scope:    selection.Scope{Kind: selection.ScopeAddon, AddonID: "tour"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(20_000), res.Amount)
	require.True(t, res.Value.Equal(decimal.NewFromInt(10)))

	_, err = validator.Validate(context.Background(), voucher.Request{Code: "MENU", Subtotal: 5_000, Scope: selection.Scope{Kind: selection.ScopeAccommodation}})
	require.ErrorIs(t, err, voucher.ErrRejected)
}

func TestHTTPValidatorUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	validator := voucher.NewHTTPValidator(srv.URL, time.Second, nil)
	_, err := validator.Validate(context.Background(), voucher.Request{Code: "X", Subtotal: 1})
	require.True(t, errors.Is(err, voucher.ErrUnavailable))
	require.False(t, errors.Is(err, voucher.ErrRejected))
}
