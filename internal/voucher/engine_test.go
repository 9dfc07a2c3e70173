package voucher

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-booking/internal/selection"
)

func TestComputePercent(t *testing.T) {
	discount := Compute(100_000, selection.VoucherPercentage, decimal.NewFromInt(20))
	if discount != 20_000 {
		t.Fatalf("expected 20000 discount, got %d", discount)
	}
	discount = Compute(99_999, selection.VoucherPercentage, decimal.RequireFromString("12.5"))
	if discount != 12_499 {
		t.Fatalf("expected fractional percent to round down to 12499, got %d", discount)
	}
	if got := Compute(50_000, selection.VoucherPercentage, decimal.NewFromInt(150)); got != 50_000 {
		t.Fatalf("percent above 100 must cap at subtotal, got %d", got)
	}
}

func TestComputeFixedCappedAtSubtotal(t *testing.T) {
	if got := Compute(100_000, selection.VoucherFixed, decimal.NewFromInt(150_000)); got != 100_000 {
		t.Fatalf("expected discount capped at 100000, got %d", got)
	}
	if got := Compute(0, selection.VoucherFixed, decimal.NewFromInt(10)); got != 0 {
		t.Fatalf("expected zero discount on zero subtotal, got %d", got)
	}
	if got := Compute(100, selection.VoucherFixed, decimal.NewFromInt(-5)); got != 0 {
		t.Fatalf("negative values must not discount, got %d", got)
	}
}

func TestRuleValidate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	from := now.Add(-time.Hour)
	to := now.Add(time.Hour)
	rule := Rule{
		Code:      "STAY",
		MinSpend:  1_000,
		Scopes:    []selection.ScopeKind{selection.ScopeAccommodation},
		ZoneIDs:   []string{"zone-a"},
		ValidFrom: &from,
		ValidTo:   &to,
	}
	req := Request{Subtotal: 5_000, ZoneID: "Zone-A", Scope: selection.Scope{Kind: selection.ScopeAccommodation}}
	if err := rule.Validate(now, req); err != nil {
		t.Fatalf("expected rule to apply, got %v", err)
	}
	cases := map[error]Request{
		ErrMinimumSpendUnmet: {Subtotal: 10, ZoneID: "zone-a", Scope: req.Scope},
		ErrScopeMismatch:     {Subtotal: 5_000, ZoneID: "zone-a", Scope: selection.Scope{Kind: selection.ScopeMenu}},
		ErrNotEligible:       {Subtotal: 5_000, ZoneID: "zone-b", Scope: req.Scope},
	}
	for want, r := range cases {
		if err := rule.Validate(now, r); err != want {
			t.Fatalf("expected %v, got %v", want, err)
		}
	}
	if err := rule.Validate(to.Add(time.Minute), req); err != ErrVoucherExpired {
		t.Fatalf("expected ErrVoucherExpired, got %v", err)
	}
	if err := rule.Validate(from.Add(-time.Minute), req); err != ErrVoucherInactive {
		t.Fatalf("expected ErrVoucherInactive, got %v", err)
	}
}
