package voucher

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-booking/internal/pricing"
	"github.com/noah-isme/backend-booking/internal/selection"
)

var (
	// ErrRejected wraps every reason a voucher cannot be applied. It is shown
	// to the user and never touches price fetching.
	ErrRejected = errors.New("voucher rejected")
	// ErrUnknownCode is returned when no voucher matches the code.
	ErrUnknownCode = errors.New("voucher code not found")
	// ErrNotEligible is returned when the voucher cannot be applied to the provided context.
	ErrNotEligible = errors.New("voucher not eligible")
	// ErrVoucherInactive is returned when attempting to use a voucher outside of its active window.
	ErrVoucherInactive = errors.New("voucher not active")
	// ErrVoucherExpired is returned when the voucher has already expired.
	ErrVoucherExpired = errors.New("voucher expired")
	// ErrMinimumSpendUnmet indicates the scoped subtotal did not meet the voucher requirement.
	ErrMinimumSpendUnmet = errors.New("voucher minimum spend not met")
	// ErrScopeMismatch indicates the voucher cannot be applied at the requested level.
	ErrScopeMismatch = errors.New("voucher not valid for this scope")
)

var hundred = decimal.NewFromInt(100)

// Rule captures the runtime constraints of a voucher.
type Rule struct {
	ID        string
	Code      string
	Kind      selection.VoucherKind
	Value     decimal.Decimal
	MinSpend  pricing.Money
	Scopes    []selection.ScopeKind
	UnitIDs   []string
	ZoneIDs   []string
	ValidFrom *time.Time
	ValidTo   *time.Time
}

// Validate ensures the rule can be applied at the provided instant to the request.
func (r Rule) Validate(now time.Time, req Request) error {
	if req.Subtotal < r.MinSpend {
		return ErrMinimumSpendUnmet
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return ErrVoucherInactive
	}
	if r.ValidTo != nil && now.After(*r.ValidTo) {
		return ErrVoucherExpired
	}
	if len(r.Scopes) > 0 && !containsScope(r.Scopes, req.Scope.Kind) {
		return ErrScopeMismatch
	}
	if len(r.UnitIDs) > 0 && !containsFold(r.UnitIDs, req.UnitID) {
		return ErrNotEligible
	}
	if len(r.ZoneIDs) > 0 && !containsFold(r.ZoneIDs, req.ZoneID) {
		return ErrNotEligible
	}
	return nil
}

// Compute determines the discount for subtotal. Percentages are rounded down
// to whole minor units; the result never exceeds subtotal and is never negative.
func Compute(subtotal pricing.Money, kind selection.VoucherKind, value decimal.Decimal) pricing.Money {
	if subtotal <= 0 || value.Sign() <= 0 {
		return 0
	}
	var discount pricing.Money
	switch kind {
	case selection.VoucherPercentage:
		pct := decimal.Min(value, hundred)
		discount = pricing.Money(decimal.NewFromInt(subtotal).Mul(pct).Div(hundred).Floor().IntPart())
	case selection.VoucherFixed:
		discount = pricing.Money(value.Floor().IntPart())
	default:
		return 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		return 0
	}
	return discount
}

func containsScope(scopes []selection.ScopeKind, kind selection.ScopeKind) bool {
	for _, s := range scopes {
		if s == kind {
			return true
		}
	}
	return false
}

func containsFold(values []string, target string) bool {
	target = strings.TrimSpace(target)
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}
