package voucher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-booking/internal/pricing"
	"github.com/noah-isme/backend-booking/internal/resilience"
	"github.com/noah-isme/backend-booking/internal/selection"
)

// ErrUnavailable is returned when the validation endpoint cannot be reached.
var ErrUnavailable = errors.New("voucher validation unavailable")

// Request asks whether a code applies to the subtotal at scope.
type Request struct {
	Code     string          `json:"code"`
	UnitID   string          `json:"unitId"`
	ZoneID   string          `json:"zoneId"`
	Subtotal pricing.Money   `json:"subtotal"`
	Scope    selection.Scope `json:"-"`
}

// Result is an accepted voucher.
type Result struct {
	ID     string                `json:"id"`
	Code   string                `json:"code"`
	Kind   selection.VoucherKind `json:"kind"`
	Value  decimal.Decimal       `json:"value"`
	Amount pricing.Money         `json:"amount"`
}

// Validator is the voucher validation endpoint contract. Rejections are
// reported as errors wrapping ErrRejected.
type Validator interface {
	Validate(ctx context.Context, req Request) (Result, error)
}

// RuleValidator validates codes against an in-memory rule set.
type RuleValidator struct {
	rules map[string]Rule
	Now   func() time.Time
}

// NewRuleValidator indexes rules by upper-cased code.
func NewRuleValidator(rules ...Rule) *RuleValidator {
	index := make(map[string]Rule, len(rules))
	for _, r := range rules {
		index[normalizeCode(r.Code)] = r
	}
	return &RuleValidator{rules: index}
}

// Validate implements Validator.
func (v *RuleValidator) Validate(ctx context.Context, req Request) (Result, error) {
	rule, ok := v.rules[normalizeCode(req.Code)]
	if !ok {
		return Result{}, fmt.Errorf("%w: %w", ErrRejected, ErrUnknownCode)
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	if err := rule.Validate(now, req); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	amount := Compute(req.Subtotal, rule.Kind, rule.Value)
	if amount <= 0 {
		return Result{}, fmt.Errorf("%w: %w", ErrRejected, ErrNotEligible)
	}
	return Result{ID: rule.ID, Code: rule.Code, Kind: rule.Kind, Value: rule.Value, Amount: amount}, nil
}

type wireRequest struct {
	Request
	Scope string `json:"scope"`
}

// HTTPValidator calls a remote validation endpoint. 4xx answers are
// rejections; everything else that fails is ErrUnavailable.
type HTTPValidator struct {
	url  string
	http resilience.HTTPClient
}

// NewHTTPValidator constructs a validator posting to {baseURL}/v1/vouchers/validate.
func NewHTTPValidator(baseURL string, timeout time.Duration, breaker *resilience.Breaker) *HTTPValidator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPValidator{
		url: strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/v1/vouchers/validate",
		http: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     breaker,
			MaxAttempts: 2,
			BaseBackoff: 100 * time.Millisecond,
			Jitter:      0.2,
			Timeout:     timeout,
		},
	}
}

// Validate implements Validator.
func (v *HTTPValidator) Validate(ctx context.Context, req Request) (Result, error) {
	var res Result
	err := v.http.PostJSON(ctx, v.url, wireRequest{Request: req, Scope: req.Scope.String()}, &res)
	if err != nil {
		var statusErr *resilience.StatusError
		if errors.As(err, &statusErr) && statusErr.Status >= 400 && statusErr.Status < 500 {
			return Result{}, fmt.Errorf("%w: %s", ErrRejected, statusErr.Body)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
