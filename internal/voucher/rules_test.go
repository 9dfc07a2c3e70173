package voucher_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-booking/internal/selection"
	"github.com/noah-isme/backend-booking/internal/voucher"
)

const rulesYAML = `
vouchers:
  - code: stay10
    kind: percentage
    value: "10"
    scopes: [accommodation]
  - id: spa-50k
    code: SPA50
    kind: fixed
    value: "50000"
    minSpend: 100000
    scopes: [addon, child]
    validTo: 2025-12-31T23:59:59Z
`

func TestLoadRules(t *testing.T) {
	rules, err := voucher.LoadRules(strings.NewReader(rulesYAML))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, "STAY10", rules[0].ID)
	require.Equal(t, selection.VoucherPercentage, rules[0].Kind)
	require.Equal(t, "10", rules[0].Value.String())
	require.Equal(t, []selection.ScopeKind{selection.ScopeAddon, selection.ScopeChild}, rules[1].Scopes)
	require.EqualValues(t, 100_000, rules[1].MinSpend)
	require.NotNil(t, rules[1].ValidTo)

	v := voucher.NewRuleValidator(rules...)
	v.Now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	res, err := v.Validate(context.Background(), voucher.Request{
		Code:     "Stay10",
		Scope:    selection.Scope{Kind: selection.ScopeAccommodation},
		Subtotal: 400_000,
	})
	require.NoError(t, err)
	require.Equal(t, selection.VoucherPercentage, res.Kind)
}

func TestLoadRulesRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"unknown kind":  "vouchers:\n  - {code: X, kind: bogus, value: \"1\"}\n",
		"bad value":     "vouchers:\n  - {code: X, kind: fixed, value: abc}\n",
		"negative":      "vouchers:\n  - {code: X, kind: fixed, value: \"-5\"}\n",
		"missing code":  "vouchers:\n  - {kind: fixed, value: \"5\"}\n",
		"unknown scope": "vouchers:\n  - {code: X, kind: fixed, value: \"5\", scopes: [lobby]}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := voucher.LoadRules(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}
