package voucher

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/backend-booking/internal/pricing"
	"github.com/noah-isme/backend-booking/internal/selection"
)

type ruleFile struct {
	Vouchers []ruleEntry `yaml:"vouchers"`
}

type ruleEntry struct {
	ID        string     `yaml:"id"`
	Code      string     `yaml:"code"`
	Kind      string     `yaml:"kind"`
	Value     string     `yaml:"value"`
	MinSpend  pricing.Money `yaml:"minSpend"`
	Scopes    []string   `yaml:"scopes"`
	UnitIDs   []string   `yaml:"unitIds"`
	ZoneIDs   []string   `yaml:"zoneIds"`
	ValidFrom *time.Time `yaml:"validFrom"`
	ValidTo   *time.Time `yaml:"validTo"`
}

// LoadRules parses a YAML voucher rule set.
func LoadRules(r io.Reader) ([]Rule, error) {
	var file ruleFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode vouchers: %w", err)
	}
	rules := make([]Rule, 0, len(file.Vouchers))
	for i, entry := range file.Vouchers {
		rule, err := entry.rule()
		if err != nil {
			return nil, fmt.Errorf("voucher %d (%s): %w", i, entry.Code, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRulesFile reads a rule set from path.
func LoadRulesFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return LoadRules(f)
}

func (e ruleEntry) rule() (Rule, error) {
	if strings.TrimSpace(e.Code) == "" {
		return Rule{}, fmt.Errorf("code is required")
	}
	kind := selection.VoucherKind(strings.ToLower(strings.TrimSpace(e.Kind)))
	if kind != selection.VoucherPercentage && kind != selection.VoucherFixed {
		return Rule{}, fmt.Errorf("unknown kind %q", e.Kind)
	}
	value, err := decimal.NewFromString(strings.TrimSpace(e.Value))
	if err != nil {
		return Rule{}, fmt.Errorf("value: %w", err)
	}
	if value.IsNegative() {
		return Rule{}, fmt.Errorf("value must not be negative")
	}
	scopes := make([]selection.ScopeKind, 0, len(e.Scopes))
	for _, raw := range e.Scopes {
		kind := selection.ScopeKind(strings.ToLower(strings.TrimSpace(raw)))
		switch kind {
		case selection.ScopeAccommodation, selection.ScopeAddon, selection.ScopeChild, selection.ScopeMenu:
			scopes = append(scopes, kind)
		default:
			return Rule{}, fmt.Errorf("scope %q: %w", raw, selection.ErrInvalidScope)
		}
	}
	id := e.ID
	if id == "" {
		id = normalizeCode(e.Code)
	}
	return Rule{
		ID:        id,
		Code:      e.Code,
		Kind:      kind,
		Value:     value,
		MinSpend:  e.MinSpend,
		Scopes:    scopes,
		UnitIDs:   e.UnitIDs,
		ZoneIDs:   e.ZoneIDs,
		ValidFrom: e.ValidFrom,
		ValidTo:   e.ValidTo,
	}, nil
}
