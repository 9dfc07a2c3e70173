package oracle

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/backend-booking/internal/pricing"
)

// Tariff is the configured price of one parameter. PerNight multiplies the
// price by the number of nights in the request.
type Tariff struct {
	Price    pricing.Money `yaml:"price"`
	Mode     pricing.Mode  `yaml:"mode"`
	PerNight bool          `yaml:"perNight"`
}

// TariffTable maps unit id to parameter tariffs.
type TariffTable struct {
	Units map[string]map[string]Tariff `yaml:"units"`
}

// StaticClient answers quotes from an in-memory tariff table. Unknown units
// fail with ErrUnknownUnit like a remote oracle would.
type StaticClient struct {
	table TariffTable
}

// NewStaticClient wraps a tariff table.
func NewStaticClient(table TariffTable) (*StaticClient, error) {
	for unit, params := range table.Units {
		for param, tariff := range params {
			mode, err := pricing.ParseMode(string(tariff.Mode))
			if err != nil {
				return nil, fmt.Errorf("unit %s param %s: %w", unit, param, err)
			}
			if tariff.Price < 0 {
				return nil, fmt.Errorf("unit %s param %s: negative price", unit, param)
			}
			tariff.Mode = mode
			params[param] = tariff
		}
	}
	return &StaticClient{table: table}, nil
}

// LoadTariffs parses a YAML tariff table.
func LoadTariffs(r io.Reader) (TariffTable, error) {
	var table TariffTable
	if err := yaml.NewDecoder(r).Decode(&table); err != nil {
		return TariffTable{}, fmt.Errorf("decode tariffs: %w", err)
	}
	return table, nil
}

// LoadStaticFile builds a StaticClient from a YAML file.
func LoadStaticFile(path string) (*StaticClient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	table, err := LoadTariffs(f)
	if err != nil {
		return nil, err
	}
	return NewStaticClient(table)
}

// Quote implements Client.
func (c *StaticClient) Quote(ctx context.Context, req Request) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	params, ok := c.table.Units[strings.TrimSpace(req.UnitID)]
	if !ok {
		return Quote{}, fmt.Errorf("%s: %w", req.UnitID, ErrUnknownUnit)
	}
	nights := req.Nights()
	if nights == 0 {
		return Quote{}, fmt.Errorf("%s: empty date range: %w", req.UnitID, ErrUnavailable)
	}
	quote := Quote{Prices: make(map[string]Price, len(req.Quantities))}
	for param := range req.Quantities {
		tariff, ok := params[param]
		if !ok {
			continue
		}
		unit := tariff.Price
		if tariff.PerNight {
			unit *= pricing.Money(nights)
		}
		quote.Prices[param] = Price{Unit: unit, Mode: tariff.Mode}
	}
	return quote, nil
}
