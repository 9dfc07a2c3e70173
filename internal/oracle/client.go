// Package oracle talks to the external pricing oracle, which turns a unit,
// a date range and parameter quantities into per-parameter unit prices.
package oracle

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/backend-booking/internal/common"
	"github.com/noah-isme/backend-booking/internal/pricing"
)

var (
	// ErrUnavailable is returned when the oracle could not be reached or refused the request.
	ErrUnavailable = errors.New("oracle: unavailable")
	// ErrInvalidResponse is returned when the oracle answered with a malformed quote.
	ErrInvalidResponse = errors.New("oracle: invalid response")
	// ErrUnknownUnit is returned when the oracle has no tariff for the unit.
	ErrUnknownUnit = errors.New("oracle: unknown unit")
)

const dateLayout = "2006-01-02"

// Request asks for the prices of one node.
type Request struct {
	UnitID     string
	CheckIn    time.Time
	CheckOut   time.Time
	Quantities map[string]int
}

// Price is the unit price and mode of one parameter.
type Price struct {
	Unit pricing.Money `json:"unitPrice"`
	Mode pricing.Mode  `json:"mode"`
}

// Quote is the oracle answer for one request. It may omit parameters.
type Quote struct {
	Prices map[string]Price `json:"prices"`
}

// Client is the pricing oracle contract.
type Client interface {
	Quote(ctx context.Context, req Request) (Quote, error)
}

// FuncClient adapts a function to Client.
type FuncClient func(ctx context.Context, req Request) (Quote, error)

// Quote implements Client.
func (f FuncClient) Quote(ctx context.Context, req Request) (Quote, error) {
	return f(ctx, req)
}

// Nights counts the nights between check-in and check-out.
func (r Request) Nights() int {
	if r.CheckIn.IsZero() || !r.CheckOut.After(r.CheckIn) {
		return 0
	}
	return int(r.CheckOut.Sub(r.CheckIn) / (24 * time.Hour))
}

// Digest returns a stable key for the request, independent of map order.
func (r Request) Digest() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(r.UnitID)))
	b.WriteByte('|')
	b.WriteString(r.CheckIn.UTC().Format(dateLayout))
	b.WriteByte('|')
	b.WriteString(r.CheckOut.UTC().Format(dateLayout))
	b.WriteByte('|')
	params := make([]string, 0, len(r.Quantities))
	for param := range r.Quantities {
		params = append(params, param)
	}
	sort.Strings(params)
	for _, param := range params {
		b.WriteString(param)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(r.Quantities[param]))
		b.WriteByte(';')
	}
	return common.Sha256Hex(b.String())
}

// Filter drops prices for parameters that were not part of the request.
func (q Quote) Filter(quantities map[string]int) Quote {
	out := Quote{Prices: make(map[string]Price, len(q.Prices))}
	for param, price := range q.Prices {
		if _, ok := quantities[param]; ok {
			out.Prices[param] = price
		}
	}
	return out
}

func (q Quote) validate() error {
	for param, price := range q.Prices {
		if strings.TrimSpace(param) == "" {
			return errors.New("empty parameter name")
		}
		if price.Unit < 0 {
			return errors.New(param + ": negative unit price")
		}
		if _, err := pricing.ParseMode(string(price.Mode)); err != nil {
			return err
		}
	}
	return nil
}

func (q Quote) normalized() Quote {
	out := Quote{Prices: make(map[string]Price, len(q.Prices))}
	for param, price := range q.Prices {
		mode, _ := pricing.ParseMode(string(price.Mode))
		out.Prices[param] = Price{Unit: price.Unit, Mode: mode}
	}
	return out
}
