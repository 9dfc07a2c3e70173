package selection

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-booking/internal/pricing"
)

// PriceStatus reports the state of a node's engine-owned price fields.
type PriceStatus string

const (
	// StatusPending marks a node that has never been priced.
	StatusPending PriceStatus = "pending"
	// StatusLoading marks a node waiting for an oracle response.
	StatusLoading PriceStatus = "loading"
	// StatusPriced marks a node holding prices from the oracle.
	StatusPriced PriceStatus = "priced"
	// StatusMissingInput marks a node that cannot be priced until required dates or quantities are supplied.
	StatusMissingInput PriceStatus = "missing_input"
	// StatusUnavailable marks a node whose oracle call failed.
	StatusUnavailable PriceStatus = "unavailable"
)

// Settled reports whether the status is final for the current inputs.
func (s PriceStatus) Settled() bool {
	switch s {
	case StatusPriced, StatusMissingInput, StatusUnavailable:
		return true
	default:
		return false
	}
}

// ParamSpec declares the allowed quantity bounds of a parameter. A zero Max
// leaves the quantity unbounded.
type ParamSpec struct {
	Min            int  `json:"min" validate:"gte=0"`
	Max            int  `json:"max" validate:"gte=0"`
	CountedForMenu bool `json:"countedForMenu,omitempty"`
}

// ParamPrice is the resolved price breakdown of one parameter.
type ParamPrice struct {
	UnitPrice pricing.Money `json:"unitPrice"`
	Mode      pricing.Mode  `json:"mode"`
	Total     pricing.Money `json:"total"`
}

// Priced groups the engine-owned fields of a priceable node. They are written
// by the pricing engine only.
type Priced struct {
	Prices map[string]ParamPrice `json:"prices,omitempty"`
	Total  pricing.Money         `json:"total"`
	Status PriceStatus           `json:"status,omitempty"`
}

// VoucherKind is the discount type of a voucher.
type VoucherKind string

const (
	// VoucherPercentage discounts a percentage of the scoped subtotal.
	VoucherPercentage VoucherKind = "percentage"
	// VoucherFixed discounts a fixed amount.
	VoucherFixed VoucherKind = "fixed"
)

// Voucher is a discount applied to the accommodation, an add-on, a child or the menu.
type Voucher struct {
	ID     string          `json:"id"`
	Code   string          `json:"code" validate:"required"`
	Kind   VoucherKind     `json:"kind" validate:"oneof=percentage fixed"`
	Value  decimal.Decimal `json:"value"`
	Amount pricing.Money   `json:"amount" validate:"gte=0"`
}

// ChildSelection is the single chosen item of a product-group add-on.
type ChildSelection struct {
	ItemID  string               `json:"itemId" validate:"required"`
	Params  map[string]int       `json:"params" validate:"dive,gte=0"`
	Specs   map[string]ParamSpec `json:"specs,omitempty" validate:"dive"`
	Voucher *Voucher             `json:"voucher,omitempty"`
	Priced
}

// AddonSelection is one optional service offered with the accommodation.
type AddonSelection struct {
	AddonID      string               `json:"addonId" validate:"required"`
	Selected     bool                 `json:"selected"`
	Required     bool                 `json:"required,omitempty"`
	Policy       DatePolicy           `json:"policy" validate:"oneof=inherit_parent custom free"`
	Day          time.Time            `json:"day"`
	Window       DateRange            `json:"window"`
	Range        DateRange            `json:"range"`
	Params       map[string]int       `json:"params,omitempty" validate:"dive,gte=0"`
	Specs        map[string]ParamSpec `json:"specs,omitempty" validate:"dive"`
	ProductGroup bool                 `json:"productGroup,omitempty"`
	Child        *ChildSelection      `json:"child,omitempty"`
	Voucher      *Voucher             `json:"voucher,omitempty"`
	Priced
}

// MenuLine is a meal selection priced outside the oracle cycle.
type MenuLine struct {
	ItemID    string        `json:"itemId" validate:"required"`
	Qty       int           `json:"qty" validate:"gte=0"`
	UnitPrice pricing.Money `json:"unitPrice" validate:"gte=0"`
}

// CartItem is one accommodation booking line with its add-ons and menu.
type CartItem struct {
	UnitID      string                     `json:"unitId" validate:"required"`
	ZoneID      string                     `json:"zoneId"`
	Dates       DateRange                  `json:"dates"`
	Params      map[string]int             `json:"params" validate:"dive,gte=0"`
	Specs       map[string]ParamSpec       `json:"specs,omitempty" validate:"dive"`
	Voucher     *Voucher                   `json:"voucher,omitempty"`
	Addons      map[string]*AddonSelection `json:"addons,omitempty" validate:"dive"`
	Menu        []MenuLine                 `json:"menu,omitempty" validate:"dive"`
	MenuVoucher *Voucher                   `json:"menuVoucher,omitempty"`
	Priced
}

// Clone returns a deep copy of the cart item.
func (c *CartItem) Clone() *CartItem {
	if c == nil {
		return nil
	}
	out := *c
	out.Params = cloneInts(c.Params)
	out.Specs = cloneSpecs(c.Specs)
	out.Voucher = c.Voucher.clone()
	out.MenuVoucher = c.MenuVoucher.clone()
	out.Priced = c.Priced.clone()
	if c.Menu != nil {
		out.Menu = append([]MenuLine(nil), c.Menu...)
	}
	if c.Addons != nil {
		out.Addons = make(map[string]*AddonSelection, len(c.Addons))
		for id, addon := range c.Addons {
			out.Addons[id] = addon.clone()
		}
	}
	return &out
}

func (a *AddonSelection) clone() *AddonSelection {
	if a == nil {
		return nil
	}
	out := *a
	out.Params = cloneInts(a.Params)
	out.Specs = cloneSpecs(a.Specs)
	out.Voucher = a.Voucher.clone()
	out.Priced = a.Priced.clone()
	out.Child = a.Child.clone()
	return &out
}

func (c *ChildSelection) clone() *ChildSelection {
	if c == nil {
		return nil
	}
	out := *c
	out.Params = cloneInts(c.Params)
	out.Specs = cloneSpecs(c.Specs)
	out.Voucher = c.Voucher.clone()
	out.Priced = c.Priced.clone()
	return &out
}

func (v *Voucher) clone() *Voucher {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func (p Priced) clone() Priced {
	out := p
	if p.Prices != nil {
		out.Prices = make(map[string]ParamPrice, len(p.Prices))
		for k, v := range p.Prices {
			out.Prices[k] = v
		}
	}
	return out
}

func cloneInts(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneSpecs(in map[string]ParamSpec) map[string]ParamSpec {
	if in == nil {
		return nil
	}
	out := make(map[string]ParamSpec, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
