// Package totals aggregates a settled selection into an explainable breakdown.
package totals

import (
	"errors"
	"fmt"
	"sort"

	"github.com/noah-isme/backend-booking/internal/pricing"
	"github.com/noah-isme/backend-booking/internal/selection"
)

// ErrUnsettled is returned while any selected node is still pending or loading.
var ErrUnsettled = errors.New("totals: selection not settled")

// Line is the contribution of one selected add-on.
type Line struct {
	AddonID  string                `json:"addonId"`
	ChildID  string                `json:"childId,omitempty"`
	Status   selection.PriceStatus `json:"status"`
	Subtotal pricing.Money         `json:"subtotal"`
	Discount pricing.Money         `json:"discount"`
}

// Breakdown is the aggregated price of a cart item. Each component is net of
// its own discounts and never negative.
type Breakdown struct {
	Accommodation pricing.Component `json:"accommodation"`
	Addons        pricing.Component `json:"addons"`
	Menu          pricing.Component `json:"menu"`
	Lines         []Line            `json:"lines,omitempty"`
	GrandTotal    pricing.Money     `json:"grandTotal"`
}

// Compute aggregates item. It reads only and returns the same result for
// the same item.
func Compute(item *selection.CartItem) (Breakdown, error) {
	if item == nil {
		return Breakdown{}, fmt.Errorf("cart item is required: %w", selection.ErrInvalidInput)
	}
	if key, ok := firstUnsettled(item); ok {
		return Breakdown{}, fmt.Errorf("%s: %w", key, ErrUnsettled)
	}

	var out Breakdown
	accSubtotal := NodeSubtotal(item.Prices, item.Params)
	out.Accommodation = pricing.NewComponent(accSubtotal, voucherAmount(item.Voucher, accSubtotal))

	var addonSubtotal, addonDiscount pricing.Money
	for _, id := range selectedAddonIDs(item) {
		addon := item.Addons[id]
		line := Line{AddonID: id, Status: addon.Status}
		if addon.ProductGroup {
			if addon.Child != nil {
				child := addon.Child
				line.ChildID = child.ItemID
				line.Status = child.Status
				line.Subtotal = NodeSubtotal(child.Prices, child.Params)
				line.Discount = voucherAmount(child.Voucher, line.Subtotal)
			}
			// the parent voucher only reaches what the child voucher left
			line.Discount += voucherAmount(addon.Voucher, line.Subtotal-line.Discount)
		} else {
			line.Subtotal = NodeSubtotal(addon.Prices, addon.Params)
			line.Discount = voucherAmount(addon.Voucher, line.Subtotal)
		}
		addonSubtotal += line.Subtotal
		addonDiscount += line.Discount
		out.Lines = append(out.Lines, line)
	}
	out.Addons = pricing.NewComponent(addonSubtotal, addonDiscount)

	var menuLines []pricing.Line
	for _, m := range item.Menu {
		menuLines = append(menuLines, pricing.Line{Qty: m.Qty, UnitPrice: m.UnitPrice, Mode: pricing.PerUnit})
	}
	menuSubtotal := pricing.Sum(menuLines)
	out.Menu = pricing.NewComponent(menuSubtotal, voucherAmount(item.MenuVoucher, menuSubtotal))

	out.GrandTotal = out.Accommodation.Net + out.Addons.Net + out.Menu.Net
	return out, nil
}

// NodeSubtotal sums the contributions of the priced parameters still present
// in quantities. Prices for parameters no longer selected are ignored.
func NodeSubtotal(prices map[string]selection.ParamPrice, quantities map[string]int) pricing.Money {
	var lines []pricing.Line
	for param, qty := range quantities {
		price, ok := prices[param]
		if !ok {
			continue
		}
		lines = append(lines, pricing.Line{Qty: qty, UnitPrice: price.UnitPrice, Mode: price.Mode})
	}
	return pricing.Sum(lines)
}

// a voucher only discounts the node it is attached to
func voucherAmount(v *selection.Voucher, subtotal pricing.Money) pricing.Money {
	if v == nil || v.Amount <= 0 || subtotal <= 0 {
		return 0
	}
	if v.Amount > subtotal {
		return subtotal
	}
	return v.Amount
}

func firstUnsettled(item *selection.CartItem) (selection.NodeKey, bool) {
	if !item.Status.Settled() {
		return selection.AccommodationKey, true
	}
	for _, id := range selectedAddonIDs(item) {
		addon := item.Addons[id]
		if !addon.Status.Settled() {
			return selection.AddonKey(id), true
		}
		if addon.Child != nil && !addon.Child.Status.Settled() {
			return selection.ChildKey(id, addon.Child.ItemID), true
		}
	}
	return "", false
}

func selectedAddonIDs(item *selection.CartItem) []string {
	ids := make([]string, 0, len(item.Addons))
	for id, addon := range item.Addons {
		if addon != nil && addon.Selected {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
