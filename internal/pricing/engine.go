package pricing

import (
	"fmt"
	"strings"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// Mode describes how a parameter's unit price scales with its quantity.
type Mode string

const (
	// PerUnit multiplies the unit price by the selected quantity.
	PerUnit Mode = "per_unit"
	// PerGroup charges the unit price once regardless of quantity.
	PerGroup Mode = "per_group"
)

// ParseMode normalises an oracle supplied pricing mode.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "per_unit", "unit", "":
		return PerUnit, nil
	case "per_group", "group":
		return PerGroup, nil
	default:
		return "", fmt.Errorf("pricing: unknown mode %q", value)
	}
}

// Line describes one priced parameter of a node.
type Line struct {
	Qty       int
	UnitPrice Money
	Mode      Mode
}

// Contribution returns the amount a single parameter adds to its node total.
// Non-positive quantities contribute nothing in either mode.
func Contribution(unit Money, mode Mode, qty int) Money {
	if qty <= 0 || unit <= 0 {
		return 0
	}
	if mode == PerGroup {
		return unit
	}
	return Money(qty) * unit
}

// Sum totals the contributions of the provided lines.
func Sum(lines []Line) Money {
	var subtotal Money
	for _, it := range lines {
		subtotal += Contribution(it.UnitPrice, it.Mode, it.Qty)
	}
	return subtotal
}

// Component is a subtotal together with the discount applied against it.
type Component struct {
	Subtotal Money `json:"subtotal"`
	Discount Money `json:"discount"`
	Net      Money `json:"net"`
}

// NewComponent caps the discount at the subtotal so the net never goes negative.
func NewComponent(subtotal, discount Money) Component {
	if subtotal < 0 {
		subtotal = 0
	}
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	return Component{
		Subtotal: subtotal,
		Discount: discount,
		Net:      NetOf(subtotal, discount),
	}
}

// NetOf subtracts the discount from the subtotal, floored at zero.
func NetOf(subtotal, discount Money) Money {
	net := subtotal - discount
	if net < 0 {
		return 0
	}
	return net
}
