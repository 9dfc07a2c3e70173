package totals_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-booking/internal/pricing"
	"github.com/noah-isme/backend-booking/internal/selection"
	"github.com/noah-isme/backend-booking/internal/totals"
)

func priced(prices map[string]selection.ParamPrice) selection.Priced {
	return selection.Priced{Prices: prices, Status: selection.StatusPriced}
}

func settledItem() *selection.CartItem {
	return &selection.CartItem{
		UnitID: "villa-1",
		Params: map[string]int{"adult": 2},
		Priced: priced(map[string]selection.ParamPrice{
			"adult": {UnitPrice: 200_000, Mode: pricing.PerUnit},
		}),
		Addons: map[string]*selection.AddonSelection{
			"breakfast": {
				AddonID:  "breakfast",
				Selected: true,
				Params:   map[string]int{"set": 3},
				Priced: priced(map[string]selection.ParamPrice{
					"set": {UnitPrice: 150_000, Mode: pricing.PerGroup},
				}),
			},
			"tour": {AddonID: "tour", Params: map[string]int{"seat": 1}, Priced: selection.Priced{Status: selection.StatusPending}},
		},
	}
}

func TestComputeAccommodationAndRequiredAddon(t *testing.T) {
	out, err := totals.Compute(settledItem())
	require.NoError(t, err)
	require.Equal(t, pricing.Money(400_000), out.Accommodation.Net)
	require.Equal(t, pricing.Money(150_000), out.Addons.Net)
	require.Equal(t, pricing.Money(550_000), out.GrandTotal)
	require.Len(t, out.Lines, 1, "deselected add-ons do not contribute")
}

func TestComputeVoucherExceedingSubtotalFloorsAtZero(t *testing.T) {
	item := settledItem()
	item.Prices["adult"] = selection.ParamPrice{UnitPrice: 50_000, Mode: pricing.PerUnit}
	item.Voucher = &selection.Voucher{Code: "BIG", Kind: selection.VoucherFixed, Amount: 150_000}
	out, err := totals.Compute(item)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(100_000), out.Accommodation.Subtotal)
	require.Equal(t, pricing.Money(0), out.Accommodation.Net)
	require.Equal(t, pricing.Money(150_000), out.GrandTotal)
}

func TestComputeProductGroupUsesChild(t *testing.T) {
	item := settledItem()
	item.Addons["spa"] = &selection.AddonSelection{
		AddonID:      "spa",
		Selected:     true,
		ProductGroup: true,
		Voucher:      &selection.Voucher{Code: "SPA", Amount: 20_000},
		Priced:       selection.Priced{Total: 120_000, Status: selection.StatusPriced},
		Child: &selection.ChildSelection{
			ItemID:  "massage-b",
			Params:  map[string]int{"person": 1},
			Voucher: &selection.Voucher{Code: "KID", Amount: 10_000},
			Priced: priced(map[string]selection.ParamPrice{
				"person": {UnitPrice: 120_000, Mode: pricing.PerUnit},
			}),
		},
	}
	out, err := totals.Compute(item)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(270_000), out.Addons.Subtotal)
	require.Equal(t, pricing.Money(30_000), out.Addons.Discount)
	require.Equal(t, "massage-b", out.Lines[1].ChildID)
}

func TestComputeStackedGroupVouchersStayOnTheirLine(t *testing.T) {
	item := settledItem()
	item.Addons["spa"] = &selection.AddonSelection{
		AddonID:      "spa",
		Selected:     true,
		ProductGroup: true,
		Voucher:      &selection.Voucher{Code: "SPA", Amount: 80_000},
		Priced:       selection.Priced{Total: 100_000, Status: selection.StatusPriced},
		Child: &selection.ChildSelection{
			ItemID:  "massage-a",
			Params:  map[string]int{"person": 1},
			Voucher: &selection.Voucher{Code: "KID", Amount: 80_000},
			Priced: priced(map[string]selection.ParamPrice{
				"person": {UnitPrice: 100_000, Mode: pricing.PerUnit},
			}),
		},
	}
	out, err := totals.Compute(item)
	require.NoError(t, err)

	var spa totals.Line
	for _, line := range out.Lines {
		if line.AddonID == "spa" {
			spa = line
		}
	}
	require.Equal(t, pricing.Money(100_000), spa.Subtotal)
	require.Equal(t, pricing.Money(100_000), spa.Discount, "discount is capped at the line subtotal")
	require.Equal(t, pricing.Money(250_000), out.Addons.Subtotal)
	require.Equal(t, pricing.Money(100_000), out.Addons.Discount)
	require.Equal(t, pricing.Money(150_000), out.Addons.Net, "breakfast keeps its full price")
}

func TestComputeMenuComponent(t *testing.T) {
	item := settledItem()
	item.Menu = []selection.MenuLine{{ItemID: "dinner", Qty: 2, UnitPrice: 75_000}}
	item.MenuVoucher = &selection.Voucher{Code: "MENU", Amount: 500_000}
	out, err := totals.Compute(item)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(150_000), out.Menu.Subtotal)
	require.Equal(t, pricing.Money(0), out.Menu.Net)
	require.Equal(t, pricing.Money(550_000), out.GrandTotal)
}

func TestComputeRejectsUnsettled(t *testing.T) {
	item := settledItem()
	item.Addons["breakfast"].Status = selection.StatusLoading
	_, err := totals.Compute(item)
	require.ErrorIs(t, err, totals.ErrUnsettled)
}

func TestComputeIgnoresPricesForRemovedParams(t *testing.T) {
	item := settledItem()
	item.Prices["pet"] = selection.ParamPrice{UnitPrice: 99_000, Mode: pricing.PerGroup}
	out, err := totals.Compute(item)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(400_000), out.Accommodation.Subtotal)
}

func TestComputeIsIdempotent(t *testing.T) {
	item := settledItem()
	first, err := totals.Compute(item)
	require.NoError(t, err)
	second, err := totals.Compute(item)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestMissingInputAndUnavailableCountAsSettled(t *testing.T) {
	item := settledItem()
	item.Addons["breakfast"].Priced = selection.Priced{Status: selection.StatusUnavailable}
	item.Priced = selection.Priced{Status: selection.StatusMissingInput}
	out, err := totals.Compute(item)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(0), out.GrandTotal)
}
