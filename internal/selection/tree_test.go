package selection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustRange(t *testing.T, from, to string) DateRange {
	t.Helper()
	r, err := NewDateRange(from, to)
	require.NoError(t, err)
	return r
}

func sampleItem(t *testing.T) *CartItem {
	t.Helper()
	return &CartItem{
		UnitID: "villa-1",
		ZoneID: "zone-a",
		Dates:  mustRange(t, "2025-06-01", "2025-06-03"),
		Params: map[string]int{"adult": 2},
		Specs: map[string]ParamSpec{
			"adult": {Min: 1, Max: 6, CountedForMenu: true},
			"child": {Min: 0, Max: 4, CountedForMenu: true},
			"pet":   {Min: 0, Max: 2},
		},
		Addons: map[string]*AddonSelection{
			"breakfast": {Required: true, Policy: PolicyInheritParent, Params: map[string]int{"set": 2}},
			"tour": {
				Policy: PolicyCustom,
				Window: mustRange(t, "2025-05-30", "2025-06-05"),
				Params: map[string]int{"seat": 1},
			},
			"bike":  {Policy: PolicyFree, Params: map[string]int{"bike": 1}},
			"spa":   {Policy: PolicyInheritParent, ProductGroup: true},
		},
	}
}

func TestNewTreeSelectsRequiredAddons(t *testing.T) {
	tree, err := NewTree(sampleItem(t))
	require.NoError(t, err)
	require.True(t, tree.Item().Addons["breakfast"].Selected)
	require.Equal(t, "breakfast", tree.Item().Addons["breakfast"].AddonID)
	require.Equal(t, StatusPending, tree.Item().Status)
}

func TestNewTreeRejectsInvalidItem(t *testing.T) {
	item := sampleItem(t)
	item.UnitID = ""
	item.Params["adult"] = 9
	item.Addons["spa"].Params = map[string]int{"x": 1}
	_, err := NewTree(item)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidInput))
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 3)
}

func TestNewTreeRejectsReversedDates(t *testing.T) {
	item := sampleItem(t)
	item.Dates = DateRange{From: item.Dates.To, To: item.Dates.From}
	_, err := NewTree(item)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestPriceInputs(t *testing.T) {
	tree, err := NewTree(sampleItem(t))
	require.NoError(t, err)
	inputs := tree.PriceInputs()
	require.Len(t, inputs, 2)
	require.Equal(t, AccommodationKey, inputs[0].Key)
	require.True(t, inputs[0].Ready)
	require.Equal(t, AddonKey("breakfast"), inputs[1].Key)
	require.Equal(t, mustRange(t, "2025-06-01", "2025-06-02"), inputs[1].Window)

	require.NoError(t, tree.SelectChild("spa", ChildSelection{ItemID: "massage", Params: map[string]int{"person": 2}}))
	inputs = tree.PriceInputs()
	require.Len(t, inputs, 3)
	child := inputs[2]
	require.Equal(t, ChildKey("spa", "massage"), child.Key)
	require.Equal(t, KindProductGroupChild, child.Kind)
	require.Equal(t, AddonKey("spa"), child.ParentKey())
}

func TestResolveWindowPolicies(t *testing.T) {
	stay := mustRange(t, "2025-06-01", "2025-06-04")

	inherit := &AddonSelection{Policy: PolicyInheritParent, Day: time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)}
	window, ok := inherit.ResolveWindow(stay)
	require.True(t, ok)
	require.Equal(t, mustRange(t, "2025-06-02", "2025-06-03"), window)

	_, ok = inherit.ResolveWindow(DateRange{})
	require.False(t, ok, "cleared stay leaves inherit_parent without dates")

	custom := &AddonSelection{Policy: PolicyCustom, Window: mustRange(t, "2025-06-01", "2025-06-10")}
	window, ok = custom.ResolveWindow(stay)
	require.True(t, ok)
	require.Equal(t, custom.Window, window)
	custom.Range = mustRange(t, "2025-05-25", "2025-06-03")
	window, ok = custom.ResolveWindow(stay)
	require.True(t, ok)
	require.Equal(t, mustRange(t, "2025-06-01", "2025-06-03"), window)

	free := &AddonSelection{Policy: PolicyFree}
	_, ok = free.ResolveWindow(stay)
	require.False(t, ok)
	free.Range = mustRange(t, "2025-07-01", "2025-07-02")
	window, ok = free.ResolveWindow(stay)
	require.True(t, ok)
	require.Equal(t, free.Range, window)
}

func TestClearDatesMakesInheritedAddonMissingInput(t *testing.T) {
	tree, err := NewTree(sampleItem(t))
	require.NoError(t, err)
	tree.ClearDates()
	for _, in := range tree.PriceInputs() {
		require.False(t, in.Ready, "%s should lack inputs", in.Key)
	}
}

func TestSelectChildReplacesPrevious(t *testing.T) {
	tree, err := NewTree(sampleItem(t))
	require.NoError(t, err)
	require.NoError(t, tree.SelectChild("spa", ChildSelection{ItemID: "a", Params: map[string]int{"person": 1}}))
	require.NoError(t, tree.SelectChild("spa", ChildSelection{ItemID: "b", Params: map[string]int{"person": 1}}))
	spa := tree.Item().Addons["spa"]
	require.True(t, spa.Selected)
	require.Equal(t, "b", spa.Child.ItemID)

	err = tree.SelectChild("tour", ChildSelection{ItemID: "x"})
	require.ErrorIs(t, err, ErrNotProductGroup)
}

func TestEditValidation(t *testing.T) {
	tree, err := NewTree(sampleItem(t))
	require.NoError(t, err)

	require.ErrorIs(t, tree.ToggleAddon("breakfast", false), ErrInvalidInput)
	require.ErrorIs(t, tree.ToggleAddon("nope", true), ErrUnknownAddon)
	require.ErrorIs(t, tree.SetQuantity("adult", 0), ErrInvalidInput)
	require.ErrorIs(t, tree.SetQuantity("adult", 7), ErrInvalidInput)
	require.ErrorIs(t, tree.SetAddonRange("tour", mustRange(t, "2025-05-01", "2025-06-02")), ErrInvalidInput)
	require.NoError(t, tree.SetAddonRange("tour", mustRange(t, "2025-06-01", "2025-06-02")))
	require.ErrorIs(t, tree.SetAddonDay("breakfast", time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)), ErrInvalidInput)
	require.NoError(t, tree.SetAddonDay("breakfast", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)))
	require.ErrorIs(t, tree.SetDates(mustRange(t, "2025-06-03", "2025-06-03")), ErrInvalidInput)
}

func TestObserverReceivesOrigin(t *testing.T) {
	tree, err := NewTree(sampleItem(t))
	require.NoError(t, err)
	var changes []Change
	tree.Observe(func(c Change) { changes = append(changes, c) })

	require.NoError(t, tree.SetQuantity("child", 1))
	tree.WritePrices(map[NodeKey]Priced{AccommodationKey: {Total: 10, Status: StatusPriced}})

	require.Len(t, changes, 2)
	require.Equal(t, OriginUser, changes[0].Origin)
	require.Equal(t, OriginEngine, changes[1].Origin)
	require.Equal(t, StatusPriced, tree.Item().Status)
	require.Equal(t, StatusPending, tree.Item().Addons["breakfast"].Status)
}

func TestVoucherScopes(t *testing.T) {
	tree, err := NewTree(sampleItem(t))
	require.NoError(t, err)

	scope, err := ParseScope("addon:tour")
	require.NoError(t, err)
	require.NoError(t, tree.AttachVoucher(scope, Voucher{Code: "TOUR10", Kind: VoucherFixed, Amount: 5_000}))
	v, err := tree.VoucherAt(scope)
	require.NoError(t, err)
	require.Equal(t, "TOUR10", v.Code)
	require.NoError(t, tree.DetachVoucher(scope))
	require.Nil(t, tree.Item().Addons["tour"].Voucher)

	childScope, err := ParseScope("child:spa")
	require.NoError(t, err)
	require.ErrorIs(t, tree.AttachVoucher(childScope, Voucher{Code: "SPA"}), ErrNoChild)

	_, err = ParseScope("addon:")
	require.ErrorIs(t, err, ErrInvalidScope)
}

func TestCountedGuestsMemoized(t *testing.T) {
	tree, err := NewTree(sampleItem(t))
	require.NoError(t, err)
	require.Equal(t, 2, tree.CountedGuests())
	require.NoError(t, tree.SetQuantity("child", 2))
	require.NoError(t, tree.SetQuantity("pet", 1))
	require.Equal(t, 4, tree.CountedGuests())
	require.Equal(t, 4, tree.CountedGuests())
}

func TestCloneIsDeep(t *testing.T) {
	tree, err := NewTree(sampleItem(t))
	require.NoError(t, err)
	view := tree.Clone()
	view.Params["adult"] = 5
	view.Addons["tour"].Selected = true
	require.Equal(t, 2, tree.Item().Params["adult"])
	require.False(t, tree.Item().Addons["tour"].Selected)
}
