package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-booking/internal/selection"
)

func window() selection.DateRange {
	return selection.DateRange{
		From: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
	}
}

func TestOfIgnoresConstructionOrder(t *testing.T) {
	a := map[string]int{}
	a["adult"] = 2
	a["child"] = 1
	b := map[string]int{"child": 1, "adult": 2}
	local := time.FixedZone("WIB", 7*3600)
	shifted := selection.DateRange{
		From: time.Date(2025, 6, 1, 12, 0, 0, 0, local),
		To:   time.Date(2025, 6, 3, 12, 0, 0, 0, local),
	}

	first := Of(selection.PriceInput{Key: "accommodation", Kind: selection.KindAccommodation, UnitID: "villa", Window: window(), Ready: true, Quantities: a})
	second := Of(selection.PriceInput{Key: "accommodation", Kind: selection.KindAccommodation, UnitID: "VILLA ", Window: shifted, Ready: true, Quantities: b})
	require.Equal(t, first, second)
}

func TestOfSensitiveToPriceInputs(t *testing.T) {
	base := selection.PriceInput{Kind: selection.KindProductGroupChild, UnitID: "a", ParentID: "spa", Window: window(), Ready: true, Quantities: map[string]int{"person": 1}}
	changedQty := base
	changedQty.Quantities = map[string]int{"person": 2}
	changedChild := base
	changedChild.UnitID = "b"
	notReady := base
	notReady.Ready = false

	fp := Of(base)
	require.NotEqual(t, fp, Of(changedQty))
	require.NotEqual(t, fp, Of(changedChild))
	require.NotEqual(t, fp, Of(notReady))
}

func TestTrackerDiff(t *testing.T) {
	tracker := NewTracker()
	acc := selection.PriceInput{Key: selection.AccommodationKey, Kind: selection.KindAccommodation, UnitID: "villa", Window: window(), Ready: true, Quantities: map[string]int{"adult": 2}}
	addon := selection.PriceInput{Key: selection.AddonKey("bike"), Kind: selection.KindAddon, UnitID: "bike", Window: window(), Ready: true, Quantities: map[string]int{"bike": 1}}

	dirty, removed := tracker.Diff([]selection.PriceInput{acc, addon})
	require.Len(t, dirty, 2)
	require.Empty(t, removed)

	dirty, removed = tracker.Diff([]selection.PriceInput{acc, addon})
	require.Empty(t, dirty, "unchanged inputs must not be dirty")
	require.Empty(t, removed)

	acc.Quantities = map[string]int{"adult": 3}
	dirty, removed = tracker.Diff([]selection.PriceInput{acc})
	require.Len(t, dirty, 1)
	require.Equal(t, selection.AccommodationKey, dirty[0].Input.Key)
	require.Equal(t, []selection.NodeKey{selection.AddonKey("bike")}, removed)
	require.True(t, tracker.Matches(selection.AccommodationKey, dirty[0].Fingerprint))
	require.Equal(t, 1, tracker.Len())
}
