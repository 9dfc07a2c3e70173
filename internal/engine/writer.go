package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/backend-booking/internal/pricing"
	"github.com/noah-isme/backend-booking/internal/selection"
)

// syncBackLocked writes the cache into the tree. It does nothing while any
// entry is loading. The write reaches the observer tagged OriginEngine, so it
// never marks anything dirty.
func (s *Session) syncBackLocked() bool {
	if s.cache.AnyLoading() {
		return false
	}
	s.tree.WritePrices(s.sheetLocked())
	return true
}

// sheetLocked derives the engine-owned fields of every selected node from its
// cache entry and current quantities.
func (s *Session) sheetLocked() map[selection.NodeKey]selection.Priced {
	item := s.tree.Item()
	sheet := map[selection.NodeKey]selection.Priced{}
	for _, in := range s.tree.PriceInputs() {
		entry, ok := s.cache.Get(in.Key)
		node := pricedFrom(entry, ok, in.Quantities)
		sheet[in.Key] = node
		if parent := in.ParentKey(); parent != "" {
			// the parent has no parameters of its own
			sheet[parent] = selection.Priced{Total: node.Total, Status: node.Status}
		}
	}
	for id, addon := range item.Addons {
		if addon == nil || !addon.Selected || !addon.ProductGroup || addon.Child != nil {
			continue
		}
		sheet[selection.AddonKey(id)] = selection.Priced{Status: selection.StatusMissingInput}
	}
	return sheet
}

func pricedFrom(entry Entry, ok bool, quantities map[string]int) selection.Priced {
	if !ok {
		return selection.Priced{Status: selection.StatusPending}
	}
	out := selection.Priced{Status: entry.Status}
	if len(entry.Prices) == 0 {
		return out
	}
	out.Prices = make(map[string]selection.ParamPrice, len(entry.Prices))
	for param, price := range entry.Prices {
		qty, selected := quantities[param]
		if !selected {
			continue
		}
		total := pricing.Contribution(price.Unit, price.Mode, qty)
		out.Prices[param] = selection.ParamPrice{UnitPrice: price.Unit, Mode: price.Mode, Total: total}
		out.Total += total
	}
	return out
}

// Verify checks that every selected node's written fields equal what the
// cache and its quantities produce. It only applies to a settled session.
func (s *Session) Verify() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.idleLocked() {
		return nil
	}
	sheet := s.sheetLocked()
	item := s.tree.Item()
	var problems []string
	check := func(key selection.NodeKey, got selection.Priced) {
		want := sheet[key]
		if got.Total != want.Total || got.Status != want.Status || !samePrices(got.Prices, want.Prices) {
			problems = append(problems, fmt.Sprintf("%s: total %d status %s, want %d %s", key, got.Total, got.Status, want.Total, want.Status))
		}
	}
	check(selection.AccommodationKey, item.Priced)
	for id, addon := range item.Addons {
		if addon == nil || !addon.Selected {
			continue
		}
		check(selection.AddonKey(id), addon.Priced)
		if addon.Child != nil {
			check(selection.ChildKey(id, addon.Child.ItemID), addon.Child.Priced)
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrDiverged, strings.Join(problems, "; "))
}

func samePrices(a, b map[string]selection.ParamPrice) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
