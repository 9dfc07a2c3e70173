package selection

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// NodeKey identifies a priceable node inside a selection tree.
type NodeKey string

// AccommodationKey is the key of the accommodation node.
const AccommodationKey NodeKey = "accommodation"

// AddonKey returns the key of an add-on node.
func AddonKey(addonID string) NodeKey {
	return NodeKey("addon:" + addonID)
}

// ChildKey returns the key of the child chosen under a product-group add-on.
func ChildKey(parentID, itemID string) NodeKey {
	return NodeKey("child:" + parentID + "/" + itemID)
}

// NodeKind is the closed set of priceable node variants.
type NodeKind uint8

const (
	// KindAccommodation is the booked unit itself.
	KindAccommodation NodeKind = iota + 1
	// KindAddon is an add-on carrying its own parameters.
	KindAddon
	// KindProductGroupChild is the item chosen under a product-group add-on.
	KindProductGroupChild
)

func (k NodeKind) String() string {
	switch k {
	case KindAccommodation:
		return "accommodation"
	case KindAddon:
		return "addon"
	case KindProductGroupChild:
		return "child"
	default:
		return "unknown"
	}
}

// PriceInput is the price-relevant view of one priceable node. The fetch
// orchestrator and sync-back writer work over a slice of these regardless of
// the node variant.
type PriceInput struct {
	Key        NodeKey
	Kind       NodeKind
	UnitID     string
	ParentID   string
	Window     DateRange
	Ready      bool
	Quantities map[string]int
}

// ParentKey returns the add-on key owning a product-group child.
func (p PriceInput) ParentKey() NodeKey {
	if p.Kind != KindProductGroupChild {
		return ""
	}
	return AddonKey(p.ParentID)
}

// ScopeKind is the level a voucher is applied at.
type ScopeKind string

const (
	// ScopeAccommodation targets the accommodation subtotal.
	ScopeAccommodation ScopeKind = "accommodation"
	// ScopeAddon targets one add-on's total.
	ScopeAddon ScopeKind = "addon"
	// ScopeChild targets the child chosen under a product-group add-on.
	ScopeChild ScopeKind = "child"
	// ScopeMenu targets the menu subtotal.
	ScopeMenu ScopeKind = "menu"
)

// Scope addresses the node a voucher belongs to.
type Scope struct {
	Kind    ScopeKind
	AddonID string
}

// ErrInvalidScope is returned for malformed voucher scopes.
var ErrInvalidScope = errors.New("selection: invalid voucher scope")

// ParseScope accepts "accommodation", "menu", "addon:<id>" and "child:<addon id>".
func ParseScope(value string) (Scope, error) {
	trimmed := strings.TrimSpace(value)
	kind, id, _ := strings.Cut(trimmed, ":")
	switch ScopeKind(strings.ToLower(kind)) {
	case ScopeAccommodation:
		return Scope{Kind: ScopeAccommodation}, nil
	case ScopeMenu:
		return Scope{Kind: ScopeMenu}, nil
	case ScopeAddon, ScopeChild:
		if strings.TrimSpace(id) == "" {
			return Scope{}, fmt.Errorf("%q: %w", value, ErrInvalidScope)
		}
		return Scope{Kind: ScopeKind(strings.ToLower(kind)), AddonID: strings.TrimSpace(id)}, nil
	default:
		return Scope{}, fmt.Errorf("%q: %w", value, ErrInvalidScope)
	}
}

func (s Scope) String() string {
	if s.AddonID == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ":" + s.AddonID
}

// PriceInputs lists every currently selected priceable node. Product-group
// parents are represented by their chosen child; a parent without a child
// contributes no input.
func (t *Tree) PriceInputs() []PriceInput {
	item := t.item
	inputs := make([]PriceInput, 0, 1+len(item.Addons))
	inputs = append(inputs, PriceInput{
		Key:        AccommodationKey,
		Kind:       KindAccommodation,
		UnitID:     item.UnitID,
		Window:     item.Dates.Normalize(),
		Ready:      item.UnitID != "" && item.Dates.Valid() && hasPositive(item.Params),
		Quantities: cloneInts(item.Params),
	})
	for _, id := range sortedAddonIDs(item.Addons) {
		addon := item.Addons[id]
		if !addon.Selected {
			continue
		}
		window, ok := addon.ResolveWindow(item.Dates)
		if addon.ProductGroup {
			if addon.Child == nil {
				continue
			}
			child := addon.Child
			inputs = append(inputs, PriceInput{
				Key:        ChildKey(id, child.ItemID),
				Kind:       KindProductGroupChild,
				UnitID:     child.ItemID,
				ParentID:   id,
				Window:     window,
				Ready:      ok && hasPositive(child.Params),
				Quantities: cloneInts(child.Params),
			})
			continue
		}
		inputs = append(inputs, PriceInput{
			Key:        AddonKey(id),
			Kind:       KindAddon,
			UnitID:     id,
			Window:     window,
			Ready:      ok && hasPositive(addon.Params),
			Quantities: cloneInts(addon.Params),
		})
	}
	return inputs
}

func hasPositive(params map[string]int) bool {
	for _, qty := range params {
		if qty > 0 {
			return true
		}
	}
	return false
}

func sortedAddonIDs(addons map[string]*AddonSelection) []string {
	ids := make([]string, 0, len(addons))
	for id, addon := range addons {
		if addon != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
