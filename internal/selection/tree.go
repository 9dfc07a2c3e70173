package selection

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidInput is returned when an edit violates the selection constraints.
	ErrInvalidInput = errors.New("selection: invalid input")
	// ErrUnknownAddon is returned when an edit references an add-on the item does not offer.
	ErrUnknownAddon = errors.New("selection: unknown add-on")
	// ErrNotProductGroup is returned when child operations target a plain add-on.
	ErrNotProductGroup = errors.New("selection: add-on is not a product group")
	// ErrNoChild is returned when a child operation targets a parent with no child chosen.
	ErrNoChild = errors.New("selection: no child selected")
)

// Origin tags every change notification with the party that caused it.
type Origin uint8

const (
	// OriginUser marks edits made through the presentation layer.
	OriginUser Origin = iota + 1
	// OriginEngine marks writes of engine-owned price fields.
	OriginEngine
)

func (o Origin) String() string {
	switch o {
	case OriginUser:
		return "user_edit"
	case OriginEngine:
		return "engine_write"
	default:
		return "unknown"
	}
}

// Change describes one mutation of the tree.
type Change struct {
	Origin Origin
	Op     string
	Keys   []NodeKey
}

// Observer receives every change after it has been applied.
type Observer func(Change)

// Tree owns the mutable selection of one editing session. It is not safe for
// concurrent use; the owning session serialises access.
type Tree struct {
	item     *CartItem
	observer Observer
	guests   guestMemo
}

// NewTree validates the item and wraps it. The tree takes ownership of item.
func NewTree(item *CartItem) (*Tree, error) {
	if item == nil {
		return nil, fmt.Errorf("cart item is required: %w", ErrInvalidInput)
	}
	if item.Params == nil {
		item.Params = map[string]int{}
	}
	if item.Addons == nil {
		item.Addons = map[string]*AddonSelection{}
	}
	for id, addon := range item.Addons {
		if addon == nil {
			delete(item.Addons, id)
			continue
		}
		if addon.AddonID == "" {
			addon.AddonID = id
		}
		if addon.Required {
			addon.Selected = true
		}
		if addon.Params == nil {
			addon.Params = map[string]int{}
		}
	}
	if err := Validate(item); err != nil {
		return nil, err
	}
	resetStatus(item)
	return &Tree{item: item}, nil
}

// Observe installs the change observer.
func (t *Tree) Observe(fn Observer) {
	t.observer = fn
}

// Item exposes the underlying item to the owning session. Callers must not mutate it.
func (t *Tree) Item() *CartItem {
	return t.item
}

// Clone returns a deep copy suitable for read-only views.
func (t *Tree) Clone() *CartItem {
	return t.item.Clone()
}

// SetDates replaces the accommodation stay.
func (t *Tree) SetDates(r DateRange) error {
	r = r.Normalize()
	if !r.Valid() {
		return fmt.Errorf("check-out must be after check-in: %w", ErrInvalidInput)
	}
	t.item.Dates = r
	t.emit(OriginUser, "set_dates", AccommodationKey)
	return nil
}

// ClearDates removes the accommodation stay. Add-ons inheriting it lose their window.
func (t *Tree) ClearDates() {
	t.item.Dates = DateRange{}
	t.emit(OriginUser, "clear_dates", AccommodationKey)
}

// SetQuantity changes an accommodation parameter quantity.
func (t *Tree) SetQuantity(param string, qty int) error {
	if err := setQuantity(t.item.Params, t.item.Specs, param, qty); err != nil {
		return err
	}
	t.emit(OriginUser, "set_quantity", AccommodationKey)
	return nil
}

// ToggleAddon selects or deselects an add-on. Required add-ons cannot be deselected.
func (t *Tree) ToggleAddon(addonID string, selected bool) error {
	addon, err := t.addon(addonID)
	if err != nil {
		return err
	}
	if !selected && addon.Required {
		return fmt.Errorf("add-on %s is required: %w", addonID, ErrInvalidInput)
	}
	addon.Selected = selected
	t.emit(OriginUser, "toggle_addon", AddonKey(addonID))
	return nil
}

// SetAddonQuantity changes a parameter quantity of a plain add-on.
func (t *Tree) SetAddonQuantity(addonID, param string, qty int) error {
	addon, err := t.addon(addonID)
	if err != nil {
		return err
	}
	if addon.ProductGroup {
		return fmt.Errorf("product group %s carries no parameters: %w", addonID, ErrInvalidInput)
	}
	if err := setQuantity(addon.Params, addon.Specs, param, qty); err != nil {
		return err
	}
	t.emit(OriginUser, "set_addon_quantity", AddonKey(addonID))
	return nil
}

// SetAddonDay picks the day an inherit_parent add-on is consumed on.
func (t *Tree) SetAddonDay(addonID string, day time.Time) error {
	addon, err := t.addon(addonID)
	if err != nil {
		return err
	}
	if addon.Policy != PolicyInheritParent {
		return fmt.Errorf("add-on %s does not inherit the stay dates: %w", addonID, ErrInvalidInput)
	}
	day = Day(day)
	if day.IsZero() {
		return fmt.Errorf("day is required: %w", ErrInvalidInput)
	}
	if t.item.Dates.Valid() && !t.item.Dates.Contains(day) {
		return fmt.Errorf("day %s outside stay %s: %w", day.Format(dateLayout), t.item.Dates, ErrInvalidInput)
	}
	addon.Day = day
	t.emit(OriginUser, "set_addon_day", AddonKey(addonID))
	return nil
}

// SetAddonRange narrows a custom add-on window or sets a free add-on range.
func (t *Tree) SetAddonRange(addonID string, r DateRange) error {
	addon, err := t.addon(addonID)
	if err != nil {
		return err
	}
	r = r.Normalize()
	if !r.Valid() {
		return fmt.Errorf("range end must be after start: %w", ErrInvalidInput)
	}
	switch addon.Policy {
	case PolicyCustom:
		if !r.Within(addon.Window) {
			return fmt.Errorf("range %s exceeds window %s: %w", r, addon.Window, ErrInvalidInput)
		}
	case PolicyFree:
	default:
		return fmt.Errorf("add-on %s has a fixed day policy: %w", addonID, ErrInvalidInput)
	}
	addon.Range = r
	t.emit(OriginUser, "set_addon_range", AddonKey(addonID))
	return nil
}

// SelectChild chooses the child of a product-group add-on, replacing any
// previous choice, and selects the parent.
func (t *Tree) SelectChild(parentID string, child ChildSelection) error {
	parent, err := t.addon(parentID)
	if err != nil {
		return err
	}
	if !parent.ProductGroup {
		return fmt.Errorf("%s: %w", parentID, ErrNotProductGroup)
	}
	child.ItemID = strings.TrimSpace(child.ItemID)
	if child.ItemID == "" {
		return fmt.Errorf("child item id is required: %w", ErrInvalidInput)
	}
	params := map[string]int{}
	for param, qty := range child.Params {
		if err := setQuantity(params, child.Specs, param, qty); err != nil {
			return err
		}
	}
	next := child.clone()
	next.Params = params
	next.Priced = Priced{Status: StatusPending}
	keys := []NodeKey{AddonKey(parentID), ChildKey(parentID, next.ItemID)}
	if parent.Child != nil {
		keys = append(keys, ChildKey(parentID, parent.Child.ItemID))
	}
	parent.Child = next
	parent.Selected = true
	t.emit(OriginUser, "select_child", keys...)
	return nil
}

// ClearChild removes the child chosen under a product-group add-on.
func (t *Tree) ClearChild(parentID string) error {
	parent, err := t.addon(parentID)
	if err != nil {
		return err
	}
	if !parent.ProductGroup {
		return fmt.Errorf("%s: %w", parentID, ErrNotProductGroup)
	}
	if parent.Child == nil {
		return nil
	}
	key := ChildKey(parentID, parent.Child.ItemID)
	parent.Child = nil
	t.emit(OriginUser, "clear_child", AddonKey(parentID), key)
	return nil
}

// SetChildQuantity changes a parameter quantity of the chosen child.
func (t *Tree) SetChildQuantity(parentID, param string, qty int) error {
	parent, err := t.addon(parentID)
	if err != nil {
		return err
	}
	if parent.Child == nil {
		return fmt.Errorf("%s: %w", parentID, ErrNoChild)
	}
	child := parent.Child
	if err := setQuantity(child.Params, child.Specs, param, qty); err != nil {
		return err
	}
	t.emit(OriginUser, "set_child_quantity", ChildKey(parentID, child.ItemID))
	return nil
}

// AttachVoucher stores a validated voucher on the scoped node.
func (t *Tree) AttachVoucher(scope Scope, v Voucher) error {
	if strings.TrimSpace(v.Code) == "" {
		return fmt.Errorf("voucher code is required: %w", ErrInvalidInput)
	}
	if v.Amount < 0 {
		v.Amount = 0
	}
	slot, key, err := t.voucherSlot(scope)
	if err != nil {
		return err
	}
	*slot = &v
	t.emit(OriginUser, "attach_voucher", key)
	return nil
}

// DetachVoucher removes the voucher of the scoped node.
func (t *Tree) DetachVoucher(scope Scope) error {
	slot, key, err := t.voucherSlot(scope)
	if err != nil {
		return err
	}
	*slot = nil
	t.emit(OriginUser, "detach_voucher", key)
	return nil
}

// VoucherAt returns the voucher attached at scope, if any.
func (t *Tree) VoucherAt(scope Scope) (*Voucher, error) {
	slot, _, err := t.voucherSlot(scope)
	if err != nil {
		return nil, err
	}
	return (*slot).clone(), nil
}

// SetMenu replaces the menu selection.
func (t *Tree) SetMenu(lines []MenuLine) error {
	for _, line := range lines {
		if strings.TrimSpace(line.ItemID) == "" || line.Qty < 0 || line.UnitPrice < 0 {
			return fmt.Errorf("menu line %q: %w", line.ItemID, ErrInvalidInput)
		}
	}
	t.item.Menu = append([]MenuLine(nil), lines...)
	t.emit(OriginUser, "set_menu")
	return nil
}

// WritePrices replaces the engine-owned price fields of every node with the
// provided sheet. Selected nodes absent from the sheet are reset. The change
// is always reported with OriginEngine.
func (t *Tree) WritePrices(sheet map[NodeKey]Priced) {
	item := t.item
	item.Priced = sheetEntry(sheet, AccommodationKey)
	keys := []NodeKey{AccommodationKey}
	for id, addon := range item.Addons {
		if addon == nil {
			continue
		}
		key := AddonKey(id)
		if !addon.Selected {
			addon.Priced = Priced{Status: StatusPending}
			if addon.Child != nil {
				addon.Child.Priced = Priced{Status: StatusPending}
			}
			continue
		}
		addon.Priced = sheetEntry(sheet, key)
		keys = append(keys, key)
		if addon.Child != nil {
			childKey := ChildKey(id, addon.Child.ItemID)
			addon.Child.Priced = sheetEntry(sheet, childKey)
			keys = append(keys, childKey)
		}
	}
	t.emit(OriginEngine, "write_prices", keys...)
}

func sheetEntry(sheet map[NodeKey]Priced, key NodeKey) Priced {
	entry, ok := sheet[key]
	if !ok {
		return Priced{Status: StatusPending}
	}
	return entry.clone()
}

func (t *Tree) addon(addonID string) (*AddonSelection, error) {
	addon, ok := t.item.Addons[addonID]
	if !ok || addon == nil {
		return nil, fmt.Errorf("%s: %w", addonID, ErrUnknownAddon)
	}
	return addon, nil
}

func (t *Tree) voucherSlot(scope Scope) (**Voucher, NodeKey, error) {
	switch scope.Kind {
	case ScopeAccommodation:
		return &t.item.Voucher, AccommodationKey, nil
	case ScopeMenu:
		return &t.item.MenuVoucher, "", nil
	case ScopeAddon:
		addon, err := t.addon(scope.AddonID)
		if err != nil {
			return nil, "", err
		}
		return &addon.Voucher, AddonKey(scope.AddonID), nil
	case ScopeChild:
		addon, err := t.addon(scope.AddonID)
		if err != nil {
			return nil, "", err
		}
		if addon.Child == nil {
			return nil, "", fmt.Errorf("%s: %w", scope.AddonID, ErrNoChild)
		}
		return &addon.Child.Voucher, ChildKey(scope.AddonID, addon.Child.ItemID), nil
	default:
		return nil, "", fmt.Errorf("%s: %w", scope, ErrInvalidScope)
	}
}

func (t *Tree) emit(origin Origin, op string, keys ...NodeKey) {
	if t.observer == nil {
		return
	}
	t.observer(Change{Origin: origin, Op: op, Keys: keys})
}

func setQuantity(params map[string]int, specs map[string]ParamSpec, param string, qty int) error {
	param = strings.TrimSpace(param)
	if param == "" {
		return fmt.Errorf("parameter is required: %w", ErrInvalidInput)
	}
	if err := checkQuantity(specs, param, qty); err != nil {
		return err
	}
	if qty == 0 {
		delete(params, param)
		return nil
	}
	params[param] = qty
	return nil
}

func checkQuantity(specs map[string]ParamSpec, param string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("%s quantity %d is negative: %w", param, qty, ErrInvalidInput)
	}
	spec, ok := specs[param]
	if !ok {
		return nil
	}
	if qty < spec.Min {
		return fmt.Errorf("%s quantity %d below minimum %d: %w", param, qty, spec.Min, ErrInvalidInput)
	}
	if spec.Max > 0 && qty > spec.Max {
		return fmt.Errorf("%s quantity %d above maximum %d: %w", param, qty, spec.Max, ErrInvalidInput)
	}
	return nil
}

func resetStatus(item *CartItem) {
	item.Priced = Priced{Status: StatusPending}
	for _, addon := range item.Addons {
		addon.Priced = Priced{Status: StatusPending}
		if addon.Child != nil {
			addon.Child.Priced = Priced{Status: StatusPending}
		}
	}
}
