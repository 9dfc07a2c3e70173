// Package engine keeps the prices of one booking selection in sync with the
// pricing oracle. A Session owns its selection tree, fingerprint tracker,
// pricing cache and debounced trigger; nothing is shared between sessions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-booking/internal/fingerprint"
	"github.com/noah-isme/backend-booking/internal/oracle"
	"github.com/noah-isme/backend-booking/internal/pricing"
	"github.com/noah-isme/backend-booking/internal/selection"
	"github.com/noah-isme/backend-booking/internal/totals"
	"github.com/noah-isme/backend-booking/internal/trigger"
	"github.com/noah-isme/backend-booking/internal/voucher"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("engine: session closed")
	// ErrDiverged is returned by Verify when the tree disagrees with the cache.
	ErrDiverged = errors.New("engine: tree diverged from pricing cache")
	// ErrVouchersDisabled is returned when no voucher service is configured.
	ErrVouchersDisabled = errors.New("engine: voucher service not configured")
)

// DefaultCallTimeout bounds a single oracle call.
const DefaultCallTimeout = 5 * time.Second

// Snapshot is the settled state handed to listeners.
type Snapshot struct {
	SessionID string
	Item      *selection.CartItem
	Breakdown totals.Breakdown
	At        time.Time
}

// Listener is notified every time the session settles after a change.
type Listener interface {
	Settled(Snapshot)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Snapshot)

// Settled implements Listener.
func (f ListenerFunc) Settled(s Snapshot) { f(s) }

// Options configures a Session.
type Options struct {
	ID          string
	Delay       time.Duration
	CallTimeout time.Duration
	Vouchers    *voucher.Service
	Logger      zerolog.Logger
	Metrics     *Metrics
	Listeners   []Listener
}

// Session is one editing session.
type Session struct {
	id      string
	oracle  oracle.Client
	timeout time.Duration
	logger  zerolog.Logger
	metrics *Metrics

	vouchers  *voucher.Service
	listeners []Listener

	ctx       context.Context
	cancel    context.CancelFunc
	debouncer *trigger.Debouncer

	mu       sync.Mutex
	tree     *selection.Tree
	tracker  *fingerprint.Tracker
	cache    *Cache
	pending  map[selection.NodeKey]fingerprint.Change
	inflight map[selection.NodeKey]string
	changed  chan struct{}
	closed   bool
}

// New starts a session over tree. Every selected node is considered dirty
// at start, so the first cycle prices the whole selection.
func New(tree *selection.Tree, client oracle.Client, opts Options) *Session {
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	logger := opts.Logger.With().Str("component", "pricing_engine").Logger()
	if opts.ID != "" {
		logger = logger.With().Str("session_id", opts.ID).Logger()
	}
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	s := &Session{
		id:        opts.ID,
		oracle:    client,
		timeout:   timeout,
		logger:    logger,
		metrics:   opts.Metrics,
		vouchers:  opts.Vouchers,
		listeners: append([]Listener(nil), opts.Listeners...),
		ctx:       ctx,
		cancel:    cancel,
		tree:      tree,
		tracker:   fingerprint.NewTracker(),
		cache:     NewCache(),
		pending:   map[selection.NodeKey]fingerprint.Change{},
		inflight:  map[selection.NodeKey]string{},
		changed:   make(chan struct{}),
	}
	s.debouncer = trigger.New(opts.Delay, func() { s.runCycle(s.ctx) })
	s.metrics.sessions(1)

	s.mu.Lock()
	tree.Observe(s.observe)
	s.markDirtyLocked()
	s.mu.Unlock()
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Subscribe adds a listener.
func (s *Session) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// observe is the tree observer. Engine writes never mark anything dirty;
// this is what keeps a price write from scheduling another fetch.
func (s *Session) observe(c selection.Change) {
	if c.Origin == selection.OriginEngine {
		return
	}
	s.markDirtyLocked()
}

// markDirtyLocked diffs the current inputs against the stored fingerprints.
// Removed nodes are purged, nodes lacking input resolve at once and the rest
// are marked loading and queued for the next cycle.
func (s *Session) markDirtyLocked() {
	dirty, removed := s.tracker.Diff(s.tree.PriceInputs())
	for _, key := range removed {
		s.cache.Purge(key)
		delete(s.pending, key)
	}
	queued := 0
	for _, change := range dirty {
		key := change.Input.Key
		if !change.Input.Ready {
			delete(s.pending, key)
			s.cache.Resolve(key, change.Fingerprint, nil, selection.StatusMissingInput, nil)
			continue
		}
		if fp, busy := s.inflight[key]; busy && fp == change.Fingerprint {
			// the call in flight already answers these inputs; a node
			// reselected meanwhile was purged and must show as loading again
			delete(s.pending, key)
			s.cache.MarkLoading(key)
			continue
		}
		if entry, ok := s.cache.Get(key); ok && entry.Fingerprint == change.Fingerprint {
			if _, busy := s.inflight[key]; !busy {
				delete(s.pending, key)
				s.cache.Unmark(key)
				continue
			}
		}
		s.pending[key] = change
		s.cache.MarkLoading(key)
		queued++
	}
	if queued > 0 {
		s.debouncer.Kick()
	}
	if len(dirty) > 0 || len(removed) > 0 {
		s.logger.Debug().Int("dirty", len(dirty)).Int("queued", queued).Int("removed", len(removed)).Msg("pricing_marked_dirty")
	}
	s.syncBackLocked()
	s.notifyLocked()
}

func (s *Session) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) idleLocked() bool {
	return len(s.pending) == 0 && len(s.inflight) == 0 && !s.cache.AnyLoading()
}

// snapshotLocked returns the state for listeners when the session is settled.
func (s *Session) snapshotLocked() *Snapshot {
	if len(s.listeners) == 0 || !s.idleLocked() {
		return nil
	}
	breakdown, err := totals.Compute(s.tree.Item())
	if err != nil {
		s.logger.Error().Err(err).Msg("pricing_settled_without_totals")
		return nil
	}
	return &Snapshot{SessionID: s.id, Item: s.tree.Clone(), Breakdown: breakdown, At: time.Now()}
}

func (s *Session) publish(snap *Snapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l.Settled(*snap)
	}
}

func (s *Session) edit(fn func(*selection.Tree) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := fn(s.tree); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
	return nil
}

// SetDates replaces the accommodation stay.
func (s *Session) SetDates(r selection.DateRange) error {
	return s.edit(func(t *selection.Tree) error { return t.SetDates(r) })
}

// ClearDates removes the accommodation stay.
func (s *Session) ClearDates() error {
	return s.edit(func(t *selection.Tree) error {
		t.ClearDates()
		return nil
	})
}

// SetQuantity changes an accommodation parameter.
func (s *Session) SetQuantity(param string, qty int) error {
	return s.edit(func(t *selection.Tree) error { return t.SetQuantity(param, qty) })
}

// ToggleAddon selects or deselects an add-on.
func (s *Session) ToggleAddon(addonID string, selected bool) error {
	return s.edit(func(t *selection.Tree) error { return t.ToggleAddon(addonID, selected) })
}

// SetAddonQuantity changes an add-on parameter.
func (s *Session) SetAddonQuantity(addonID, param string, qty int) error {
	return s.edit(func(t *selection.Tree) error { return t.SetAddonQuantity(addonID, param, qty) })
}

// SetAddonDay picks the day of an inherit_parent add-on.
func (s *Session) SetAddonDay(addonID string, day time.Time) error {
	return s.edit(func(t *selection.Tree) error { return t.SetAddonDay(addonID, day) })
}

// SetAddonRange sets the range of a custom or free add-on.
func (s *Session) SetAddonRange(addonID string, r selection.DateRange) error {
	return s.edit(func(t *selection.Tree) error { return t.SetAddonRange(addonID, r) })
}

// SelectChild chooses the child of a product-group add-on.
func (s *Session) SelectChild(parentID string, child selection.ChildSelection) error {
	return s.edit(func(t *selection.Tree) error { return t.SelectChild(parentID, child) })
}

// ClearChild removes the child of a product-group add-on.
func (s *Session) ClearChild(parentID string) error {
	return s.edit(func(t *selection.Tree) error { return t.ClearChild(parentID) })
}

// SetChildQuantity changes a parameter of the chosen child.
func (s *Session) SetChildQuantity(parentID, param string, qty int) error {
	return s.edit(func(t *selection.Tree) error { return t.SetChildQuantity(parentID, param, qty) })
}

// SetMenu replaces the menu lines.
func (s *Session) SetMenu(lines []selection.MenuLine) error {
	return s.edit(func(t *selection.Tree) error { return t.SetMenu(lines) })
}

// ApplyVoucher validates code against the current subtotal at scope and
// attaches the resolved voucher. Rejections are returned as is and leave
// pricing untouched. While the target node is being repriced it fails with
// totals.ErrUnsettled.
func (s *Session) ApplyVoucher(ctx context.Context, scope selection.Scope, code string) (selection.Voucher, error) {
	if s.vouchers == nil {
		return selection.Voucher{}, ErrVouchersDisabled
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return selection.Voucher{}, ErrClosed
	}
	req, err := s.voucherRequestLocked(scope, code)
	s.mu.Unlock()
	if err != nil {
		return selection.Voucher{}, err
	}

	v, err := s.vouchers.Apply(ctx, req)
	if err != nil {
		return selection.Voucher{}, err
	}
	if err := s.edit(func(t *selection.Tree) error { return t.AttachVoucher(scope, v) }); err != nil {
		return selection.Voucher{}, err
	}
	return v, nil
}

// RemoveVoucher detaches the voucher at scope.
func (s *Session) RemoveVoucher(scope selection.Scope) error {
	return s.edit(func(t *selection.Tree) error { return t.DetachVoucher(scope) })
}

func (s *Session) voucherRequestLocked(scope selection.Scope, code string) (voucher.Request, error) {
	item := s.tree.Item()
	req := voucher.Request{Code: code, ZoneID: item.ZoneID, Scope: scope}
	switch scope.Kind {
	case selection.ScopeAccommodation:
		if s.refreshingLocked(selection.AccommodationKey) {
			return voucher.Request{}, fmt.Errorf("%s: %w", selection.AccommodationKey, totals.ErrUnsettled)
		}
		req.UnitID = item.UnitID
		req.Subtotal = item.Total
	case selection.ScopeMenu:
		req.UnitID = item.UnitID
		for _, line := range item.Menu {
			req.Subtotal += pricing.Contribution(line.UnitPrice, pricing.PerUnit, line.Qty)
		}
	case selection.ScopeAddon:
		addon, ok := item.Addons[scope.AddonID]
		if !ok || addon == nil {
			return voucher.Request{}, fmt.Errorf("%s: %w", scope.AddonID, selection.ErrUnknownAddon)
		}
		key := selection.AddonKey(scope.AddonID)
		if addon.ProductGroup && addon.Child != nil {
			key = selection.ChildKey(scope.AddonID, addon.Child.ItemID)
		}
		if s.refreshingLocked(key) {
			return voucher.Request{}, fmt.Errorf("%s: %w", key, totals.ErrUnsettled)
		}
		req.UnitID = scope.AddonID
		req.Subtotal = addon.Total
	case selection.ScopeChild:
		addon, ok := item.Addons[scope.AddonID]
		if !ok || addon == nil {
			return voucher.Request{}, fmt.Errorf("%s: %w", scope.AddonID, selection.ErrUnknownAddon)
		}
		if addon.Child == nil {
			return voucher.Request{}, fmt.Errorf("%s: %w", scope.AddonID, selection.ErrNoChild)
		}
		if key := selection.ChildKey(scope.AddonID, addon.Child.ItemID); s.refreshingLocked(key) {
			return voucher.Request{}, fmt.Errorf("%s: %w", key, totals.ErrUnsettled)
		}
		req.UnitID = addon.Child.ItemID
		req.Subtotal = addon.Child.Total
	default:
		return voucher.Request{}, fmt.Errorf("%s: %w", scope, selection.ErrInvalidScope)
	}
	return req, nil
}

// refreshingLocked reports whether key is queued or being priced, in which
// case its written total is stale.
func (s *Session) refreshingLocked(key selection.NodeKey) bool {
	if _, ok := s.pending[key]; ok {
		return true
	}
	if _, ok := s.inflight[key]; ok {
		return true
	}
	entry, ok := s.cache.Get(key)
	return ok && entry.Loading
}

// View returns a deep copy of the selection.
func (s *Session) View() *selection.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Clone()
}

// CountedGuests returns the number of menu-eligible guests.
func (s *Session) CountedGuests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.CountedGuests()
}

// Loading reports whether any node is waiting for the oracle.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.AnyLoading()
}

// Dirty reports whether any node changed since its last fetch resolved.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0 || len(s.inflight) > 0
}

// Settled reports whether the tree is safe to total and persist.
func (s *Session) Settled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleLocked()
}

// Totals aggregates the selection. It fails with totals.ErrUnsettled while
// anything is dirty or loading.
func (s *Session) Totals() (totals.Breakdown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.idleLocked() {
		return totals.Breakdown{}, fmt.Errorf("session %s: %w", s.id, totals.ErrUnsettled)
	}
	return totals.Compute(s.tree.Item())
}

// Flush runs the pending cycle now instead of waiting for the quiet period.
func (s *Session) Flush(ctx context.Context) {
	s.debouncer.Flush()
	s.runCycle(ctx)
}

// Wait blocks until the session settles or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		if s.idleLocked() {
			s.mu.Unlock()
			return nil
		}
		ch := s.changed
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Close stops the trigger and abandons any in-flight results.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.notifyLocked()
	s.mu.Unlock()
	s.debouncer.Stop()
	s.cancel()
	s.metrics.sessions(-1)
}
