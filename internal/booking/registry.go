// Package booking exposes editing sessions over HTTP.
package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-booking/internal/autosave"
	"github.com/noah-isme/backend-booking/internal/engine"
	"github.com/noah-isme/backend-booking/internal/obs"
	"github.com/noah-isme/backend-booking/internal/oracle"
	"github.com/noah-isme/backend-booking/internal/selection"
	"github.com/noah-isme/backend-booking/internal/voucher"
)

var (
	// ErrNotFound is returned for unknown or expired bookings.
	ErrNotFound = errors.New("booking: not found")
	// ErrCapacity is returned when the registry holds MaxSessions bookings.
	ErrCapacity = errors.New("booking: too many open sessions")
)

// DefaultIdleTTL is how long an untouched booking stays open.
const DefaultIdleTTL = 30 * time.Minute

// Config wires the collaborators shared by every session.
type Config struct {
	Oracle        oracle.Client
	Vouchers      *voucher.Service
	Store         autosave.Store
	Delay         time.Duration
	CallTimeout   time.Duration
	AutosaveDelay time.Duration
	IdleTTL       time.Duration
	MaxSessions   int
	Metrics       *engine.Metrics
	Logger        zerolog.Logger
}

// Booking is one open editing session and its autosave.
type Booking struct {
	ID      string
	Session *engine.Session
	Saver   *autosave.Saver

	lastUsed time.Time
}

func (b *Booking) close() {
	if b.Saver != nil {
		b.Saver.Close()
	}
	b.Session.Close()
}

// Registry owns the open bookings of this process.
type Registry struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	bookings map[string]*Booking
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	return &Registry{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "booking_registry").Logger(),
		now:      time.Now,
		bookings: map[string]*Booking{},
	}
}

// Create validates item and opens a session pricing it.
func (r *Registry) Create(item *selection.CartItem) (*Booking, error) {
	tree, err := selection.NewTree(item)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.cfg.MaxSessions > 0 && len(r.bookings) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return nil, ErrCapacity
	}
	id := uuid.NewString()
	session := engine.New(tree, r.cfg.Oracle, engine.Options{
		ID:          id,
		Delay:       r.cfg.Delay,
		CallTimeout: r.cfg.CallTimeout,
		Vouchers:    r.cfg.Vouchers,
		Logger:      r.cfg.Logger,
		Metrics:     r.cfg.Metrics,
	})
	b := &Booking{ID: id, Session: session, lastUsed: r.now()}
	if r.cfg.Store != nil {
		b.Saver = autosave.NewSaver(r.cfg.Store, session, autosave.Options{
			Delay:  r.cfg.AutosaveDelay,
			Logger: r.cfg.Logger.With().Str("booking_id", id).Logger(),
		})
		session.Subscribe(b.Saver)
	}
	r.bookings[id] = b
	r.mu.Unlock()

	obs.CountBookingSession("created")
	r.logger.Info().Str("booking_id", id).Str("unit_id", item.UnitID).Msg("booking_session_created")
	return b, nil
}

// Get returns the booking and refreshes its idle timer.
func (r *Registry) Get(id string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	b.lastUsed = r.now()
	return b, nil
}

// Delete closes and forgets the booking.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	b, ok := r.bookings[id]
	delete(r.bookings, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	b.close()
	obs.CountBookingSession("deleted")
	return nil
}

// IDs lists open bookings in lexical order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.bookings))
	for id := range r.bookings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len reports the number of open bookings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bookings)
}

// Sweep closes bookings idle for longer than the configured TTL and
// returns how many were closed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.cfg.IdleTTL)
	var expired []*Booking
	r.mu.Lock()
	for id, b := range r.bookings {
		if b.lastUsed.Before(cutoff) {
			expired = append(expired, b)
			delete(r.bookings, id)
		}
	}
	r.mu.Unlock()
	for _, b := range expired {
		if b.Saver != nil {
			ctx, cancel := context.WithTimeout(context.Background(), autosave.DefaultTimeout)
			if err := b.Saver.Flush(ctx); err != nil && !autosave.IsUnsettled(err) {
				r.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("booking_final_save_failed")
			}
			cancel()
		}
		b.close()
		obs.CountBookingSession("expired")
	}
	return len(expired)
}

// Run sweeps idle bookings every interval until ctx is done, then closes
// whatever is left.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info().Int("expired", n).Msg("booking_sessions_expired")
			}
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	all := r.bookings
	r.bookings = map[string]*Booking{}
	r.mu.Unlock()
	for _, b := range all {
		b.close()
	}
}
