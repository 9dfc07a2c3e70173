package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-booking/internal/engine"
	"github.com/noah-isme/backend-booking/internal/obs"
	"github.com/noah-isme/backend-booking/internal/trigger"
)

// Status is the user-visible autosave state.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "error"
)

// DefaultTimeout bounds a single save.
const DefaultTimeout = 5 * time.Second

// Gate reports whether the booking may be persisted. *engine.Session
// satisfies it.
type Gate interface {
	Loading() bool
	Dirty() bool
}

// State is a point-in-time view of the saver.
type State struct {
	Status  Status    `json:"status"`
	SavedAt time.Time `json:"savedAt,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Options configures a Saver.
type Options struct {
	Delay   time.Duration
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Saver persists the latest settled snapshot of a session after a quiet
// period. It never writes while the gate reports loading or dirty state;
// the session publishes again once it settles.
type Saver struct {
	store     Store
	gate      Gate
	timeout   time.Duration
	logger    zerolog.Logger
	debouncer *trigger.Debouncer

	run sync.Mutex

	mu      sync.Mutex
	latest  *engine.Snapshot
	status  Status
	savedAt time.Time
	lastErr error
}

// NewSaver constructs a saver writing to store.
func NewSaver(store Store, gate Gate, opts Options) *Saver {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Saver{
		store:   store,
		gate:    gate,
		timeout: timeout,
		logger:  opts.Logger.With().Str("component", "autosave").Logger(),
		status:  StatusIdle,
	}
	s.debouncer = trigger.New(opts.Delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_ = s.save(ctx)
	})
	return s
}

// Settled implements engine.Listener.
func (s *Saver) Settled(snap engine.Snapshot) {
	s.mu.Lock()
	s.latest = &snap
	s.mu.Unlock()
	s.debouncer.Kick()
}

// Flush saves the latest snapshot now.
func (s *Saver) Flush(ctx context.Context) error {
	s.debouncer.Flush()
	return s.save(ctx)
}

// State returns the current autosave state.
func (s *Saver) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := State{Status: s.status, SavedAt: s.savedAt}
	if s.lastErr != nil {
		out.Error = s.lastErr.Error()
	}
	return out
}

// Close drops any scheduled save.
func (s *Saver) Close() {
	s.debouncer.Stop()
}

func (s *Saver) save(ctx context.Context) error {
	s.run.Lock()
	defer s.run.Unlock()

	if s.gate != nil && (s.gate.Loading() || s.gate.Dirty()) {
		s.logger.Debug().Msg("autosave_deferred_unsettled")
		return ErrUnsettled
	}

	s.mu.Lock()
	snap := s.latest
	if snap == nil {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusSaving
	s.mu.Unlock()

	if s.store == nil {
		return s.finish(snap, ErrStoreUnavailable)
	}
	rec := NewRecord(*snap)
	start := time.Now()
	err := s.store.Save(ctx, rec)
	result := "ok"
	if err != nil {
		result = "error"
	}
	observeSave(storeName(s.store), result, time.Since(start))
	return s.finish(snap, err)
}

func (s *Saver) finish(snap *engine.Snapshot, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status = StatusError
		s.lastErr = err
		s.logger.Warn().Err(err).Str("booking_id", snap.SessionID).Msg("autosave_failed")
		return err
	}
	if s.latest == snap {
		s.latest = nil
	}
	s.status = StatusSaved
	s.savedAt = snap.At
	s.lastErr = nil
	s.logger.Debug().Str("booking_id", snap.SessionID).Int64("grand_total", snap.Breakdown.GrandTotal).Msg("autosave_saved")
	return nil
}

func observeSave(store, result string, elapsed time.Duration) {
	obs.ObserveAutosave(store, result, elapsed)
}

// IsUnsettled reports whether err means the save was deferred.
func IsUnsettled(err error) bool {
	return errors.Is(err, ErrUnsettled)
}
