// Package autosave persists settled booking snapshots.
package autosave

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/backend-booking/internal/engine"
	"github.com/noah-isme/backend-booking/internal/lock"
	"github.com/noah-isme/backend-booking/internal/selection"
	"github.com/noah-isme/backend-booking/internal/totals"
)

var (
	// ErrStoreUnavailable indicates the backing store is not configured.
	ErrStoreUnavailable = errors.New("autosave: store unavailable")
	// ErrNotFound is returned when no snapshot exists for a booking.
	ErrNotFound = errors.New("autosave: snapshot not found")
	// ErrUnsettled is returned when a save is attempted while the session is
	// still loading or has unresolved edits.
	ErrUnsettled = errors.New("autosave: session not settled")
)

// Record is the persisted form of a settled booking.
type Record struct {
	BookingID string              `json:"bookingId"`
	Item      *selection.CartItem `json:"item"`
	Breakdown totals.Breakdown    `json:"breakdown"`
	SavedAt   time.Time           `json:"savedAt"`
}

// NewRecord converts a settled session snapshot.
func NewRecord(snap engine.Snapshot) Record {
	return Record{
		BookingID: snap.SessionID,
		Item:      snap.Item,
		Breakdown: snap.Breakdown,
		SavedAt:   snap.At.UTC(),
	}
}

// Store persists records. Implementations keep the newest record per
// booking and ignore older ones.
type Store interface {
	Save(ctx context.Context, rec Record) error
}

// Loader reads back the latest record of a booking.
type Loader interface {
	Load(ctx context.Context, bookingID string) (Record, error)
}

// Named is implemented by stores that label their metrics.
type Named interface {
	Name() string
}

func storeName(s Store) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return "custom"
}

// LockedStore serialises saves of the same booking across processes.
type LockedStore struct {
	Store  Store
	Locker lock.Locker
	TTL    time.Duration
}

// Save implements Store.
func (l LockedStore) Save(ctx context.Context, rec Record) error {
	if l.Store == nil {
		return ErrStoreUnavailable
	}
	return l.Locker.WithBooking(ctx, rec.BookingID, l.TTL, func(ctx context.Context) error {
		return l.Store.Save(ctx, rec)
	})
}

// Name implements Named.
func (l LockedStore) Name() string { return storeName(l.Store) }
