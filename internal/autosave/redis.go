package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "booking:snapshot:"

// RedisStore keeps the latest snapshot of each booking as a JSON string.
// Check-then-set is not atomic; wrap it in LockedStore when several
// processes save the same booking.
type RedisStore struct {
	R   *redis.Client
	TTL time.Duration
}

// Name implements Named.
func (RedisStore) Name() string { return "redis" }

// Save implements Store.
func (s RedisStore) Save(ctx context.Context, rec Record) error {
	if s.R == nil {
		return ErrStoreUnavailable
	}
	current, err := s.Load(ctx, rec.BookingID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return err
	case current.SavedAt.After(rec.SavedAt):
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.R.Set(ctx, redisPrefix+rec.BookingID, raw, s.TTL).Err()
}

// Load implements Loader.
func (s RedisStore) Load(ctx context.Context, bookingID string) (Record, error) {
	if s.R == nil {
		return Record{}, ErrStoreUnavailable
	}
	raw, err := s.R.Get(ctx, redisPrefix+bookingID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
