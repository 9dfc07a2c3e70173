package autosave

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const upsertSnapshot = `INSERT INTO booking_snapshots (booking_id, item, breakdown, grand_total, saved_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (booking_id) DO UPDATE
SET item = EXCLUDED.item, breakdown = EXCLUDED.breakdown, grand_total = EXCLUDED.grand_total, saved_at = EXCLUDED.saved_at
WHERE booking_snapshots.saved_at <= EXCLUDED.saved_at`

const selectSnapshot = `SELECT item, breakdown, saved_at FROM booking_snapshots WHERE booking_id = $1`

// PostgresStore upserts snapshots into booking_snapshots. Older snapshots
// never overwrite newer ones.
type PostgresStore struct {
	db DB
}

// NewPostgresStore constructs a store backed by a pgx pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Name implements Named.
func (*PostgresStore) Name() string { return "postgres" }

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	item, err := json.Marshal(rec.Item)
	if err != nil {
		return err
	}
	breakdown, err := json.Marshal(rec.Breakdown)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, upsertSnapshot, rec.BookingID, item, breakdown, rec.Breakdown.GrandTotal, rec.SavedAt)
	return err
}

// Load implements Loader.
func (s *PostgresStore) Load(ctx context.Context, bookingID string) (Record, error) {
	if s == nil || s.db == nil {
		return Record{}, ErrStoreUnavailable
	}
	rec := Record{BookingID: bookingID}
	var item, breakdown []byte
	err := s.db.QueryRow(ctx, selectSnapshot, bookingID).Scan(&item, &breakdown, &rec.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(item, &rec.Item); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(breakdown, &rec.Breakdown); err != nil {
		return Record{}, err
	}
	return rec, nil
}
