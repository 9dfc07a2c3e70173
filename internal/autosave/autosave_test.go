package autosave_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-booking/internal/autosave"
	"github.com/noah-isme/backend-booking/internal/engine"
	"github.com/noah-isme/backend-booking/internal/lock"
	"github.com/noah-isme/backend-booking/internal/pricing"
	"github.com/noah-isme/backend-booking/internal/selection"
	"github.com/noah-isme/backend-booking/internal/totals"
)

func snapshot(id string, total pricing.Money, at time.Time) engine.Snapshot {
	return engine.Snapshot{
		SessionID: id,
		Item: &selection.CartItem{
			UnitID: "villa-1",
			Params: map[string]int{"adult": 2},
			Priced: selection.Priced{Total: total, Status: selection.StatusPriced},
		},
		Breakdown: totals.Breakdown{
			Accommodation: pricing.NewComponent(total, 0),
			GrandTotal:    total,
		},
		At: at,
	}
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

type gate struct {
	loading atomic.Bool
	dirty   atomic.Bool
}

func (g *gate) Loading() bool { return g.loading.Load() }
func (g *gate) Dirty() bool   { return g.dirty.Load() }

type memStore struct {
	mu    sync.Mutex
	saves []autosave.Record
	err   error
}

func (m *memStore) Save(_ context.Context, rec autosave.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves = append(m.saves, rec)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}

func TestSaverDebouncesToLatestSnapshot(t *testing.T) {
	store := &memStore{}
	saver := autosave.NewSaver(store, &gate{}, autosave.Options{Delay: 10 * time.Millisecond, Logger: zerolog.Nop()})
	t.Cleanup(saver.Close)

	now := time.Now()
	saver.Settled(snapshot("bk-1", 400_000, now))
	saver.Settled(snapshot("bk-1", 550_000, now.Add(time.Millisecond)))

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, pricing.Money(550_000), store.saves[0].Breakdown.GrandTotal)
	require.Equal(t, autosave.StatusSaved, saver.State().Status)
}

func TestSaverRefusesWhileUnsettled(t *testing.T) {
	store := &memStore{}
	g := &gate{}
	g.loading.Store(true)
	saver := autosave.NewSaver(store, g, autosave.Options{Delay: time.Hour, Logger: zerolog.Nop()})
	t.Cleanup(saver.Close)

	saver.Settled(snapshot("bk-1", 400_000, time.Now()))
	err := saver.Flush(context.Background())
	require.True(t, autosave.IsUnsettled(err))
	require.Zero(t, store.count())
	require.Equal(t, autosave.StatusIdle, saver.State().Status)

	g.loading.Store(false)
	g.dirty.Store(true)
	require.ErrorIs(t, saver.Flush(context.Background()), autosave.ErrUnsettled)

	g.dirty.Store(false)
	require.NoError(t, saver.Flush(context.Background()))
	require.Equal(t, 1, store.count())

	require.NoError(t, saver.Flush(context.Background()), "nothing new to save")
	require.Equal(t, 1, store.count())
}

func TestSaverReportsStoreErrors(t *testing.T) {
	store := &memStore{err: errors.New("disk full")}
	saver := autosave.NewSaver(store, nil, autosave.Options{Delay: time.Hour, Logger: zerolog.Nop()})
	t.Cleanup(saver.Close)

	saver.Settled(snapshot("bk-1", 1, time.Now()))
	require.Error(t, saver.Flush(context.Background()))
	state := saver.State()
	require.Equal(t, autosave.StatusError, state.Status)
	require.Equal(t, "disk full", state.Error)

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	require.NoError(t, saver.Flush(context.Background()), "failed snapshot is retried")
	require.Equal(t, autosave.StatusSaved, saver.State().Status)
}

func TestRedisStoreKeepsNewest(t *testing.T) {
	client, _ := newRedis(t)
	store := autosave.RedisStore{R: client, TTL: time.Hour}
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.Load(ctx, "bk-1")
	require.ErrorIs(t, err, autosave.ErrNotFound)

	require.NoError(t, store.Save(ctx, autosave.NewRecord(snapshot("bk-1", 550_000, now))))
	require.NoError(t, store.Save(ctx, autosave.NewRecord(snapshot("bk-1", 400_000, now.Add(-time.Minute)))))

	rec, err := store.Load(ctx, "bk-1")
	require.NoError(t, err)
	require.Equal(t, pricing.Money(550_000), rec.Breakdown.GrandTotal)
	require.Equal(t, "villa-1", rec.Item.UnitID)
	require.Equal(t, 2, rec.Item.Params["adult"])
}

func TestLockedStoreHoldsBookingLock(t *testing.T) {
	client, mr := newRedis(t)
	locker := lock.Locker{R: client, RetryBackoff: time.Millisecond}
	var held bool
	inner := storeFunc(func(ctx context.Context, rec autosave.Record) error {
		held = mr.Exists(locker.Key(rec.BookingID))
		return nil
	})
	store := autosave.LockedStore{Store: inner, Locker: locker, TTL: time.Second}
	require.NoError(t, store.Save(context.Background(), autosave.NewRecord(snapshot("bk-9", 1, time.Now()))))
	require.True(t, held)
	require.False(t, mr.Exists(locker.Key("bk-9")))
}

type storeFunc func(context.Context, autosave.Record) error

func (f storeFunc) Save(ctx context.Context, rec autosave.Record) error { return f(ctx, rec) }

type fakeDB struct {
	sql  string
	args []any
	row  fakeRow
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql, f.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.sql, f.args = sql, args
	return f.row
}

type fakeRow struct {
	item, breakdown []byte
	savedAt         time.Time
	err             error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*[]byte) = r.item
	*dest[1].(*[]byte) = r.breakdown
	*dest[2].(*time.Time) = r.savedAt
	return nil
}

func TestPostgresStoreUpsertAndLoad(t *testing.T) {
	db := &fakeDB{}
	store := autosave.NewPostgresStore(db)
	now := time.Now().UTC()
	rec := autosave.NewRecord(snapshot("bk-1", 550_000, now))

	require.NoError(t, store.Save(context.Background(), rec))
	require.Contains(t, db.sql, "ON CONFLICT (booking_id)")
	require.Equal(t, "bk-1", db.args[0])
	require.Equal(t, pricing.Money(550_000), db.args[3])

	item, _ := json.Marshal(rec.Item)
	breakdown, _ := json.Marshal(rec.Breakdown)
	db.row = fakeRow{item: item, breakdown: breakdown, savedAt: now}
	loaded, err := store.Load(context.Background(), "bk-1")
	require.NoError(t, err)
	require.Equal(t, rec.Breakdown, loaded.Breakdown)
	require.Equal(t, "villa-1", loaded.Item.UnitID)

	db.row = fakeRow{err: pgx.ErrNoRows}
	_, err = store.Load(context.Background(), "bk-2")
	require.ErrorIs(t, err, autosave.ErrNotFound)

	var empty *autosave.PostgresStore
	require.ErrorIs(t, empty.Save(context.Background(), rec), autosave.ErrStoreUnavailable)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestQueueStoreRoundTripsThroughTaskHandler(t *testing.T) {
	enq := &fakeEnqueuer{}
	queue := autosave.QueueStore{Client: enq, MaxRetry: 3}
	rec := autosave.NewRecord(snapshot("bk-1", 550_000, time.Now()))
	require.NoError(t, queue.Save(context.Background(), rec))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, autosave.TaskType, enq.tasks[0].Type())

	store := &memStore{}
	handler := autosave.TaskHandler{Store: store, Logger: zerolog.Nop()}
	require.NoError(t, handler.ProcessTask(context.Background(), enq.tasks[0]))
	require.Equal(t, 1, store.count())
	require.Equal(t, "bk-1", store.saves[0].BookingID)
}

func TestTaskHandlerSkipsRetryOnBadPayload(t *testing.T) {
	handler := autosave.TaskHandler{Store: &memStore{}, Logger: zerolog.Nop()}
	err := handler.ProcessTask(context.Background(), asynq.NewTask(autosave.TaskType, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = handler.ProcessTask(context.Background(), asynq.NewTask(autosave.TaskType, []byte(`{"bookingId":""}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
