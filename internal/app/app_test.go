package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/noah-isme/backend-booking/internal/autosave"
	"github.com/noah-isme/backend-booking/internal/config"
	"github.com/noah-isme/backend-booking/internal/oracle"
	"github.com/noah-isme/backend-booking/internal/resilience"
	"github.com/noah-isme/backend-booking/internal/selection"
	"github.com/noah-isme/backend-booking/internal/voucher"
)

func testDeps(t *testing.T) (*Dependencies, *config.Config) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := &config.Config{
		RedisURL:            "redis://" + mr.Addr() + "/0",
		AutosaveMode:        config.AutosaveRedis,
		AutosaveSnapshotTTL: time.Hour,
		LockTTL:             time.Second,
		QueueName:           "autosave",
		QueueMaxRetry:       3,
		OracleCacheTTL:      time.Minute,
		OracleTimeout:       time.Second,
		BreakerMinRequests:  5,
		BreakerFailRatio:    0.5,
		BreakerOpenFor:      time.Second,
	}
	deps, err := Open(context.Background(), cfg, "booking-test", false, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(deps.Close)
	return deps, cfg
}

func TestOpenConnectsRedisOnly(t *testing.T) {
	deps, _ := testDeps(t)
	require.NotNil(t, deps.Redis)
	require.NotNil(t, deps.LimiterStore)
	require.Nil(t, deps.DB)
	require.Nil(t, deps.TaskClient)
}

func TestOpenFailsOnUnreachableRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Open(ctx, &config.Config{RedisURL: "redis://127.0.0.1:1/0"}, "booking-test", false, zerolog.Nop())
	require.Error(t, err)
}

func TestNewAutosaveStoreModes(t *testing.T) {
	deps, cfg := testDeps(t)

	cfg.AutosaveMode = config.AutosaveOff
	store, err := NewAutosaveStore(cfg, deps)
	require.NoError(t, err)
	require.Nil(t, store)

	cfg.AutosaveMode = config.AutosaveRedis
	store, err = NewAutosaveStore(cfg, deps)
	require.NoError(t, err)
	locked, ok := store.(autosave.LockedStore)
	require.True(t, ok)
	require.Equal(t, "redis", locked.Name())

	cfg.AutosaveMode = config.AutosavePostgres
	_, err = NewAutosaveStore(cfg, deps)
	require.ErrorIs(t, err, autosave.ErrStoreUnavailable)

	cfg.AutosaveMode = config.AutosaveQueue
	_, err = NewAutosaveStore(cfg, deps)
	require.ErrorIs(t, err, autosave.ErrStoreUnavailable)

	opt, err := RedisConnOpt(cfg.RedisURL)
	require.NoError(t, err)
	deps.TaskClient = asynq.NewClient(opt)
	store, err = NewAutosaveStore(cfg, deps)
	require.NoError(t, err)
	queued, ok := store.(autosave.QueueStore)
	require.True(t, ok)
	require.Equal(t, "autosave", queued.Queue)

	require.Equal(t, "redis", NewWorkerStore(cfg, deps).(autosave.LockedStore).Name())
}

func TestNewOracleFromTariffFile(t *testing.T) {
	deps, cfg := testDeps(t)
	path := filepath.Join(t.TempDir(), "tariffs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("units:\n  villa-1:\n    adult: {price: 100000, mode: per_unit, perNight: true}\n"), 0o600))
	cfg.OracleTariffFile = path

	client, err := NewOracle(cfg, deps, nil)
	require.NoError(t, err)
	_, ok := client.(*oracle.StaticClient)
	require.True(t, ok)

	cfg.OracleTariffFile = ""
	cfg.OracleURL = "http://oracle.invalid"
	metrics := resilience.NewBreakerMetrics("app_test", prometheus.NewRegistry())
	client, err = NewOracle(cfg, deps, metrics)
	require.NoError(t, err)
	_, ok = client.(*oracle.CachedClient)
	require.True(t, ok)
}

func TestNewVouchersFromRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vouchers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vouchers:\n  - {code: STAY10, kind: percentage, value: \"10\", scopes: [accommodation]}\n"), 0o600))
	cfg := &config.Config{VoucherRulesFile: path}

	svc, err := NewVouchers(cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	v, err := svc.Apply(context.Background(), voucher.Request{
		Code:     "stay10",
		Scope:    selection.Scope{Kind: selection.ScopeAccommodation},
		Subtotal: 200_000,
	})
	require.NoError(t, err)
	require.Equal(t, "STAY10", v.Code)

	cfg.VoucherRulesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = NewVouchers(cfg, zerolog.Nop(), nil)
	require.Error(t, err)
}

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/booking?sslmode=disable", MigrateURL("postgres://u:p@db:5432/booking?sslmode=disable"))
	require.Equal(t, "pgx5://db/booking", MigrateURL("postgresql://db/booking"))
	require.Equal(t, "pgx5://db/booking", MigrateURL("pgx5://db/booking"))
}

type fixedLen int

func (f fixedLen) Len() int { return int(f) }

func TestObserveOpenBookings(t *testing.T) {
	reg, err := ObserveOpenBookings(noop.NewMeterProvider().Meter("test"), fixedLen(3))
	require.NoError(t, err)
	require.NoError(t, reg.Unregister())
}
