package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-booking/internal/autosave"
	"github.com/noah-isme/backend-booking/internal/config"
	"github.com/noah-isme/backend-booking/internal/lock"
	"github.com/noah-isme/backend-booking/internal/oracle"
	"github.com/noah-isme/backend-booking/internal/resilience"
	"github.com/noah-isme/backend-booking/internal/voucher"
)

// NewOracle builds the pricing oracle client. A tariff file wins over a remote
// URL; remote quotes go through a breaker and the Redis quote cache.
func NewOracle(cfg *config.Config, deps *Dependencies, breakerMetrics *resilience.BreakerMetrics) (oracle.Client, error) {
	if cfg.OracleTariffFile != "" {
		client, err := oracle.LoadStaticFile(cfg.OracleTariffFile)
		if err != nil {
			return nil, fmt.Errorf("load tariffs: %w", err)
		}
		deps.Logger.Info().Str("file", cfg.OracleTariffFile).Msg("oracle_static_tariffs")
		return client, nil
	}
	breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailRatio, cfg.BreakerOpenFor).
		WithTarget("oracle").
		WithLogger(deps.Logger).
		WithMetrics(breakerMetrics)
	remote := oracle.NewHTTPClient(oracle.HTTPOptions{
		BaseURL: cfg.OracleURL,
		Timeout: cfg.OracleTimeout,
		Breaker: breaker,
		Logger:  deps.Logger,
	})
	return oracle.NewCachedClient(remote, deps.Redis, cfg.OracleCacheTTL, deps.Logger).
		WithCallTimeout(cfg.OracleTimeout), nil
}

// NewVouchers builds the voucher service. A remote endpoint wins over a local
// rule file; with neither, every code is rejected as unknown.
func NewVouchers(cfg *config.Config, logger zerolog.Logger, breakerMetrics *resilience.BreakerMetrics) (*voucher.Service, error) {
	svc := &voucher.Service{Logger: logger.With().Str("component", "voucher").Logger()}
	switch {
	case cfg.VoucherURL != "":
		breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailRatio, cfg.BreakerOpenFor).
			WithTarget("voucher").
			WithLogger(logger).
			WithMetrics(breakerMetrics)
		svc.Validator = voucher.NewHTTPValidator(cfg.VoucherURL, cfg.VoucherTimeout, breaker)
	case cfg.VoucherRulesFile != "":
		rules, err := voucher.LoadRulesFile(cfg.VoucherRulesFile)
		if err != nil {
			return nil, fmt.Errorf("load voucher rules: %w", err)
		}
		svc.Validator = voucher.NewRuleValidator(rules...)
	default:
		svc.Validator = voucher.NewRuleValidator()
	}
	return svc, nil
}

// NewAutosaveStore selects the snapshot store for cfg.AutosaveMode. Inline
// stores run under the per-booking lock; nil means autosave is off.
func NewAutosaveStore(cfg *config.Config, deps *Dependencies) (autosave.Store, error) {
	var store autosave.Store
	switch cfg.AutosaveMode {
	case config.AutosaveOff:
		return nil, nil
	case config.AutosaveRedis:
		store = autosave.RedisStore{R: deps.Redis, TTL: cfg.AutosaveSnapshotTTL}
	case config.AutosavePostgres:
		if deps.DB == nil {
			return nil, fmt.Errorf("autosave mode %s: %w", cfg.AutosaveMode, autosave.ErrStoreUnavailable)
		}
		store = autosave.NewPostgresStore(deps.DB)
	case config.AutosaveQueue:
		if deps.TaskClient == nil {
			return nil, fmt.Errorf("autosave mode %s: %w", cfg.AutosaveMode, autosave.ErrStoreUnavailable)
		}
		return autosave.QueueStore{
			Client:   deps.TaskClient,
			Queue:    cfg.QueueName,
			MaxRetry: cfg.QueueMaxRetry,
			Timeout:  cfg.LockTTL,
		}, nil
	default:
		return nil, fmt.Errorf("unknown autosave mode %q", cfg.AutosaveMode)
	}
	return autosave.LockedStore{
		Store:  store,
		Locker: lock.Locker{R: deps.Redis},
		TTL:    cfg.LockTTL,
	}, nil
}

// NewWorkerStore picks where the worker persists queued snapshots: Postgres
// when configured, Redis otherwise.
func NewWorkerStore(cfg *config.Config, deps *Dependencies) autosave.Store {
	var store autosave.Store = autosave.RedisStore{R: deps.Redis, TTL: cfg.AutosaveSnapshotTTL}
	if deps.DB != nil {
		store = autosave.NewPostgresStore(deps.DB)
	}
	return autosave.LockedStore{Store: store, Locker: lock.Locker{R: deps.Redis}, TTL: cfg.LockTTL}
}
