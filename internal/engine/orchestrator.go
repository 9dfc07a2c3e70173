package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-booking/internal/fingerprint"
	"github.com/noah-isme/backend-booking/internal/oracle"
	"github.com/noah-isme/backend-booking/internal/selection"
)

type fetchResult struct {
	change fingerprint.Change
	prices map[string]oracle.Price
	status selection.PriceStatus
	err    error
}

// runCycle fetches every queued node that is not already in flight, waits
// for all calls to settle and merges the results that are still current.
// Queued nodes that were in flight stay queued for a follow-up cycle.
func (s *Session) runCycle(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	batch := make([]fingerprint.Change, 0, len(s.pending))
	for key, change := range s.pending {
		if _, busy := s.inflight[key]; busy {
			continue
		}
		batch = append(batch, change)
		s.inflight[key] = change.Fingerprint
		delete(s.pending, key)
	}
	s.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Input.Key < batch[j].Input.Key })

	ctx, span := otel.Tracer("engine.Session").Start(ctx, "Session.cycle")
	defer span.End()
	span.SetAttributes(
		attribute.String("pricing.session_id", s.id),
		attribute.Int("pricing.nodes", len(batch)),
	)
	s.metrics.cycle()
	start := time.Now()

	results := make([]fetchResult, len(batch))
	var g errgroup.Group
	for i, change := range batch {
		i, change := i, change
		g.Go(func() error {
			results[i] = s.fetch(ctx, change)
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)
	s.metrics.observe(elapsed.Seconds())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	merged, stale := 0, 0
	for _, res := range results {
		key := res.change.Input.Key
		delete(s.inflight, key)
		if !s.tracker.Matches(key, res.change.Fingerprint) {
			stale++
			s.metrics.stale()
			s.logger.Debug().Str("node", string(key)).Msg("pricing_stale_result_discarded")
			continue
		}
		if queued, ok := s.pending[key]; ok && queued.Fingerprint == res.change.Fingerprint {
			delete(s.pending, key)
		}
		s.cache.Resolve(key, res.change.Fingerprint, res.prices, res.status, res.err)
		merged++
	}
	followUp := len(s.pending) > 0
	if followUp {
		s.debouncer.Kick()
	}
	s.syncBackLocked()
	s.notifyLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("pricing.merged", merged), attribute.Int("pricing.stale", stale))
	s.logger.Info().
		Int("nodes", len(batch)).
		Int("merged", merged).
		Int("stale", stale).
		Bool("follow_up", followUp).
		Int64("duration_ms", elapsed.Milliseconds()).
		Msg("pricing_cycle_completed")
	s.publish(snap)
}

// fetch prices one node. Failures never escape: they resolve the node as
// unavailable with no prices.
func (s *Session) fetch(ctx context.Context, change fingerprint.Change) fetchResult {
	in := change.Input
	ctx, span := otel.Tracer("engine.Session").Start(ctx, "Session.fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("pricing.node", string(in.Key)),
		attribute.String("pricing.kind", in.Kind.String()),
		attribute.String("pricing.unit_id", in.UnitID),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	quote, err := s.quote(callCtx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		}
		s.metrics.call(in.Kind.String(), result)
		s.logger.Warn().Str("node", string(in.Key)).Str("unit_id", in.UnitID).Err(err).Msg("pricing_oracle_failed")
		return fetchResult{change: change, status: selection.StatusUnavailable, err: err}
	}
	s.metrics.call(in.Kind.String(), "ok")
	return fetchResult{change: change, prices: quote.Filter(in.Quantities).Prices, status: selection.StatusPriced}
}

func (s *Session) quote(ctx context.Context, in selection.PriceInput) (q oracle.Quote, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("oracle client panicked")
			s.logger.Error().Interface("panic", r).Str("node", string(in.Key)).Msg("pricing_oracle_panic")
		}
	}()
	return s.oracle.Quote(ctx, oracle.Request{
		UnitID:     in.UnitID,
		CheckIn:    in.Window.From,
		CheckOut:   in.Window.To,
		Quantities: in.Quantities,
	})
}
