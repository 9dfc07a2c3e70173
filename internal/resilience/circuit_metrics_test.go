package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-booking/internal/resilience"
)

func TestBreakerMetricsTransitions(t *testing.T) {
	metrics := resilience.NewBreakerMetrics("test", prometheus.NewRegistry())
	breaker := resilience.NewBreaker(1, 0.5, 20*time.Millisecond).WithMetrics(metrics).WithTarget("oracle")
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.State.WithLabelValues("oracle")))

	require.Eventually(t, func() bool {
		return breaker.Allow(ctx)
	}, 100*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.State.WithLabelValues("oracle")))

	breaker.Report(ctx, true)
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.State.WithLabelValues("oracle")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Opened.WithLabelValues("oracle")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("oracle", "closed", "open")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("oracle", "open", "half_open")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("oracle", "half_open", "closed")))
}

func TestNewBreakerMetricsReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := resilience.NewBreakerMetrics("test", reg)
	second := resilience.NewBreakerMetrics("test", reg)
	require.Same(t, first.State, second.State)
}
