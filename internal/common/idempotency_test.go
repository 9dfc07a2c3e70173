package common

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newIdem(t *testing.T) Idem {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Idem{R: client, TTL: time.Minute}
}

func TestIdemReplaysFirstResponse(t *testing.T) {
	idem := newIdem(t)
	var calls atomic.Int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"id": n}})
	}))

	do := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/bookings", strings.NewReader(`{}`))
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	first := do("abc")
	require.Equal(t, http.StatusCreated, first.Code)
	second := do("abc")
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.EqualValues(t, 1, calls.Load())

	require.Equal(t, http.StatusCreated, do("").Code)
	require.EqualValues(t, 2, calls.Load())
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	idem := newIdem(t)
	var calls atomic.Int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			JSONError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "down", nil)
			return
		}
		JSON(w, http.StatusCreated, map[string]any{"data": "ok"})
	}))

	for _, want := range []int{http.StatusServiceUnavailable, http.StatusCreated} {
		req := httptest.NewRequest(http.MethodPost, "/bookings", nil)
		req.Header.Set("Idempotency-Key", "retry")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, want, rr.Code)
	}
}

func TestIdemPendingKeyConflicts(t *testing.T) {
	idem := newIdem(t)
	req := httptest.NewRequest(http.MethodPost, "/bookings", nil)
	require.NoError(t, idem.R.Set(req.Context(), hashKey(req, "busy"), idemPending, time.Minute).Err())

	req.Header.Set("Idempotency-Key", "busy")
	rr := httptest.NewRecorder()
	idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run while the key is pending")
	})).ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "IDEMPOTENT_REPLAY")
}
