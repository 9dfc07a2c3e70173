package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/backend-booking/internal/common"
)

// Config describes how requests are keyed and budgeted. Every booking edit
// can fan out into oracle quotes, so mutations get their own, usually
// smaller, budget when WriteMax is set.
type Config struct {
	Key      func(*http.Request) string
	Window   time.Duration
	Max      int
	WriteMax int
}

// KeyByClientIP keys requests by the caller address under prefix.
func KeyByClientIP(prefix string) func(*http.Request) string {
	return func(r *http.Request) string {
		return prefix + common.ClientIP(r)
	}
}

func (c Config) budget(r *http.Request) (string, int) {
	key := c.Key(r)
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return key, c.Max
	}
	if c.WriteMax > 0 {
		return key + ":w", c.WriteMax
	}
	return key, c.Max
}

// Handler enforces rate limits before delegating to the next handler.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(error)
}

// Middleware rejects callers over budget with 429. Limiter failures let the
// request through.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Config.Key == nil || h.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key, max := h.Config.budget(r)
		if max < 0 {
			max = 0
		}
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), key, h.Config.Window, max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(max))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(math.Ceil(time.Until(resetAt).Seconds()))
		if retryAfter < 0 {
			retryAfter = 0
		}
		headers.Set("Retry-After", strconv.Itoa(retryAfter))
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded",
			map[string]any{"retryAfterSeconds": retryAfter})
	})
}
