package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-booking/internal/resilience"
)

type wireRequest struct {
	UnitID     string         `json:"unitId"`
	CheckIn    string         `json:"checkIn"`
	CheckOut   string         `json:"checkOut"`
	Quantities map[string]int `json:"quantities"`
}

// HTTPClient queries a remote oracle over JSON. Calls are never retried; a
// failed or timed out call surfaces as ErrUnavailable.
type HTTPClient struct {
	baseURL string
	http    resilience.HTTPClient
	logger  zerolog.Logger
}

// HTTPOptions configures NewHTTPClient.
type HTTPOptions struct {
	BaseURL string
	Timeout time.Duration
	Breaker *resilience.Breaker
	Logger  zerolog.Logger
	// Transport overrides the default transport, mostly for tests.
	Transport http.RoundTripper
}

// NewHTTPClient constructs an oracle client.
func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		http: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(transport)},
			Breaker:     opts.Breaker,
			MaxAttempts: 1,
			Timeout:     timeout,
		},
		logger: opts.Logger.With().Str("component", "oracle").Logger(),
	}
}

// Quote implements Client.
func (c *HTTPClient) Quote(ctx context.Context, req Request) (Quote, error) {
	if strings.TrimSpace(req.UnitID) == "" {
		return Quote{}, fmt.Errorf("unit id is required: %w", ErrUnavailable)
	}
	body := wireRequest{
		UnitID:     req.UnitID,
		CheckIn:    req.CheckIn.UTC().Format(dateLayout),
		CheckOut:   req.CheckOut.UTC().Format(dateLayout),
		Quantities: req.Quantities,
	}
	var quote Quote
	err := c.http.PostJSON(ctx, c.baseURL+"/v1/quotes", body, &quote)
	if err != nil {
		var statusErr *resilience.StatusError
		switch {
		case errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound:
			return Quote{}, fmt.Errorf("%s: %w", req.UnitID, ErrUnknownUnit)
		case errors.Is(err, resilience.ErrDecode):
			c.logger.Warn().Str("unit_id", req.UnitID).Err(err).Msg("oracle_invalid_response")
			return Quote{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		default:
			c.logger.Warn().Str("unit_id", req.UnitID).Err(err).Msg("oracle_unavailable")
			return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if err := quote.validate(); err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return quote.normalized(), nil
}
