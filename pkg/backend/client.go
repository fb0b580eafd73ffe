// Package backend provides the typed REST client for fare backends with
// rate limiting, caching, retries, and error classification.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/voyagent/tripquote/pkg/cache"
	"github.com/voyagent/tripquote/pkg/ratelimit"
	"github.com/voyagent/tripquote/pkg/reqctx"
)

// Prometheus metrics for fare backend calls.
var (
	backendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripquote_backend_requests_total",
		Help: "Total backend requests by target and status",
	}, []string{"target", "status"})

	backendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tripquote_backend_request_duration_seconds",
		Help:    "Backend request duration in seconds by target",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"target"})

	backendErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripquote_backend_errors_total",
		Help: "Total backend errors by target and class",
	}, []string{"target", "class"})
)

// FareQuery describes one fare lookup against a backend.
type FareQuery struct {
	// Origin is the departure location code.
	Origin string

	// Destination is the arrival location code.
	Destination string

	// StartDate is the first day of the trip.
	StartDate time.Time

	// EndDate is the last day of the trip.
	EndDate time.Time
}

// Validate checks that the query is complete and the date range is sane.
func (q FareQuery) Validate() error {
	if q.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	if q.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	if q.StartDate.IsZero() || q.EndDate.IsZero() {
		return fmt.Errorf("start and end dates are required")
	}
	if q.EndDate.Before(q.StartDate) {
		return fmt.Errorf("end date %s before start date %s",
			q.EndDate.Format(cache.DateFormat), q.StartDate.Format(cache.DateFormat))
	}
	return nil
}

// FareQuote is a priced result from one backend.
type FareQuote struct {
	// Target is the backend that produced the quote.
	Target string `json:"target"`

	// Cost is the quoted price.
	Cost float64 `json:"cost"`

	// Currency is the ISO currency code of the cost.
	Currency string `json:"currency"`

	// FromCache indicates the quote was served from the quote cache.
	FromCache bool `json:"from_cache,omitempty"`
}

// farePayload is the backend wire format.
type farePayload struct {
	Cost     float64 `json:"cost"`
	Currency string  `json:"currency"`
}

// Client is a typed REST client for one fare backend.
type Client struct {
	httpClient *http.Client
	redis      *redis.Client
	limiter    *ratelimit.Limiter
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Target is the backend name (e.g., "airline", "hotel", "car")
	Target string

	// BaseURL is the backend's base URL
	BaseURL string

	// Redis client for quote caching
	Redis *redis.Client

	// UserAgent header sent on every request
	UserAgent string

	// Timeout bounds a single HTTP attempt
	Timeout time.Duration

	// Retry configures backoff behavior for retriable failures
	Retry RetryConfig

	// RateLimit configures the outbound token bucket for this target
	RateLimit ratelimit.Config
}

// DefaultConfig returns a safe default configuration for one target.
func DefaultConfig(redisClient *redis.Client, target, baseURL, userAgent string) Config {
	return Config{
		Target:    target,
		BaseURL:   baseURL,
		Redis:     redisClient,
		UserAgent: userAgent,
		Timeout:   15 * time.Second,
		Retry:     DefaultRetryConfig(),
		RateLimit: ratelimit.DefaultConfig(target),
	}
}

// New creates a fare backend client.
func New(cfg Config) (*Client, error) {
	if cfg.Target == "" {
		return nil, fmt.Errorf("target is required")
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit = ratelimit.DefaultConfig(cfg.Target)
	}

	logger := log.With().
		Str("component", "backend-client").
		Str("target", cfg.Target).
		Logger()

	limiter, err := ratelimit.New(cfg.RateLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		redis:   cfg.Redis,
		limiter: limiter,
		cache:   cache.NewManager(cfg.Redis),
		config:  cfg,
		logger:  logger,
	}, nil
}

// Name returns the backend target name.
func (c *Client) Name() string {
	return c.config.Target
}

// GetFare fetches one fare quote. This is the core request method: it gates
// on the outbound rate limiter, consults the quote cache, executes the HTTP
// request with retry logic, and updates the cache from response headers.
// Traveler identity is read from the context snapshot and forwarded as
// loyalty headers, so the quote matches the caller regardless of which
// worker goroutine runs the call.
func (c *Client) GetFare(ctx context.Context, query FareQuery) (*FareQuote, error) {
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fare query: %w", err)
	}

	startTime := time.Now()
	defer func() {
		backendRequestDuration.WithLabelValues(c.config.Target).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Gate on the outbound rate limiter
	if !c.limiter.Allow() {
		backendRequestsTotal.WithLabelValues(c.config.Target, "rate_limited").Inc()
		return nil, &BackendError{
			Target:  c.config.Target,
			Class:   ErrorClassRateLimit,
			Message: "outbound rate limit exceeded",
			Err:     ErrRateLimited,
		}
	}

	// Step 2: Check the quote cache
	snap := reqctx.Capture(ctx)
	cacheKey := cache.QuoteKey{
		Target:      c.config.Target,
		Origin:      query.Origin,
		Destination: query.Destination,
		StartDate:   query.StartDate,
		EndDate:     query.EndDate,
		LoyaltyTier: snap.LoyaltyTier,
	}

	cachedEntry, err := c.cache.Get(ctx, cacheKey)
	if err != nil && err != cache.ErrCacheMiss {
		c.logger.Warn().Err(err).Msg("Cache get error")
	}

	// Step 3: Build the outbound request
	req, err := c.newFareRequest(ctx, query, snap)
	if err != nil {
		return nil, err
	}

	// Step 4: Make a conditional request on cache hit
	if cachedEntry != nil && cache.ShouldMakeConditionalRequest(cachedEntry) {
		cache.AddConditionalHeaders(req, cachedEntry)
		cache.ConditionalRequestsSent.Inc()
		c.logger.Debug().
			Str("etag", cachedEntry.ETag).
			Msg("Making conditional request")
	}

	// Step 5: Execute with retry logic
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Step 6: Handle 304 Not Modified
	if resp.StatusCode == http.StatusNotModified {
		c.logger.Debug().Msg("304 Not Modified - using cached quote")
		backendRequestsTotal.WithLabelValues(c.config.Target, "304").Inc()
		cache.NotModifiedResponses.Inc()

		if expiresStr := resp.Header.Get("Expires"); expiresStr != "" {
			if newExpires, err := http.ParseTime(expiresStr); err == nil {
				if err := c.cache.UpdateTTL(ctx, cacheKey, newExpires); err != nil {
					c.logger.Warn().Err(err).Msg("Failed to update cache TTL")
				}
			}
		}

		return c.decodeQuote(cachedEntry.Data, true)
	}

	// Step 7: Non-retriable HTTP errors surface as a typed failure
	if resp.StatusCode >= 400 {
		return nil, &BackendError{
			Target:     c.config.Target,
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Message:    resp.Status,
		}
	}

	// Step 8: Update cache on success
	if resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if entry.TTL() > 0 {
			if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to cache quote")
			} else {
				c.logger.Debug().
					Dur("ttl", entry.TTL()).
					Msg("Cached fare quote")
			}
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", c.config.Target, err)
	}

	return c.decodeQuote(body, false)
}

// newFareRequest builds the outbound GET request, carrying the traveler
// snapshot as loyalty headers.
func (c *Client) newFareRequest(ctx context.Context, query FareQuery, snap reqctx.Snapshot) (*http.Request, error) {
	params := url.Values{}
	params.Set("origin", query.Origin)
	params.Set("destination", query.Destination)
	params.Set("start_date", query.StartDate.Format(cache.DateFormat))
	params.Set("end_date", query.EndDate.Format(cache.DateFormat))

	reqURL := c.config.BaseURL + "/fares?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	snap.ApplyHeaders(req.Header)

	return req, nil
}

// do executes the HTTP request with retry logic. Retriable failures
// (network, 5xx, 429) are retried with backoff; other responses, including
// 4xx and 304, are returned for the caller to interpret.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	var resp *http.Response

	retryErr := retryWithBackoff(req.Context(), c.logger, c.config.Target, c.config.Retry, func() error {
		r, reqErr := c.httpClient.Do(req)

		if reqErr != nil {
			c.logger.Error().Err(reqErr).Msg("HTTP request failed")
			backendErrorsTotal.WithLabelValues(c.config.Target, string(ErrorClassNetwork)).Inc()
			backendRequestsTotal.WithLabelValues(c.config.Target, "network_error").Inc()
			return &BackendError{
				Target:  c.config.Target,
				Class:   ErrorClassNetwork,
				Message: "request failed",
				Err:     reqErr,
			}
		}

		if r.StatusCode == http.StatusNotModified {
			resp = r
			return nil
		}

		if r.StatusCode >= 400 {
			errClass := classifyStatus(r.StatusCode)
			backendErrorsTotal.WithLabelValues(c.config.Target, string(errClass)).Inc()
			backendRequestsTotal.WithLabelValues(c.config.Target, fmt.Sprintf("%d", r.StatusCode)).Inc()

			c.logger.Warn().
				Int("status", r.StatusCode).
				Str("error_class", string(errClass)).
				Msg("Backend request error")

			if shouldRetry(errClass) {
				r.Body.Close() // Close the body before retrying
				return &BackendError{
					Target:     c.config.Target,
					StatusCode: r.StatusCode,
					Class:      errClass,
					Message:    r.Status,
				}
			}

			// Don't retry client errors - return the response for the caller
			resp = r
			return nil
		}

		// Success
		backendRequestsTotal.WithLabelValues(c.config.Target, fmt.Sprintf("%d", r.StatusCode)).Inc()
		resp = r
		return nil
	})

	if retryErr != nil {
		return nil, retryErr
	}

	return resp, nil
}

// decodeQuote parses a backend fare payload into a FareQuote.
func (c *Client) decodeQuote(data []byte, fromCache bool) (*FareQuote, error) {
	var payload farePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode %s fare payload: %w", c.config.Target, err)
	}

	if payload.Cost < 0 {
		return nil, fmt.Errorf("%s returned negative cost %v", c.config.Target, payload.Cost)
	}

	currency := payload.Currency
	if currency == "" {
		currency = "USD"
	}

	return &FareQuote{
		Target:    c.config.Target,
		Cost:      payload.Cost,
		Currency:  currency,
		FromCache: fromCache,
	}, nil
}

// classifyStatus categorizes an HTTP status code for retry and observability.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Close closes the client and releases resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
