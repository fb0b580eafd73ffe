// Package ratelimit gates outbound requests to fare backends with per-target
// token buckets, so one trip request burst cannot exceed a backend's allowed
// request rate.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for outbound rate limiting.
var (
	rateLimitBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripquote_rate_limit_blocks_total",
		Help: "Total number of requests blocked by the outbound rate limiter",
	}, []string{"target"})

	rateLimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripquote_rate_limit_waits_total",
		Help: "Total number of requests that waited for a rate limit token",
	}, []string{"target"})

	rateLimitTokens = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tripquote_rate_limit_tokens",
		Help: "Approximate tokens currently available per target",
	}, []string{"target"})
)

// Config holds limiter configuration for one backend target.
type Config struct {
	// Target is the backend name used for logging and metrics.
	Target string

	// RequestsPerSecond is the sustained request rate allowed against the target.
	RequestsPerSecond float64

	// Burst is the maximum number of requests allowed in a burst.
	Burst int
}

// DefaultConfig returns a safe default limiter configuration.
func DefaultConfig(target string) Config {
	return Config{
		Target:            target,
		RequestsPerSecond: 10,
		Burst:             20,
	}
}

// Limiter gates outbound requests for a single backend target.
type Limiter struct {
	target string
	bucket *rate.Limiter
	logger zerolog.Logger
}

// New creates a limiter for one target.
func New(cfg Config, logger zerolog.Logger) (*Limiter, error) {
	if cfg.Target == "" {
		return nil, fmt.Errorf("target is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("requests_per_second must be > 0 (got %v)", cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Limiter{
		target: cfg.Target,
		bucket: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger: logger.With().Str("target", cfg.Target).Logger(),
	}, nil
}

// Allow reports whether a request may proceed right now without waiting.
// A denied request is counted and logged; the caller decides whether to
// fail fast or fall back to Wait.
func (l *Limiter) Allow() bool {
	allowed := l.bucket.Allow()
	rateLimitTokens.WithLabelValues(l.target).Set(l.bucket.Tokens())

	if !allowed {
		rateLimitBlocksTotal.WithLabelValues(l.target).Inc()
		l.logger.Warn().Msg("Outbound request blocked by rate limiter")
	}

	return allowed
}

// Wait blocks until a token is available or the context is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.bucket.Allow() {
		rateLimitTokens.WithLabelValues(l.target).Set(l.bucket.Tokens())
		return nil
	}

	rateLimitWaitsTotal.WithLabelValues(l.target).Inc()
	l.logger.Debug().Msg("Waiting for rate limit token")

	if err := l.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", l.target, err)
	}

	rateLimitTokens.WithLabelValues(l.target).Set(l.bucket.Tokens())
	return nil
}

// Target returns the backend name this limiter gates.
func (l *Limiter) Target() string {
	return l.target
}
