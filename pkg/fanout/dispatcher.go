// Package fanout implements the parallel trip quote aggregation: one inbound
// request fans out to all fare backends through the bounded worker pool, and
// a join barrier combines the results into a single total or failure.
package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/voyagent/tripquote/pkg/backend"
	"github.com/voyagent/tripquote/pkg/pool"
	"github.com/voyagent/tripquote/pkg/reqctx"
)

// FareBackend is the contract the dispatcher expects of each target.
// *backend.Client satisfies it.
type FareBackend interface {
	Name() string
	GetFare(ctx context.Context, query backend.FareQuery) (*backend.FareQuote, error)
}

// TripRequest is one inbound aggregation request.
type TripRequest struct {
	From      string
	To        string
	StartDate time.Time
	EndDate   time.Time
}

// query converts the trip request into the per-backend fare query.
func (r TripRequest) query() backend.FareQuery {
	return backend.FareQuery{
		Origin:      r.From,
		Destination: r.To,
		StartDate:   r.StartDate,
		EndDate:     r.EndDate,
	}
}

// Config holds dispatcher configuration.
type Config struct {
	// CallTimeout bounds each backend call, including retries.
	CallTimeout time.Duration
}

// DefaultConfig returns a safe default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		CallTimeout: 15 * time.Second,
	}
}

// Dispatcher fans one trip request out to all configured fare backends.
type Dispatcher struct {
	backends []FareBackend
	pool     *pool.Pool
	config   Config
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher over explicitly owned backend clients.
func NewDispatcher(p *pool.Pool, backends []FareBackend, cfg Config, logger zerolog.Logger) (*Dispatcher, error) {
	if p == nil {
		return nil, fmt.Errorf("worker pool is required")
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}

	return &Dispatcher{
		backends: backends,
		pool:     p,
		config:   cfg,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}, nil
}

// Dispatch submits one backend call per target to the worker pool and
// returns the session immediately, without blocking on any call. The
// caller's traveler snapshot is captured once, before dispatch, and carried
// by value into each call's own context.
func (d *Dispatcher) Dispatch(ctx context.Context, req TripRequest) (*Session, error) {
	if err := req.query().Validate(); err != nil {
		return nil, fmt.Errorf("invalid trip request: %w", err)
	}

	snap := reqctx.Capture(ctx)
	session := NewSession(len(d.backends), d.logger)
	query := req.query()

	d.logger.Debug().
		Str("from", req.From).
		Str("to", req.To).
		Str("request_id", snap.RequestID).
		Int("targets", len(d.backends)).
		Msg("Dispatching trip request")

	for _, b := range d.backends {
		b := b
		_, err := d.pool.Submit(func() error {
			d.runCall(b, query, snap, session)
			return nil
		})
		if err != nil {
			// Pool closed: the session still needs this call's completion.
			session.Complete(b.Name(), nil, &backend.BackendError{
				Target:  b.Name(),
				Class:   backend.ErrorClassNetwork,
				Message: "dispatch failed",
				Err:     err,
			})
		}
	}

	return session, nil
}

// runCall executes one backend call and reports its outcome to the session
// exactly once, even if the call panics.
func (d *Dispatcher) runCall(b FareBackend, query backend.FareQuery, snap reqctx.Snapshot, session *Session) {
	reported := false

	defer func() {
		if r := recover(); r != nil && !reported {
			session.Complete(b.Name(), nil, fmt.Errorf("%s backend call panicked: %v", b.Name(), r))
		}
	}()

	// The per-call context derives from the snapshot, not the inbound
	// request: once dispatched, a call runs to completion or failure.
	callCtx, cancel := snap.NewCallContext(d.config.CallTimeout)
	defer cancel()

	start := time.Now()
	quote, err := b.GetFare(callCtx, query)

	if err != nil {
		d.logger.Warn().
			Err(err).
			Str("target", b.Name()).
			Dur("duration", time.Since(start)).
			Msg("Backend call failed")
	} else {
		d.logger.Debug().
			Str("target", b.Name()).
			Float64("cost", quote.Cost).
			Dur("duration", time.Since(start)).
			Msg("Backend call complete")
	}

	reported = true
	session.Complete(b.Name(), quote, err)
}

// Targets returns the names of the configured backends.
func (d *Dispatcher) Targets() []string {
	names := make([]string, len(d.backends))
	for i, b := range d.backends {
		names[i] = b.Name()
	}
	return names
}
