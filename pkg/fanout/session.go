package fanout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/voyagent/tripquote/pkg/backend"
)

// Prometheus metrics for aggregation sessions.
var (
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripquote_sessions_total",
		Help: "Total aggregation sessions by outcome",
	}, []string{"outcome"}) // "success", "failure", "interrupted"

	discardedFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tripquote_discarded_failures_total",
		Help: "Backend failures observed after the first failure was recorded",
	})

	extraCompletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tripquote_extra_completions_total",
		Help: "Completions rejected because the session already reached its expected count",
	})
)

// ErrInterrupted is returned when the wait on the join barrier ends before
// all backend calls have reported. The trip request did not complete, but
// the cause is infrastructural, not a downstream rejection.
var ErrInterrupted = errors.New("aggregation wait interrupted")

// Result is the combined outcome of one fan-out.
type Result struct {
	// TotalCents is the summed cost of all quotes, in integer cents.
	TotalCents int64

	// Quotes holds the individual per-target quotes, in completion order.
	Quotes []backend.FareQuote
}

// Total returns the combined cost in currency units.
func (r Result) Total() float64 {
	return float64(r.TotalCents) / 100
}

// Session is the join barrier for one trip request's fan-out. Exactly
// `expected` calls to Complete move it from WAITING to COMPLETE; the barrier
// then releases one outcome: the first recorded failure, or the summed total.
type Session struct {
	expected int
	logger   zerolog.Logger

	mu         sync.Mutex
	completed  int
	totalCents int64
	quotes     []backend.FareQuote
	firstErr   error
	callbacks  []func(Result, error)

	done chan struct{}
}

// NewSession creates a session expecting one completion per backend call.
func NewSession(expected int, logger zerolog.Logger) *Session {
	if expected <= 0 {
		panic(fmt.Sprintf("session expected count must be positive, got %d", expected))
	}
	return &Session{
		expected: expected,
		logger:   logger.With().Str("component", "session").Logger(),
		quotes:   make([]backend.FareQuote, 0, expected),
		done:     make(chan struct{}),
	}
}

// Complete reports the outcome of one backend call. It must be invoked
// exactly once per call; invocations beyond the expected count are rejected.
// Success adds the quote's cost to the running total. The first failure is
// recorded; later failures are logged and counted but never surfaced.
func (s *Session) Complete(target string, quote *backend.FareQuote, err error) {
	s.mu.Lock()

	if s.completed >= s.expected {
		s.mu.Unlock()
		extraCompletionsTotal.Inc()
		s.logger.Warn().
			Str("target", target).
			Msg("Completion after session already complete - rejected")
		return
	}

	if err != nil {
		if s.firstErr == nil {
			s.firstErr = err
		} else {
			discardedFailuresTotal.Inc()
			s.logger.Warn().
				Err(err).
				Str("target", target).
				Msg("Secondary backend failure discarded (first failure wins)")
		}
	} else if quote != nil {
		s.totalCents += toCents(quote.Cost)
		s.quotes = append(s.quotes, *quote)
	}

	s.completed++
	last := s.completed == s.expected

	var callbacks []func(Result, error)
	var result Result
	var outcome error
	if last {
		result, outcome = s.outcomeLocked()
		callbacks = s.callbacks
		s.callbacks = nil
	}
	s.mu.Unlock()

	if !last {
		return
	}

	// Single one-way WAITING -> COMPLETE transition.
	close(s.done)

	if outcome != nil {
		sessionsTotal.WithLabelValues("failure").Inc()
	} else {
		sessionsTotal.WithLabelValues("success").Inc()
	}

	for _, cb := range callbacks {
		cb(result, outcome)
	}
}

// Wait blocks until all expected completions have reported, or until the
// context is done. Context expiry surfaces as ErrInterrupted.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.outcomeLocked()
	case <-ctx.Done():
		sessionsTotal.WithLabelValues("interrupted").Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
	}
}

// OnComplete registers a continuation invoked exactly once with the final
// outcome. If the session is already complete, the continuation runs
// immediately on the calling goroutine.
func (s *Session) OnComplete(fn func(Result, error)) {
	s.mu.Lock()
	if s.completed < s.expected {
		s.callbacks = append(s.callbacks, fn)
		s.mu.Unlock()
		return
	}
	result, outcome := s.outcomeLocked()
	s.mu.Unlock()

	fn(result, outcome)
}

// Done returns a channel closed when the session reaches COMPLETE.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// outcomeLocked computes the surfaced outcome. Failure takes precedence
// over any partial sum. Callers must hold s.mu.
func (s *Session) outcomeLocked() (Result, error) {
	if s.firstErr != nil {
		return Result{}, s.firstErr
	}
	quotes := make([]backend.FareQuote, len(s.quotes))
	copy(quotes, s.quotes)
	return Result{TotalCents: s.totalCents, Quotes: quotes}, nil
}

// toCents converts a currency amount to integer cents, rounding to the
// nearest cent.
func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
