package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/voyagent/tripquote/pkg/backend"
	"github.com/voyagent/tripquote/pkg/pool"
	"github.com/voyagent/tripquote/pkg/reqctx"
)

// stubBackend is an in-process FareBackend for dispatcher tests.
type stubBackend struct {
	name  string
	cost  float64
	err   error
	delay time.Duration
	panic bool

	mu        sync.Mutex
	snapshots []reqctx.Snapshot
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) GetFare(ctx context.Context, query backend.FareQuery) (*backend.FareQuote, error) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, reqctx.Capture(ctx))
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.panic {
		panic("stub backend exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	return &backend.FareQuote{Target: s.name, Cost: s.cost, Currency: "USD"}, nil
}

func (s *stubBackend) seenSnapshots() []reqctx.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]reqctx.Snapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

func testRequest() TripRequest {
	return TripRequest{
		From:      "SFO",
		To:        "JFK",
		StartDate: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 9, 5, 0, 0, 0, 0, time.UTC),
	}
}

func newTestDispatcher(t *testing.T, backends ...FareBackend) (*Dispatcher, *pool.Pool) {
	t.Helper()

	p := pool.New(pool.Config{Workers: 10, QueueSize: 100}, zerolog.Nop())
	t.Cleanup(p.Close)

	d, err := NewDispatcher(p, backends, DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return d, p
}

func TestNewDispatcher_Validation(t *testing.T) {
	p := pool.New(pool.DefaultConfig(), zerolog.Nop())
	defer p.Close()

	if _, err := NewDispatcher(nil, []FareBackend{&stubBackend{name: "a"}}, DefaultConfig(), zerolog.Nop()); err == nil {
		t.Error("Expected error for nil pool")
	}
	if _, err := NewDispatcher(p, nil, DefaultConfig(), zerolog.Nop()); err == nil {
		t.Error("Expected error for empty backends")
	}
}

func TestDispatch_AllSuccess(t *testing.T) {
	d, _ := newTestDispatcher(t,
		&stubBackend{name: "airline", cost: 412.50},
		&stubBackend{name: "hotel", cost: 618.00},
		&stubBackend{name: "car", cost: 150.00},
	)

	session, err := d.Dispatch(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := session.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if result.TotalCents != 118050 {
		t.Errorf("TotalCents = %d, want 118050", result.TotalCents)
	}
	if len(result.Quotes) != 3 {
		t.Errorf("Quotes = %d, want 3", len(result.Quotes))
	}
}

func TestDispatch_ReturnsWithoutBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t,
		&stubBackend{name: "airline", cost: 1, delay: 200 * time.Millisecond},
		&stubBackend{name: "hotel", cost: 1, delay: 200 * time.Millisecond},
		&stubBackend{name: "car", cost: 1, delay: 200 * time.Millisecond},
	)

	start := time.Now()
	session, err := d.Dispatch(context.Background(), testRequest())
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("Dispatch() took %v, must return without waiting for calls", elapsed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := session.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestDispatch_FailurePrecedence(t *testing.T) {
	hotelErr := &backend.BackendError{
		Target:     "hotel",
		StatusCode: 503,
		Class:      backend.ErrorClassServer,
		Message:    "503 from hotel service",
	}

	d, _ := newTestDispatcher(t,
		&stubBackend{name: "airline", cost: 412.50},
		&stubBackend{name: "hotel", err: hotelErr},
		&stubBackend{name: "car", cost: 150.00},
	)

	session, err := d.Dispatch(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = session.Wait(ctx)

	var be *backend.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("Expected BackendError, got %v", err)
	}
	if be.Target != "hotel" {
		t.Errorf("Failed target = %q, want hotel", be.Target)
	}
}

func TestDispatch_PanicReportedAsFailure(t *testing.T) {
	d, _ := newTestDispatcher(t,
		&stubBackend{name: "airline", cost: 412.50},
		&stubBackend{name: "hotel", panic: true},
		&stubBackend{name: "car", cost: 150.00},
	)

	session, err := d.Dispatch(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = session.Wait(ctx)
	if err == nil {
		t.Fatal("Expected panic to surface as a session failure")
	}
}

func TestDispatch_InvalidRequest(t *testing.T) {
	d, _ := newTestDispatcher(t, &stubBackend{name: "airline", cost: 1})

	if _, err := d.Dispatch(context.Background(), TripRequest{}); err == nil {
		t.Error("Expected error for empty trip request")
	}
}

// Two concurrent sessions with different traveler snapshots must never
// observe each other's context values inside their backend calls.
func TestDispatch_ContextIsolation(t *testing.T) {
	airline := &stubBackend{name: "airline", cost: 1, delay: 10 * time.Millisecond}
	hotel := &stubBackend{name: "hotel", cost: 1, delay: 10 * time.Millisecond}
	d, _ := newTestDispatcher(t, airline, hotel)

	snapA := reqctx.Snapshot{TravelerID: "tr-a", LoyaltyTier: "gold", RequestID: "req-a"}
	snapB := reqctx.Snapshot{TravelerID: "tr-b", LoyaltyTier: "silver", RequestID: "req-b"}

	ctxA := reqctx.WithSnapshot(context.Background(), snapA)
	ctxB := reqctx.WithSnapshot(context.Background(), snapB)

	sessA, err := d.Dispatch(ctxA, testRequest())
	if err != nil {
		t.Fatalf("Dispatch(A) error = %v", err)
	}
	sessB, err := d.Dispatch(ctxB, testRequest())
	if err != nil {
		t.Fatalf("Dispatch(B) error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := sessA.Wait(ctx); err != nil {
		t.Fatalf("Wait(A) error = %v", err)
	}
	if _, err := sessB.Wait(ctx); err != nil {
		t.Fatalf("Wait(B) error = %v", err)
	}

	for _, b := range []*stubBackend{airline, hotel} {
		seen := b.seenSnapshots()
		if len(seen) != 2 {
			t.Fatalf("%s saw %d snapshots, want 2", b.name, len(seen))
		}
		for _, s := range seen {
			if s != snapA && s != snapB {
				t.Errorf("%s saw unexpected snapshot %+v", b.name, s)
			}
		}
		// Both sessions must be represented; values must not have merged.
		if seen[0] == seen[1] {
			t.Errorf("%s saw the same snapshot twice: %+v", b.name, seen[0])
		}
	}
}

func TestDispatcher_Targets(t *testing.T) {
	d, _ := newTestDispatcher(t,
		&stubBackend{name: "airline"},
		&stubBackend{name: "hotel"},
	)

	targets := d.Targets()
	if len(targets) != 2 || targets[0] != "airline" || targets[1] != "hotel" {
		t.Errorf("Targets() = %v, want [airline hotel]", targets)
	}
}
