// Package reqctx carries traveler-scoped request state across the fan-out
// boundary. A Snapshot is captured once per inbound request and attached by
// value to each concurrent backend call's context, so per-call customization
// (loyalty headers) does not depend on which worker goroutine runs the call.
package reqctx

import (
	"context"
	"net/http"
	"time"
)

// Header names used to carry traveler identity on HTTP requests.
const (
	HeaderTravelerID     = "X-Traveler-Id"
	HeaderLoyaltyProgram = "X-Loyalty-Program"
	HeaderLoyaltyTier    = "X-Loyalty-Tier"
	HeaderRequestID      = "X-Request-Id"
)

// Snapshot is an immutable copy of the caller's ambient request state.
// It is always passed by value; two sessions never share a Snapshot.
type Snapshot struct {
	// TravelerID identifies the traveler making the trip request.
	TravelerID string

	// LoyaltyProgram is the traveler's membership program (e.g., "skymiles").
	LoyaltyProgram string

	// LoyaltyTier is the membership tier used for fare customization.
	LoyaltyTier string

	// RequestID correlates all backend calls belonging to one trip request.
	RequestID string
}

type snapshotKey struct{}

// WithSnapshot returns a context carrying the snapshot.
func WithSnapshot(ctx context.Context, s Snapshot) context.Context {
	return context.WithValue(ctx, snapshotKey{}, s)
}

// FromContext returns the snapshot stored on the context, if any.
func FromContext(ctx context.Context) (Snapshot, bool) {
	s, ok := ctx.Value(snapshotKey{}).(Snapshot)
	return s, ok
}

// Capture reads the caller's snapshot from the inbound context.
// Returns a zero snapshot when the caller carries no traveler state,
// which is valid for anonymous trip requests.
func Capture(ctx context.Context) Snapshot {
	s, _ := FromContext(ctx)
	return s
}

// FromHeaders builds a snapshot from inbound HTTP request headers.
func FromHeaders(h http.Header) Snapshot {
	return Snapshot{
		TravelerID:     h.Get(HeaderTravelerID),
		LoyaltyProgram: h.Get(HeaderLoyaltyProgram),
		LoyaltyTier:    h.Get(HeaderLoyaltyTier),
		RequestID:      h.Get(HeaderRequestID),
	}
}

// ApplyHeaders writes the snapshot onto an outbound request's headers.
// Empty fields are omitted so backends see only what the caller provided.
func (s Snapshot) ApplyHeaders(h http.Header) {
	if s.TravelerID != "" {
		h.Set(HeaderTravelerID, s.TravelerID)
	}
	if s.LoyaltyProgram != "" {
		h.Set(HeaderLoyaltyProgram, s.LoyaltyProgram)
	}
	if s.LoyaltyTier != "" {
		h.Set(HeaderLoyaltyTier, s.LoyaltyTier)
	}
	if s.RequestID != "" {
		h.Set(HeaderRequestID, s.RequestID)
	}
}

// NewCallContext builds a fresh context for one backend call. The context
// carries a copy of the snapshot but derives from context.Background, not
// the inbound request context: a caller abandoning the join must not cancel
// calls that are already in flight.
func (s Snapshot) NewCallContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := WithSnapshot(context.Background(), s)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// IsZero reports whether the snapshot carries no traveler state.
func (s Snapshot) IsZero() bool {
	return s == Snapshot{}
}
