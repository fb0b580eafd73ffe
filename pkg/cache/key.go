package cache

import (
	"fmt"
	"strings"
	"time"
)

// DateFormat is the wire format for trip dates in cache keys and queries.
const DateFormat = "2006-01-02"

// QuoteKey uniquely identifies a cached fare quote.
type QuoteKey struct {
	// Target is the fare backend name (e.g., "airline", "hotel", "car")
	Target string

	// Origin is the departure location code
	Origin string

	// Destination is the arrival location code
	Destination string

	// StartDate is the first day of the trip
	StartDate time.Time

	// EndDate is the last day of the trip
	EndDate time.Time

	// LoyaltyTier is the traveler's membership tier; fares differ per tier,
	// so tiers must never share cache entries (empty for anonymous requests)
	LoyaltyTier string
}

// String generates a deterministic cache key string.
// Format: fare:target:origin:destination:start:end[:tier=gold]
//
// Example:
//
//	fare:hotel:SFO:JFK:2026-09-01:2026-09-05:tier=gold
func (k QuoteKey) String() string {
	parts := []string{
		"fare",
		strings.ToLower(k.Target),
		strings.ToUpper(k.Origin),
		strings.ToUpper(k.Destination),
		k.StartDate.Format(DateFormat),
		k.EndDate.Format(DateFormat),
	}

	if k.LoyaltyTier != "" {
		parts = append(parts, fmt.Sprintf("tier=%s", strings.ToLower(k.LoyaltyTier)))
	}

	return strings.Join(parts, ":")
}
