// Package cache provides fare quote caching with a Redis backend.
//
// The cache manager keeps recently fetched fare quotes so repeated trip
// requests for the same route, dates, and loyalty tier do not hit the
// backends again. Features:
//
// - TTL driven by backend expires headers (quotes age out on their own)
// - ETag support for conditional requests (If-None-Match)
// - Last-Modified support (If-Modified-Since)
// - Prometheus metrics for observability
// - Deterministic cache key generation per target/route/dates/tier
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create cache manager
//	manager := cache.NewManager(redisClient)
//
//	// Create cache key
//	key := cache.QuoteKey{
//		Target:      "hotel",
//		Origin:      "SFO",
//		Destination: "JFK",
//		StartDate:   start,
//		EndDate:     end,
//	}
//
//	// Get from cache
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// Cache miss - fetch from the fare backend
//	}
//
// # HTTP Response Caching
//
//	// Convert HTTP response to cache entry
//	entry, err := cache.ResponseToEntry(resp)
//	if err != nil {
//		return err
//	}
//
//	// Store in cache
//	if err := manager.Set(ctx, key, entry); err != nil {
//		return err
//	}
//
// # Conditional Requests
//
//	// Check if we should make a conditional request
//	if cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//		// Make request - the backend returns 304 if the fare is unchanged
//	}
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - tripquote_cache_hits_total{layer="redis"} - Cache hits
//   - tripquote_cache_misses_total - Cache misses
//   - tripquote_cache_size_bytes{layer="redis"} - Cache size
//   - tripquote_304_responses_total - Conditional request successes
//   - tripquote_cache_errors_total{operation} - Cache operation errors
//
// Loyalty tiers never share entries: a gold-tier hotel rate must not be
// served to an anonymous traveler, so the tier is part of the key.
package cache
