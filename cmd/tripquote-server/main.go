package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/voyagent/tripquote/pkg/backend"
	"github.com/voyagent/tripquote/pkg/cache"
	"github.com/voyagent/tripquote/pkg/fanout"
	"github.com/voyagent/tripquote/pkg/logging"
	"github.com/voyagent/tripquote/pkg/pool"
	"github.com/voyagent/tripquote/pkg/reqctx"
)

func main() {
	// Configuration from environment
	redisURL := getEnv("REDIS_URL", "localhost:6379")
	port := getEnv("PORT", "8080")
	userAgent := getEnv("USER_AGENT", "tripquote/0.1.0")
	airlineURL := getEnv("AIRLINE_URL", "http://localhost:9001")
	hotelURL := getEnv("HOTEL_URL", "http://localhost:9002")
	carURL := getEnv("CAR_URL", "http://localhost:9003")
	poolWorkers := getEnvInt("POOL_WORKERS", 10)

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "") == "true",
		Output: os.Stderr,
	})

	// Setup Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})

	// Ping Redis
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("redis_url", redisURL).Msg("Failed to connect to Redis")
	}
	logger.Info().Str("redis_url", redisURL).Msg("Connected to Redis")

	// One typed client per fare backend
	targets := map[string]string{
		"airline": airlineURL,
		"hotel":   hotelURL,
		"car":     carURL,
	}

	backends := make([]fanout.FareBackend, 0, len(targets))
	for _, target := range []string{"airline", "hotel", "car"} {
		c, err := backend.New(backend.DefaultConfig(redisClient, target, targets[target], userAgent))
		if err != nil {
			logger.Fatal().Err(err).Str("target", target).Msg("Failed to create backend client")
		}
		defer c.Close()
		backends = append(backends, c)
	}

	// Bounded worker pool shared by all sessions
	workerPool := pool.New(pool.Config{Workers: poolWorkers, QueueSize: poolWorkers * 10}, logger)
	defer workerPool.Close()

	dispatcher, err := fanout.NewDispatcher(workerPool, backends, fanout.DefaultConfig(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create dispatcher")
	}

	// HTTP Server
	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/ready", readyHandler(redisClient))
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/v1/trips/quote", quoteHandler(dispatcher, logger))

	addr := ":" + port
	logger.Info().
		Str("addr", addr).
		Str("user_agent", userAgent).
		Strs("targets", dispatcher.Targets()).
		Int("pool_workers", poolWorkers).
		Msg("Starting trip quote server")

	if err := http.ListenAndServe(addr, nil); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			http.Error(w, fmt.Sprintf("Redis not ready: %v", err), http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// quoteRequest is the inbound trip quote payload.
type quoteRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// quoteResponse is the aggregated quote payload.
type quoteResponse struct {
	Total    float64             `json:"total"`
	Currency string              `json:"currency"`
	Quotes   []backend.FareQuote `json:"quotes"`
}

// errorResponse is the error payload for failed quote requests.
type errorResponse struct {
	Error  string `json:"error"`
	Target string `json:"target,omitempty"`
}

func quoteHandler(dispatcher *fanout.Dispatcher, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var payload quoteRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}

		req, err := parseTripRequest(payload)
		if err != nil {
			writeError(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		// Traveler identity from the inbound headers travels with the request.
		snap := reqctx.FromHeaders(r.Header)
		ctx := reqctx.WithSnapshot(r.Context(), snap)

		start := time.Now()
		session, err := dispatcher.Dispatch(ctx, req)
		if err != nil {
			writeError(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		result, err := session.Wait(ctx)
		if err != nil {
			if errors.Is(err, fanout.ErrInterrupted) {
				writeError(w, http.StatusGatewayTimeout, errorResponse{Error: "quote aggregation interrupted"})
				return
			}

			resp := errorResponse{Error: err.Error()}
			var be *backend.BackendError
			if errors.As(err, &be) {
				resp.Target = be.Target
			}
			writeError(w, http.StatusBadGateway, resp)
			return
		}

		logger.Info().
			Str("from", req.From).
			Str("to", req.To).
			Str("request_id", snap.RequestID).
			Int64("total_cents", result.TotalCents).
			Dur("duration", time.Since(start)).
			Msg("Trip quote complete")

		currency := "USD"
		if len(result.Quotes) > 0 {
			currency = result.Quotes[0].Currency
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(quoteResponse{
			Total:    result.Total(),
			Currency: currency,
			Quotes:   result.Quotes,
		})
	}
}

// parseTripRequest validates the payload and parses its dates.
func parseTripRequest(payload quoteRequest) (fanout.TripRequest, error) {
	if payload.From == "" || payload.To == "" {
		return fanout.TripRequest{}, fmt.Errorf("from and to are required")
	}

	startDate, err := time.Parse(cache.DateFormat, payload.StartDate)
	if err != nil {
		return fanout.TripRequest{}, fmt.Errorf("invalid start_date: %v", err)
	}

	endDate, err := time.Parse(cache.DateFormat, payload.EndDate)
	if err != nil {
		return fanout.TripRequest{}, fmt.Errorf("invalid end_date: %v", err)
	}

	return fanout.TripRequest{
		From:      payload.From,
		To:        payload.To,
		StartDate: startDate,
		EndDate:   endDate,
	}, nil
}

func writeError(w http.ResponseWriter, status int, resp errorResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
