package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/lightspeed-client/pkg/client"
	"github.com/Sternrassler/lightspeed-client/pkg/config"
	"github.com/Sternrassler/lightspeed-client/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	lsClient, redisClient, err := cfg.NewClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Lightspeed client")
	}
	defer lsClient.Close()
	if redisClient != nil {
		defer redisClient.Close()
	}

	addr := ":" + config.GetEnv("PORT", "8080")
	server := &http.Server{
		Addr:              addr,
		Handler:           newMux(lsClient, redisClient),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().
			Str("addr", addr).
			Str("account_id", cfg.Client.Credentials.AccountID).
			Str("error_mode", cfg.Client.ErrorMode.String()).
			Msg("Starting Lightspeed proxy")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Lightspeed proxy stopped")
}

// newMux wires the proxy routes. redisClient may be nil.
func newMux(lsClient *client.Client, redisClient *redis.Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(redisClient))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /lightspeed/{resource}", resourceHandler(lsClient))
	mux.HandleFunc("GET /lightspeed/{resource}/{id}", resourceHandler(lsClient))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, fmt.Sprintf("redis unavailable: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "READY")
	}
}

// pathSegment matches resource names and record IDs.
var pathSegment = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// resourceHandler collects every page of /lightspeed/{resource}[/{id}] and
// returns the items as one JSON array. Query parameters are passed through.
func resourceHandler(lsClient *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resource := r.PathValue("resource")
		id := r.PathValue("id")
		if !pathSegment.MatchString(resource) || (id != "" && !pathSegment.MatchString(id)) {
			http.Error(w, "invalid resource or id", http.StatusBadRequest)
			return
		}

		items, err := lsClient.Get(r.Context(), resource, id, r.URL.Query())
		if err != nil {
			status := http.StatusBadGateway
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				status = http.StatusNotFound
			}
			log.Warn().Err(err).Str("resource", resource).Str("id", id).Msg("Proxy request failed")
			http.Error(w, fmt.Sprintf("lightspeed request failed: %v", err), status)
			return
		}
		if items == nil {
			items = []json.RawMessage{}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Item-Count", fmt.Sprint(len(items)))
		if err := json.NewEncoder(w).Encode(items); err != nil {
			log.Error().Err(err).Msg("Failed to write response")
		}
	}
}
