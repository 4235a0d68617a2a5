// Package server exposes the read-only control API: trade snapshots,
// receipts, health, and Prometheus metrics, guarded by the HMAC bridge
// token.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intercomswap/swapd/internal/crypto"
	"github.com/intercomswap/swapd/internal/domain"
)

// Config holds the control server configuration.
type Config struct {
	Port int
	// BridgeToken guards /v1; empty disables auth (simnet only).
	BridgeToken string
	// StripUnitSuffix is forwarded to argument repair on offer posts.
	StripUnitSuffix bool
}

// SwapStarter initiates a swap; wired in client mode only.
type SwapStarter interface {
	StartSwap(ctx context.Context, btcSats uint64, usdtAmount string) (tradeID string, err error)
}

// Server is the headless control API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the server with all routes registered. starter may be nil;
// offer posts then return 404.
func New(cfg Config, trades domain.TradeStore, receipts domain.ReceiptStore,
	starter SwapStarter, registry *prometheus.Registry, logger *slog.Logger) *Server {

	mux := http.NewServeMux()
	log := logger.With(slog.String("component", "control_server"))

	// Health and metrics are unauthenticated.
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	auth := bridgeAuth(cfg.BridgeToken)

	mux.Handle("GET /v1/trades", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snaps, err := trades.List(r.Context(), domain.ListOpts{Limit: 200})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"trades": snaps})
	})))

	mux.Handle("GET /v1/trades/{id}", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		snap, err := trades.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})))

	mux.Handle("GET /v1/trades/{id}/receipts", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		list, err := receipts.ListByTrade(r.Context(), id, domain.ListOpts{Limit: 500})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"receipts": list})
	})))

	if starter != nil {
		mux.Handle("POST /v1/swaps", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handleOfferPost(w, r, starter, cfg.StripUnitSuffix)
		})))
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           logRequests(log, mux),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: log,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
}

// bridgeAuth validates the HMAC bridge-token headers on every request.
func bridgeAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			auth := crypto.BridgeAuth{Token: token}
			err := auth.Check(r.Method, r.URL.Path,
				r.Header.Get(crypto.HeaderTimestamp),
				r.Header.Get(crypto.HeaderSignature),
				time.Now().Unix())
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("took", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
