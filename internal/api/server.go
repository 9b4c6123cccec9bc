// Package api implements the status/metrics HTTP surface: /healthz for
// liveness, /status for a JSON snapshot of engine state, and /metrics
// for the prometheus scrape endpoint.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusProvider supplies the live values reported on /status. Satisfied
// by a thin wiring-layer adapter in cmd/engine over stormguard.Guard,
// gatewaypolicy.Policy, position.Store, and internal/bus.Bus.
type StatusProvider interface {
	StormGuardState() string
	GatewayPolicyMode() string
	BusOverflowTotal() uint64
	Positions() []PositionView
}

// PositionView is one position row reported on /status.
type PositionView struct {
	AccountID   string `json:"account_id"`
	StrategyID  string `json:"strategy_id"`
	Symbol      string `json:"symbol"`
	NetQty      int64  `json:"net_qty"`
	AvgPrice    int64  `json:"avg_price"`
	RealizedPnL int64  `json:"realized_pnl"`
}

// StatusSnapshot is the /status JSON response shape.
type StatusSnapshot struct {
	StormGuardState   string         `json:"storm_guard_state"`
	GatewayPolicyMode string         `json:"gateway_policy_mode"`
	BusOverflowTotal  uint64         `json:"bus_overflow_total"`
	Positions         []PositionView `json:"positions"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

// Server is the status/metrics HTTP surface.
type Server struct {
	provider StatusProvider
	registry *prometheus.Registry
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the three routes onto an *http.Server with
// conservative read/write/idle timeouts.
func NewServer(addr string, provider StatusProvider, registry *prometheus.Registry, logger *slog.Logger) *Server {
	logger = logger.With("component", "api-server")
	mux := http.NewServeMux()

	h := &handlers{provider: provider, logger: logger}
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/status", h.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{
		provider: provider,
		registry: registry,
		logger:   logger,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start blocks serving HTTP until Stop is called or ListenAndServe fails.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("api server stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

type handlers struct {
	provider StatusProvider
	logger   *slog.Logger
}

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := StatusSnapshot{
		StormGuardState:   h.provider.StormGuardState(),
		GatewayPolicyMode: h.provider.GatewayPolicyMode(),
		BusOverflowTotal:  h.provider.BusOverflowTotal(),
		Positions:         h.provider.Positions(),
		GeneratedAt:       time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		h.logger.Error("failed to encode status snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
