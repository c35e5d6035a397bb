package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowquant/flowrisk/internal/domain"
	"github.com/flowquant/flowrisk/internal/server/handler"
	"github.com/flowquant/flowrisk/internal/server/middleware"
	"github.com/flowquant/flowrisk/internal/server/ws"
)

// Per-client API rate limit applied when a limiter is configured.
const (
	rateLimitRequests = 120
	rateLimitWindow   = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Positions *handler.PositionHandler
	Reports   *handler.ReportHandler
	Evaluate  *handler.EvaluateHandler
	Market    *handler.MarketHandler
	Alerts    *handler.AlertHandler
	Archive   *handler.ArchiveHandler // nil when object storage is not wired
}

// Server is the headless HTTP + WebSocket API for the risk monitor.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Position endpoints.
	mux.HandleFunc("POST /api/positions", handlers.Positions.TrackPosition)
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	mux.HandleFunc("GET /api/positions/{id}/reports", handlers.Reports.ListPositionReports)

	// Report endpoints. The literal route must be registered alongside the
	// {id} route; Go's mux prefers the more specific pattern.
	mux.HandleFunc("GET /api/reports/liquidatable", handlers.Reports.ListLiquidatable)
	mux.HandleFunc("GET /api/reports/{id}", handlers.Reports.GetReport)

	// On-demand evaluation.
	mux.HandleFunc("POST /api/evaluate", handlers.Evaluate.Evaluate)
	mux.HandleFunc("POST /api/evaluate/run", handlers.Evaluate.EvaluateAll)

	// Market snapshot endpoints.
	mux.HandleFunc("GET /api/market", handlers.Market.GetMarket)
	mux.HandleFunc("GET /api/market/prices", handlers.Market.GetPrices)
	mux.HandleFunc("GET /api/market/prices/{asset}", handlers.Market.GetPrice)

	// Alert history.
	mux.HandleFunc("GET /api/alerts", handlers.Alerts.ListAlerts)

	// Archived report pages, available when object storage is wired.
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archive", handlers.Archive.ListArchive)
		mux.HandleFunc("GET /api/archive/{month}/{file}", handlers.Archive.GetArchivePage)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when a limiter is available.
	if limiter != nil {
		h = middleware.RateLimit(limiter, rateLimitRequests, rateLimitWindow)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
