package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/domain"
	"github.com/alanyoungcy/consensusbot/internal/server/handler"
	"github.com/alanyoungcy/consensusbot/internal/server/middleware"
	"github.com/alanyoungcy/consensusbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// WebhookRateLimit is the number of webhook deliveries allowed per
	// client IP per WebhookRateWindow. Zero disables rate limiting.
	WebhookRateLimit  int
	WebhookRateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Webhook  *handler.WebhookHandler
	Signals  *handler.SignalHandler
	Clusters *handler.ClusterHandler
	Metrics  http.Handler
}

// Server is the webhook, query and live-feed API of the consensus engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// Health and metrics are unauthenticated; everything else goes through the
// API-key check. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, handlers, wsHub, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Routes builds the full handler chain. It is exported for tests.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.Auth(cfg.APIKey)

	// Health check and metrics (no auth required).
	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// Trade ingestion.
	if handlers.Webhook != nil {
		var ingest http.Handler = http.HandlerFunc(handlers.Webhook.IngestTrades)
		if limiter != nil && cfg.WebhookRateLimit > 0 {
			ingest = middleware.RateLimit(limiter, "webhook", cfg.WebhookRateLimit, cfg.WebhookRateWindow)(ingest)
		}
		mux.Handle("POST /api/webhooks/trades", auth(ingest))
	}

	// Signal queries.
	if handlers.Signals != nil {
		mux.Handle("GET /api/signals", auth(http.HandlerFunc(handlers.Signals.ListActive)))
		mux.Handle("GET /api/signals/{token}", auth(http.HandlerFunc(handlers.Signals.ListByToken)))
	}

	if handlers.Clusters != nil {
		mux.Handle("POST /api/clusters/evaluate", auth(http.HandlerFunc(handlers.Clusters.Evaluate)))
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.Handle("GET /ws", auth(http.HandlerFunc(wsHub.HandleWS)))
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
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
