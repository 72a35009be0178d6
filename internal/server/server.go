// Package server exposes the market engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dejavu-markets/dejavu/internal/domain"
	"github.com/dejavu-markets/dejavu/internal/server/handler"
	"github.com/dejavu-markets/dejavu/internal/server/middleware"
	"github.com/dejavu-markets/dejavu/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// rate limiting even when a limiter is provided.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Trades    *handler.TradeHandler
	Settle    *handler.SettleHandler
	Positions *handler.PositionHandler
	Accounts  *handler.AccountHandler
	Audit     *handler.AuditHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. limiter is
// optional; pass nil to run without distributed rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and metrics carry no auth.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Markets.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/prices", handlers.Markets.GetPrices)

	// Trading.
	mux.HandleFunc("GET /api/markets/{id}/quote", handlers.Trades.Quote)
	mux.HandleFunc("POST /api/markets/{id}/buy", handlers.Trades.Buy)

	// Settlement lifecycle.
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Settle.Resolve)
	mux.HandleFunc("POST /api/markets/{id}/dispute", handlers.Settle.Dispute)
	mux.HandleFunc("POST /api/markets/{id}/reinstate", handlers.Settle.Reinstate)
	mux.HandleFunc("POST /api/markets/{id}/redeem", handlers.Settle.Redeem)
	mux.HandleFunc("GET /api/markets/{id}/settlement", handlers.Settle.Report)

	// Positions.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/markets/{id}/positions", handlers.Positions.ListMarketPositions)

	// Treasury accounts.
	mux.HandleFunc("GET /api/accounts/{id}/balance", handlers.Accounts.Balance)
	mux.HandleFunc("POST /api/accounts/{id}/deposit", handlers.Accounts.Deposit)

	// Audit trail.
	mux.HandleFunc("GET /api/audit", handlers.Audit.List)

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}
	h = middleware.Logging(logger)(h)
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
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
