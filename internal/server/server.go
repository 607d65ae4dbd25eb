// Package server exposes the read-only HTTP API over the running bot.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/server/handler"
	"github.com/iambrands/ai-ml-trading-bot/internal/server/middleware"
	"github.com/iambrands/ai-ml-trading-bot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string  // if empty, authentication is disabled
	RateLimit   float64 // requests per second per client; 0 disables
	RateBurst   int
}

// Handlers aggregates the HTTP handlers the server registers. Nil handlers
// leave their routes unregistered, except Health which is required.
type Handlers struct {
	Health    *handler.HealthHandler
	Portfolio *handler.PortfolioHandler
	Trades    *handler.TradeHandler
	Breaker   *handler.BreakerHandler
	Events    *handler.EventHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain applied. wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, wsHub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the handler tree. It is separate from NewServer so tests can
// mount it on httptest.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+middleware.HealthPath, handlers.Health.HealthCheck)

	if h := handlers.Portfolio; h != nil {
		mux.HandleFunc("GET /api/portfolio", h.GetPortfolio)
		mux.HandleFunc("GET /api/positions", h.ListPositions)
		mux.HandleFunc("GET /api/metrics", h.GetMetrics)
	}
	if h := handlers.Trades; h != nil {
		mux.HandleFunc("GET /api/trades", h.ListTrades)
	}
	if h := handlers.Breaker; h != nil {
		mux.HandleFunc("GET /api/breaker", h.GetBreaker)
	}
	if h := handlers.Events; h != nil {
		mux.HandleFunc("GET /api/events", h.ListEvents)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.RateLimit(cfg.RateLimit, cfg.RateBurst)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.logger.InfoContext(ctx, "server: starting", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
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
