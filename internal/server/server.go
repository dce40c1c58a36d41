package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/server/handler"
	"github.com/alanyoungcy/yieldmarket/internal/server/middleware"
	"github.com/alanyoungcy/yieldmarket/internal/server/ws"
)

// signatureSkew is how far a signed request's timestamp may drift.
const signatureSkew = 5 * time.Minute

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// SignatureAuth enables signed mutating requests. When off the caller is
	// taken from the X-Caller header.
	SignatureAuth bool

	// RateLimit is requests per RateWindow per client; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Yield    *handler.YieldHandler
	Registry *handler.RegistryHandler
	Tokens   *handler.TokenHandler
	Events   *handler.EventHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil, which disables rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{address}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{address}/quote", handlers.Markets.Quote)
	mux.HandleFunc("POST /api/markets/{address}/swap", handlers.Markets.Swap)
	mux.HandleFunc("POST /api/markets/{address}/liquidity", handlers.Markets.Liquidity)

	mux.HandleFunc("GET /api/yield/{source}/{underlying}/{expiry}", handlers.Yield.GetContract)
	mux.HandleFunc("POST /api/yield/tokenize", handlers.Yield.Tokenize)
	mux.HandleFunc("POST /api/yield/redeem", handlers.Yield.Redeem)
	mux.HandleFunc("POST /api/yield/renew", handlers.Yield.Renew)

	mux.HandleFunc("GET /api/registry/tokens/{source}/{underlying}/{expiry}", handlers.Registry.ClaimTokens)
	mux.HandleFunc("GET /api/registry/sources", handlers.Registry.Sources)

	mux.HandleFunc("GET /api/tokens", handlers.Tokens.ListTokens)
	mux.HandleFunc("GET /api/tokens/{token}/balances/{owner}", handlers.Tokens.Balance)
	mux.HandleFunc("POST /api/tokens/approve", handlers.Tokens.Approve)

	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Outermost first: CORS, logging, rate limit, auth.
	var h http.Handler = mux
	auth := middleware.AuthConfig{Enabled: cfg.SignatureAuth, MaxSkew: signatureSkew}
	if cfg.SignatureAuth {
		auth.Replay = middleware.NewReplayGuard(2 * signatureSkew)
	}
	h = middleware.SignatureAuth(auth)(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	readTimeout, writeTimeout := cfg.ReadTimeout, cfg.WriteTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Handler returns the full middleware chain, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

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
