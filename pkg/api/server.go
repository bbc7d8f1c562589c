// pkg/api/server.go
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/helioscoin/helios-blockchain/internal/chain"
)

// Server exposes the read-only chain query surface over HTTP. Mutation
// never happens here; blocks reach the engine through the sync layer.
type Server struct {
	chainState *chain.ChainState
	logger     *zap.Logger
	server     *http.Server
	limiter    *RateLimiterStore
}

// Config contains API server configuration
type Config struct {
	ChainState *chain.ChainState
	Logger     *zap.Logger
	Address    string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	RateLimitEnabled bool
	RateLimitPerSec  float64
	RateLimitBurst   int
}

// NewServer creates the query API server.
func NewServer(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		chainState: cfg.ChainState,
		logger:     logger.Named("api"),
	}

	if cfg.RateLimitEnabled {
		s.limiter = NewRateLimiterStore(cfg.RateLimitPerSec, cfg.RateLimitBurst,
			5*time.Minute, 10*time.Minute)
	}

	mw := NewMiddlewareChain(
		s.loggingMiddleware,
		s.rateLimitMiddleware,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/chain/height", mw.Then(s.handleHeight))
	mux.HandleFunc("/chain/tip", mw.Then(s.handleTip))
	mux.HandleFunc("/chain/block/", mw.Then(s.handleBlockByHash))
	mux.HandleFunc("/chain/height/", mw.Then(s.handleBlockByHeight))
	mux.HandleFunc("/chain/forks", mw.Then(s.handleForks))
	mux.HandleFunc("/chain/metrics", mw.Then(s.handleForkMetrics))
	mux.HandleFunc("/chain/invalid", mw.Then(s.handleInvalidStats))

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 15 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return s
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("API server starting", zap.String("address", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
