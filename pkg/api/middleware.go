// pkg/api/middleware.go
package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Middleware represents a function that wraps an http.HandlerFunc
type Middleware func(http.HandlerFunc) http.HandlerFunc

// MiddlewareChain represents a chain of middleware
type MiddlewareChain struct {
	middlewares []Middleware
}

// NewMiddlewareChain creates a new middleware chain
func NewMiddlewareChain(middlewares ...Middleware) *MiddlewareChain {
	return &MiddlewareChain{middlewares: middlewares}
}

// Then applies the middleware chain to a handler
func (c *MiddlewareChain) Then(handler http.HandlerFunc) http.HandlerFunc {
	// Apply in reverse so execution follows registration order
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}
	return handler
}

func (s *Server) loggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		s.logger.Debug("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	}
}

func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			if !s.limiter.GetLimiter(clientKey(r)).Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next(w, r)
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimiterStore manages per-client rate limiters with idle cleanup.
type RateLimiterStore struct {
	limiters      map[string]*rateLimiterEntry
	mu            sync.Mutex
	defaultRate   rate.Limit
	defaultBurst  int
	cleanupPeriod time.Duration
	maxIdle       time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

type rateLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiterStore creates a rate limiter store with automatic
// cleanup of idle entries.
func NewRateLimiterStore(perSecond float64, burst int, cleanupPeriod, maxIdle time.Duration) *RateLimiterStore {
	store := &RateLimiterStore{
		limiters:      make(map[string]*rateLimiterEntry),
		defaultRate:   rate.Limit(perSecond),
		defaultBurst:  burst,
		cleanupPeriod: cleanupPeriod,
		maxIdle:       maxIdle,
		stopChan:      make(chan struct{}),
	}

	store.wg.Add(1)
	go store.cleanupLoop()

	return store
}

// GetLimiter retrieves or creates a rate limiter for a given key
func (s *RateLimiterStore) GetLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.limiters[key]
	if !exists {
		entry = &rateLimiterEntry{
			limiter: rate.NewLimiter(s.defaultRate, s.defaultBurst),
		}
		s.limiters[key] = entry
	}
	entry.lastAccess = time.Now()

	return entry.limiter
}

// Close stops the cleanup goroutine.
func (s *RateLimiterStore) Close() {
	close(s.stopChan)
	s.wg.Wait()
}

func (s *RateLimiterStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopChan:
			return
		}
	}
}

func (s *RateLimiterStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, entry := range s.limiters {
		if now.Sub(entry.lastAccess) > s.maxIdle {
			delete(s.limiters, key)
		}
	}
}
