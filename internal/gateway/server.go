// Package gateway wires the HTTP surface of the dispatch layer: the
// gin engine with its middleware chain, thin proxy routes per backend,
// operational status endpoints and the Prometheus exporter.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/circuitbreaker"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/config"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/dispatch"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/events"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/health"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/middleware"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/ratelimit"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/stats"
)

// Dependencies are the resolved components the server exposes.
type Dependencies struct {
	Dispatcher *dispatch.Dispatcher
	Monitor    *health.Monitor
	Collector  *stats.Collector
	Breakers   *circuitbreaker.Registry
	Limiter    ratelimit.Limiter
	Bus        *events.Bus
	Logger     *zap.Logger
}

// Server serves the gateway API and, on its own listener, the metrics
// endpoint.
type Server struct {
	config *config.Config
	logger *zap.Logger

	dispatcher  *dispatch.Dispatcher
	monitor     *health.Monitor
	collector   *stats.Collector
	breakers    *circuitbreaker.Registry
	transitions *TransitionLog

	httpServer    *http.Server
	metricsServer *http.Server
}

// operationalPrefixes are always exempt from rate limiting.
var operationalPrefixes = []string{"/healthz", "/api/v1/status", "/api/v1/stats"}

// New builds the server and its router.
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:     cfg,
		logger:     logger,
		dispatcher: deps.Dispatcher,
		monitor:    deps.Monitor,
		collector:  deps.Collector,
		breakers:   deps.Breakers,
	}
	if deps.Bus != nil {
		s.transitions = NewTransitionLog(deps.Bus)
	}

	engine, err := s.buildRouter(deps.Limiter)
	if err != nil {
		return nil, err
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout),
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		s.metricsServer = &http.Server{
			Addr:    cfg.Metrics.Address,
			Handler: mux,
		}
	}

	return s, nil
}

// buildRouter assembles the middleware chain and routes.
func (s *Server) buildRouter(limiter ratelimit.Limiter) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.Recovery(s.logger))
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logging(s.logger))

	if s.config.RateLimit.Enabled && limiter != nil {
		skip := append([]string{}, operationalPrefixes...)
		skip = append(skip, s.config.RateLimit.SkipPathPrefixes...)

		rl, err := middleware.RateLimit(middleware.RateLimitOptions{
			Limiter:          limiter,
			SkipPathPrefixes: skip,
			Allowlist:        s.config.RateLimit.Allowlist,
			ServiceToken:     s.config.RateLimit.ServiceToken,
			Logger:           s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build rate limit middleware: %w", err)
		}
		engine.Use(rl)
	}

	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/api/v1/status", s.handleStatusAll)
	engine.GET("/api/v1/status/:backend", s.handleStatusBackend)
	engine.GET("/api/v1/stats/:backend", s.handleStatsBackend)

	for _, b := range s.config.Backends {
		if b.RoutePrefix == "" {
			continue
		}
		handle, err := s.dispatcher.GetHandle(b.Name)
		if err != nil {
			return nil, err
		}
		engine.Any(b.RoutePrefix+"/*rpc", proxyHandler(handle))
	}

	return engine, nil
}

// Start serves until the listener closes. It blocks; run it in a
// goroutine and call Shutdown to stop.
func (s *Server) Start() error {
	if s.metricsServer != nil {
		go func() {
			s.logger.Info("metrics server listening", zap.String("address", s.metricsServer.Addr))
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	s.logger.Info("gateway listening", zap.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error

	if err := s.httpServer.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.transitions != nil {
		s.transitions.Stop()
	}

	return firstErr
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
