package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/circuitbreaker"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/config"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/dispatch"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/events"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/gateway"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/health"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/observability"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/ratelimit"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/ratelimit/store"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/stats"
)

// application holds every long-lived component in dependency order.
type application struct {
	cfg    *config.Config
	logger *zap.Logger

	bus        *events.Bus
	tracer     *observability.Tracer
	dispatcher *dispatch.Dispatcher
	monitor    *health.Monitor
	limiter    *ratelimit.DistributedLimiter
	redisStore *store.RedisStore
	watcher    *config.Watcher
	server     *gateway.Server

	serverErr chan error
}

// buildApplication wires the components. Pool initialization failures
// propagate up and abort startup; the gateway never serves traffic
// against a partial pool.
func buildApplication(cfg *config.Config, configPath string, logger *zap.Logger) (*application, error) {
	app := &application{
		cfg:       cfg,
		logger:    logger,
		bus:       events.NewBus(64),
		serverErr: make(chan error, 1),
	}

	tracer, err := observability.NewTracer(context.Background(), observability.TracerConfig{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	app.tracer = tracer

	backendNames := make([]string, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		backendNames = append(backendNames, b.Name)
	}

	cbConfig := &circuitbreaker.Config{
		ErrorThresholdPercent: cfg.CircuitBreaker.ErrorThresholdPercent,
		VolumeThreshold:       cfg.CircuitBreaker.VolumeThreshold,
		BucketCount:           cfg.CircuitBreaker.BucketCount,
		BucketDuration:        time.Duration(cfg.CircuitBreaker.BucketDuration),
		ResetTimeout:          time.Duration(cfg.CircuitBreaker.ResetTimeout),
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			app.bus.Publish(events.StatusEvent{
				Kind:     events.KindBreaker,
				Backend:  name,
				Previous: from.String(),
				Current:  to.String(),
			})
		},
	}
	registry := circuitbreaker.NewRegistry(backendNames, cbConfig, logger)
	collector := stats.NewCollector(backendNames)

	dispatcher, err := dispatch.New(cfg.Backends, registry, collector, logger)
	if err != nil {
		return nil, err
	}
	app.dispatcher = dispatcher

	targets := make([]health.Target, 0, len(cfg.Backends))
	for _, name := range backendNames {
		handle, err := dispatcher.GetHandle(name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, health.Target{Name: name, Pool: handle.Pool()})
	}
	app.monitor = health.NewMonitor(health.Config{
		ProbeInterval: time.Duration(cfg.HealthMonitor.ProbeInterval),
		ProbeTimeout:  time.Duration(cfg.HealthMonitor.ProbeTimeout),
	}, targets, app.bus, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		app.redisStore = store.NewRedisStore(&store.RedisConfig{
			Address:      cfg.RateLimit.Redis.Address,
			Password:     cfg.RateLimit.Redis.Password,
			DB:           cfg.RateLimit.Redis.DB,
			KeyPrefix:    cfg.RateLimit.Redis.KeyPrefix,
			DialTimeout:  time.Duration(cfg.RateLimit.Redis.DialTimeout),
			ReadTimeout:  time.Duration(cfg.RateLimit.Redis.ReadTimeout),
			WriteTimeout: time.Duration(cfg.RateLimit.Redis.WriteTimeout),
			Logger:       logger,
		})
		app.limiter = ratelimit.NewDistributedLimiter(ratelimit.DistributedLimiterConfig{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      time.Duration(cfg.RateLimit.Window),
			Store:       app.redisStore,
			Logger:      logger,
			Bus:         app.bus,
		})
		limiter = app.limiter
	}

	server, err := gateway.New(cfg, gateway.Dependencies{
		Dispatcher: dispatcher,
		Monitor:    app.monitor,
		Collector:  collector,
		Breakers:   registry,
		Limiter:    limiter,
		Bus:        app.bus,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	app.server = server

	// Only rate-limit thresholds reload at runtime; backends, pools and
	// breakers are fixed for the process lifetime.
	watcher, err := config.NewWatcher(configPath, app.applyReload,
		config.WithWatcherLogger(logger))
	if err != nil {
		return nil, err
	}
	app.watcher = watcher

	return app, nil
}

func (a *application) applyReload(next *config.Config) {
	if a.limiter == nil {
		return
	}
	a.limiter.UpdateLimits(next.RateLimit.MaxRequests, time.Duration(next.RateLimit.Window))
	a.logger.Info("rate limit thresholds reloaded",
		zap.Int("maxRequests", next.RateLimit.MaxRequests),
		zap.Duration("window", time.Duration(next.RateLimit.Window)),
	)
}

func (a *application) start() {
	a.monitor.Start()

	if err := a.watcher.Start(context.Background()); err != nil {
		a.logger.Warn("config watcher failed to start, hot reload disabled", zap.Error(err))
	}

	go func() {
		a.serverErr <- a.server.Start()
	}()
}

// shutdown stops components in reverse dependency order.
func (a *application) shutdown(ctx context.Context) {
	a.monitor.Stop()

	if err := a.watcher.Stop(); err != nil {
		a.logger.Warn("config watcher stop failed", zap.Error(err))
	}

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("server shutdown failed", zap.Error(err))
	}

	if err := a.dispatcher.Close(); err != nil {
		a.logger.Warn("closing connection pools failed", zap.Error(err))
	}

	if a.redisStore != nil {
		if err := a.redisStore.Close(); err != nil {
			a.logger.Warn("closing rate limit store failed", zap.Error(err))
		}
	}

	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("tracer shutdown failed", zap.Error(err))
	}

	a.bus.Close()
}
