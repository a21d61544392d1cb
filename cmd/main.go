package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angeloszaimis/caching-proxy/config"
	"github.com/angeloszaimis/caching-proxy/internal/backend"
	"github.com/angeloszaimis/caching-proxy/internal/cache"
	"github.com/angeloszaimis/caching-proxy/internal/forwarder"
	"github.com/angeloszaimis/caching-proxy/internal/handler"
	"github.com/angeloszaimis/caching-proxy/internal/healthcheck"
	"github.com/angeloszaimis/caching-proxy/internal/httpserver"
	"github.com/angeloszaimis/caching-proxy/internal/loadbalancer"
	"github.com/angeloszaimis/caching-proxy/internal/metrics"
	"github.com/angeloszaimis/caching-proxy/internal/strategy"
	"github.com/angeloszaimis/caching-proxy/pkg/logger"
)

const collectorBufferSize = 256

var errNoBackends = errors.New("no usable backend URLs configured")

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	backends, err := initializeBackends(cfg, log)
	if err != nil {
		log.Error("Failed to initialize backends", slog.Any("err", err))
		os.Exit(1)
	}

	lb, err := loadbalancer.New(backends, strategy.NewRoundRobinStrategy())
	if err != nil {
		log.Error("Failed to create load balancer", slog.Any("err", err))
		os.Exit(1)
	}

	responseCache := cache.New(cfg.TTL(), cache.WithLogger(log))
	if err := startCacheJanitor(ctx, cfg, responseCache); err != nil {
		log.Error("Invalid cache sweep interval", slog.Any("err", err))
		os.Exit(1)
	}

	forwardTimeout, err := time.ParseDuration(cfg.Forwarder.Timeout)
	if err != nil {
		log.Error("Invalid forwarder timeout", slog.Any("err", err))
		os.Exit(1)
	}
	fwd := forwarder.New(forwardTimeout, forwarder.WithLogger(log))

	proxyMetrics := metrics.NewMetrics(cfg.Metrics.WindowSize)
	collector := metrics.NewCollector(collectorBufferSize, proxyMetrics, log)
	collector.Start(ctx)

	if err := startHealthChecks(ctx, cfg, backends, collector, log); err != nil {
		log.Error("Failed to start health checks", slog.Any("err", err))
		os.Exit(1)
	}

	proxyHandler := handler.NewProxyHandler(log, lb, responseCache, fwd, proxyMetrics, handlerOptions(cfg)...)
	router := setupRouter(log, proxyHandler, responseCache, proxyMetrics, lb)

	writeTimeout, err := serverWriteTimeout(cfg, forwardTimeout)
	if err != nil {
		log.Error("Invalid server write timeout", slog.Any("err", err))
		os.Exit(1)
	}

	srv, err := httpserver.New(cfg.Server.Address, router, httpserver.WithWriteTimeout(writeTimeout))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("Caching proxy listening",
		slog.String("addr", cfg.Server.Address),
		slog.Any("backends", lb.Addresses()),
		slog.Duration("ttl", cfg.TTL()),
		slog.Duration("forward_timeout", forwardTimeout))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting caching proxy", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func initializeBackends(cfg *config.Config, log *slog.Logger) ([]*backend.Backend, error) {
	var backends []*backend.Backend

	for _, serverURL := range cfg.BackendURLs() {
		b, err := backend.Parse(serverURL)
		if err != nil {
			log.Error("Failed to parse URL",
				slog.String("url", serverURL),
				slog.String("error", err.Error()))
			continue
		}

		backends = append(backends, b)
	}

	if len(backends) == 0 {
		return nil, errNoBackends
	}

	return backends, nil
}

func startHealthChecks(ctx context.Context, cfg *config.Config, backends []*backend.Backend, events healthcheck.Emitter, log *slog.Logger) error {
	if !cfg.HealthCheck.Enabled {
		log.Info("Health checks disabled")
		return nil
	}

	interval, err := time.ParseDuration(cfg.HealthCheck.Interval)
	if err != nil {
		return err
	}

	healthcheck.Start(ctx, backends, interval, cfg.HealthCheck.Path, events, log)
	return nil
}

func startCacheJanitor(ctx context.Context, cfg *config.Config, responseCache *cache.ResponseCache) error {
	interval, err := time.ParseDuration(cfg.Cache.SweepInterval)
	if err != nil {
		return err
	}

	responseCache.StartJanitor(ctx, interval)
	return nil
}

func handlerOptions(cfg *config.Config) []handler.Option {
	opts := []handler.Option{
		handler.WithCoalescing(cfg.Cache.Coalesce),
	}

	if cfg.Static.Dir != "" {
		opts = append(opts, handler.WithStatic(http.FileServer(http.Dir(cfg.Static.Dir)), cfg.Static.Extensions))
	}

	return opts
}

// serverWriteTimeout keeps the response write bound above the backend call
// bound so a slow backend surfaces as 504 instead of a dropped connection.
func serverWriteTimeout(cfg *config.Config, forwardTimeout time.Duration) (time.Duration, error) {
	writeTimeout, err := time.ParseDuration(cfg.Server.WriteTimeout)
	if err != nil {
		return 0, err
	}

	if minimum := forwardTimeout + time.Second; writeTimeout < minimum {
		return minimum, nil
	}

	return writeTimeout, nil
}
