package main

import (
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/caching-proxy/internal/cache"
	"github.com/angeloszaimis/caching-proxy/internal/handler"
	"github.com/angeloszaimis/caching-proxy/internal/loadbalancer"
	"github.com/angeloszaimis/caching-proxy/internal/metrics"
	"github.com/angeloszaimis/caching-proxy/internal/strategy"
)

func setupRouter(
	log *slog.Logger,
	proxyHandler *handler.ProxyHandler,
	responseCache *cache.ResponseCache,
	proxyMetrics *metrics.Metrics,
	lb *loadbalancer.LoadBalancer,
) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/", proxyHandler)
	mux.HandleFunc("/metrics", proxyMetrics.Handler(strategy.RoundRobinName, lb, func() int {
		return responseCache.Stats().Count
	}))
	mux.HandleFunc("/cache/stats", handler.CacheStats(responseCache))
	mux.HandleFunc("/cache/clear", handler.CacheClear(log, responseCache))

	return handler.Recoverer(log, handler.RequestLogger(log, handler.CORS(mux)))
}
