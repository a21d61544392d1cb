package healthcheck

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/caching-proxy/internal/backend"
	"github.com/angeloszaimis/caching-proxy/internal/forwarder"
	"github.com/angeloszaimis/caching-proxy/internal/metrics"
)

const DefaultPath = "/health"

// Emitter receives health observations.
type Emitter interface {
	Emit(event metrics.MetricEvent) bool
}

// HealthCheck periodically checks a backend by sending HTTP GET requests to
// its health path until ctx is done. Any 2xx answer counts as healthy.
func HealthCheck(
	ctx context.Context,
	b *backend.Backend,
	interval time.Duration,
	path string,
	events Emitter,
	logger *slog.Logger,
) {
	if path == "" {
		path = DefaultPath
	}

	timeout := 5 * time.Second
	if interval < timeout {
		timeout = interval
	}
	client := &http.Client{
		Timeout: timeout,
	}

	// Probes resolve like forwarded requests so a base path such as /api is kept.
	healthURL := forwarder.TargetURL(b.URL(), path, "", "")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Health check stopped",
				slog.String("server", b.Address()))
			return

		case <-ticker.C:
			healthy := probe(ctx, client, healthURL.String())
			if !healthy && events != nil {
				events.Emit(metrics.MetricEvent{
					Type:      metrics.EventProbeFailed,
					Timestamp: time.Now(),
					Backend:   b.Address(),
				})
			}

			first := !b.Observed()
			changed := b.SetHealthy(healthy)
			if (changed || first) && events != nil {
				events.Emit(metrics.MetricEvent{
					Type:      metrics.EventHealthChanged,
					Timestamp: time.Now(),
					Backend:   b.Address(),
					Healthy:   healthy,
				})
			}

			if changed {
				if healthy {
					logger.Info("Server is back up",
						slog.String("server", b.Address()))
				} else {
					logger.Warn("Server is down",
						slog.String("server", b.Address()))
				}
			}
		}
	}
}

func probe(ctx context.Context, client *http.Client, target string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false
	}

	res, err := client.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()

	return res.StatusCode >= 200 && res.StatusCode < 300
}

// Start launches one health check per backend.
func Start(ctx context.Context, backends []*backend.Backend, interval time.Duration, path string, events Emitter, logger *slog.Logger) {
	for _, b := range backends {
		go HealthCheck(ctx, b, interval, path, events, logger)
	}
}
