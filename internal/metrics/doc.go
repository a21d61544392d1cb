// Package metrics keeps the proxy counters reported by GET /metrics.
//
// The request path records one Outcome per proxied request through
// Metrics.RecordRequest, which updates totals, cache hit and miss counts,
// per-backend request and status counts and a bounded rolling window of
// response times in a single locked step. Snapshot derives the hit rate,
// the moving average and p50/p95/p99 from that window.
//
// Background workers such as health probes publish through a Collector
// instead: events travel over a buffered channel, are applied by one
// goroutine and are dropped rather than blocking when the buffer is full.
//
//	m := metrics.NewMetrics(100)
//	collector := metrics.NewCollector(256, m, logger)
//	collector.Start(ctx)
//
//	m.RecordRequest(metrics.Outcome{
//		Backend:    "http://localhost:8081",
//		Cache:      metrics.CacheMiss,
//		StatusCode: 200,
//		Duration:   12 * time.Millisecond,
//	})
//
//	snapshot := m.Snapshot("round-robin", lb)
package metrics
