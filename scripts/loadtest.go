//go:build ignore

// Loadtest drives a mixed read/write workload through the caching proxy and
// reports throughput, cache effectiveness and backend distribution.
//
// Usage:
//
//	go run loadtest.go -url http://localhost:8080 -concurrency 10 -requests 1000
//	go run loadtest.go -url http://localhost:8080 -writes 0.1 -paths /items,/items?format=xml -out summary.json
//
// Reads cycle through -paths; a -writes fraction of requests are POSTs to
// the first path, which invalidate its cached reads.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type sample struct {
	backend  string
	cache    string
	status   int
	duration time.Duration
}

type latencySummary struct {
	Samples int     `json:"samples"`
	P50     float64 `json:"p50_ms"`
	P95     float64 `json:"p95_ms"`
	P99     float64 `json:"p99_ms"`
}

func main() {
	var (
		target      = flag.String("url", "http://localhost:8080", "Proxy base URL")
		paths       = flag.String("paths", "/items,/items?format=xml,/items?limit=2&offset=1", "Comma separated read paths")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		requests    = flag.Int("requests", 500, "Total number of requests to send")
		writes      = flag.Float64("writes", 0.05, "Fraction of requests that are writes")
		timeoutSec  = flag.Int("timeout", 10, "Per-request timeout in seconds")
		outJSON     = flag.String("out", "", "Write JSON summary to this file (optional)")
		verbose     = flag.Bool("v", false, "Verbose per-request logging to stdout")
	)
	flag.Parse()

	readPaths := strings.Split(*paths, ",")
	writeEvery := 0
	if *writes > 0 {
		writeEvery = int(1 / *writes)
	}

	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}

	jobs := make(chan int)
	results := make(chan sample, *requests)
	var failures int32
	var wg sync.WaitGroup

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				method, path, body := http.MethodGet, readPaths[idx%len(readPaths)], io.Reader(nil)
				if writeEvery > 0 && idx%writeEvery == writeEvery-1 {
					method, path = http.MethodPost, readPaths[0]
					body = bytes.NewBufferString(fmt.Sprintf(`{"name":"load-%d","price":1.5}`, idx))
				}

				req, err := http.NewRequest(method, *target+path, body)
				if err != nil {
					atomic.AddInt32(&failures, 1)
					continue
				}

				start := time.Now()
				resp, err := client.Do(req)
				dur := time.Since(start)
				if err != nil {
					atomic.AddInt32(&failures, 1)
					if *verbose {
						fmt.Printf("[%d] idx=%d error=%v\n", workerID, idx, err)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				if resp.StatusCode >= 400 {
					atomic.AddInt32(&failures, 1)
				}

				s := sample{
					backend:  resp.Header.Get("X-Backend-Server"),
					cache:    resp.Header.Get("X-Cache"),
					status:   resp.StatusCode,
					duration: dur,
				}
				if *verbose {
					fmt.Printf("[%d] idx=%d %s %s cache=%s backend=%s status=%d dur=%v\n",
						workerID, idx, method, path, s.cache, s.backend, s.status, dur)
				}
				results <- s
			}
		}(i)
	}

	go func() {
		for i := 0; i < *requests; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	close(results)
	totalDuration := time.Since(testStart)

	byCache := map[string][]time.Duration{}
	byBackend := map[string]int{}
	statusCodes := map[int]int{}
	completed := 0
	for s := range results {
		completed++
		byCache[s.cache] = append(byCache[s.cache], s.duration)
		statusCodes[s.status]++
		if s.cache != "HIT" {
			byBackend[s.backend]++
		}
	}

	hits, misses := len(byCache["HIT"]), len(byCache["MISS"])
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	fmt.Println("--- Caching Proxy Load Test ---")
	fmt.Printf("Target: %s  Paths: %v\n", *target, readPaths)
	fmt.Printf("Requests: %d  Concurrency: %d  Completed: %d  Failures: %d\n", *requests, *concurrency, completed, failures)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", totalDuration, float64(completed)/totalDuration.Seconds())
	fmt.Printf("Cache: hits=%d misses=%d hit_rate=%.1f%%\n", hits, misses, hitRate*100)

	fmt.Println("\nLatency by cache status:")
	latencies := map[string]latencySummary{}
	for _, status := range sortedKeys(byCache) {
		sum := summarize(byCache[status])
		latencies[status] = sum
		fmt.Printf("  %-6s samples=%d p50=%.2fms p95=%.2fms p99=%.2fms\n", status, sum.Samples, sum.P50, sum.P95, sum.P99)
	}

	fmt.Println("\nBackend distribution (non-hits):")
	for _, b := range sortedKeys(byBackend) {
		fmt.Printf("  %s -> %d\n", b, byBackend[b])
	}

	fmt.Println("\nStatus codes:")
	codes := make([]int, 0, len(statusCodes))
	for c := range statusCodes {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	for _, c := range codes {
		fmt.Printf("  %d -> %d\n", c, statusCodes[c])
	}

	if *outJSON != "" {
		report := map[string]any{
			"target":         *target,
			"requests":       *requests,
			"concurrency":    *concurrency,
			"completed":      completed,
			"failures":       failures,
			"duration_ms":    totalDuration.Milliseconds(),
			"hit_rate":       hitRate,
			"latency":        latencies,
			"backends":       byBackend,
			"status_codes":   statusCodes,
			"throughput_rps": float64(completed) / totalDuration.Seconds(),
		}

		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if failures > 0 {
		os.Exit(2)
	}
}

func summarize(durations []time.Duration) latencySummary {
	tmp := append([]time.Duration(nil), durations...)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })
	pick := func(p float64) float64 {
		return float64(tmp[int(float64(len(tmp)-1)*p)].Microseconds()) / 1000
	}
	return latencySummary{Samples: len(tmp), P50: pick(0.50), P95: pick(0.95), P99: pick(0.99)}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
