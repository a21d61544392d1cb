package metrics

import (
	"sort"
	"sync"
	"time"
)

// DefaultWindowSize is the number of response-time samples kept when none is configured.
const DefaultWindowSize = 100

// CacheStatus tells how the response cache took part in a request.
type CacheStatus string

const (
	CacheHit    CacheStatus = "HIT"
	CacheMiss   CacheStatus = "MISS"
	CacheBypass CacheStatus = "BYPASS"
)

// Outcome is the record of one completed proxied request.
type Outcome struct {
	// Backend is empty when no backend was contacted.
	Backend    string
	Cache      CacheStatus
	StatusCode int
	Duration   time.Duration
}

type Metrics struct {
	mutex           sync.RWMutex
	totalRequests   int64
	cacheHits       int64
	cacheMisses     int64
	backendRequests map[string]int64
	statusCodes     map[string]map[int]int64
	healthStatus    map[string]bool
	probeFailures   map[string]int64
	samples         []time.Duration
	next            int
	full            bool
	startTime       time.Time
}

// Pool describes the backend rotation for reporting.
type Pool interface {
	Addresses() []string
	Position() int
}

type Snapshot struct {
	TotalRequests       int64                    `json:"total_requests"`
	CacheHits           int64                    `json:"cache_hits"`
	CacheMisses         int64                    `json:"cache_misses"`
	HitRate             float64                  `json:"hit_rate"`
	BackendRequests     map[string]int64         `json:"backend_requests"`
	StatusCodes         map[string]map[int]int64 `json:"status_codes"`
	AvgResponseMs       float64                  `json:"avg_response_ms"`
	P50ResponseMs       float64                  `json:"p50_response_ms"`
	P95ResponseMs       float64                  `json:"p95_response_ms"`
	P99ResponseMs       float64                  `json:"p99_response_ms"`
	ResponseSamples     int                      `json:"response_samples"`
	Backends            []string                 `json:"backends"`
	CurrentBackendIndex int                      `json:"current_backend_index"`
	Health              map[string]bool          `json:"health"`
	ProbeFailures       map[string]int64         `json:"probe_failures"`
	CacheEntries        int                      `json:"cache_entries"`
	UptimeSeconds       float64                  `json:"uptime_seconds"`
	Algorithm           string                   `json:"algorithm"`
}

// RecordRequest applies one request outcome to all counters in a single step.
func (m *Metrics) RecordRequest(o Outcome) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.totalRequests++

	switch o.Cache {
	case CacheHit:
		m.cacheHits++
	case CacheMiss:
		m.cacheMisses++
	}

	if o.Backend != "" {
		m.backendRequests[o.Backend]++

		if m.statusCodes[o.Backend] == nil {
			m.statusCodes[o.Backend] = make(map[int]int64)
		}
		m.statusCodes[o.Backend][o.StatusCode]++
	}

	m.samples[m.next] = o.Duration
	m.next = (m.next + 1) % len(m.samples)
	if m.next == 0 {
		m.full = true
	}
}

func (m *Metrics) UpdateHealthStatus(backend string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[backend] = healthy
}

func (m *Metrics) RecordProbeFailure(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.probeFailures[backend]++
}

// Snapshot returns an independent copy of the current counters.
// pool may be nil.
func (m *Metrics) Snapshot(algorithm string, pool Pool) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		TotalRequests:       m.totalRequests,
		CacheHits:           m.cacheHits,
		CacheMisses:         m.cacheMisses,
		BackendRequests:     make(map[string]int64),
		StatusCodes:         make(map[string]map[int]int64),
		Backends:            []string{},
		CurrentBackendIndex: -1,
		Health:              make(map[string]bool),
		ProbeFailures:       make(map[string]int64),
		UptimeSeconds:       time.Since(m.startTime).Seconds(),
		Algorithm:           algorithm,
	}

	if lookups := m.cacheHits + m.cacheMisses; lookups > 0 {
		snap.HitRate = float64(m.cacheHits) / float64(lookups)
	}

	if pool != nil {
		snap.Backends = pool.Addresses()
		snap.CurrentBackendIndex = pool.Position()
		for _, addr := range snap.Backends {
			snap.BackendRequests[addr] = 0
		}
	}

	for backend, n := range m.backendRequests {
		snap.BackendRequests[backend] = n
	}
	for backend, codes := range m.statusCodes {
		copied := make(map[int]int64, len(codes))
		for code, n := range codes {
			copied[code] = n
		}
		snap.StatusCodes[backend] = copied
	}
	for backend, healthy := range m.healthStatus {
		snap.Health[backend] = healthy
	}
	for backend, n := range m.probeFailures {
		snap.ProbeFailures[backend] = n
	}

	durations := m.window()
	if len(durations) > 0 {
		sort.Slice(durations, func(i, j int) bool {
			return durations[i] < durations[j]
		})

		snap.ResponseSamples = len(durations)
		snap.AvgResponseMs = milliseconds(average(durations))
		snap.P50ResponseMs = milliseconds(percentile(durations, 0.50))
		snap.P95ResponseMs = milliseconds(percentile(durations, 0.95))
		snap.P99ResponseMs = milliseconds(percentile(durations, 0.99))
	}

	return snap
}

// window returns a copy of the samples currently in the rolling window.
func (m *Metrics) window() []time.Duration {
	n := m.next
	if m.full {
		n = len(m.samples)
	}

	out := make([]time.Duration, n)
	copy(out, m.samples[:n])
	return out
}

// NewMetrics creates empty metrics keeping the last windowSize response times.
func NewMetrics(windowSize int) *Metrics {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	return &Metrics{
		backendRequests: make(map[string]int64),
		statusCodes:     make(map[string]map[int]int64),
		healthStatus:    make(map[string]bool),
		probeFailures:   make(map[string]int64),
		samples:         make([]time.Duration, windowSize),
		startTime:       time.Now(),
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
