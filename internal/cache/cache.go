package cache

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Stats describes the cache contents.
type Stats struct {
	Count int      `json:"count"`
	Keys  []string `json:"keys"`
}

type Option func(*ResponseCache)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) {
		c.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *ResponseCache) {
		c.logger = logger
	}
}

// ResponseCache is a concurrency-safe TTL cache of GET responses.
type ResponseCache struct {
	mutex      sync.RWMutex
	entries    map[string]*Entry
	generation uint64
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// New creates an empty cache whose entries live for ttl.
func New(ttl time.Duration, opts ...Option) *ResponseCache {
	c := &ResponseCache{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// TTL returns the configured time-to-live.
func (c *ResponseCache) TTL() time.Duration {
	return c.ttl
}

// IsCacheable reports whether responses to the method may be cached.
func (c *ResponseCache) IsCacheable(method string) bool {
	return IsCacheable(method)
}

// Lookup returns a copy of the live entry for the request, if any.
// An expired entry is removed as a side effect.
func (c *ResponseCache) Lookup(method, rawURL string) (*Entry, bool) {
	key, ok := Key(method, rawURL)
	if !ok {
		return nil, false
	}

	c.mutex.RLock()
	entry, found := c.entries[key]
	c.mutex.RUnlock()

	if !found {
		return nil, false
	}

	if !entry.ValidAt(c.now()) {
		c.mutex.Lock()
		// A concurrent Store may have replaced it with a fresh entry.
		if current, ok := c.entries[key]; ok && current == entry {
			delete(c.entries, key)
		}
		c.mutex.Unlock()

		c.logger.Debug("cache entry expired", slog.String("key", key))
		return nil, false
	}

	return entry.clone(), true
}

// Store saves a response for the request, replacing any previous entry.
// It does nothing for methods that are not cacheable.
func (c *ResponseCache) Store(method, rawURL string, body []byte, header http.Header, statusCode int) {
	c.store(method, rawURL, body, header, statusCode, nil)
}

// StoreIfGeneration behaves like Store but only if no invalidation has
// happened since gen was read from Generation. It reports whether the
// entry was stored.
func (c *ResponseCache) StoreIfGeneration(gen uint64, method, rawURL string, body []byte, header http.Header, statusCode int) bool {
	return c.store(method, rawURL, body, header, statusCode, &gen)
}

func (c *ResponseCache) store(method, rawURL string, body []byte, header http.Header, statusCode int, gen *uint64) bool {
	key, ok := Key(method, rawURL)
	if !ok {
		return false
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if gen != nil && *gen != c.generation {
		c.logger.Debug("cache store skipped after invalidation", slog.String("key", key))
		return false
	}

	created := c.now()
	c.entries[key] = &Entry{
		Body:       append([]byte(nil), body...),
		Header:     header.Clone(),
		StatusCode: statusCode,
		CreatedAt:  created,
		ExpiresAt:  created.Add(c.ttl),
	}

	return true
}

// Invalidate removes every entry whose key contains substr and returns how
// many were removed. Matching is plain substring containment, so "/items"
// also drops keys such as "/items-archive". An empty substr matches all keys.
func (c *ResponseCache) Invalidate(substr string) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.generation++

	removed := 0
	for key := range c.entries {
		if strings.Contains(key, substr) {
			delete(c.entries, key)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("cache invalidated",
			slog.String("pattern", substr),
			slog.Int("removed", removed))
	}

	return removed
}

// Clear removes all entries.
func (c *ResponseCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.generation++
	c.entries = make(map[string]*Entry)
}

// Generation returns a counter that changes on every Invalidate or Clear.
func (c *ResponseCache) Generation() uint64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.generation
}

// Stats returns the number of stored entries and their keys in sorted order.
// Expired entries that have not been looked up yet are included.
func (c *ResponseCache) Stats() Stats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return Stats{
		Count: len(keys),
		Keys:  keys,
	}
}

// Sweep removes all expired entries and returns how many were removed.
func (c *ResponseCache) Sweep() int {
	now := c.now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if !entry.ValidAt(now) {
			delete(c.entries, key)
			removed++
		}
	}

	return removed
}

// StartJanitor sweeps expired entries every interval until ctx is done.
func (c *ResponseCache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := c.Sweep(); removed > 0 {
					c.logger.Debug("cache sweep removed expired entries", slog.Int("count", removed))
				}
			}
		}
	}()
}
