package backend

import (
	"net/url"
	"sync"
)

// Backend represents one upstream server in the pool.
type Backend struct {
	url       *url.URL
	address   string
	mutex     sync.RWMutex
	isHealthy bool
	observed  bool
}

// URL returns the backend base URL.
func (b *Backend) URL() *url.URL {
	return b.url
}

// Address returns the backend identity used in metrics and response headers.
func (b *Backend) Address() string {
	return b.address
}

// IsHealthy returns the last observed health status.
// A backend that was never probed is reported healthy.
func (b *Backend) IsHealthy() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.isHealthy
}

// Observed reports whether a health probe has completed at least once.
func (b *Backend) Observed() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.observed
}

// SetHealthy records a health observation.
// Returns true if the status changed, false if it was already in that state.
func (b *Backend) SetHealthy(healthy bool) (changed bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.observed = true
	if b.isHealthy == healthy {
		return false
	}

	b.isHealthy = healthy
	return true
}

// New creates a Backend for the given base URL.
func New(u *url.URL) *Backend {
	return &Backend{
		url:       u,
		address:   u.String(),
		isHealthy: true,
	}
}

// Parse builds a Backend from a raw base URL.
func Parse(rawURL string) (*Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return New(u), nil
}
