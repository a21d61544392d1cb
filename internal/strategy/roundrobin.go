package strategy

import (
	"sync/atomic"

	"github.com/angeloszaimis/caching-proxy/internal/backend"
)

const RoundRobinName = "round-robin"

type RoundRobin struct {
	current uint64
}

func (rb *RoundRobin) SelectBackend(backends []*backend.Backend) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	n := atomic.AddUint64(&rb.current, 1)

	index := (n - 1) % uint64(len(backends))

	return backends[index]
}

// Position returns the index the next selection will use for a pool of the given size.
func (rb *RoundRobin) Position(poolSize int) int {
	if poolSize <= 0 {
		return 0
	}
	return int(atomic.LoadUint64(&rb.current) % uint64(poolSize))
}

func NewRoundRobinStrategy() *RoundRobin {
	return &RoundRobin{
		current: 0,
	}
}
