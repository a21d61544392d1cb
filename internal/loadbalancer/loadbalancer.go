// Package loadbalancer owns the backend pool and picks the backend for each
// forwarded request.
package loadbalancer

import (
	"errors"
	"fmt"

	"github.com/angeloszaimis/caching-proxy/internal/backend"
	"github.com/angeloszaimis/caching-proxy/internal/strategy"
)

// ErrEmptyPool is returned when a load balancer is built without backends.
var ErrEmptyPool = errors.New("backend pool is empty")

type LoadBalancer struct {
	strategy strategy.Strategy
	backends []*backend.Backend
}

// New creates a load balancer over a fixed, ordered pool.
// The pool is copied; later changes to the caller's slice have no effect.
func New(backends []*backend.Backend, strat strategy.Strategy) (*LoadBalancer, error) {
	if len(backends) == 0 {
		return nil, ErrEmptyPool
	}
	if strat == nil {
		return nil, fmt.Errorf("load balancer: nil strategy")
	}

	pool := make([]*backend.Backend, len(backends))
	copy(pool, backends)

	return &LoadBalancer{
		strategy: strat,
		backends: pool,
	}, nil
}

// Next returns the backend that should serve the next request and advances
// the rotation. Health is not consulted.
func (lb *LoadBalancer) Next() *backend.Backend {
	return lb.strategy.SelectBackend(lb.backends)
}

// Backends returns the pool in configured order.
func (lb *LoadBalancer) Backends() []*backend.Backend {
	out := make([]*backend.Backend, len(lb.backends))
	copy(out, lb.backends)
	return out
}

// Addresses returns the pool addresses in configured order.
func (lb *LoadBalancer) Addresses() []string {
	out := make([]string, len(lb.backends))
	for i, b := range lb.backends {
		out[i] = b.Address()
	}
	return out
}

// Position returns the rotation cursor, or -1 if the strategy keeps none.
func (lb *LoadBalancer) Position() int {
	if p, ok := lb.strategy.(strategy.Positioner); ok {
		return p.Position(len(lb.backends))
	}
	return -1
}

func (lb *LoadBalancer) LoadBalancerStrategy() strategy.Strategy {
	return lb.strategy
}
