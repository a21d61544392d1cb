package strategy

import (
	"github.com/angeloszaimis/caching-proxy/internal/backend"
)

type Strategy interface {
	SelectBackend(backends []*backend.Backend) *backend.Backend
}

// Positioner is implemented by strategies that keep a rotation cursor.
type Positioner interface {
	Position(poolSize int) int
}
