// Package strategy defines the backend selection interface used by the
// load balancer and its round-robin implementation.
//
// Round robin hands out backends in pool order, one per selection, and
// wraps around at the end of the pool. Selection is a single atomic
// increment, so concurrent callers never observe the same slot before it
// advances. Health is deliberately ignored: a failing backend keeps its
// turn in the rotation.
package strategy
