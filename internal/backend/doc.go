// Package backend models one upstream server of the proxy pool.
// A Backend is identified by its base URL and carries the most recent
// health observation, which is reported but never used for routing.
package backend
