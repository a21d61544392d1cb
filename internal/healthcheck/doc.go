// Package healthcheck probes backends periodically and records what it sees.
// The observations are reported through metrics only; backend selection
// never consults them.
package healthcheck
