// Package config loads proxy settings from config.yaml and environment
// variables with viper and validates them before anything starts.
//
// Every key can be overridden from the environment with dots replaced by
// underscores, e.g. CACHE_TTL_SECONDS=60 or FORWARDER_TIMEOUT=3s.
// BACKENDS_URLS takes a comma separated list that replaces the backends
// section.
package config
