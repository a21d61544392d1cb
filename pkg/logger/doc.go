// Package logger builds the structured slog logger shared by the proxy.
// Production environments log JSON, everything else logs text.
package logger
