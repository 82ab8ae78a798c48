// Package log provides structured logging utilities for the GOBT balance tracker.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	var handler slog.Handler

	// Parse log level
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	// Create handler based on format
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	// Create base logger with service context
	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// WithContext returns a logger with additional context fields
func (l *Logger) WithContext(ctx context.Context) *Logger {
	// Extract common context values if they exist
	logger := l.Logger

	// Add request ID if available
	if reqID := ctx.Value("request_id"); reqID != nil {
		logger = logger.With("request_id", reqID)
	}

	// Add trace ID if available
	if traceID := ctx.Value("trace_id"); traceID != nil {
		logger = logger.With("trace_id", traceID)
	}

	return &Logger{
		Logger:  logger,
		service: l.service,
		version: l.version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithAddress returns a logger with address-specific fields
func (l *Logger) WithAddress(address, addressType string) *Logger {
	return l.WithFields("address", address, "address_type", addressType)
}

// WithServer returns a logger with server endpoint fields
func (l *Logger) WithServer(host string, port int) *Logger {
	return l.WithFields("server_host", host, "server_port", port)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// Performance logging helpers

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration int64) {
	l.Info("operation completed",
		"operation", operation,
		"duration_ns", duration,
		"duration_ms", float64(duration)/1e6,
	)
}

// Connection logging helpers

// LogConnection logs connection events against Electrum servers
func (l *Logger) LogConnection(event, endpoint string) {
	l.Info("connection event",
		"event", event,
		"endpoint", endpoint,
	)
}

// LogElectrumMessage logs Electrum protocol exchanges (debug level)
func (l *Logger) LogElectrumMessage(direction, method string, id uint64, duration time.Duration) {
	l.Debug("electrum message",
		"direction", direction,
		"method", method,
		"id", id,
		"duration_ms", float64(duration.Nanoseconds())/1e6,
	)
}

// Tracker-specific logging helpers

// LogBalanceQuery logs the outcome of one balance lookup
func (l *Logger) LogBalanceQuery(address, addressType string, confirmedSats, unconfirmedSats int64, outcome string) {
	l.Info("balance query",
		"address", address,
		"address_type", addressType,
		"confirmed_sats", confirmedSats,
		"unconfirmed_sats", unconfirmedSats,
		"outcome", outcome,
	)
}

// LogServerHealth logs a health-check result for a candidate server
func (l *Logger) LogServerHealth(host string, port int, healthScore, latencySeconds float64) {
	l.Info("server health",
		"server_host", host,
		"server_port", port,
		"health_score", healthScore,
		"latency_seconds", latencySeconds,
	)
}

// LogDiscovery logs the summary of a discovery pass
func (l *Logger) LogDiscovery(seeds, discovered, healthy int) {
	l.Info("server discovery",
		"seeds", seeds,
		"discovered", discovered,
		"healthy", healthy,
	)
}
