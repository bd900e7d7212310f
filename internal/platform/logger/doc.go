// Package logger configures structured JSON logging on top of log/slog
// and propagates request-scoped loggers through context.
package logger
