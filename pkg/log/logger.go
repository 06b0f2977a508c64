// Package log provides structured logging for the luckycoin services.
// It wraps the standard library's slog package with service-wide fields and
// helpers for the ledger's vocabulary: proofs, buses, transactions and epochs.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

const (
	// RequestIDKey carries an RPC request identifier through a context.
	RequestIDKey contextKey = "request_id"
	// TxIDKey carries a transaction id through a context.
	TxIDKey contextKey = "tx_id"
)

// Logger wraps slog.Logger with service context and domain helpers
type Logger struct {
	*slog.Logger
}

// New creates a logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	logLevel := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler).With("service", service, "version", version)}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext returns a logger carrying the request and transaction ids
// found in ctx
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger
	if reqID := ctx.Value(RequestIDKey); reqID != nil {
		logger = logger.With("request_id", reqID)
	}
	if txID := ctx.Value(TxIDKey); txID != nil {
		logger = logger.With("tx_id", txID)
	}
	return l.derive(logger)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return l.derive(l.With(fields...))
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithProof returns a logger scoped to one proof
func (l *Logger) WithProof(proof, authority string) *Logger {
	return l.WithFields("proof", proof, "authority", authority)
}

// WithBus returns a logger scoped to one bus
func (l *Logger) WithBus(id int) *Logger {
	return l.WithFields("bus", id)
}

// WithTransaction returns a logger scoped to one transaction
func (l *Logger) WithTransaction(txID string) *Logger {
	return l.WithFields("tx_id", txID)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

func (l *Logger) derive(logger *slog.Logger) *Logger {
	return &Logger{Logger: logger}
}

// Performance logging helpers

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration time.Duration) {
	l.Info("operation completed",
		"operation", operation,
		"duration_ms", float64(duration.Nanoseconds())/1e6,
	)
}

// LogThroughput logs throughput metrics
func (l *Logger) LogThroughput(operation string, count int64, duration time.Duration) {
	if duration <= 0 {
		return
	}
	l.Info("throughput metrics",
		"operation", operation,
		"count", count,
		"duration_ms", float64(duration.Nanoseconds())/1e6,
		"throughput_ops_sec", float64(count)/duration.Seconds(),
	)
}

// Connection logging helpers

// LogConnection logs connection events
func (l *Logger) LogConnection(event, remoteAddr string) {
	l.Info("connection event",
		"event", event,
		"remote_addr", remoteAddr,
	)
}

// LogRPCMessage logs gateway protocol messages (debug level)
func (l *Logger) LogRPCMessage(direction, message string) {
	l.Debug("rpc message",
		"direction", direction,
		"message", message,
	)
}

// Ledger logging helpers

// LogTransaction logs the outcome of one executed transaction
func (l *Logger) LogTransaction(txID string, slot uint64, instructions int, status string) {
	l.Info("transaction executed",
		"tx_id", txID,
		"slot", slot,
		"instructions", instructions,
		"status", status,
	)
}

// LogMine logs an accepted solution
func (l *Logger) LogMine(authority string, bus int, difficulty, reward uint64, timing int64) {
	l.Info("solution accepted",
		"authority", authority,
		"bus", bus,
		"difficulty", difficulty,
		"reward", reward,
		"timing", timing,
	)
}

// LogEpochReset logs an epoch rollover
func (l *Logger) LogEpochReset(resetAt int64, baseRewardRate, minDifficulty, minted uint64) {
	l.Info("epoch reset",
		"reset_at", resetAt,
		"base_reward_rate", baseRewardRate,
		"min_difficulty", minDifficulty,
		"minted", minted,
	)
}
