// Package audit records tool executions for operational review.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// maxSummaryLen bounds the logged result excerpt.
const maxSummaryLen = 200

// Entry describes one tool execution.
type Entry struct {
	Tool     string
	Channel  string
	UserID   string
	Input    json.RawMessage
	Result   string
	Duration time.Duration
	Err      error
}

// Recorder receives tool execution records.
type Recorder interface {
	RecordToolExecution(ctx context.Context, entry Entry)
}

// Logger records entries to a slog logger.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a Recorder backed by the given logger.
func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger.With("component", "audit")}
}

// RecordToolExecution logs the entry at Info, or Warn when it failed.
func (l *Logger) RecordToolExecution(ctx context.Context, entry Entry) {
	summary := entry.Result
	if len(summary) > maxSummaryLen {
		summary = summary[:maxSummaryLen] + "..."
	}
	attrs := []any{
		"tool", entry.Tool,
		"channel", entry.Channel,
		"user_id", entry.UserID,
		"input", string(entry.Input),
		"result", summary,
		"duration_ms", entry.Duration.Milliseconds(),
	}
	if entry.Err != nil {
		attrs = append(attrs, "error", entry.Err)
		l.logger.WarnContext(ctx, "tool execution failed", attrs...)
		return
	}
	l.logger.InfoContext(ctx, "tool executed", attrs...)
}

// Discard is a Recorder that drops all entries.
type Discard struct{}

// RecordToolExecution does nothing.
func (Discard) RecordToolExecution(context.Context, Entry) {}
