// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// logLevel backs the logger installed by ConfigureSlog so it can change at runtime.
var logLevel = new(slog.LevelVar)

type turnKey struct{}

type turnIDs struct {
	workspaceID string
	threadID    string
}

// WithTurn tags ctx with the workspace and thread of the running turn.
// Records logged with a tagged context carry workspace_id and thread_id.
func WithTurn(ctx context.Context, workspaceID, threadID string) context.Context {
	return context.WithValue(ctx, turnKey{}, turnIDs{workspaceID: workspaceID, threadID: threadID})
}

// TurnFromContext returns the ids set by WithTurn.
func TurnFromContext(ctx context.Context) (workspaceID, threadID string) {
	if ctx == nil {
		return "", ""
	}
	ids, _ := ctx.Value(turnKey{}).(turnIDs)
	return ids.workspaceID, ids.threadID
}

// ConfigureSlog sets the global slog logger with trace and turn aware attributes.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	logLevel.Set(ParseLogLevel(level))
	logger := slog.New(newSlogHandler(output, logLevel, format))
	slog.SetDefault(logger)
	return logger
}

// SetLogLevel changes the level of the logger installed by ConfigureSlog.
func SetLogLevel(level string) {
	logLevel.Set(ParseLogLevel(level))
}

// NewLogger builds a logger without touching the global default.
func NewLogger(output io.Writer, level, format string) *slog.Logger {
	return slog.New(newSlogHandler(output, ParseLogLevel(level), format))
}

func newSlogHandler(output io.Writer, level slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	var base slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		base = slog.NewJSONHandler(output, opts)
	default:
		base = slog.NewTextHandler(output, opts)
	}
	return &contextHandler{next: base}
}

type contextHandler struct {
	next slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, record slog.Record) error {
	traceID, spanID := spanIDsFromContext(ctx)
	addIfMissing(&record, "trace_id", traceID)
	addIfMissing(&record, "span_id", spanID)
	ws, thread := TurnFromContext(ctx)
	addIfMissing(&record, "workspace_id", ws)
	addIfMissing(&record, "thread_id", thread)
	return h.next.Handle(ctx, record)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}

// ParseLogLevel maps a config string to a slog level. Unknown values mean info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func spanIDsFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

func addIfMissing(record *slog.Record, key, value string) {
	if value == "" {
		return
	}
	found := false
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			found = true
			return false
		}
		return true
	})
	if !found {
		record.AddAttrs(slog.String(key, value))
	}
}
