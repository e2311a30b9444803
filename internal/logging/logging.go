// Package logging is the service's slog setup plus a few named events
// (merges, conflicts, renders) so every component logs them with the same
// keys.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey struct{}

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

var std *slog.Logger

func init() {
	Configure(os.Stderr, slog.LevelInfo, FormatJSON)
}

// ParseLevel maps a config value to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// ParseFormat accepts "json" (the default) or "text".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatText:
		return f, nil
	}
	return FormatJSON, fmt.Errorf("unknown log format %q", s)
}

// Configure replaces the package logger and slog's default. Timestamps are
// written as RFC 3339 seconds.
func Configure(w io.Writer, level slog.Level, format Format) {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}
	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if format == FormatText {
		h = slog.NewTextHandler(w, opts)
	}
	std = slog.New(h)
	slog.SetDefault(std)
}

// WithRequestID returns ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// GetRequestID returns the id stored by WithRequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// FromContext returns the package logger, tagged with the request id when
// ctx has one.
func FromContext(ctx context.Context) *slog.Logger {
	if id := GetRequestID(ctx); id != "" {
		return std.With("request_id", id)
	}
	return std
}

func Debug(msg string, args ...any) { std.Debug(msg, args...) }
func Info(msg string, args ...any)  { std.Info(msg, args...) }
func Warn(msg string, args ...any)  { std.Warn(msg, args...) }
func Error(msg string, args ...any) { std.Error(msg, args...) }

func DebugContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).DebugContext(ctx, msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).InfoContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).ErrorContext(ctx, msg, args...)
}

// event logs name at level with the fixed fields first, then extra.
func event(ctx context.Context, level slog.Level, name string, fields []any, extra []any) {
	FromContext(ctx).Log(ctx, level, name, append(fields, extra...)...)
}

// HTTPRequest is the access log line.
func HTTPRequest(ctx context.Context, method, path, remoteAddr string, status int, d time.Duration, extra ...any) {
	event(ctx, slog.LevelInfo, "http_request", []any{
		"method", method,
		"path", path,
		"remote_addr", remoteAddr,
		"status_code", status,
		"duration_ms", d.Milliseconds(),
	}, extra)
}

// MergeCompleted summarises one merge.
func MergeCompleted(ctx context.Context, documents, conflicts int, policy string, d time.Duration, extra ...any) {
	event(ctx, slog.LevelInfo, "merge_completed", []any{
		"documents", documents,
		"conflicts", conflicts,
		"policy", policy,
		"duration_ms", d.Milliseconds(),
	}, extra)
}

// ResourceConflict records two inputs claiming one resource id for
// different data.
func ResourceConflict(ctx context.Context, location, id, action string, extra ...any) {
	event(ctx, slog.LevelWarn, "resource_conflict", []any{
		"location", location,
		"resource_id", id,
		"action", action,
	}, extra)
}

// RenderFailed records a failed preview conversion.
func RenderFailed(ctx context.Context, path string, err error, extra ...any) {
	event(ctx, slog.LevelError, "render_failed", []any{"path", path, "error", err.Error()}, extra)
}

// WebSocketEvent records connects, disconnects and broadcast drops.
func WebSocketEvent(name string, clients int, extra ...any) {
	event(context.Background(), slog.LevelInfo, "websocket_event", []any{"event", name, "client_count", clients}, extra)
}

// ServerStartup records a listener coming up.
func ServerStartup(serverType, protocol string, port int, extra ...any) {
	event(context.Background(), slog.LevelInfo, "server_startup", []any{
		"server_type", serverType,
		"protocol", protocol,
		"port", port,
	}, extra)
}

// SecurityEvent records rejected traversal, origins and rate limits.
func SecurityEvent(name, component string, extra ...any) {
	event(context.Background(), slog.LevelWarn, "security_event", []any{"event", name, "component", component}, extra)
}
