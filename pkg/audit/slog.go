package audit

import (
	"context"
	"errors"
	"log/slog"
)

// SlogLogger writes audit events to the process log. It is the default
// sink when no database is configured; Query is unsupported on it.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a SlogLogger. A nil logger uses slog.Default.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// Log records the event as a structured log line.
func (l *SlogLogger) Log(ctx context.Context, event Event) error {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("id", event.ID),
		slog.String("operation", event.Operation),
		slog.String("project", event.Project),
		slog.String("config", event.Config),
		slog.String("version_id", event.VersionID),
		slog.String("actor", event.Actor),
		slog.String("request_id", event.RequestID),
		slog.Bool("success", event.Success),
		slog.String("error", event.ErrorMessage),
		slog.Int64("duration_ms", event.DurationMS),
	)
	return nil
}

// Query is not supported by the log sink.
func (*SlogLogger) Query(context.Context, QueryFilter) ([]Event, error) {
	return nil, errors.New("audit: log sink does not support queries")
}

// Close is a no-op.
func (*SlogLogger) Close() error { return nil }

var _ Logger = (*SlogLogger)(nil)
