// Package audit records who changed which configuration, when, and with
// what outcome. Every mutating store operation emits one event.
package audit

import (
	"context"
	"time"
)

// Logger defines the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Query retrieves audit events matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Close releases resources.
	Close() error
}

// Event represents one audited config store operation.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	DurationMS   int64     `json:"duration_ms"`
	RequestID    string    `json:"request_id,omitempty"`
	Actor        string    `json:"actor,omitempty"`
	Operation    string    `json:"operation"`
	Project      string    `json:"project"`
	Config       string    `json:"config,omitempty"`
	VersionID    string    `json:"version_id,omitempty"`
	Message      string    `json:"message,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// QueryFilter defines criteria for querying audit events.
type QueryFilter struct {
	StartTime *time.Time
	EndTime   *time.Time
	Actor     string
	Operation string
	Project   string
	Config    string
	Success   *bool
	Limit     int
	Offset    int
}

// Config configures audit logging.
type Config struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}
