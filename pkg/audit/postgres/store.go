// Package postgres provides PostgreSQL storage for audit logs.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/config-store/pkg/audit"
)

const (
	defaultRetentionDays = 90
	defaultQueryLimit    = 100
	maxQueryLimit        = 10000
	sweepInterval        = 24 * time.Hour
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// auditColumns lists columns returned by audit SELECT queries.
var auditColumns = []string{
	"id", "timestamp", "duration_ms", "request_id", "actor",
	"operation", "project", "config", "version_id", "message",
	"success", "error_message",
}

// Store implements audit.Logger using PostgreSQL.
type Store struct {
	db            *sql.DB
	retentionDays int
	cancel        context.CancelFunc
	done          chan struct{}
}

// Config configures the PostgreSQL audit store.
type Config struct {
	RetentionDays int
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	return &Store{
		db:            db,
		retentionDays: cfg.RetentionDays,
	}
}

// Log records an audit event.
func (s *Store) Log(ctx context.Context, event audit.Event) error {
	query, args, err := psq.Insert("audit_logs").
		Columns(auditColumns...).
		Values(event.ID, event.Timestamp, event.DurationMS, event.RequestID, event.Actor,
			event.Operation, event.Project, event.Config, event.VersionID, event.Message,
			event.Success, event.ErrorMessage).
		ToSql()
	if err != nil {
		return fmt.Errorf("building audit insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// applyFilter adds filter conditions to a SELECT builder.
func applyFilter(qb sq.SelectBuilder, filter audit.QueryFilter) sq.SelectBuilder {
	if filter.StartTime != nil {
		qb = qb.Where(sq.GtOrEq{"timestamp": *filter.StartTime})
	}
	if filter.EndTime != nil {
		qb = qb.Where(sq.LtOrEq{"timestamp": *filter.EndTime})
	}
	if filter.Actor != "" {
		qb = qb.Where(sq.Eq{"actor": filter.Actor})
	}
	if filter.Operation != "" {
		qb = qb.Where(sq.Eq{"operation": filter.Operation})
	}
	if filter.Project != "" {
		qb = qb.Where(sq.Eq{"project": filter.Project})
	}
	if filter.Config != "" {
		qb = qb.Where(sq.Eq{"config": filter.Config})
	}
	if filter.Success != nil {
		qb = qb.Where(sq.Eq{"success": *filter.Success})
	}
	return qb
}

// Query retrieves audit events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	qb := applyFilter(psq.Select(auditColumns...).From("audit_logs"), filter).
		OrderBy("timestamp DESC").
		Limit(uint64(limit))
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []audit.Event
	for rows.Next() {
		var e audit.Event
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.DurationMS, &e.RequestID, &e.Actor,
			&e.Operation, &e.Project, &e.Config, &e.VersionID, &e.Message,
			&e.Success, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}
	return events, nil
}

// StartRetentionSweep launches a background loop that removes events
// older than the retention window once per day.
func (s *Store) StartRetentionSweep() {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.sweep(ctx); err != nil {
					slog.Warn("audit retention sweep failed", "error", err)
				}
			}
		}
	}()
}

func (s *Store) sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	query, args, err := psq.Delete("audit_logs").
		Where(sq.Lt{"timestamp": cutoff}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building retention delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting expired audit logs: %w", err)
	}
	return nil
}

// Close stops the retention sweep. The database handle is owned by the
// caller and is not closed here.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

var _ audit.Logger = (*Store)(nil)
