// Package postgres provides a PostgreSQL-backed version ledger. The
// table is an index over backend history, rebuildable at any time, and
// row insertion order (a serial column) carries backend order.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/txn2/config-store/pkg/backend"
	"github.com/txn2/config-store/pkg/ledger"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// versionColumns lists columns returned by ledger SELECT queries.
var versionColumns = []string{
	"version_id", "version_number", "message", "author", "committed_at", "tombstone",
}

const uniqueViolation = "23505"

// Ledger implements ledger.Ledger using PostgreSQL.
type Ledger struct {
	db *sql.DB
}

// New creates a PostgreSQL ledger. The schema comes from
// pkg/database/migrate.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Record appends a version entry for the config.
func (l *Ledger) Record(ctx context.Context, project, name string, rec ledger.VersionRecord) error {
	query, args, err := psq.Insert("config_versions").
		Columns("project", "name", "version_id", "version_number", "message", "author", "committed_at", "tombstone").
		Values(project, name, string(rec.ID), rec.Number, rec.Message, rec.Author, rec.Timestamp, rec.Tombstone).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s for %s/%s", ledger.ErrDuplicateVersion, rec.ID, project, name)
		}
		return fmt.Errorf("inserting version record: %w", err)
	}
	return nil
}

// List returns all versions oldest to newest.
func (l *Ledger) List(ctx context.Context, project, name string) ([]ledger.VersionRecord, error) {
	query, args, err := psq.Select(versionColumns...).
		From("config_versions").
		Where(sq.Eq{"project": project}).
		Where(sq.Eq{"name": name}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []ledger.VersionRecord
	for rows.Next() {
		var r ledger.VersionRecord
		var id string
		if err := rows.Scan(&id, &r.Number, &r.Message, &r.Author, &r.Timestamp, &r.Tombstone); err != nil {
			return nil, fmt.Errorf("scanning version record: %w", err)
		}
		r.ID = backend.VersionID(id)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating version records: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ledger.ErrNotFound, project, name)
	}
	return recs, nil
}

// Latest returns the newest record.
func (l *Ledger) Latest(ctx context.Context, project, name string) (ledger.VersionRecord, error) {
	query, args, err := psq.Select(versionColumns...).
		From("config_versions").
		Where(sq.Eq{"project": project}).
		Where(sq.Eq{"name": name}).
		OrderBy("id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return ledger.VersionRecord{}, fmt.Errorf("building select: %w", err)
	}
	var r ledger.VersionRecord
	var id string
	err = l.db.QueryRowContext(ctx, query, args...).
		Scan(&id, &r.Number, &r.Message, &r.Author, &r.Timestamp, &r.Tombstone)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.VersionRecord{}, fmt.Errorf("%w: %s/%s", ledger.ErrNotFound, project, name)
	}
	if err != nil {
		return ledger.VersionRecord{}, fmt.Errorf("querying latest version: %w", err)
	}
	r.ID = backend.VersionID(id)
	return r, nil
}

// Exists reports whether the config has any recorded history.
func (l *Ledger) Exists(ctx context.Context, project, name string) (bool, error) {
	query, args, err := psq.Select("1").
		From("config_versions").
		Where(sq.Eq{"project": project}).
		Where(sq.Eq{"name": name}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building select: %w", err)
	}
	var one int
	err = l.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying existence: %w", err)
	}
	return true, nil
}

// Rebuild replaces the config's index with records derived from backend
// history, atomically.
func (l *Ledger) Rebuild(ctx context.Context, project, name string, commits []backend.Commit) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rebuild transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	delQuery, delArgs, err := psq.Delete("config_versions").
		Where(sq.Eq{"project": project}).
		Where(sq.Eq{"name": name}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, delQuery, delArgs...); err != nil {
		return fmt.Errorf("clearing stale index: %w", err)
	}

	for _, c := range commits {
		rec := ledger.FromCommit(c)
		insQuery, insArgs, err := psq.Insert("config_versions").
			Columns("project", "name", "version_id", "version_number", "message", "author", "committed_at", "tombstone").
			Values(project, name, string(rec.ID), rec.Number, rec.Message, rec.Author, rec.Timestamp, rec.Tombstone).
			ToSql()
		if err != nil {
			return fmt.Errorf("building insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insQuery, insArgs...); err != nil {
			return fmt.Errorf("inserting rebuilt record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rebuild: %w", err)
	}
	return nil
}

var _ ledger.Ledger = (*Ledger)(nil)
