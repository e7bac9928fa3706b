// Package store persists shell history and audit entries in SQLite so they
// survive restarts of the console.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"clawconsole/internal/domain"

	_ "modernc.org/sqlite"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 500
)

// SQLiteStore implements shell.Sink on top of SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// RecordResult stores a finished command. Re-recording the same id replaces
// the earlier row.
func (s *SQLiteStore) RecordResult(ctx context.Context, res domain.CommandResult) error {
	args, err := encodeArgs(res.Args)
	if err != nil {
		return err
	}
	created := res.Timestamp
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO command_history
		 (id, command, args, status, exit_code, stdout, stderr, duration_ms, timed_out, killed, truncated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.Command, args, string(res.Status), nullInt(res.ExitCode),
		res.Stdout, res.Stderr, res.DurationMs, res.TimedOut, res.Killed, res.Truncated,
		created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert command %s: %w", res.ID, err)
	}
	return nil
}

// RecordAudit stores one audit entry.
func (s *SQLiteStore) RecordAudit(ctx context.Context, entry domain.ShellAuditEntry) error {
	args, err := encodeArgs(entry.Args)
	if err != nil {
		return err
	}
	created := entry.Timestamp
	if created.IsZero() {
		created = time.Now()
	}
	var duration any
	if entry.DurationMs != nil {
		duration = *entry.DurationMs
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO shell_audit
		 (id, command, args, outcome, reason, exit_code, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Command, args, string(entry.Outcome), entry.Reason,
		nullInt(entry.ExitCode), duration, created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit %s: %w", entry.ID, err)
	}
	return nil
}

// ListHistory returns one page of persisted commands, newest first.
func (s *SQLiteStore) ListHistory(ctx context.Context, page, limit int) (domain.Page[domain.CommandResult], error) {
	page, limit = normalizePage(page, limit)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM command_history`).Scan(&total); err != nil {
		return domain.Page[domain.CommandResult]{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command, args, status, exit_code, stdout, stderr, duration_ms, timed_out, killed, truncated, created_at
		 FROM command_history ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, domain.PageStart(page, limit, total),
	)
	if err != nil {
		return domain.Page[domain.CommandResult]{}, err
	}
	defer rows.Close()

	items := make([]domain.CommandResult, 0, limit)
	for rows.Next() {
		var r domain.CommandResult
		var args, status string
		var exitCode sql.NullInt64
		var stdout, stderr sql.NullString
		if err := rows.Scan(&r.ID, &r.Command, &args, &status, &exitCode, &stdout, &stderr,
			&r.DurationMs, &r.TimedOut, &r.Killed, &r.Truncated, &r.Timestamp); err != nil {
			return domain.Page[domain.CommandResult]{}, err
		}
		r.Args = decodeArgs(args)
		r.Status = domain.CommandStatus(status)
		r.ExitCode = intPtr(exitCode)
		r.Stdout = stdout.String
		r.Stderr = stderr.String
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.CommandResult]{}, err
	}
	return newPage(items, total, page, limit), nil
}

// ListAudit returns one page of persisted audit entries, newest first. An
// empty outcome lists every entry.
func (s *SQLiteStore) ListAudit(ctx context.Context, outcome domain.AuditOutcome, page, limit int) (domain.Page[domain.ShellAuditEntry], error) {
	page, limit = normalizePage(page, limit)

	where, params := "", []any{}
	if outcome != "" {
		where = "WHERE outcome = ?"
		params = append(params, string(outcome))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shell_audit `+where, params...).Scan(&total); err != nil {
		return domain.Page[domain.ShellAuditEntry]{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command, args, outcome, reason, exit_code, duration_ms, created_at
		 FROM shell_audit `+where+` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		append(params, limit, domain.PageStart(page, limit, total))...,
	)
	if err != nil {
		return domain.Page[domain.ShellAuditEntry]{}, err
	}
	defer rows.Close()

	items := make([]domain.ShellAuditEntry, 0, limit)
	for rows.Next() {
		var e domain.ShellAuditEntry
		var args, outcome string
		var reason sql.NullString
		var exitCode, duration sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Command, &args, &outcome, &reason, &exitCode, &duration, &e.Timestamp); err != nil {
			return domain.Page[domain.ShellAuditEntry]{}, err
		}
		e.Args = decodeArgs(args)
		e.Outcome = domain.AuditOutcome(outcome)
		e.Reason = reason.String
		e.ExitCode = intPtr(exitCode)
		if duration.Valid {
			d := duration.Int64
			e.DurationMs = &d
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.ShellAuditEntry]{}, err
	}
	return newPage(items, total, page, limit), nil
}

// Prune deletes history and audit rows older than before and reports how many
// rows were removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	for _, table := range []string{"command_history", "shell_audit"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < ?`, before.UTC())
		if err != nil {
			return removed, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if removed > 0 {
		s.logger.Info("pruned shell records", "removed", removed, "before", before.UTC())
	}
	return removed, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

func newPage[T any](items []T, total, page, limit int) domain.Page[T] {
	return domain.Page[T]{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
}

func encodeArgs(args []string) (string, error) {
	if args == nil {
		args = []string{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode args: %w", err)
	}
	return string(b), nil
}

func decodeArgs(s string) []string {
	var args []string
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil
	}
	return args
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
