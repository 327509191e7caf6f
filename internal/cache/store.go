// Package cache persists the per-file processing status of the monitor in
// SQLite. It is the only durable state of the system: every operation is a
// single auto-committed statement keyed by the (directory, file name) unique
// constraint, so a crash can never leave a half-written row behind.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/artifact"
)

// DBFileName is the cache database file created inside the cache directory.
const DBFileName = "cache.db"

// SQL statements for file_cache and dispatch_log.
const (
	sqlGetEntry = `SELECT directory, file_name, status, timestamp
		FROM file_cache WHERE directory = ? AND file_name = ?`

	sqlIsKnown = `SELECT 1 FROM file_cache WHERE directory = ? AND file_name = ? LIMIT 1`

	sqlInsertEntry = `INSERT INTO file_cache (directory, file_name, status, timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(directory, file_name) DO NOTHING`

	sqlUpsertEntry = `INSERT INTO file_cache (directory, file_name, status, timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(directory, file_name) DO UPDATE SET
		 status = excluded.status,
		 timestamp = excluded.timestamp`

	sqlUpdateStatus = `UPDATE file_cache SET status = ?, timestamp = ?
		WHERE directory = ? AND file_name = ?`

	sqlDeleteEntry = `DELETE FROM file_cache WHERE directory = ? AND file_name = ?`

	sqlDeleteByStatus = `DELETE FROM file_cache WHERE status = ?`

	sqlListWaiting = `SELECT file_name FROM file_cache
		WHERE directory = ? AND status = 'waiting' ORDER BY file_name`

	sqlListByStatus = `SELECT directory, file_name, status, timestamp
		FROM file_cache WHERE status = ? ORDER BY directory, file_name`

	sqlListUnder = `SELECT directory, file_name, status, timestamp
		FROM file_cache
		WHERE status = ? AND (directory = ? OR directory LIKE ? ESCAPE '\')
		ORDER BY directory, file_name`

	sqlListAll = `SELECT directory, file_name, status, timestamp
		FROM file_cache ORDER BY directory, file_name`

	sqlCountByStatus = `SELECT status, COUNT(*) FROM file_cache GROUP BY status`

	sqlInsertDispatch = `INSERT INTO dispatch_log
		(id, dataset_key, msgstore_path, contacts_path, output_dir, status,
		 message, artifacts, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlListDispatches = `SELECT id, dataset_key, msgstore_path, contacts_path, output_dir,
		status, message, artifacts, started_at, finished_at
		FROM dispatch_log ORDER BY started_at DESC LIMIT ?`
)

// Store is the sole writer to the cache database.
type Store struct {
	db      *sql.DB
	path    string
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens the SQLite database at dbPath, runs migrations, and returns a
// ready-to-use Store. The database uses WAL mode with synchronous=FULL so
// that every committed status change survives a crash.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("processing cache ready", slog.String("db_path", dbPath))

	return &Store{
		db:      db,
		path:    dbPath,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsKnown reports whether path has a cache row.
func (s *Store) IsKnown(ctx context.Context, path string) (bool, error) {
	dir, name := artifact.Split(path)

	var one int

	err := s.db.QueryRowContext(ctx, sqlIsKnown, dir, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("cache: looking up %s: %w", path, err)
	}

	return true, nil
}

// Get returns the row for path. The boolean is false when no row exists.
func (s *Store) Get(ctx context.Context, path string) (Entry, bool, error) {
	dir, name := artifact.Split(path)

	e, err := scanEntry(s.db.QueryRowContext(ctx, sqlGetEntry, dir, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}

	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: reading %s: %w", path, err)
	}

	return e, true, nil
}

// Add inserts path with the given status. Re-adding a known path is a no-op
// and reports false; it never creates a second row and never fails on the
// unique constraint.
func (s *Store) Add(ctx context.Context, path string, status Status) (bool, error) {
	dir, name := artifact.Split(path)

	res, err := s.db.ExecContext(ctx, sqlInsertEntry, dir, name, string(status), s.now())
	if err != nil {
		return false, fmt.Errorf("cache: adding %s: %w", path, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cache: adding %s: %w", path, err)
	}

	if n == 0 {
		s.logger.Debug("cache add ignored, file already known", slog.String("path", path))
		return false, nil
	}

	s.logger.Debug("file cached", slog.String("path", path), slog.String("status", string(status)))

	return true, nil
}

// SetStatus updates the status of an existing row and logs the transition.
// A path without a row is left alone.
func (s *Store) SetStatus(ctx context.Context, path string, status Status) error {
	prev, ok, err := s.Get(ctx, path)
	if err != nil {
		return err
	}

	if !ok {
		s.logger.Debug("status update for uncached file ignored",
			slog.String("path", path), slog.String("status", string(status)))

		return nil
	}

	dir, name := artifact.Split(path)
	if _, err := s.db.ExecContext(ctx, sqlUpdateStatus, string(status), s.now(), dir, name); err != nil {
		return fmt.Errorf("cache: updating status of %s: %w", path, err)
	}

	s.logger.Info("updating status",
		slog.String("path", path),
		slog.String("from", string(prev.Status)),
		slog.String("to", string(status)),
	)

	return nil
}

// Upsert sets the status of path, inserting the row when it is missing.
func (s *Store) Upsert(ctx context.Context, path string, status Status) error {
	dir, name := artifact.Split(path)

	if _, err := s.db.ExecContext(ctx, sqlUpsertEntry, dir, name, string(status), s.now()); err != nil {
		return fmt.Errorf("cache: upserting %s: %w", path, err)
	}

	s.logger.Info("updating status", slog.String("path", path), slog.String("to", string(status)))

	return nil
}

// Remove deletes the row for path. Removing an unknown path is not an error.
func (s *Store) Remove(ctx context.Context, path string) error {
	dir, name := artifact.Split(path)

	if _, err := s.db.ExecContext(ctx, sqlDeleteEntry, dir, name); err != nil {
		return fmt.Errorf("cache: removing %s: %w", path, err)
	}

	s.logger.Debug("file removed from cache", slog.String("path", path))

	return nil
}

// RemoveByStatus deletes every row in the given status and returns how many
// were removed. Used for manual intervention: the removed files are replayed
// as new arrivals by the next reconciliation.
func (s *Store) RemoveByStatus(ctx context.Context, status Status) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqlDeleteByStatus, string(status))
	if err != nil {
		return 0, fmt.Errorf("cache: removing %s entries: %w", status, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: removing %s entries: %w", status, err)
	}

	return n, nil
}

// ListWaiting returns the names of files in dir currently waiting for their
// dataset to complete.
func (s *Store) ListWaiting(ctx context.Context, dir string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqlListWaiting, artifact.Normalize(dir))
	if err != nil {
		return nil, fmt.Errorf("cache: listing waiting files in %s: %w", dir, err)
	}
	defer rows.Close()

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("cache: scanning waiting file: %w", err)
		}

		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: iterating waiting files: %w", err)
	}

	return names, nil
}

// ListByStatus returns every row in the given status.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]Entry, error) {
	return s.queryEntries(ctx, sqlListByStatus, string(status))
}

// ListUnder returns the rows in the given status whose directory is dir or
// lies below it.
func (s *Store) ListUnder(ctx context.Context, dir string, status Status) ([]Entry, error) {
	dir = artifact.Normalize(dir)
	pattern := escapeLike(dir+string(filepath.Separator)) + "%"

	return s.queryEntries(ctx, sqlListUnder, string(status), dir, pattern)
}

// All returns every row ordered by directory and file name.
func (s *Store) All(ctx context.Context) ([]Entry, error) {
	return s.queryEntries(ctx, sqlListAll)
}

// Counts returns the number of rows per status. Statuses without rows are
// present with a zero count.
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, sqlCountByStatus)
	if err != nil {
		return nil, fmt.Errorf("cache: counting entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int, len(AllStatuses))
	for _, st := range AllStatuses {
		counts[st] = 0
	}

	for rows.Next() {
		var (
			raw string
			n   int
		)

		if err := rows.Scan(&raw, &n); err != nil {
			return nil, fmt.Errorf("cache: scanning count: %w", err)
		}

		st, err := ParseStatus(raw)
		if err != nil {
			return nil, err
		}

		counts[st] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: iterating counts: %w", err)
	}

	return counts, nil
}

// RecordDispatch appends one export attempt to the dispatch log.
func (s *Store) RecordDispatch(ctx context.Context, r DispatchRecord) error {
	_, err := s.db.ExecContext(ctx, sqlInsertDispatch,
		r.ID, r.DatasetKey, r.MsgStorePath, r.ContactsPath, r.OutputDir,
		string(r.Status), nullString(r.Message), r.Artifacts,
		r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("cache: recording dispatch %s: %w", r.ID, err)
	}

	return nil
}

// ListDispatches returns the most recent dispatches, newest first.
func (s *Store) ListDispatches(ctx context.Context, limit int) ([]DispatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqlListDispatches, limit)
	if err != nil {
		return nil, fmt.Errorf("cache: listing dispatches: %w", err)
	}
	defer rows.Close()

	var records []DispatchRecord

	for rows.Next() {
		var (
			r        DispatchRecord
			status   string
			message  sql.NullString
			started  int64
			finished int64
		)

		err := rows.Scan(&r.ID, &r.DatasetKey, &r.MsgStorePath, &r.ContactsPath, &r.OutputDir,
			&status, &message, &r.Artifacts, &started, &finished)
		if err != nil {
			return nil, fmt.Errorf("cache: scanning dispatch row: %w", err)
		}

		r.Status = Status(status)
		r.Message = message.String
		r.StartedAt = time.Unix(0, started)
		r.FinishedAt = time.Unix(0, finished)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: iterating dispatches: %w", err)
	}

	return records, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cache: listing entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("cache: scanning entry: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: iterating entries: %w", err)
	}

	return entries, nil
}

func (s *Store) now() int64 {
	return s.nowFunc().UnixNano()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var (
		e      Entry
		status string
		ts     int64
	)

	if err := r.Scan(&e.Directory, &e.FileName, &status, &ts); err != nil {
		return Entry{}, err
	}

	st, err := ParseStatus(status)
	if err != nil {
		return Entry{}, err
	}

	e.Status = st
	e.UpdatedAt = time.Unix(0, ts)

	return e, nil
}

// escapeLike escapes the LIKE wildcards in s for use with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}
