// Package store persists job records in a single SQLite database file,
// following the schema used by the daemon's prior Python implementation
// (one "jobs" table, indexed for priority-ordered dequeue and for lookups
// by webhook/batch/status/container). The store is the only shared mutable
// state in the daemon; every mutation is transactional.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arrtheaudio/arrtheaudio/internal/job"
)

// ErrNotFound is returned when a job_id has no matching row.
var ErrNotFound = errors.New("store: job not found")

// ErrAlreadyExists is returned by Insert when job_id already has a row.
var ErrAlreadyExists = errors.New("store: job already exists")

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	file_path TEXT NOT NULL,
	container TEXT NOT NULL,
	status TEXT NOT NULL,
	priority TEXT NOT NULL,
	source TEXT NOT NULL,
	webhook_id TEXT,
	batch_id TEXT,
	selected_track_index INTEGER,
	selected_track_language TEXT,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT,
	success INTEGER,
	error_message TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	tmdb_id INTEGER,
	original_language TEXT,
	series_title TEXT,
	movie_title TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_priority_created ON jobs(priority, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_webhook_id ON jobs(webhook_id);
CREATE INDEX IF NOT EXISTS idx_jobs_batch_id ON jobs(batch_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status_container ON jobs(status, container);
`

// Store wraps a SQLite-backed jobs table.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the SQLite database at path, applying
// the schema idempotently. SetMaxOpenConns(1) makes every write serialize
// through the single *sql.DB connection, which is what lets ClaimNext's
// BEGIN IMMEDIATE transaction behave as the single serialization point the
// core requires without fighting SQLITE_BUSY under concurrent writers.
func Open(path string) (*Store, error) {
	// _txlock=immediate makes every sql.Tx begin with BEGIN IMMEDIATE rather
	// than the driver's default BEGIN, so ClaimNext's transaction takes the
	// write lock up front instead of racing another writer at COMMIT time.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert adds a new job record. Returns ErrAlreadyExists if job_id collides.
func (s *Store) Insert(ctx context.Context, j *job.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			job_id, file_path, container, status, priority, source,
			webhook_id, batch_id, selected_track_index, selected_track_language,
			created_at, started_at, completed_at, success, error_message,
			retry_count, tmdb_id, original_language, series_title, movie_title
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.FilePath, string(j.Container), string(j.Status), string(j.Priority), string(j.Source),
		nullString(j.WebhookID), nullString(j.BatchID), nullInt(j.SelectedTrackIndex), nullString(j.SelectedTrackLanguage),
		formatTime(j.CreatedAt), formatTimePtr(j.StartedAt), formatTimePtr(j.CompletedAt), nullBool(j.Success), nullString(j.ErrorMessage),
		j.RetryCount, nullInt64(j.TMDBID), nullString(j.OriginalLanguage), nullString(j.SeriesTitle), nullString(j.MovieTitle),
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("store: insert: %w", err)
	}
	return nil
}

// Get returns the full record for job_id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, jobID string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` WHERE job_id = ?`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get: %w", err)
	}
	return j, nil
}

// Update replaces all mutable fields of an existing job. Fails if the job
// does not exist.
func (s *Store) Update(ctx context.Context, j *job.Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, selected_track_index = ?, selected_track_language = ?,
			started_at = ?, completed_at = ?, success = ?, error_message = ?,
			retry_count = ?
		WHERE job_id = ?`,
		string(j.Status), nullInt(j.SelectedTrackIndex), nullString(j.SelectedTrackLanguage),
		formatTimePtr(j.StartedAt), formatTimePtr(j.CompletedAt), nullBool(j.Success), nullString(j.ErrorMessage),
		j.RetryCount, j.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimNext atomically selects the oldest queued job of the highest
// priority class present, transitions it to running, stamps started_at,
// and returns the post-transition record. maxMP4Concurrent, when >= 0,
// excludes MP4 candidates once that many MP4 jobs are already running —
// this is the claim_next-side filter strategy for enforcing the MP4 cap
// (the alternative permitted by the spec is a running->queued reverse
// transition in the worker; this store enforces the cap here instead, so
// the worker never needs to release a job back to queued).
//
// Returns nil, nil when no eligible job is available.
func (s *Store) ClaimNext(ctx context.Context, maxMP4Concurrent int) (*job.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: claim_next: begin: %w", err)
	}
	defer tx.Rollback()

	query := selectCols + `
		WHERE status = 'queued'`
	args := []any{}
	if maxMP4Concurrent >= 0 {
		query += ` AND (container != 'mp4' OR (
			SELECT COUNT(*) FROM jobs WHERE status = 'running' AND container = 'mp4'
		) < ?)`
		args = append(args, maxMP4Concurrent)
	}
	query += `
		ORDER BY CASE priority
			WHEN 'high' THEN 0
			WHEN 'normal' THEN 1
			WHEN 'low' THEN 2
			ELSE 3
		END ASC, created_at ASC
		LIMIT 1`

	row := tx.QueryRowContext(ctx, query, args...)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, fmt.Errorf("store: claim_next: scan: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'running', started_at = ? WHERE job_id = ? AND status = 'queued'`,
		formatTime(now), j.ID,
	); err != nil {
		return nil, fmt.Errorf("store: claim_next: update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: claim_next: commit: %w", err)
	}

	j.Status = job.StatusRunning
	j.StartedAt = &now
	return j, nil
}

// ListByStatus returns all jobs in the given status, created_at ascending.
func (s *Store) ListByStatus(ctx context.Context, status job.Status) ([]*job.Job, error) {
	return s.listWhere(ctx, `WHERE status = ? ORDER BY created_at ASC`, string(status))
}

// ListByWebhook returns all jobs sharing webhook_id, created_at ascending.
func (s *Store) ListByWebhook(ctx context.Context, webhookID string) ([]*job.Job, error) {
	return s.listWhere(ctx, `WHERE webhook_id = ? ORDER BY created_at ASC`, webhookID)
}

// ListByBatch returns all jobs sharing batch_id, created_at ascending.
func (s *Store) ListByBatch(ctx context.Context, batchID string) ([]*job.Job, error) {
	return s.listWhere(ctx, `WHERE batch_id = ? ORDER BY created_at ASC`, batchID)
}

func (s *Store) listWhere(ctx context.Context, whereAndOrder string, args ...any) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, selectCols+" "+whereAndOrder, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list: scan: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// CountRunningForContainer returns the number of jobs currently running for
// the given container class.
func (s *Store) CountRunningForContainer(ctx context.Context, container job.Container) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = 'running' AND container = ?`,
		string(container),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count_running_for_container: %w", err)
	}
	return n, nil
}

// Counts summarizes jobs across statuses.
type Counts struct {
	Total     int
	Queued    int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}

// AggregateCounts returns counts of jobs grouped by status.
func (s *Store) AggregateCounts(ctx context.Context) (Counts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return Counts{}, fmt.Errorf("store: aggregate_counts: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, fmt.Errorf("store: aggregate_counts: scan: %w", err)
		}
		c.Total += n
		switch job.Status(status) {
		case job.StatusQueued:
			c.Queued = n
		case job.StatusRunning:
			c.Running = n
		case job.StatusCompleted:
			c.Completed = n
		case job.StatusFailed:
			c.Failed = n
		case job.StatusCancelled:
			c.Cancelled = n
		}
	}
	return c, rows.Err()
}

// AggregateByContainer returns running-job counts grouped by container
// class, supplementing aggregate_counts with the per-container breakdown
// the original implementation's get_queue_stats also exposed.
func (s *Store) AggregateByContainer(ctx context.Context) (map[job.Container]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT container, COUNT(*) FROM jobs WHERE status = 'running' GROUP BY container`)
	if err != nil {
		return nil, fmt.Errorf("store: aggregate_by_container: %w", err)
	}
	defer rows.Close()

	out := map[job.Container]int{}
	for rows.Next() {
		var container string
		var n int
		if err := rows.Scan(&container, &n); err != nil {
			return nil, fmt.Errorf("store: aggregate_by_container: scan: %w", err)
		}
		out[job.Container(container)] = n
	}
	return out, rows.Err()
}

// Delete removes a single job record.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	return nil
}

// PruneTerminalBefore deletes terminal jobs whose completed_at predates
// cutoff, and returns the number of rows removed. This implements the
// corrected semantics spec.md §9 specifies in place of the original
// implementation's cleanup_old_jobs SQL.
func (s *Store) PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		AND completed_at IS NOT NULL
		AND completed_at < ?`,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("store: prune_terminal_before: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune_terminal_before: %w", err)
	}
	return int(n), nil
}

const selectCols = `SELECT
	job_id, file_path, container, status, priority, source,
	webhook_id, batch_id, selected_track_index, selected_track_language,
	created_at, started_at, completed_at, success, error_message,
	retry_count, tmdb_id, original_language, series_title, movie_title
	FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*job.Job, error) {
	var (
		j                                      job.Job
		container, status, priority, source    string
		webhookID, batchID, selectedLang       sql.NullString
		selectedIdx                            sql.NullInt64
		createdAt                              string
		startedAt, completedAt                 sql.NullString
		success                                sql.NullBool
		errMsg                                 sql.NullString
		tmdbID                                 sql.NullInt64
		originalLang, seriesTitle, movieTitle  sql.NullString
	)

	if err := row.Scan(
		&j.ID, &j.FilePath, &container, &status, &priority, &source,
		&webhookID, &batchID, &selectedIdx, &selectedLang,
		&createdAt, &startedAt, &completedAt, &success, &errMsg,
		&j.RetryCount, &tmdbID, &originalLang, &seriesTitle, &movieTitle,
	); err != nil {
		return nil, err
	}

	j.Container = job.Container(container)
	j.Status = job.Status(status)
	j.Priority = job.Priority(priority)
	j.Source = job.Source(source)
	j.WebhookID = webhookID.String
	j.BatchID = batchID.String
	j.SelectedTrackLanguage = selectedLang.String
	if selectedIdx.Valid {
		idx := int(selectedIdx.Int64)
		j.SelectedTrackIndex = &idx
	}

	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	j.CreatedAt = t

	if startedAt.Valid {
		t, err := parseTime(startedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		j.CompletedAt = &t
	}
	if success.Valid {
		b := success.Bool
		j.Success = &b
	}
	j.ErrorMessage = errMsg.String
	if tmdbID.Valid {
		v := tmdbID.Int64
		j.TMDBID = &v
	}
	j.OriginalLanguage = originalLang.String
	j.SeriesTitle = seriesTitle.String
	j.MovieTitle = movieTitle.String

	return &j, nil
}

// formatTime writes a fixed-width UTC timestamp (nine fractional digits,
// never trimmed) so that string comparison in SQL is chronological.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func isUniqueConstraint(err error) bool {
	return err != nil && (containsAny(err.Error(), "UNIQUE constraint failed", "PRIMARY KEY"))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}
