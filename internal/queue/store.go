package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"subflow/internal/config"
)

// timeFormat is RFC 3339 with fixed-width fractional seconds. RFC3339Nano
// trims trailing zeros, which breaks lexicographic ordering in SQL for
// timestamps landing exactly on a second; fixed width keeps string
// comparison equal to time comparison.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "jobs.db")
	return OpenPath(dbPath)
}

// OpenPath opens a job database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the location of the backing database file.
func (s *Store) Path() string {
	return s.path
}

// NewURLJob enqueues a job for a video URL. The fingerprint must be stable
// across submissions of the same canonical source.
func (s *Store) NewURLJob(ctx context.Context, sourceURL, platform, canonicalID, fingerprint string) (*Job, error) {
	if strings.TrimSpace(fingerprint) == "" {
		return nil, errors.New("fingerprint required")
	}
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (fingerprint, source_url, platform, canonical_id, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fingerprint, sourceURL, platform, canonicalID, StatusQueued, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert url job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// NewFileJob enqueues a job for an uploaded subtitle or audio file. These jobs
// skip acquisition and start at the stage matching the file kind.
func (s *Store) NewFileJob(ctx context.Context, sourceFile, fingerprint string, initial Status) (*Job, error) {
	if strings.TrimSpace(fingerprint) == "" {
		return nil, errors.New("fingerprint required")
	}
	switch initial {
	case StatusTranscriptPending, StatusTranslationPending:
	default:
		return nil, fmt.Errorf("file jobs must start at transcript_pending or translation_pending, got %s", initial)
	}
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (fingerprint, source_file, title, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		fingerprint, sourceFile, inferTitleFromPath(sourceFile), initial, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert file job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

const jobColumns = `id, fingerprint, source_url, source_file, platform, canonical_id, title,
    source_language, status, needs_transcribe, audio_path, subtitle_path, translated_path,
    result_path, article_id, failed_phase, last_provider, error_message, degraded,
    cancel_requested, chunks_done, chunks_total, created_at, updated_at, started_at`

// GetByID fetches one job.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// FindByFingerprint returns the job for a source fingerprint, or nil.
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE fingerprint = ?`, fingerprint)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// Update persists the job's mutable fields. cancel_requested is deliberately
// not written here: it is owned by RequestCancel and RetryFailed, so a stale
// in-memory copy can never erase a cancel that landed mid-stage.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job required")
	}
	job.UpdatedAt = time.Now().UTC()
	var startedAt any
	if job.StartedAt != nil {
		startedAt = job.StartedAt.UTC().Format(timeFormat)
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET
            platform = ?, canonical_id = ?, title = ?, source_language = ?, status = ?,
            needs_transcribe = ?, audio_path = ?, subtitle_path = ?, translated_path = ?,
            result_path = ?, article_id = ?, failed_phase = ?, last_provider = ?,
            error_message = ?, degraded = ?, chunks_done = ?,
            chunks_total = ?, updated_at = ?, started_at = ?
         WHERE id = ?`,
		job.Platform, job.CanonicalID, job.Title, job.SourceLanguage, job.Status,
		boolToInt(job.NeedsTranscribe), job.AudioPath, job.SubtitlePath, job.TranslatedPath,
		job.ResultPath, job.ArticleID, job.FailedPhase, job.LastProvider,
		job.ErrorMessage, boolToInt(job.Degraded), job.ChunksDone,
		job.ChunksTotal, job.UpdatedAt.Format(timeFormat), startedAt,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job %d: %w", job.ID, err)
	}
	return nil
}

// UpdateProgress persists only the chunk counters. Engines call this after
// every chunk so progress queries stay fresh without rewriting the whole row.
func (s *Store) UpdateProgress(ctx context.Context, id int64, done, total int) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET chunks_done = ?, chunks_total = ?, updated_at = ? WHERE id = ?`,
		done, total, time.Now().UTC().Format(timeFormat), id,
	)
	if err != nil {
		return fmt.Errorf("update progress for job %d: %w", id, err)
	}
	return nil
}

// NextReady returns the oldest job whose status is in the supplied set.
func (s *Store) NextReady(ctx context.Context, statuses ...Status) (*Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = status
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (`+strings.Join(placeholders, ",")+`)
         ORDER BY created_at ASC, id ASC LIMIT 1`,
		args...,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// TransitionIfStatus atomically moves a job from one status to another.
// Returns false when another worker claimed the job first.
func (s *Store) TransitionIfStatus(ctx context.Context, id int64, from, to Status) (bool, error) {
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ?,
            started_at = COALESCE(started_at, ?)
         WHERE id = ? AND status = ?`,
		to, now, now, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("transition job %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition job %d: rows affected: %w", id, err)
	}
	return affected == 1, nil
}

// RequestCancel flags a job for cancellation at the next chunk boundary.
func (s *Store) RequestCancel(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeFormat), id,
	)
	if err != nil {
		return fmt.Errorf("request cancel for job %d: %w", id, err)
	}
	return nil
}

// ResetStuckProcessing rolls processing jobs back to their ready status.
// Called on daemon start so work interrupted by a crash is retried.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	var total int64
	for processing, ready := range processingRollback {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
			ready, time.Now().UTC().Format(timeFormat), processing,
		)
		if err != nil {
			return total, fmt.Errorf("reset %s jobs: %w", processing, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("reset %s jobs: rows affected: %w", processing, err)
		}
		total += affected
	}
	return total, nil
}

// RetryFailed moves failed jobs back to the ready status of the phase they
// failed in. With no ids it retries every failed job.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	jobs, err := s.List(ctx, StatusFailed)
	if err != nil {
		return 0, err
	}

	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	var total int64
	for _, job := range jobs {
		if len(wanted) > 0 {
			if _, ok := wanted[job.ID]; !ok {
				continue
			}
		}
		ready, ok := phaseRetryStatus[job.FailedPhase]
		if !ok {
			ready = StatusQueued
		}
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs
			 SET status = ?, failed_phase = '', last_provider = '', error_message = '',
			     cancel_requested = 0, updated_at = ?
			 WHERE id = ? AND status = ?`,
			ready, time.Now().UTC().Format(timeFormat), job.ID, StatusFailed,
		)
		if err != nil {
			return total, fmt.Errorf("retry job %d: %w", job.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("retry job %d: rows affected: %w", job.ID, err)
		}
		total += affected
	}
	return total, nil
}

// PurgeTerminalBefore removes completed and failed jobs older than the cutoff.
func (s *Store) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM jobs WHERE status IN (?, ?) AND updated_at < ?`,
		StatusCompleted, StatusFailed, cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("purge terminal jobs: %w", err)
	}
	return res.RowsAffected()
}

// List returns jobs filtered by the provided statuses, or all jobs.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Health reports aggregate job counts.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	var summary HealthSummary
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return summary, fmt.Errorf("queue health: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return summary, fmt.Errorf("queue health scan: %w", err)
		}
		summary.Total += count
		switch {
		case status == StatusQueued:
			summary.Queued += count
		case status == StatusCompleted:
			summary.Completed += count
		case status == StatusFailed:
			summary.Failed += count
		case IsProcessingStatus(status):
			summary.Processing += count
		}
	}
	return summary, rows.Err()
}

// Remove deletes a job by id.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove job %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                       Job
		needsTranscribe           int
		degraded, cancelRequested int
		createdAt, updatedAt      string
		startedAt                 sql.NullString
	)
	err := row.Scan(
		&job.ID, &job.Fingerprint, &job.SourceURL, &job.SourceFile, &job.Platform,
		&job.CanonicalID, &job.Title, &job.SourceLanguage, &job.Status, &needsTranscribe,
		&job.AudioPath, &job.SubtitlePath, &job.TranslatedPath, &job.ResultPath,
		&job.ArticleID, &job.FailedPhase, &job.LastProvider, &job.ErrorMessage,
		&degraded, &cancelRequested, &job.ChunksDone, &job.ChunksTotal,
		&createdAt, &updatedAt, &startedAt,
	)
	if err != nil {
		return nil, err
	}
	job.NeedsTranscribe = needsTranscribe == 1
	job.Degraded = degraded == 1
	job.CancelRequested = cancelRequested == 1
	if job.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if startedAt.Valid && startedAt.String != "" {
		ts, err := parseTimestamp(startedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		job.StartedAt = &ts
	}
	return &job, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func inferTitleFromPath(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}
