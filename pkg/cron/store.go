package cron

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// ErrJobNotFound distinguishes "already removed" from a broken store.
var ErrJobNotFound = errors.New("cron job not found")

// Store is the durable table of job definitions and run history.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens (or creates) the job database at path.
func NewStore(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL for concurrent readers; foreign keys for run-history cascade.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "cron-store").Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS cron_jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			schedule_kind TEXT NOT NULL,
			schedule_params TEXT NOT NULL,
			job_type TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL DEFAULT '',
			session_target TEXT NOT NULL DEFAULT '',
			target_session_id TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			delete_after_run INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			next_run INTEGER,
			last_run INTEGER,
			last_status TEXT NOT NULL DEFAULT '',
			last_output TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_cron_jobs_next_run ON cron_jobs(enabled, next_run);

		CREATE TABLE IF NOT EXISTS cron_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			status TEXT NOT NULL,
			output TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL,
			FOREIGN KEY (job_id) REFERENCES cron_jobs(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_cron_runs_job ON cron_runs(job_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add validates params, computes the first next-run time and inserts a
// new job.
func (s *Store) Add(params AddParams) (*Job, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("job name is required")
	}
	switch params.Type {
	case JobTypeShell:
		if params.Command == "" {
			return nil, fmt.Errorf("shell job requires a command")
		}
	case JobTypeAgent:
		if params.Prompt == "" {
			return nil, fmt.Errorf("agent job requires a prompt")
		}
	default:
		return nil, fmt.Errorf("unknown job type: %s", params.Type)
	}

	now := time.Now()
	next, err := NextRun(params.Schedule, now)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}

	job := &Job{
		ID:              uuid.New().String(),
		Name:            params.Name,
		Schedule:        params.Schedule,
		Type:            params.Type,
		Command:         params.Command,
		Prompt:          params.Prompt,
		SessionTarget:   params.SessionTarget,
		TargetSessionID: params.TargetSessionID,
		Model:           params.Model,
		Enabled:         params.Enabled,
		DeleteAfterRun:  params.DeleteAfterRun,
		CreatedAt:       now,
		NextRun:         TimePtr(next),
	}

	scheduleParams, err := json.Marshal(job.Schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schedule: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO cron_jobs (
			id, name, schedule_kind, schedule_params, job_type, command, prompt,
			session_target, target_session_id, model, enabled, delete_after_run,
			created_at, next_run
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, string(job.Schedule.Kind), string(scheduleParams),
		string(job.Type), job.Command, job.Prompt, string(job.SessionTarget),
		job.TargetSessionID, job.Model, boolToInt(job.Enabled),
		boolToInt(job.DeleteAfterRun), now.UnixMilli(), next.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}

	s.logger.Info().Str("job_id", job.ID).Str("name", job.Name).Msg("Cron job added")
	return job, nil
}

// Get returns one job by id.
func (s *Store) Get(id string) (*Job, error) {
	row := s.db.QueryRow(selectJobColumns+" FROM cron_jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return job, nil
}

// List returns all jobs ordered by creation time.
func (s *Store) List() ([]*Job, error) {
	rows, err := s.db.Query(selectJobColumns + " FROM cron_jobs ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Due returns all enabled jobs whose next_run is at or before now.
func (s *Store) Due(now time.Time) ([]*Job, error) {
	rows, err := s.db.Query(
		selectJobColumns+" FROM cron_jobs WHERE enabled = 1 AND next_run IS NOT NULL AND next_run <= ? ORDER BY next_run",
		now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Update applies a patch to a job. Changing the schedule recomputes
// next_run.
func (s *Store) Update(id string, patch JobPatch) (*Job, error) {
	job, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		job.Name = *patch.Name
	}
	if patch.Command != nil {
		job.Command = *patch.Command
	}
	if patch.Prompt != nil {
		job.Prompt = *patch.Prompt
	}
	if patch.Model != nil {
		job.Model = *patch.Model
	}
	if patch.Enabled != nil {
		job.Enabled = *patch.Enabled
	}
	if patch.DeleteAfterRun != nil {
		job.DeleteAfterRun = *patch.DeleteAfterRun
	}
	if patch.Schedule != nil {
		next, err := NextRun(*patch.Schedule, time.Now())
		if err != nil {
			return nil, fmt.Errorf("invalid schedule: %w", err)
		}
		job.Schedule = *patch.Schedule
		job.NextRun = TimePtr(next)
	}

	scheduleParams, err := json.Marshal(job.Schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schedule: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE cron_jobs SET
			name = ?, schedule_kind = ?, schedule_params = ?, command = ?,
			prompt = ?, model = ?, enabled = ?, delete_after_run = ?, next_run = ?
		WHERE id = ?`,
		job.Name, string(job.Schedule.Kind), string(scheduleParams), job.Command,
		job.Prompt, job.Model, boolToInt(job.Enabled), boolToInt(job.DeleteAfterRun),
		timeToMillis(job.NextRun), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	return job, nil
}

// SetEnabled pauses or resumes a job. Resuming recomputes next_run so a
// long-paused job does not fire immediately for every missed interval.
func (s *Store) SetEnabled(id string, enabled bool) (*Job, error) {
	job, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	job.Enabled = enabled
	if enabled {
		next, err := NextRun(job.Schedule, time.Now())
		if err == nil {
			job.NextRun = TimePtr(next)
		}
	}

	_, err = s.db.Exec(
		"UPDATE cron_jobs SET enabled = ?, next_run = ? WHERE id = ?",
		boolToInt(job.Enabled), timeToMillis(job.NextRun), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	return job, nil
}

// Delete removes a job; its run history cascades away with it.
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec("DELETE FROM cron_jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// RecordRun inserts one immutable run row and returns its id.
func (s *Store) RecordRun(run Run) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO cron_runs (job_id, started_at, finished_at, status, output, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.JobID, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
		run.Status, run.Output, run.DurationMs,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	return result.LastInsertId()
}

// UpdateAfterRun records one execution's outcome on the job row.
func (s *Store) UpdateAfterRun(id string, lastRun time.Time, status, output string, nextRun *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE cron_jobs SET last_run = ?, last_status = ?, last_output = ?, next_run = ?
		WHERE id = ?`,
		lastRun.UnixMilli(), status, output, timeToMillis(nextRun), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update job state: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for a job, newest first.
func (s *Store) ListRuns(jobID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, job_id, started_at, finished_at, status, output, duration_ms
		FROM cron_runs WHERE job_id = ? ORDER BY id DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var run Run
		var started, finished int64
		if err := rows.Scan(&run.ID, &run.JobID, &started, &finished, &run.Status, &run.Output, &run.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = time.UnixMilli(started)
		run.FinishedAt = time.UnixMilli(finished)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// PruneRuns keeps only the newest keep rows per job.
func (s *Store) PruneRuns(jobID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.Exec(`
		DELETE FROM cron_runs WHERE job_id = ? AND id NOT IN (
			SELECT id FROM cron_runs WHERE job_id = ? ORDER BY id DESC LIMIT ?
		)`, jobID, jobID, keep)
	if err != nil {
		return fmt.Errorf("failed to prune runs: %w", err)
	}
	return nil
}

// Stats aggregates the job table.
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN enabled = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN enabled = 0 THEN 1 ELSE 0 END), 0)
		FROM cron_jobs`).Scan(&stats.Total, &stats.Active, &stats.Paused)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load stats: %w", err)
	}
	return stats, nil
}

const selectJobColumns = `
	SELECT id, name, schedule_kind, schedule_params, job_type, command, prompt,
		session_target, target_session_id, model, enabled, delete_after_run,
		created_at, next_run, last_run, last_status, last_output`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var scheduleKind, scheduleParams, jobType, sessionTarget string
	var enabled, deleteAfterRun int
	var createdAt int64
	var nextRun, lastRun sql.NullInt64

	err := row.Scan(
		&job.ID, &job.Name, &scheduleKind, &scheduleParams, &jobType,
		&job.Command, &job.Prompt, &sessionTarget, &job.TargetSessionID,
		&job.Model, &enabled, &deleteAfterRun, &createdAt, &nextRun, &lastRun,
		&job.LastStatus, &job.LastOutput,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(scheduleParams), &job.Schedule); err != nil {
		return nil, fmt.Errorf("corrupt schedule for job %s: %w", job.ID, err)
	}
	job.Schedule.Kind = ScheduleKind(scheduleKind)
	job.Type = JobType(jobType)
	job.SessionTarget = SessionTarget(sessionTarget)
	job.Enabled = enabled != 0
	job.DeleteAfterRun = deleteAfterRun != 0
	job.CreatedAt = time.UnixMilli(createdAt)
	if nextRun.Valid {
		job.NextRun = TimePtr(time.UnixMilli(nextRun.Int64))
	}
	if lastRun.Valid {
		job.LastRun = TimePtr(time.UnixMilli(lastRun.Int64))
	}
	return &job, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToMillis(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
