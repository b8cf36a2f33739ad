package cron

import (
	"context"
	"fmt"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// defaultPollInterval is the scheduler wake cadence.
	defaultPollInterval = 30 * time.Second

	// maxOutputChars caps stored job output.
	maxOutputChars = 2000

	truncationMarker = "...(truncated)"
)

// AgentJobRunner executes an agent job's prompt on a short-lived
// runtime, independent of the interactive agent handle, and returns the
// final response.
type AgentJobRunner func(ctx context.Context, job *Job) (string, error)

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Store         *Store
	Bus           *NotificationBus
	Logger        zerolog.Logger
	RunAgentJob   AgentJobRunner
	PollInterval  time.Duration
	MaxRunHistory int
}

// Scheduler polls the store for due jobs on a fixed cadence and runs
// them sequentially.
type Scheduler struct {
	store         *Store
	bus           *NotificationBus
	logger        zerolog.Logger
	runAgentJob   AgentJobRunner
	pollInterval  time.Duration
	maxRunHistory int

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler creates a scheduler.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("notification bus is required")
	}
	if opts.RunAgentJob == nil {
		return nil, fmt.Errorf("agent job runner is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxRunHistory <= 0 {
		opts.MaxRunHistory = 50
	}
	return &Scheduler{
		store:         opts.Store,
		bus:           opts.Bus,
		logger:        opts.Logger.With().Str("component", "cron-scheduler").Logger(),
		runAgentJob:   opts.RunAgentJob,
		pollInterval:  opts.PollInterval,
		maxRunHistory: opts.MaxRunHistory,
	}, nil
}

// Start launches the polling loop. Idempotent: only one loop is ever
// active no matter how many times Start is called.
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("Scheduler already started")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)
	s.logger.Info().Dur("poll_interval", s.pollInterval).Msg("Cron scheduler started")
}

// Stop terminates the polling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info().Msg("Cron scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue executes every due job sequentially. A store failure at poll
// time means nothing is due this cycle; the next cycle retries.
func (s *Scheduler) runDue(ctx context.Context) {
	jobs, err := s.store.Due(time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to query due jobs")
		return
	}

	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.executeJob(ctx, job)
	}
}

// RunJobNow triggers one job immediately, sharing the scheduled
// execution path.
func (s *Scheduler) RunJobNow(ctx context.Context, id string) error {
	job, err := s.store.Get(id)
	if err != nil {
		return err
	}
	s.executeJob(ctx, job)
	return nil
}

// executeJob runs one job and records the outcome. Every failure inside
// the execution becomes the run's outcome; nothing here may abort the
// scheduler loop.
func (s *Scheduler) executeJob(ctx context.Context, job *Job) {
	started := time.Now()
	s.logger.Info().Str("job_id", job.ID).Str("name", job.Name).Str("type", string(job.Type)).Msg("Executing cron job")

	var output string
	var ok bool
	switch job.Type {
	case JobTypeShell:
		output, ok = s.runShell(ctx, job.Command)
	case JobTypeAgent:
		output, ok = s.runAgent(ctx, job)
	default:
		output, ok = fmt.Sprintf("unknown job type: %s", job.Type), false
	}

	finished := time.Now()
	duration := finished.Sub(started).Milliseconds()
	status := StatusOK
	if !ok {
		status = StatusError
	}
	output = truncateOutput(output)

	if _, err := s.store.RecordRun(Run{
		JobID:      job.ID,
		StartedAt:  started,
		FinishedAt: finished,
		Status:     status,
		Output:     output,
		DurationMs: duration,
	}); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record run")
	}
	if err := s.store.PruneRuns(job.ID, s.maxRunHistory); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to prune run history")
	}

	var nextRun *time.Time
	if next, err := NextRun(job.Schedule, finished); err == nil {
		nextRun = TimePtr(next)
	} else {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to compute next run")
	}
	if err := s.store.UpdateAfterRun(job.ID, finished, status, output, nextRun); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to update job state")
	}

	s.bus.Publish(Notification{
		JobID:           job.ID,
		JobName:         job.Name,
		JobType:         job.Type,
		SessionTarget:   job.SessionTarget,
		TargetSessionID: job.TargetSessionID,
		Status:          status,
		Output:          output,
		Prompt:          job.Prompt,
		DurationMs:      duration,
		FinishedAt:      finished,
	})

	// The run row and notification above intentionally precede this:
	// a one-shot job's history is lost with the job itself.
	if job.DeleteAfterRun {
		if err := s.store.Delete(job.ID); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to delete one-shot job")
		}
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("status", status).
		Int64("duration_ms", duration).
		Msg("Cron job finished")
}

// runShell executes the command through a login shell, capturing
// combined stdout and stderr.
func (s *Scheduler) runShell(ctx context.Context, command string) (string, bool) {
	cmd := exec.CommandContext(ctx, "sh", "-lc", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if len(out) > 0 {
			return fmt.Sprintf("%s\n%v", out, err), false
		}
		return err.Error(), false
	}
	return string(out), true
}

func (s *Scheduler) runAgent(ctx context.Context, job *Job) (string, bool) {
	response, err := s.runAgentJob(ctx, job)
	if err != nil {
		return err.Error(), false
	}
	return response, true
}

func truncateOutput(s string) string {
	runes := []rune(s)
	if len(runes) <= maxOutputChars {
		return s
	}
	return string(runes[:maxOutputChars]) + truncationMarker
}
