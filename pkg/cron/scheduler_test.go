package cron

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerEnv struct {
	store     *Store
	bus       *NotificationBus
	scheduler *Scheduler
	agentRuns *int
}

func newSchedulerEnv(t *testing.T, agentResponse string, agentErr error) *schedulerEnv {
	t.Helper()

	store := newTestStore(t)
	bus := NewNotificationBus()
	agentRuns := 0

	scheduler, err := NewScheduler(SchedulerOptions{
		Store:  store,
		Bus:    bus,
		Logger: zerolog.Nop(),
		RunAgentJob: func(_ context.Context, _ *Job) (string, error) {
			agentRuns++
			return agentResponse, agentErr
		},
		PollInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(scheduler.Stop)

	return &schedulerEnv{store: store, bus: bus, scheduler: scheduler, agentRuns: &agentRuns}
}

func recvNotification(t *testing.T, sub *Subscription) Notification {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, _, err := sub.Recv(ctx)
	require.NoError(t, err)
	return n
}

func TestSchedulerShellJob(t *testing.T) {
	env := newSchedulerEnv(t, "", nil)
	sub := env.bus.Subscribe()
	defer sub.Close()

	job, err := env.store.Add(AddParams{
		Name:     "greeter",
		Schedule: Schedule{Kind: ScheduleKindEvery, EveryMs: 3_600_000},
		Type:     JobTypeShell,
		Command:  "echo hi",
		Enabled:  true,
	})
	require.NoError(t, err)

	before := time.Now()
	require.NoError(t, env.scheduler.RunJobNow(context.Background(), job.ID))

	n := recvNotification(t, sub)
	assert.Equal(t, job.ID, n.JobID)
	assert.Equal(t, "greeter", n.JobName)
	assert.Equal(t, JobTypeShell, n.JobType)
	assert.Equal(t, StatusOK, n.Status)
	assert.Equal(t, "hi", strings.TrimSpace(n.Output))

	// One run row, job state updated, next run pushed forward.
	runs, err := env.store.ListRuns(job.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusOK, runs[0].Status)

	updated, err := env.store.Get(job.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastRun)
	assert.Equal(t, StatusOK, updated.LastStatus)
	require.NotNil(t, updated.NextRun)
	assert.WithinDuration(t, before.Add(time.Hour), *updated.NextRun, 10*time.Second)
}

func TestSchedulerShellFailure(t *testing.T) {
	env := newSchedulerEnv(t, "", nil)
	sub := env.bus.Subscribe()
	defer sub.Close()

	job, err := env.store.Add(AddParams{
		Name:     "broken",
		Schedule: Schedule{Kind: ScheduleKindEvery, EveryMs: 60_000},
		Type:     JobTypeShell,
		Command:  "echo oops >&2; exit 3",
		Enabled:  true,
	})
	require.NoError(t, err)

	require.NoError(t, env.scheduler.RunJobNow(context.Background(), job.ID))

	n := recvNotification(t, sub)
	assert.Equal(t, StatusError, n.Status)
	assert.Contains(t, n.Output, "oops")

	updated, err := env.store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, updated.LastStatus)
}

func TestSchedulerOutputTruncation(t *testing.T) {
	env := newSchedulerEnv(t, "", nil)
	sub := env.bus.Subscribe()
	defer sub.Close()

	job, err := env.store.Add(AddParams{
		Name:     "verbose",
		Schedule: Schedule{Kind: ScheduleKindEvery, EveryMs: 60_000},
		Type:     JobTypeShell,
		Command:  "head -c 5000 /dev/zero | tr '\\0' 'a'",
		Enabled:  true,
	})
	require.NoError(t, err)

	require.NoError(t, env.scheduler.RunJobNow(context.Background(), job.ID))

	n := recvNotification(t, sub)
	assert.Equal(t, StatusOK, n.Status)
	assert.True(t, strings.HasSuffix(n.Output, truncationMarker))
	assert.Len(t, n.Output, maxOutputChars+len(truncationMarker))
}

func TestSchedulerAgentJob(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		env := newSchedulerEnv(t, "summary ready", nil)
		sub := env.bus.Subscribe()
		defer sub.Close()

		job, err := env.store.Add(AddParams{
			Name:          "daily summary",
			Schedule:      Schedule{Kind: ScheduleKindCron, Expr: "0 9 * * *"},
			Type:          JobTypeAgent,
			Prompt:        "summarize yesterday",
			SessionTarget: SessionTargetIsolated,
			Enabled:       true,
		})
		require.NoError(t, err)

		require.NoError(t, env.scheduler.RunJobNow(context.Background(), job.ID))

		n := recvNotification(t, sub)
		assert.Equal(t, JobTypeAgent, n.JobType)
		assert.Equal(t, SessionTargetIsolated, n.SessionTarget)
		assert.Equal(t, "summarize yesterday", n.Prompt)
		assert.Equal(t, StatusOK, n.Status)
		assert.Equal(t, "summary ready", n.Output)
		assert.Equal(t, 1, *env.agentRuns)
	})

	t.Run("failure becomes the run outcome", func(t *testing.T) {
		env := newSchedulerEnv(t, "", fmt.Errorf("model unavailable"))
		sub := env.bus.Subscribe()
		defer sub.Close()

		job, err := env.store.Add(AddParams{
			Name:     "doomed",
			Schedule: Schedule{Kind: ScheduleKindEvery, EveryMs: 60_000},
			Type:     JobTypeAgent,
			Prompt:   "do something",
			Enabled:  true,
		})
		require.NoError(t, err)

		require.NoError(t, env.scheduler.RunJobNow(context.Background(), job.ID))

		n := recvNotification(t, sub)
		assert.Equal(t, StatusError, n.Status)
		assert.Contains(t, n.Output, "model unavailable")
	})
}

func TestSchedulerOneShotDeleteAfterRun(t *testing.T) {
	env := newSchedulerEnv(t, "", nil)
	sub := env.bus.Subscribe()
	defer sub.Close()

	job, err := env.store.Add(AddParams{
		Name:           "one-shot",
		Schedule:       Schedule{Kind: ScheduleKindAt, At: time.Now().Add(-time.Minute).Format(time.RFC3339)},
		Type:           JobTypeShell,
		Command:        "echo once",
		Enabled:        true,
		DeleteAfterRun: true,
	})
	require.NoError(t, err)

	require.NoError(t, env.scheduler.RunJobNow(context.Background(), job.ID))

	// Notification carries the run outcome even though the job is gone.
	n := recvNotification(t, sub)
	assert.Equal(t, StatusOK, n.Status)

	_, err = env.store.Get(job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	jobs, err := env.store.List()
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSchedulerPollLoop(t *testing.T) {
	env := newSchedulerEnv(t, "", nil)
	sub := env.bus.Subscribe()
	defer sub.Close()

	_, err := env.store.Add(AddParams{
		Name:     "due now",
		Schedule: Schedule{Kind: ScheduleKindAt, At: time.Now().Add(-time.Second).Format(time.RFC3339)},
		Type:     JobTypeShell,
		Command:  "echo polled",
		Enabled:  true,
	})
	require.NoError(t, err)

	env.scheduler.Start()
	env.scheduler.Start() // idempotent

	n := recvNotification(t, sub)
	assert.Equal(t, "due now", n.JobName)
	assert.Equal(t, StatusOK, n.Status)
}

func TestSchedulerFailingJobDoesNotAbortOthers(t *testing.T) {
	env := newSchedulerEnv(t, "", nil)
	sub := env.bus.Subscribe()
	defer sub.Close()

	past := time.Now().Add(-time.Minute).Format(time.RFC3339)
	_, err := env.store.Add(AddParams{
		Name:     "a-fails",
		Schedule: Schedule{Kind: ScheduleKindAt, At: past},
		Type:     JobTypeShell,
		Command:  "exit 1",
		Enabled:  true,
	})
	require.NoError(t, err)
	_, err = env.store.Add(AddParams{
		Name:     "b-succeeds",
		Schedule: Schedule{Kind: ScheduleKindAt, At: past},
		Type:     JobTypeShell,
		Command:  "echo fine",
		Enabled:  true,
	})
	require.NoError(t, err)

	env.scheduler.runDue(context.Background())

	statuses := map[string]string{}
	for i := 0; i < 2; i++ {
		n := recvNotification(t, sub)
		statuses[n.JobName] = n.Status
	}
	assert.Equal(t, StatusError, statuses["a-fails"])
	assert.Equal(t, StatusOK, statuses["b-succeeds"])
}
