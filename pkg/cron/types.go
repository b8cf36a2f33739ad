package cron

import "time"

// ScheduleKind represents the type of schedule
type ScheduleKind string

const (
	ScheduleKindAt    ScheduleKind = "at"
	ScheduleKindEvery ScheduleKind = "every"
	ScheduleKindCron  ScheduleKind = "cron"
)

// Schedule represents a time specification for job execution
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// For "at" schedule
	At string `json:"at,omitempty"` // RFC 3339 timestamp

	// For "every" schedule
	EveryMs int64 `json:"everyMs,omitempty"` // Interval in milliseconds

	// For "cron" schedule
	Expr string `json:"expr,omitempty"` // Cron expression (5-field format)
	TZ   string `json:"tz,omitempty"`   // Optional timezone
}

// JobType represents what a job executes
type JobType string

const (
	JobTypeShell JobType = "shell"
	JobTypeAgent JobType = "agent"
)

// SessionTarget specifies the session context for agent job execution
type SessionTarget string

const (
	SessionTargetIsolated SessionTarget = "isolated"
	SessionTargetMain     SessionTarget = "main"
)

// Run statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Job represents a complete cron job definition
type Job struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Schedule        Schedule      `json:"schedule"`
	Type            JobType       `json:"type"`
	Command         string        `json:"command,omitempty"` // shell jobs
	Prompt          string        `json:"prompt,omitempty"`  // agent jobs
	SessionTarget   SessionTarget `json:"sessionTarget,omitempty"`
	TargetSessionID string        `json:"targetSessionId,omitempty"`
	Model           string        `json:"model,omitempty"`
	Enabled         bool          `json:"enabled"`
	DeleteAfterRun  bool          `json:"deleteAfterRun,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	NextRun         *time.Time    `json:"nextRun,omitempty"`
	LastRun         *time.Time    `json:"lastRun,omitempty"`
	LastStatus      string        `json:"lastStatus,omitempty"`
	LastOutput      string        `json:"lastOutput,omitempty"`
}

// Run is one immutable execution record for a job
type Run struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"jobId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Status     string    `json:"status"`
	Output     string    `json:"output"`
	DurationMs int64     `json:"durationMs"`
}

// AddParams contains parameters for creating a job
type AddParams struct {
	Name            string        `json:"name"`
	Schedule        Schedule      `json:"schedule"`
	Type            JobType       `json:"type"`
	Command         string        `json:"command,omitempty"`
	Prompt          string        `json:"prompt,omitempty"`
	SessionTarget   SessionTarget `json:"sessionTarget,omitempty"`
	TargetSessionID string        `json:"targetSessionId,omitempty"`
	Model           string        `json:"model,omitempty"`
	Enabled         bool          `json:"enabled"`
	DeleteAfterRun  bool          `json:"deleteAfterRun,omitempty"`
}

// JobPatch contains fields that can be updated
type JobPatch struct {
	Name           *string   `json:"name,omitempty"`
	Schedule       *Schedule `json:"schedule,omitempty"`
	Command        *string   `json:"command,omitempty"`
	Prompt         *string   `json:"prompt,omitempty"`
	Model          *string   `json:"model,omitempty"`
	Enabled        *bool     `json:"enabled,omitempty"`
	DeleteAfterRun *bool     `json:"deleteAfterRun,omitempty"`
}

// Stats aggregates the job table
type Stats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Paused int `json:"paused"`
}

// Notification is broadcast once per completed run. It is ephemeral:
// delivered at most once to each currently-subscribed receiver.
type Notification struct {
	JobID           string        `json:"job_id"`
	JobName         string        `json:"job_name"`
	JobType         JobType       `json:"job_type"`
	SessionTarget   SessionTarget `json:"session_target,omitempty"`
	TargetSessionID string        `json:"target_session_id,omitempty"`
	Status          string        `json:"status"`
	Output          string        `json:"output"`
	Prompt          string        `json:"prompt,omitempty"`
	DurationMs      int64         `json:"duration_ms"`
	FinishedAt      time.Time     `json:"finished_at"`
}

// TimePtr returns a pointer to a time value
func TimePtr(t time.Time) *time.Time {
	return &t
}
