package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskclaw/deskclaw/internal/config"
	"github.com/deskclaw/deskclaw/internal/logger"
	"github.com/deskclaw/deskclaw/pkg/cron"
)

var (
	jobName           string
	jobCommand        string
	jobPrompt         string
	jobModel          string
	jobCronExpr       string
	jobTimezone       string
	jobAt             string
	jobEvery          time.Duration
	jobDisabled       bool
	jobDeleteAfterRun bool
	jobRunsLimit      int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scheduled jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	RunE: withJobStore(func(store *cron.Store, cmd *cobra.Command, args []string) error {
		jobs, err := store.List()
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs defined.")
			return nil
		}
		for _, job := range jobs {
			state := "enabled"
			if !job.Enabled {
				state = "paused"
			}
			next := "-"
			if job.NextRun != nil {
				next = job.NextRun.Format(time.RFC3339)
			}
			fmt.Printf("%s  %-20s  %-5s  %-8s  next=%s", job.ID, job.Name, job.Type, state, next)
			if job.LastStatus != "" {
				fmt.Printf("  last=%s", job.LastStatus)
			}
			fmt.Println()
		}
		return nil
	}),
}

var jobsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a job",
	Long: `Add a scheduled job. Exactly one of --cron, --at or --every selects the
schedule; exactly one of --command or --prompt selects what runs.`,
	RunE: withJobStore(func(store *cron.Store, cmd *cobra.Command, args []string) error {
		schedule, err := scheduleFromFlags()
		if err != nil {
			return err
		}

		params := cron.AddParams{
			Name:           jobName,
			Schedule:       schedule,
			Enabled:        !jobDisabled,
			DeleteAfterRun: jobDeleteAfterRun,
			Model:          jobModel,
		}
		switch {
		case jobCommand != "" && jobPrompt != "":
			return fmt.Errorf("--command and --prompt are mutually exclusive")
		case jobCommand != "":
			params.Type = cron.JobTypeShell
			params.Command = jobCommand
		case jobPrompt != "":
			params.Type = cron.JobTypeAgent
			params.Prompt = jobPrompt
			params.SessionTarget = cron.SessionTargetIsolated
		default:
			return fmt.Errorf("one of --command or --prompt is required")
		}

		job, err := store.Add(params)
		if err != nil {
			return err
		}
		fmt.Printf("Added job %s (%s)\n", job.ID, job.Name)
		return nil
	}),
}

var jobsUpdateCmd = &cobra.Command{
	Use:   "update <job-id>",
	Short: "Update fields of an existing job",
	Args:  cobra.ExactArgs(1),
	RunE: withJobStore(func(store *cron.Store, cmd *cobra.Command, args []string) error {
		var patch cron.JobPatch
		if cmd.Flags().Changed("name") {
			patch.Name = &jobName
		}
		if cmd.Flags().Changed("command") {
			patch.Command = &jobCommand
		}
		if cmd.Flags().Changed("prompt") {
			patch.Prompt = &jobPrompt
		}
		if cmd.Flags().Changed("model") {
			patch.Model = &jobModel
		}
		if cmd.Flags().Changed("delete-after-run") {
			patch.DeleteAfterRun = &jobDeleteAfterRun
		}
		if cmd.Flags().Changed("cron") || cmd.Flags().Changed("at") || cmd.Flags().Changed("every") {
			schedule, err := scheduleFromFlags()
			if err != nil {
				return err
			}
			patch.Schedule = &schedule
		}

		job, err := store.Update(args[0], patch)
		if err != nil {
			return err
		}
		fmt.Printf("Updated job %s (%s)\n", job.ID, job.Name)
		return nil
	}),
}

var jobsRemoveCmd = &cobra.Command{
	Use:   "rm <job-id>",
	Short: "Delete a job and its run history",
	Args:  cobra.ExactArgs(1),
	RunE: withJobStore(func(store *cron.Store, cmd *cobra.Command, args []string) error {
		if err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted job %s\n", args[0])
		return nil
	}),
}

var jobsPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a job",
	Args:  cobra.ExactArgs(1),
	RunE: withJobStore(func(store *cron.Store, cmd *cobra.Command, args []string) error {
		if _, err := store.SetEnabled(args[0], false); err != nil {
			return err
		}
		fmt.Printf("Paused job %s\n", args[0])
		return nil
	}),
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(1),
	RunE: withJobStore(func(store *cron.Store, cmd *cobra.Command, args []string) error {
		job, err := store.SetEnabled(args[0], true)
		if err != nil {
			return err
		}
		next := "-"
		if job.NextRun != nil {
			next = job.NextRun.Format(time.RFC3339)
		}
		fmt.Printf("Resumed job %s, next run %s\n", job.ID, next)
		return nil
	}),
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run a job immediately",
	Long: `Run a job immediately, outside its schedule. Shell jobs execute in
place; agent jobs need the daemon's model runtime and are rejected here.`,
	Args: cobra.ExactArgs(1),
	RunE: withJobStore(func(store *cron.Store, cmd *cobra.Command, args []string) error {
		log, err := logger.New(logger.Config{Level: "error", Console: true})
		if err != nil {
			return err
		}
		defer log.Close()

		bus := cron.NewNotificationBus()
		scheduler, err := cron.NewScheduler(cron.SchedulerOptions{
			Store:  store,
			Bus:    bus,
			Logger: log.GetZerolog(),
			RunAgentJob: func(ctx context.Context, job *cron.Job) (string, error) {
				return "", fmt.Errorf("agent jobs run inside the daemon; start it with 'deskclaw start'")
			},
		})
		if err != nil {
			return err
		}

		if err := scheduler.RunJobNow(cmd.Context(), args[0]); err != nil {
			return err
		}

		runs, err := store.ListRuns(args[0], 1)
		if err != nil || len(runs) == 0 {
			fmt.Println("Job executed.")
			return nil
		}
		run := runs[0]
		fmt.Printf("Job executed: %s (%dms)\n", run.Status, run.DurationMs)
		if run.Output != "" {
			fmt.Println(run.Output)
		}
		return nil
	}),
}

var jobsRunsCmd = &cobra.Command{
	Use:   "runs <job-id>",
	Short: "Show a job's run history",
	Args:  cobra.ExactArgs(1),
	RunE: withJobStore(func(store *cron.Store, cmd *cobra.Command, args []string) error {
		runs, err := store.ListRuns(args[0], jobRunsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		for _, run := range runs {
			fmt.Printf("#%d  %s  %-5s  %dms\n", run.ID, run.FinishedAt.Format(time.RFC3339), run.Status, run.DurationMs)
			if run.Output != "" {
				fmt.Printf("    %s\n", run.Output)
			}
		}
		return nil
	}),
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate job statistics",
	RunE: withJobStore(func(store *cron.Store, cmd *cobra.Command, args []string) error {
		stats, err := store.Stats()
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}),
}

func init() {
	jobsAddCmd.Flags().StringVar(&jobName, "name", "", "job name (required)")
	jobsAddCmd.Flags().StringVar(&jobCommand, "command", "", "shell command to run")
	jobsAddCmd.Flags().StringVar(&jobPrompt, "prompt", "", "agent prompt to run")
	jobsAddCmd.Flags().StringVar(&jobModel, "model", "", "model override for agent jobs")
	jobsAddCmd.Flags().StringVar(&jobCronExpr, "cron", "", "cron expression schedule (5-field)")
	jobsAddCmd.Flags().StringVar(&jobTimezone, "tz", "", "timezone for --cron schedules")
	jobsAddCmd.Flags().StringVar(&jobAt, "at", "", "one-shot RFC 3339 timestamp schedule")
	jobsAddCmd.Flags().DurationVar(&jobEvery, "every", 0, "fixed interval schedule (e.g. 15m)")
	jobsAddCmd.Flags().BoolVar(&jobDisabled, "disabled", false, "create the job paused")
	jobsAddCmd.Flags().BoolVar(&jobDeleteAfterRun, "delete-after-run", false, "delete the job after one run")
	_ = jobsAddCmd.MarkFlagRequired("name")

	jobsUpdateCmd.Flags().StringVar(&jobName, "name", "", "new job name")
	jobsUpdateCmd.Flags().StringVar(&jobCommand, "command", "", "new shell command")
	jobsUpdateCmd.Flags().StringVar(&jobPrompt, "prompt", "", "new agent prompt")
	jobsUpdateCmd.Flags().StringVar(&jobModel, "model", "", "new model override")
	jobsUpdateCmd.Flags().StringVar(&jobCronExpr, "cron", "", "new cron expression schedule")
	jobsUpdateCmd.Flags().StringVar(&jobTimezone, "tz", "", "timezone for --cron schedules")
	jobsUpdateCmd.Flags().StringVar(&jobAt, "at", "", "new one-shot RFC 3339 schedule")
	jobsUpdateCmd.Flags().DurationVar(&jobEvery, "every", 0, "new fixed interval schedule")
	jobsUpdateCmd.Flags().BoolVar(&jobDeleteAfterRun, "delete-after-run", false, "delete the job after its next run")

	jobsRunsCmd.Flags().IntVar(&jobRunsLimit, "limit", 20, "maximum runs to show")

	jobsCmd.AddCommand(jobsListCmd, jobsAddCmd, jobsUpdateCmd, jobsRemoveCmd, jobsPauseCmd, jobsResumeCmd, jobsRunCmd, jobsRunsCmd, jobsStatsCmd)
	rootCmd.AddCommand(jobsCmd)
}

func scheduleFromFlags() (cron.Schedule, error) {
	set := 0
	for _, given := range []bool{jobCronExpr != "", jobAt != "", jobEvery > 0} {
		if given {
			set++
		}
	}
	if set != 1 {
		return cron.Schedule{}, fmt.Errorf("exactly one of --cron, --at or --every is required")
	}

	switch {
	case jobCronExpr != "":
		return cron.Schedule{Kind: cron.ScheduleKindCron, Expr: jobCronExpr, TZ: jobTimezone}, nil
	case jobAt != "":
		return cron.Schedule{Kind: cron.ScheduleKindAt, At: jobAt}, nil
	default:
		return cron.Schedule{Kind: cron.ScheduleKindEvery, EveryMs: jobEvery.Milliseconds()}, nil
	}
}

// withJobStore opens the cron store for a one-shot command invocation.
func withJobStore(fn func(store *cron.Store, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewLoader(cfgFile).Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		log, err := logger.New(logger.Config{Level: "error", Console: true})
		if err != nil {
			return err
		}
		defer log.Close()

		store, err := cron.NewStore(filepath.Join(cfg.DataDir, "cron.db"), log.GetZerolog())
		if err != nil {
			return err
		}
		defer store.Close()

		return fn(store, cmd, args)
	}
}
