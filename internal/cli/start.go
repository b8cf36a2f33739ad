package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deskclaw/deskclaw/internal/config"
	"github.com/deskclaw/deskclaw/internal/daemon"
	"github.com/deskclaw/deskclaw/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the deskclaw daemon",
	Long: `Run the deskclaw daemon in the foreground. The daemon hosts the
agent coordinator, the cron scheduler and the notification gateway, and
stops cleanly on SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	log, err := logger.New(logger.Config{
		Level:   level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(daemon.Options{
		ConfigPath: cfgFile,
		Logger:     log.GetZerolog(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
