// Package daemon wires the deskclaw services together and runs them
// until shutdown: config store and file watcher, turn coordinator, cron
// store and scheduler, notification bus and gateway.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/deskclaw/deskclaw/internal/config"
	"github.com/deskclaw/deskclaw/pkg/agent"
	"github.com/deskclaw/deskclaw/pkg/coordinator"
	"github.com/deskclaw/deskclaw/pkg/cron"
	"github.com/deskclaw/deskclaw/pkg/gateway"
)

const shutdownTimeout = 5 * time.Second

// Options configures the daemon.
type Options struct {
	ConfigPath string
	Logger     zerolog.Logger
}

// Daemon owns the long-lived services.
type Daemon struct {
	logger      zerolog.Logger
	loader      *config.Loader
	store       *config.Store
	watcher     *config.Watcher
	coordinator *coordinator.Coordinator
	cronStore   *cron.Store
	scheduler   *cron.Scheduler
	bus         *cron.NotificationBus
	gateway     *gateway.Server
}

// New builds the daemon in dependency order.
func New(opts Options) (*Daemon, error) {
	d := &Daemon{
		logger: opts.Logger,
		loader: config.NewLoader(opts.ConfigPath),
		store:  config.NewStore(),
		bus:    cron.NewNotificationBus(),
	}

	cfg, err := d.loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	d.store.Load(cfg)

	d.coordinator, err = coordinator.New(coordinator.Options{
		Store:  d.store,
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Features.Cron {
		d.cronStore, err = cron.NewStore(filepath.Join(cfg.DataDir, "cron.db"), opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open cron store: %w", err)
		}

		d.scheduler, err = cron.NewScheduler(cron.SchedulerOptions{
			Store:         d.cronStore,
			Bus:           d.bus,
			Logger:        opts.Logger,
			RunAgentJob:   d.runAgentJob,
			MaxRunHistory: cfg.Cron.MaxRunHistory,
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.Features.Gateway {
		d.gateway, err = gateway.NewServer(gateway.Config{
			Host:   cfg.Gateway.Host,
			Port:   cfg.Gateway.Port,
			Bus:    d.bus,
			Logger: opts.Logger,
		})
		if err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Coordinator exposes the turn coordinator.
func (d *Daemon) Coordinator() *coordinator.Coordinator { return d.coordinator }

// CronStore exposes the job store, nil when the cron feature is off.
func (d *Daemon) CronStore() *cron.Store { return d.cronStore }

// Bus exposes the notification bus.
func (d *Daemon) Bus() *cron.NotificationBus { return d.bus }

// Run starts the background services and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	configPath, err := d.loader.Path()
	if err == nil {
		d.watcher, err = config.NewWatcher(configPath, d.logger, d.reloadConfig)
		if err != nil {
			d.logger.Warn().Err(err).Msg("Config watcher unavailable, hot reload disabled")
		}
	}

	if d.scheduler != nil {
		d.scheduler.Start()
	}

	gatewayErr := make(chan error, 1)
	if d.gateway != nil {
		go func() {
			gatewayErr <- d.gateway.Start()
		}()
	}

	d.logger.Info().Msg("deskclaw daemon running")

	select {
	case <-ctx.Done():
	case err := <-gatewayErr:
		if err != nil {
			d.shutdown()
			return err
		}
	}

	d.shutdown()
	return nil
}

func (d *Daemon) shutdown() {
	d.logger.Info().Msg("Shutting down")

	if d.watcher != nil {
		_ = d.watcher.Stop()
	}
	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	if d.gateway != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = d.gateway.Shutdown(ctx)
	}
	if d.cronStore != nil {
		_ = d.cronStore.Close()
	}
}

// reloadConfig re-reads the config file after a change on disk. Loading
// a new snapshot invalidates the live agent on its next turn.
func (d *Daemon) reloadConfig() {
	cfg, err := d.loader.Load()
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to reload configuration")
		return
	}
	if err := cfg.Validate(); err != nil {
		d.logger.Error().Err(err).Msg("Reloaded configuration is invalid, keeping previous")
		return
	}
	d.store.Load(cfg)
	d.logger.Info().Msg("Configuration reloaded")
}

// runAgentJob executes one scheduled agent job on a short-lived runtime
// so it never serializes against an interactive turn.
func (d *Daemon) runAgentJob(ctx context.Context, job *cron.Job) (string, error) {
	cfg, ok := d.store.Snapshot()
	if !ok {
		return "", fmt.Errorf("configuration not loaded")
	}

	model := cfg.Model
	if job.Model != "" {
		model = job.Model
	}

	runtime, err := agent.New(agent.Options{
		Provider: agent.ProviderSettings{
			Provider: cfg.Provider,
			APIKey:   cfg.APIKey,
			APIBase:  cfg.APIBase,
		},
		Model:             model,
		Temperature:       cfg.Temperature,
		MaxToolIterations: cfg.MaxToolIterations,
		SystemPrompt:      cfg.SystemPrompt,
		Logger:            d.logger,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create agent: %w", err)
	}

	return runtime.Turn(ctx, job.Prompt)
}
