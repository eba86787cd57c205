package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"care-migrate/internal/audit"
	"care-migrate/internal/backup"
	"care-migrate/internal/config"
	"care-migrate/internal/database"
	"care-migrate/internal/errors"
	"care-migrate/internal/logging"
	"care-migrate/internal/metrics"
)

// Serve command flags
var serveListenAddr string

// gaugeRefreshInterval paces the storage usage and health gauge updates.
const gaugeRefreshInterval = 5 * time.Minute

// serveCmd runs the scheduler and the metrics endpoint in the foreground
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled backups and retention sweeps with a metrics endpoint",
	Long: `Run the backup scheduler in the foreground. Backup schedules and the
retention sweep come from the serve section of the configuration, and a
Prometheus metrics endpoint with a health check is served on the listen
address. The process runs until interrupted.

Examples:
  # Run with the configured schedules
  care-migrate serve --config config.yaml

  # Serve metrics on a different address
  care-migrate serve --config config.yaml --listen :9465`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := requireBackupConfig(cmd)
	if err != nil {
		return err
	}
	if len(cfg.Serve.Schedules) == 0 && cfg.Serve.SweepCron == "" {
		return fmt.Errorf("nothing to schedule; add serve schedules or a sweep cron to the configuration")
	}
	if cmd.Flags().Changed("listen") {
		cfg.Serve.ListenAddr = serveListenAddr
	}

	disp := newDisplayService(cfg)
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()

	connManager := database.NewConnectionManager()
	if err := connManager.ConnectToSource(cfg.Databases.Source); err != nil {
		return fmt.Errorf("failed to connect to the legacy database: %w", err)
	}

	storage, err := backup.NewStorageProvider(ctx, cfg.Backup.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage provider: %w", err)
	}
	manager, err := backup.NewManager(connManager.GetSourceDB(), &cfg.Backup, storage, logger)
	if err != nil {
		return err
	}
	manager.SetRecorder(audit.NewLogRecorder(logger))

	cleaner, err := backup.NewRetentionCleaner(&cfg.Backup, storage, logger)
	if err != nil {
		return err
	}
	cleaner.SetRecorder(audit.NewLogRecorder(logger))

	monitor, err := backup.NewStorageMonitor(storage, logger)
	if err != nil {
		return err
	}

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to configure notifications: %w", err)
	}
	monitor.SetNotifier(notifier)

	scheduler := backup.NewScheduler(manager, cleaner, logger)
	scheduler.SetNotifier(notifier)
	scheduler.SetBackupObserver(func(schedule backup.BackupSchedule, result *backup.BackupConfiguration, duration time.Duration, runErr error) {
		var size int64
		if runErr == nil && result != nil {
			if meta, metaErr := manager.GetBackupMetadata(context.Background(), result.BackupID); metaErr == nil {
				size = meta.BackupSize
			}
		}
		metrics.ObserveBackup(schedule.PipelineID, string(schedule.BackupType), runErr == nil, duration, size)
	})
	scheduler.SetSweepObserver(func(result *backup.SweepResult, sweepErr error) {
		if sweepErr == nil && result != nil {
			metrics.ObserveSweep(result.Deleted, result.BytesFreed)
		}
	})

	for _, schedule := range cfg.Serve.Schedules {
		if err := scheduler.AddBackupSchedule(schedule); err != nil {
			return fmt.Errorf("schedule %s/%s: %w", schedule.PipelineID, schedule.BackupType, err)
		}
	}
	if cfg.Serve.SweepCron != "" {
		if err := scheduler.AddRetentionSweep(cfg.Serve.SweepCron); err != nil {
			return err
		}
	}

	metricsServer := metrics.NewServer(cfg.Serve.ListenAddr, logger)
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.Errorf("Metrics server stopped: %v", err)
		}
	}()

	stopGauges := make(chan struct{})
	go syncStorageGauges(monitor, logger, stopGauges)

	scheduler.Start()

	disp.Success(fmt.Sprintf("Serving metrics on %s", cfg.Serve.ListenAddr))
	for _, next := range scheduler.NextRuns() {
		disp.Info(fmt.Sprintf("Next scheduled run: %s", next.Format(time.RFC3339)))
	}

	// Shutdown funcs run in reverse registration order: gauges first,
	// then the scheduler with its in-flight jobs, then the endpoint,
	// then the database connection.
	shutdownHandler := errors.NewGracefulShutdownHandler()
	shutdownHandler.RegisterShutdownFunc(connManager.Close)
	shutdownHandler.RegisterShutdownFunc(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	shutdownHandler.RegisterShutdownFunc(func() error {
		scheduler.Stop()
		return nil
	})
	shutdownHandler.RegisterShutdownFunc(func() error {
		close(stopGauges)
		return nil
	})
	shutdownHandler.Start()
	shutdownHandler.WaitForShutdown()

	logger.Info("Scheduler stopped")
	return nil
}

// syncStorageGauges keeps the storage usage and health gauges current
// until stop is closed.
func syncStorageGauges(monitor *backup.StorageMonitor, logger *logging.Logger, stop <-chan struct{}) {
	refresh := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		report, err := monitor.Usage(ctx)
		if err != nil {
			logger.Warnf("could not refresh storage usage: %v", err)
		} else {
			for _, usage := range report.ByPipeline {
				metrics.SetStorageUsage(usage.PipelineID, usage.BackupCount, usage.TotalBytes)
			}
		}
		metrics.SetStorageHealth(monitor.Health(ctx).Healthy)
	}

	refresh()

	ticker := time.NewTicker(gaugeRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// newNotifier builds the configured notification manager, or a no-op
// notifier when notifications are disabled.
func newNotifier(cfg *config.AppConfig, logger *logging.Logger) (backup.Notifier, error) {
	if !cfg.Backup.Notifications.Enabled {
		return backup.NopNotifier{}, nil
	}
	return backup.NewNotificationManager(cfg.Backup.Notifications, logger)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "metrics listen address (default from configuration)")
}
