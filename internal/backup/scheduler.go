package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"care-migrate/internal/logging"
)

// BackupSchedule describes one automated backup job.
type BackupSchedule struct {
	PipelineID string        `yaml:"pipeline_id" json:"pipeline_id"`
	BackupType BackupType    `yaml:"backup_type" json:"backup_type"`
	CronSpec   string        `yaml:"cron" json:"cron"`
	Options    BackupOptions `yaml:"-" json:"-"`
}

// Scheduler runs automated backups and retention sweeps on cron schedules.
// One pipeline can carry one schedule per backup type; registering a second
// replaces the first.
type Scheduler struct {
	cron     *cron.Cron
	manager  *Manager
	cleaner  *RetentionCleaner
	notifier Notifier
	logger   *logging.Logger

	backupObserver func(schedule BackupSchedule, result *BackupConfiguration, duration time.Duration, err error)
	sweepObserver  func(result *SweepResult, err error)

	mu     sync.Mutex
	jobIDs map[string]cron.EntryID
}

// NewScheduler wires a scheduler over a backup manager and, optionally, a
// retention cleaner for sweep jobs.
func NewScheduler(manager *Manager, cleaner *RetentionCleaner, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Scheduler{
		cron:     cron.New(),
		manager:  manager,
		cleaner:  cleaner,
		notifier: NopNotifier{},
		logger:   logger,
		jobIDs:   make(map[string]cron.EntryID),
	}
}

// SetNotifier replaces the notifier used for schedule-creation alerts.
func (s *Scheduler) SetNotifier(notifier Notifier) {
	if notifier != nil {
		s.notifier = notifier
	}
}

// SetBackupObserver registers a callback invoked after every scheduled
// backup run, successful or not. Must be set before Start.
func (s *Scheduler) SetBackupObserver(fn func(schedule BackupSchedule, result *BackupConfiguration, duration time.Duration, err error)) {
	s.backupObserver = fn
}

// SetSweepObserver registers a callback invoked after every scheduled
// retention sweep. Must be set before Start.
func (s *Scheduler) SetSweepObserver(fn func(result *SweepResult, err error)) {
	s.sweepObserver = fn
}

// AddBackupSchedule registers an automated backup job and sends the one
// schedule-created notification.
func (s *Scheduler) AddBackupSchedule(schedule BackupSchedule) error {
	if s.manager == nil {
		return NewConfigurationError("scheduler has no backup manager", nil)
	}
	if schedule.PipelineID == "" {
		return NewValidationError("schedule needs a pipeline ID", nil)
	}
	if schedule.BackupType == "" {
		schedule.BackupType = BackupTypeFull
	}
	switch schedule.BackupType {
	case BackupTypeFull, BackupTypeIncremental, BackupTypeDifferential:
	default:
		return NewValidationError(fmt.Sprintf("unknown backup type %s", schedule.BackupType), nil)
	}

	id, err := s.cron.AddFunc(schedule.CronSpec, func() {
		s.runScheduledBackup(schedule)
	})
	if err != nil {
		return NewConfigurationError(fmt.Sprintf("invalid cron expression %q", schedule.CronSpec), err)
	}

	key := fmt.Sprintf("%s/%s", schedule.PipelineID, schedule.BackupType)
	s.mu.Lock()
	if previous, ok := s.jobIDs[key]; ok {
		s.cron.Remove(previous)
	}
	s.jobIDs[key] = id
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"pipeline_id": schedule.PipelineID,
		"backup_type": string(schedule.BackupType),
		"cron":        schedule.CronSpec,
	}).Info("Backup schedule registered")

	s.notifyScheduleCreated(schedule)
	return nil
}

// AddRetentionSweep registers the retention sweep job.
func (s *Scheduler) AddRetentionSweep(cronSpec string) error {
	if s.cleaner == nil {
		return NewConfigurationError("scheduler has no retention cleaner", nil)
	}
	_, err := s.cron.AddFunc(cronSpec, func() {
		result, err := s.cleaner.Sweep(context.Background())
		if err != nil {
			s.logger.Errorf("Scheduled retention sweep failed: %v", err)
		}
		if s.sweepObserver != nil {
			s.sweepObserver(result, err)
		}
	})
	if err != nil {
		return NewConfigurationError(fmt.Sprintf("invalid cron expression %q", cronSpec), err)
	}
	s.logger.WithField("cron", cronSpec).Info("Retention sweep scheduled")
	return nil
}

// Start begins running registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Backup scheduler started")
}

// Stop halts the scheduler and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Backup scheduler stopped")
}

// NextRuns reports the next fire time of every registered job.
func (s *Scheduler) NextRuns() []time.Time {
	entries := s.cron.Entries()
	times := make([]time.Time, 0, len(entries))
	for _, entry := range entries {
		times = append(times, entry.Next)
	}
	return times
}

func (s *Scheduler) runScheduledBackup(schedule BackupSchedule) {
	opts := schedule.Options
	tags := make(map[string]string, len(opts.Tags)+1)
	for k, v := range opts.Tags {
		tags[k] = v
	}
	tags["trigger"] = "scheduled"
	opts.Tags = tags

	ctx := context.Background()
	started := time.Now()
	var result *BackupConfiguration
	var err error
	switch schedule.BackupType {
	case BackupTypeIncremental:
		result, err = s.manager.CreateIncrementalBackup(ctx, schedule.PipelineID, "", opts)
	case BackupTypeDifferential:
		result, err = s.manager.CreateDifferentialBackup(ctx, schedule.PipelineID, opts)
	default:
		result, err = s.manager.CreateBackup(ctx, schedule.PipelineID, opts)
	}
	if s.backupObserver != nil {
		s.backupObserver(schedule, result, time.Since(started), err)
	}

	fields := map[string]interface{}{
		"pipeline_id": schedule.PipelineID,
		"backup_type": string(schedule.BackupType),
	}
	if err != nil {
		s.logger.WithFields(fields).Errorf("Scheduled backup failed: %v", err)
		return
	}
	s.logger.WithFields(fields).Info("Scheduled backup completed")
}

func (s *Scheduler) notifyScheduleCreated(schedule BackupSchedule) {
	notification := Notification{
		ID:       uuid.New().String(),
		Type:     NotifyScheduleCreated,
		Severity: SeverityInfo,
		Title:    "Backup schedule created",
		Message: fmt.Sprintf("Automated %s backups of pipeline %s scheduled (%s).",
			schedule.BackupType, schedule.PipelineID, schedule.CronSpec),
		Timestamp: time.Now().UTC(),
		Metadata: map[string]interface{}{
			"pipeline_id": schedule.PipelineID,
			"backup_type": string(schedule.BackupType),
			"cron":        schedule.CronSpec,
		},
	}
	if err := s.notifier.Notify(context.Background(), notification); err != nil {
		s.logger.Warnf("could not deliver schedule notification: %v", err)
	}
}
