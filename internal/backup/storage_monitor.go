package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"care-migrate/internal/logging"
)

// StorageUsageReport summarizes what the configured provider is holding.
type StorageUsageReport struct {
	GeneratedAt  time.Time                 `json:"generated_at"`
	Provider     string                    `json:"provider"`
	ProviderInfo map[string]interface{}    `json:"provider_info,omitempty"`
	TotalBackups int                       `json:"total_backups"`
	TotalBytes   int64                     `json:"total_bytes"`
	ByPipeline   map[string]*PipelineUsage `json:"by_pipeline"`
	ByType       map[BackupType]*TypeUsage `json:"by_type"`
	Largest      *BackupMetadata           `json:"largest,omitempty"`
	Oldest       *BackupMetadata           `json:"oldest,omitempty"`
	Newest       *BackupMetadata           `json:"newest,omitempty"`
}

// TotalHuman renders the total size for display.
func (r *StorageUsageReport) TotalHuman() string {
	return humanize.Bytes(uint64(r.TotalBytes))
}

// PipelineUsage summarizes one pipeline's share of storage.
type PipelineUsage struct {
	PipelineID   string         `json:"pipeline_id"`
	BackupCount  int            `json:"backup_count"`
	TotalBytes   int64          `json:"total_bytes"`
	NewestBackup time.Time      `json:"newest_backup"`
	ByStatus     map[string]int `json:"by_status"`
}

// TypeUsage summarizes one backup type's share of storage.
type TypeUsage struct {
	BackupType  BackupType `json:"backup_type"`
	BackupCount int        `json:"backup_count"`
	TotalBytes  int64      `json:"total_bytes"`
}

// StorageHealthReport is the outcome of one provider probe.
type StorageHealthReport struct {
	CheckedAt time.Time     `json:"checked_at"`
	Provider  string        `json:"provider"`
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// StorageMonitor reports usage and probes provider health. It only
// reads; nothing it does changes stored backups.
type StorageMonitor struct {
	storage  StorageProvider
	notifier Notifier
	logger   *logging.Logger
}

// NewStorageMonitor builds a monitor over a storage provider.
func NewStorageMonitor(storage StorageProvider, logger *logging.Logger) (*StorageMonitor, error) {
	if storage == nil {
		return nil, NewConfigurationError("storage provider is required", nil)
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &StorageMonitor{
		storage:  storage,
		notifier: NopNotifier{},
		logger:   logger,
	}, nil
}

// SetNotifier replaces the notifier used for unhealthy-provider alerts.
func (sm *StorageMonitor) SetNotifier(notifier Notifier) {
	if notifier != nil {
		sm.notifier = notifier
	}
}

// Usage aggregates every metadata record into a usage report.
func (sm *StorageMonitor) Usage(ctx context.Context) (*StorageUsageReport, error) {
	records, err := sm.storage.ListMetadata(ctx, MetadataFilter{})
	if err != nil {
		return nil, NewStorageError("failed to list backups for usage report", err)
	}

	info := sm.storage.StorageInfo()
	provider, _ := info["provider"].(string)
	report := &StorageUsageReport{
		GeneratedAt:  time.Now().UTC(),
		Provider:     provider,
		ProviderInfo: info,
		TotalBackups: len(records),
		ByPipeline:   make(map[string]*PipelineUsage),
		ByType:       make(map[BackupType]*TypeUsage),
	}

	for _, record := range records {
		report.TotalBytes += record.BackupSize

		if report.Largest == nil || record.BackupSize > report.Largest.BackupSize {
			report.Largest = record
		}
		if report.Oldest == nil || record.CreatedAt.Before(report.Oldest.CreatedAt) {
			report.Oldest = record
		}
		if report.Newest == nil || record.CreatedAt.After(report.Newest.CreatedAt) {
			report.Newest = record
		}

		pipeline := report.ByPipeline[record.PipelineID]
		if pipeline == nil {
			pipeline = &PipelineUsage{
				PipelineID: record.PipelineID,
				ByStatus:   make(map[string]int),
			}
			report.ByPipeline[record.PipelineID] = pipeline
		}
		pipeline.BackupCount++
		pipeline.TotalBytes += record.BackupSize
		pipeline.ByStatus[string(record.Status)]++
		if record.CreatedAt.After(pipeline.NewestBackup) {
			pipeline.NewestBackup = record.CreatedAt
		}

		byType := report.ByType[record.BackupType]
		if byType == nil {
			byType = &TypeUsage{BackupType: record.BackupType}
			report.ByType[record.BackupType] = byType
		}
		byType.BackupCount++
		byType.TotalBytes += record.BackupSize
	}

	sm.logger.WithFields(map[string]interface{}{
		"provider":  report.Provider,
		"backups":   report.TotalBackups,
		"total":     report.TotalHuman(),
		"pipelines": len(report.ByPipeline),
	}).Info("Storage usage report generated")
	return report, nil
}

// Health probes the provider and measures how long it takes to answer.
// The probe outcome lands in the report rather than an error so callers
// can render unhealthy providers.
func (sm *StorageMonitor) Health(ctx context.Context) *StorageHealthReport {
	provider, _ := sm.storage.StorageInfo()["provider"].(string)
	report := &StorageHealthReport{
		CheckedAt: time.Now().UTC(),
		Provider:  provider,
		Healthy:   true,
	}

	start := time.Now()
	err := sm.storage.HealthCheck(ctx)
	report.Latency = time.Since(start)
	if err != nil {
		report.Healthy = false
		report.Error = err.Error()
	}

	if !report.Healthy {
		sm.logger.WithFields(map[string]interface{}{
			"provider": report.Provider,
			"latency":  report.Latency.String(),
			"error":    report.Error,
		}).Warn("Storage provider health check failed")
		sm.notifyUnhealthy(ctx, report)
	} else {
		sm.logger.WithFields(map[string]interface{}{
			"provider": report.Provider,
			"latency":  report.Latency.String(),
		}).Debug("Storage provider healthy")
	}
	return report
}

func (sm *StorageMonitor) notifyUnhealthy(ctx context.Context, report *StorageHealthReport) {
	notification := Notification{
		ID:       uuid.New().String(),
		Type:     NotifyStorageHealth,
		Severity: SeverityCritical,
		Title:    "Storage provider unhealthy",
		Message:  fmt.Sprintf("Health check against %s storage failed: %s", report.Provider, report.Error),
		Metadata: map[string]interface{}{
			"provider": report.Provider,
			"latency":  report.Latency.String(),
		},
	}
	if err := sm.notifier.Notify(ctx, notification); err != nil {
		sm.logger.Warnf("Failed to send storage health notification: %v", err)
	}
}
