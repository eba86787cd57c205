// Package metrics exposes Prometheus instrumentation for migration,
// backup, restore and retention operations, plus the HTTP server the
// serve daemon publishes them on.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MigrationRecords counts records processed by table migrations.
	MigrationRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "care_migrate_migration_records_total",
		Help: "Records processed by table migrations, partitioned by outcome",
	}, []string{"service", "table", "outcome"})

	// MigrationTableDuration measures time taken to migrate one table.
	MigrationTableDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "care_migrate_migration_table_duration_seconds",
		Help:    "Time taken to migrate one table",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "table"})

	// MigrationRuns counts finished migration runs by final status.
	MigrationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "care_migrate_migration_runs_total",
		Help: "Finished migration runs by final status",
	}, []string{"status"})

	// BackupCount counts backups performed.
	BackupCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "care_migrate_backups_total",
		Help: "Backups performed, partitioned by pipeline, type and status",
	}, []string{"pipeline", "type", "status"})

	// BackupDuration measures time taken to create a backup.
	BackupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "care_migrate_backup_duration_seconds",
		Help:    "Time taken to create a backup",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"pipeline", "type"})

	// BackupSize records the size of the most recent backup artifact.
	BackupSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "care_migrate_backup_size_bytes",
		Help: "Size of the most recent backup artifact",
	}, []string{"pipeline", "type"})

	// LastBackupTimestamp records when the last successful backup finished.
	LastBackupTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "care_migrate_last_backup_timestamp_seconds",
		Help: "Unix time of the last successful backup",
	}, []string{"pipeline", "type"})

	// RestoreCount counts restores by final status.
	RestoreCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "care_migrate_restores_total",
		Help: "Restores performed, partitioned by pipeline and final status",
	}, []string{"pipeline", "status"})

	// RestoreDuration measures time taken to complete a restore.
	RestoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "care_migrate_restore_duration_seconds",
		Help:    "Time taken to complete a restore",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"pipeline"})

	// VerificationCount counts backup verifications by result.
	VerificationCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "care_migrate_verifications_total",
		Help: "Backup verifications performed, partitioned by result",
	}, []string{"pipeline", "result"})

	// RetentionDeletes counts backups deleted by retention sweeps.
	RetentionDeletes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "care_migrate_retention_deletions_total",
		Help: "Backups deleted by retention sweeps",
	})

	// RetentionBytesFreed counts bytes reclaimed by retention sweeps.
	RetentionBytesFreed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "care_migrate_retention_bytes_freed_total",
		Help: "Bytes reclaimed by retention sweeps",
	})

	// StorageBackups tracks how many backups each pipeline has in storage.
	StorageBackups = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "care_migrate_storage_backups",
		Help: "Number of backups currently held in storage per pipeline",
	}, []string{"pipeline"})

	// StorageBytes tracks how much storage each pipeline's backups occupy.
	StorageBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "care_migrate_storage_bytes",
		Help: "Bytes of backup storage currently held per pipeline",
	}, []string{"pipeline"})

	// StorageHealthy reports the last storage health probe outcome.
	StorageHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "care_migrate_storage_healthy",
		Help: "1 when the last storage health probe passed, 0 otherwise",
	})
)

// ObserveBackup records one finished backup attempt.
func ObserveBackup(pipelineID, backupType string, success bool, duration time.Duration, sizeBytes int64) {
	status := "failed"
	if success {
		status = "completed"
	}
	BackupCount.WithLabelValues(pipelineID, backupType, status).Inc()
	BackupDuration.WithLabelValues(pipelineID, backupType).Observe(duration.Seconds())
	if success {
		BackupSize.WithLabelValues(pipelineID, backupType).Set(float64(sizeBytes))
		LastBackupTimestamp.WithLabelValues(pipelineID, backupType).SetToCurrentTime()
	}
}

// ObserveRestore records one finished restore attempt.
func ObserveRestore(pipelineID, status string, duration time.Duration) {
	RestoreCount.WithLabelValues(pipelineID, status).Inc()
	RestoreDuration.WithLabelValues(pipelineID).Observe(duration.Seconds())
}

// ObserveVerification records one backup verification.
func ObserveVerification(pipelineID string, passed bool) {
	result := "failed"
	if passed {
		result = "passed"
	}
	VerificationCount.WithLabelValues(pipelineID, result).Inc()
}

// ObserveSweep records a finished retention sweep.
func ObserveSweep(deleted int, bytesFreed int64) {
	RetentionDeletes.Add(float64(deleted))
	RetentionBytesFreed.Add(float64(bytesFreed))
}

// ObserveMigrationTable records one table migration's outcome.
func ObserveMigrationTable(service, table string, migrated, failed int64, duration time.Duration) {
	MigrationRecords.WithLabelValues(service, table, "migrated").Add(float64(migrated))
	MigrationRecords.WithLabelValues(service, table, "failed").Add(float64(failed))
	MigrationTableDuration.WithLabelValues(service, table).Observe(duration.Seconds())
}

// ObserveMigrationRun records a finished migration run.
func ObserveMigrationRun(status string) {
	MigrationRuns.WithLabelValues(status).Inc()
}

// SetStorageUsage publishes one pipeline's storage footprint.
func SetStorageUsage(pipelineID string, backups int, totalBytes int64) {
	StorageBackups.WithLabelValues(pipelineID).Set(float64(backups))
	StorageBytes.WithLabelValues(pipelineID).Set(float64(totalBytes))
}

// SetStorageHealth publishes the latest storage health probe result.
func SetStorageHealth(healthy bool) {
	if healthy {
		StorageHealthy.Set(1)
	} else {
		StorageHealthy.Set(0)
	}
}
