// Package backup implements verified backups and one-click restores for
// care-record pipelines.
//
// A backup moves through a staged pipeline: dump, compress, encrypt,
// checksum, store, verify. Metadata is persisted after every successful
// stage, so an interrupted run leaves an honest record behind, and a
// failed stage marks the backup failed before the error propagates.
// Only backups that are both completed and verified are ever offered as
// restore points.
//
// Core components:
//
//   - Manager: runs the staged pipeline for full, incremental and
//     differential backups
//   - RestoreManager: replays a stored backup into the live database,
//     snapshotting current data first and rolling back on failure
//   - Verifier: integrity, restorability and completeness checks
//   - RetentionCleaner: age- and calendar-based expiry sweeps
//   - Scheduler: cron-driven automated backups and sweeps
//   - StorageProvider: local disk, S3, GCS and Azure Blob backends
//
// Example:
//
//	store, err := backup.NewStorageProvider(ctx, cfg.Storage)
//	if err != nil {
//		return err
//	}
//	manager, err := backup.NewManager(db, cfg, store, logger)
//	if err != nil {
//		return err
//	}
//	conf, err := manager.CreateBackup(ctx, "residents", backup.BackupOptions{
//		Description: "before phase 2",
//	})
//	if err != nil {
//		return err
//	}
//
//	restorer, err := backup.NewRestoreManager(db, cfg, store, manager, logger)
//	if err != nil {
//		return err
//	}
//	result, err := restorer.Restore(ctx, "residents", backup.RestoreOptions{
//		BackupID: conf.BackupID,
//	})
package backup
