package backup

import (
	"context"
	"time"
)

// StorageProvider abstracts the backup artifact store. Artifacts are opaque
// byte payloads addressed by key (full/..., incremental/..., temp/...);
// metadata records live beside them as one JSON document per backup id.
type StorageProvider interface {
	// StoreArtifact writes an artifact payload, replacing any existing one
	// under the same key.
	StoreArtifact(ctx context.Context, key string, data []byte) error
	// RetrieveArtifact reads an artifact payload.
	RetrieveArtifact(ctx context.Context, key string) ([]byte, error)
	// DeleteArtifact removes an artifact. Missing artifacts return a
	// not-found error.
	DeleteArtifact(ctx context.Context, key string) error
	// ArtifactExists reports whether an artifact is present.
	ArtifactExists(ctx context.Context, key string) (bool, error)
	// ListArtifacts returns the keys under a prefix.
	ListArtifacts(ctx context.Context, prefix string) ([]string, error)

	// SaveMetadata writes a backup's metadata record, replacing any
	// previous version.
	SaveMetadata(ctx context.Context, meta *BackupMetadata) error
	// LoadMetadata reads one metadata record by backup id.
	LoadMetadata(ctx context.Context, backupID string) (*BackupMetadata, error)
	// ListMetadata returns metadata records matching the filter, newest
	// first.
	ListMetadata(ctx context.Context, filter MetadataFilter) ([]*BackupMetadata, error)
	// DeleteMetadata removes a metadata record.
	DeleteMetadata(ctx context.Context, backupID string) error

	// HealthCheck verifies the provider is reachable and writable.
	HealthCheck(ctx context.Context) error
	// StorageInfo describes the provider for reports and logs.
	StorageInfo() map[string]interface{}
}

// NotificationSeverity ranks a notification.
type NotificationSeverity string

const (
	SeverityInfo     NotificationSeverity = "info"
	SeverityWarning  NotificationSeverity = "warning"
	SeverityCritical NotificationSeverity = "critical"
)

// NotificationType identifies what a notification reports.
type NotificationType string

const (
	NotifyBackupCompleted    NotificationType = "backup_completed"
	NotifyBackupFailed       NotificationType = "backup_failed"
	NotifyRestoreCompleted   NotificationType = "restore_completed"
	NotifyRestoreFailed      NotificationType = "restore_failed"
	NotifyRestoreRolledBack  NotificationType = "restore_rolled_back"
	NotifyScheduleCreated    NotificationType = "schedule_created"
	NotifyRetentionSweep     NotificationType = "retention_sweep"
	NotifyStorageHealth      NotificationType = "storage_health"
	NotifyVerificationFailed NotificationType = "verification_failed"
)

// Notification is one outbound alert. The restore manager sends exactly one
// per restore outcome; the scheduler sends one when a schedule is created.
type Notification struct {
	ID        string                 `json:"id"`
	Type      NotificationType       `json:"type"`
	Severity  NotificationSeverity   `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Notifier delivers notifications. Implementations must tolerate being
// called concurrently.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier discards notifications. It stands in when no channels are
// configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }
