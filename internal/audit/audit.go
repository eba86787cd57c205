// Package audit defines the event collaborator that migration, backup, and
// restore operations report to. Delivery and persistence of events belong to
// the recorder implementation, never to the emitting component.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"care-migrate/internal/logging"
)

// Event types emitted by the migration and backup subsystems.
const (
	EventMigrationStarted   = "migration_started"
	EventMigrationCompleted = "migration_completed"
	EventMigrationFailed    = "migration_failed"
	EventTableCompleted     = "table_migration_completed"
	EventImportCompleted    = "import_completed"

	EventBackupStarted   = "backup_started"
	EventBackupProgress  = "backup_progress"
	EventBackupCompleted = "backup_completed"
	EventBackupFailed    = "backup_failed"

	EventRollbackStarted   = "rollback_started"
	EventRollbackProgress  = "rollback_progress"
	EventRollbackCompleted = "rollback_completed"
	EventRollbackFailed    = "rollback_failed"

	EventCleanupCompleted = "cleanup_completed"
	EventCleanupFailed    = "cleanup_failed"

	EventBackupExpiredDeleted = "BACKUP_EXPIRED_DELETED"
)

// PhaseProgressEvent returns the event type for progress within a numbered
// migration phase.
func PhaseProgressEvent(phase int) string {
	return fmt.Sprintf("phase_%d_progress", phase)
}

// Event is a single audit record. Details carry a small payload; the
// identifier fields name what the event is about.
type Event struct {
	Type       string                 `json:"type"`
	OccurredAt time.Time              `json:"occurred_at"`
	PipelineID string                 `json:"pipeline_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Recorder receives audit events. Implementations must be safe for
// concurrent use; emitters never retry or block on recorder failures.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// LogRecorder writes audit events through the structured logger.
type LogRecorder struct {
	logger *logging.Logger
}

// NewLogRecorder creates a recorder backed by the given logger.
func NewLogRecorder(logger *logging.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// Record logs the event with its payload as structured fields.
func (r *LogRecorder) Record(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	fields := map[string]interface{}{
		"audit_event": event.Type,
		"occurred_at": event.OccurredAt.Format(time.RFC3339),
	}
	if event.PipelineID != "" {
		fields["pipeline_id"] = event.PipelineID
	}
	if runID := logging.GetRunIDFromContext(ctx); runID != "" {
		fields["run_id"] = runID
	}
	for k, v := range event.Details {
		fields[k] = v
	}

	r.logger.WithFields(fields).Info("Audit event")
}

// MemoryRecorder collects events in memory. Used by tests and by callers
// that render an event trail after a run.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends the event to the recorder's trail.
func (r *MemoryRecorder) Record(_ context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded trail in emission order.
func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// EventsOfType returns the recorded events matching the given type.
func (r *MemoryRecorder) EventsOfType(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// NopRecorder discards all events.
type NopRecorder struct{}

// Record discards the event.
func (NopRecorder) Record(context.Context, Event) {}
