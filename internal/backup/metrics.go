package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"care-migrate/internal/logging"
)

// OperationMetrics tracks outcome counts and durations for one class
// of operation.
type OperationMetrics struct {
	Total         int64         `json:"total"`
	Succeeded     int64         `json:"succeeded"`
	Failed        int64         `json:"failed"`
	MinDuration   time.Duration `json:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	TotalDuration time.Duration `json:"total_duration"`
}

func (om *OperationMetrics) observe(success bool, duration time.Duration) {
	om.Total++
	if success {
		om.Succeeded++
	} else {
		om.Failed++
	}
	if om.MinDuration == 0 || duration < om.MinDuration {
		om.MinDuration = duration
	}
	if duration > om.MaxDuration {
		om.MaxDuration = duration
	}
	om.TotalDuration += duration
}

// SuccessRate returns the fraction of operations that succeeded.
func (om OperationMetrics) SuccessRate() float64 {
	if om.Total == 0 {
		return 0
	}
	return float64(om.Succeeded) / float64(om.Total)
}

// FailureRate returns the fraction of operations that failed.
func (om OperationMetrics) FailureRate() float64 {
	if om.Total == 0 {
		return 0
	}
	return float64(om.Failed) / float64(om.Total)
}

// AverageDuration returns the mean operation duration.
func (om OperationMetrics) AverageDuration() time.Duration {
	if om.Total == 0 {
		return 0
	}
	return om.TotalDuration / time.Duration(om.Total)
}

// AlertThresholds defines the failure rates at which alerts fire.
type AlertThresholds struct {
	FailureRateWarning  float64 `json:"failure_rate_warning"`
	FailureRateCritical float64 `json:"failure_rate_critical"`
	MinSamples          int64   `json:"min_samples"`
}

// DefaultAlertThresholds returns the thresholds used when none are
// configured.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		FailureRateWarning:  0.05,
		FailureRateCritical: 0.10,
		MinSamples:          5,
	}
}

// Alert records a threshold breach for one operation class.
type Alert struct {
	ID        string               `json:"id"`
	Component string               `json:"component"`
	Severity  NotificationSeverity `json:"severity"`
	Message   string               `json:"message"`
	RaisedAt  time.Time            `json:"raised_at"`
}

// MetricsSnapshot is a point-in-time copy of collected metrics.
type MetricsSnapshot struct {
	CollectedAt   time.Time        `json:"collected_at"`
	Uptime        time.Duration    `json:"uptime"`
	Backups       OperationMetrics `json:"backups"`
	Restores      OperationMetrics `json:"restores"`
	Verifications OperationMetrics `json:"verifications"`
	BytesStored   int64            `json:"bytes_stored"`
	BytesFreed    int64            `json:"bytes_freed"`
	Alerts        []Alert          `json:"alerts,omitempty"`
}

// MetricsCollector aggregates backup, restore and verification
// outcomes in process and raises alerts when failure rates cross the
// configured thresholds.
type MetricsCollector struct {
	logger     *logging.Logger
	thresholds AlertThresholds
	startedAt  time.Time

	mu            sync.RWMutex
	backups       OperationMetrics
	restores      OperationMetrics
	verifications OperationMetrics
	bytesStored   int64
	bytesFreed    int64
	alerts        []Alert
	alertLevel    map[string]NotificationSeverity
}

// NewMetricsCollector creates a collector. Zero thresholds fall back
// to the defaults.
func NewMetricsCollector(thresholds AlertThresholds, logger *logging.Logger) *MetricsCollector {
	if thresholds.FailureRateWarning == 0 && thresholds.FailureRateCritical == 0 {
		thresholds = DefaultAlertThresholds()
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &MetricsCollector{
		logger:     logger,
		thresholds: thresholds,
		startedAt:  time.Now(),
		alertLevel: make(map[string]NotificationSeverity),
	}
}

// RecordBackup records one backup outcome.
func (mc *MetricsCollector) RecordBackup(success bool, duration time.Duration, sizeBytes int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.backups.observe(success, duration)
	if success {
		mc.bytesStored += sizeBytes
	}
	mc.evaluate("backup", mc.backups)
}

// RecordRestore records one restore outcome.
func (mc *MetricsCollector) RecordRestore(success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.restores.observe(success, duration)
	mc.evaluate("restore", mc.restores)
}

// RecordVerification records one verification outcome.
func (mc *MetricsCollector) RecordVerification(passed bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.verifications.observe(passed, duration)
	mc.evaluate("verification", mc.verifications)
}

// RecordRetention records the result of a retention sweep.
func (mc *MetricsCollector) RecordRetention(bytesFreed int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.bytesFreed += bytesFreed
}

// evaluate is called with the mutex held.
func (mc *MetricsCollector) evaluate(component string, om OperationMetrics) {
	if om.Total < mc.thresholds.MinSamples {
		return
	}

	rate := om.FailureRate()
	var severity NotificationSeverity
	switch {
	case rate >= mc.thresholds.FailureRateCritical:
		severity = SeverityCritical
	case rate >= mc.thresholds.FailureRateWarning:
		severity = SeverityWarning
	default:
		delete(mc.alertLevel, component)
		return
	}
	if mc.alertLevel[component] == severity {
		return
	}
	mc.alertLevel[component] = severity

	alert := Alert{
		ID:        fmt.Sprintf("%s-%d", component, time.Now().UnixNano()),
		Component: component,
		Severity:  severity,
		Message:   fmt.Sprintf("%s failure rate is %.1f%% over %d operations", component, rate*100, om.Total),
		RaisedAt:  time.Now().UTC(),
	}
	mc.alerts = append(mc.alerts, alert)

	mc.logger.WithFields(map[string]interface{}{
		"alert_id":  alert.ID,
		"component": component,
		"severity":  string(severity),
	}).Warn(alert.Message)
}

// ActiveAlerts returns the alerts raised so far.
func (mc *MetricsCollector) ActiveAlerts() []Alert {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	alerts := make([]Alert, len(mc.alerts))
	copy(alerts, mc.alerts)
	return alerts
}

// Snapshot returns a copy of the current metrics.
func (mc *MetricsCollector) Snapshot() MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := MetricsSnapshot{
		CollectedAt:   time.Now().UTC(),
		Uptime:        time.Since(mc.startedAt),
		Backups:       mc.backups,
		Restores:      mc.restores,
		Verifications: mc.verifications,
		BytesStored:   mc.bytesStored,
		BytesFreed:    mc.bytesFreed,
	}
	if len(mc.alerts) > 0 {
		snapshot.Alerts = make([]Alert, len(mc.alerts))
		copy(snapshot.Alerts, mc.alerts)
	}
	return snapshot
}

// WriteReport writes a timestamped JSON snapshot into dir.
func (mc *MetricsCollector) WriteReport(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	snapshot := mc.Snapshot()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode metrics report: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("backup-report_%s.json", snapshot.CollectedAt.Format("2006-01-02_15-04-05")))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write metrics report: %w", err)
	}

	mc.logger.WithFields(map[string]interface{}{
		"report_path": path,
		"report_size": len(data),
	}).Info("Backup metrics report saved")
	return path, nil
}
