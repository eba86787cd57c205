package backup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationMetrics_Observe(t *testing.T) {
	var om OperationMetrics
	om.observe(true, 100*time.Millisecond)
	om.observe(true, 300*time.Millisecond)
	om.observe(false, 200*time.Millisecond)

	assert.Equal(t, int64(3), om.Total)
	assert.Equal(t, int64(2), om.Succeeded)
	assert.Equal(t, int64(1), om.Failed)
	assert.Equal(t, 100*time.Millisecond, om.MinDuration)
	assert.Equal(t, 300*time.Millisecond, om.MaxDuration)
	assert.Equal(t, 200*time.Millisecond, om.AverageDuration())
	assert.InDelta(t, 2.0/3.0, om.SuccessRate(), 1e-9)
	assert.InDelta(t, 1.0/3.0, om.FailureRate(), 1e-9)
}

func TestOperationMetrics_EmptyRates(t *testing.T) {
	var om OperationMetrics
	assert.Zero(t, om.SuccessRate())
	assert.Zero(t, om.FailureRate())
	assert.Zero(t, om.AverageDuration())
}

func TestMetricsCollector_Snapshot(t *testing.T) {
	mc := NewMetricsCollector(AlertThresholds{}, nil)

	mc.RecordBackup(true, 2*time.Second, 4096)
	mc.RecordBackup(false, time.Second, 0)
	mc.RecordRestore(true, 3*time.Second)
	mc.RecordVerification(true, 500*time.Millisecond)
	mc.RecordRetention(1024)
	mc.RecordRetention(512)

	snapshot := mc.Snapshot()
	assert.Equal(t, int64(2), snapshot.Backups.Total)
	assert.Equal(t, int64(1), snapshot.Backups.Succeeded)
	assert.Equal(t, int64(1), snapshot.Backups.Failed)
	assert.Equal(t, int64(1), snapshot.Restores.Total)
	assert.Equal(t, int64(1), snapshot.Verifications.Total)
	assert.Equal(t, int64(4096), snapshot.BytesStored)
	assert.Equal(t, int64(1536), snapshot.BytesFreed)
	assert.False(t, snapshot.CollectedAt.IsZero())
}

func TestMetricsCollector_BytesStoredCountsSuccessesOnly(t *testing.T) {
	mc := NewMetricsCollector(AlertThresholds{}, nil)

	mc.RecordBackup(true, time.Second, 1000)
	mc.RecordBackup(false, time.Second, 9999)

	assert.Equal(t, int64(1000), mc.Snapshot().BytesStored)
}

func TestMetricsCollector_AlertNeedsMinimumSamples(t *testing.T) {
	mc := NewMetricsCollector(AlertThresholds{
		FailureRateWarning:  0.20,
		FailureRateCritical: 0.50,
		MinSamples:          5,
	}, nil)

	// four straight failures stay below the sample floor
	for i := 0; i < 4; i++ {
		mc.RecordBackup(false, time.Second, 0)
	}
	assert.Empty(t, mc.ActiveAlerts())

	mc.RecordBackup(false, time.Second, 0)
	alerts := mc.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "backup", alerts[0].Component)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "100.0%")
}

func TestMetricsCollector_AlertEscalation(t *testing.T) {
	mc := NewMetricsCollector(AlertThresholds{
		FailureRateWarning:  0.20,
		FailureRateCritical: 0.60,
		MinSamples:          4,
	}, nil)

	// 1 failure in 4 restores = 25%, warning territory
	mc.RecordRestore(false, time.Second)
	for i := 0; i < 3; i++ {
		mc.RecordRestore(true, time.Second)
	}
	alerts := mc.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityWarning, alerts[0].Severity)

	// same level again does not duplicate the alert
	mc.RecordRestore(false, time.Second)
	require.Len(t, mc.ActiveAlerts(), 1)

	// driving the rate past critical escalates
	for i := 0; i < 8; i++ {
		mc.RecordRestore(false, time.Second)
	}
	alerts = mc.ActiveAlerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, SeverityCritical, alerts[1].Severity)
	assert.Equal(t, "restore", alerts[1].Component)
}

func TestMetricsCollector_RecoveryClearsAlertLevel(t *testing.T) {
	mc := NewMetricsCollector(AlertThresholds{
		FailureRateWarning:  0.40,
		FailureRateCritical: 0.90,
		MinSamples:          2,
	}, nil)

	mc.RecordVerification(false, time.Second)
	mc.RecordVerification(true, time.Second)
	require.Len(t, mc.ActiveAlerts(), 1)

	// enough passes drop the failure rate below the warning line
	for i := 0; i < 8; i++ {
		mc.RecordVerification(true, time.Second)
	}
	require.Len(t, mc.ActiveAlerts(), 1)

	// a later breach raises a fresh alert instead of being swallowed
	for i := 0; i < 10; i++ {
		mc.RecordVerification(false, time.Second)
	}
	assert.Len(t, mc.ActiveAlerts(), 2)
}

func TestDefaultAlertThresholds(t *testing.T) {
	thresholds := DefaultAlertThresholds()
	assert.Equal(t, 0.05, thresholds.FailureRateWarning)
	assert.Equal(t, 0.10, thresholds.FailureRateCritical)
	assert.Equal(t, int64(5), thresholds.MinSamples)

	// zero-value thresholds fall back to the defaults
	mc := NewMetricsCollector(AlertThresholds{}, nil)
	mc.RecordBackup(false, time.Second, 0)
	assert.Empty(t, mc.ActiveAlerts())
}

func TestMetricsCollector_WriteReport(t *testing.T) {
	mc := NewMetricsCollector(AlertThresholds{}, nil)
	mc.RecordBackup(true, 2*time.Second, 4096)
	mc.RecordRetention(2048)

	dir := filepath.Join(t.TempDir(), "reports")
	path, err := mc.WriteReport(dir)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(filepath.Base(path), "backup-report_"))
	assert.True(t, strings.HasSuffix(path, ".json"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var snapshot MetricsSnapshot
	require.NoError(t, json.Unmarshal(data, &snapshot))
	assert.Equal(t, int64(1), snapshot.Backups.Total)
	assert.Equal(t, int64(4096), snapshot.BytesStored)
	assert.Equal(t, int64(2048), snapshot.BytesFreed)
}
