package backup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNotification(severity NotificationSeverity, notifyType NotificationType) Notification {
	return Notification{
		ID:        "notify-1",
		Type:      notifyType,
		Severity:  severity,
		Title:     "Restore completed",
		Message:   "Restore of backup backup-full-1 completed.",
		Timestamp: time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC),
		Metadata:  map[string]interface{}{"backup_id": "backup-full-1"},
	}
}

func TestNotificationConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  NotificationConfig
		wantErr string
	}{
		{
			name:   "disabled config skips validation",
			config: NotificationConfig{Enabled: false, MinSeverity: "loud"},
		},
		{
			name:    "invalid min severity",
			config:  NotificationConfig{Enabled: true, MinSeverity: "loud"},
			wantErr: "invalid severity",
		},
		{
			name: "file channel without path",
			config: NotificationConfig{
				Enabled: true,
				File:    &FileChannelConfig{Enabled: true},
			},
			wantErr: "requires a path",
		},
		{
			name: "file channel with unknown format",
			config: NotificationConfig{
				Enabled: true,
				File:    &FileChannelConfig{Enabled: true, Path: "/tmp/notify.log", Format: "xml"},
			},
			wantErr: "format must be json or text",
		},
		{
			name: "webhook without URL",
			config: NotificationConfig{
				Enabled: true,
				Webhook: &WebhookChannelConfig{Enabled: true},
			},
			wantErr: "requires a URL",
		},
		{
			name: "webhook with bad scheme",
			config: NotificationConfig{
				Enabled: true,
				Webhook: &WebhookChannelConfig{Enabled: true, URL: "ftp://hooks.internal/notify"},
			},
			wantErr: "must start with http",
		},
		{
			name: "webhook with negative timeout",
			config: NotificationConfig{
				Enabled: true,
				Webhook: &WebhookChannelConfig{Enabled: true, URL: "https://hooks.internal/notify", TimeoutSeconds: -5},
			},
			wantErr: "must not be negative",
		},
		{
			name: "email without recipients",
			config: NotificationConfig{
				Enabled: true,
				Email:   &EmailChannelConfig{Enabled: true, Host: "smtp.internal", From: "backups@carehome.example"},
			},
			wantErr: "at least one recipient",
		},
		{
			name: "disabled channels are not validated",
			config: NotificationConfig{
				Enabled: true,
				File:    &FileChannelConfig{Enabled: false},
				Webhook: &WebhookChannelConfig{Enabled: false},
				Email:   &EmailChannelConfig{Enabled: false},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNotificationConfig_SetDefaults(t *testing.T) {
	config := NotificationConfig{
		Enabled: true,
		File:    &FileChannelConfig{Enabled: true, Path: "/tmp/notify.log"},
		Webhook: &WebhookChannelConfig{Enabled: true, URL: "https://hooks.internal/notify"},
		Email:   &EmailChannelConfig{Enabled: true, Host: "smtp.internal"},
	}
	config.SetDefaults()

	assert.Equal(t, SeverityInfo, config.MinSeverity)
	assert.Equal(t, "json", config.File.Format)
	assert.Equal(t, http.MethodPost, config.Webhook.Method)
	assert.Equal(t, 30, config.Webhook.TimeoutSeconds)
	assert.Equal(t, 587, config.Email.Port)
}

func TestNotificationConfig_LoadFromEnvironment(t *testing.T) {
	t.Setenv("CARE_MIGRATE_NOTIFY_ENABLED", "true")
	t.Setenv("CARE_MIGRATE_NOTIFY_MIN_SEVERITY", "WARNING")
	t.Setenv("CARE_MIGRATE_NOTIFY_FILE_PATH", "/var/log/care-migrate/notify.log")
	t.Setenv("CARE_MIGRATE_NOTIFY_WEBHOOK_URL", "https://hooks.internal/notify")
	t.Setenv("CARE_MIGRATE_NOTIFY_SMTP_PASSWORD", "s3cret")
	t.Setenv("CARE_MIGRATE_NOTIFY_SMTP_PORT", "2525")

	config := NotificationConfig{
		Email: &EmailChannelConfig{Enabled: true, Host: "smtp.internal"},
	}
	config.LoadFromEnvironment()

	assert.True(t, config.Enabled)
	assert.Equal(t, SeverityWarning, config.MinSeverity)
	require.NotNil(t, config.File)
	assert.True(t, config.File.Enabled)
	assert.Equal(t, "/var/log/care-migrate/notify.log", config.File.Path)
	require.NotNil(t, config.Webhook)
	assert.True(t, config.Webhook.Enabled)
	assert.Equal(t, "https://hooks.internal/notify", config.Webhook.URL)
	assert.Equal(t, "s3cret", config.Email.Password)
	assert.Equal(t, 2525, config.Email.Port)
}

func TestNotificationManager_Notify_SeverityFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.log")
	manager, err := NewNotificationManager(NotificationConfig{
		Enabled:     true,
		MinSeverity: SeverityWarning,
		File:        &FileChannelConfig{Enabled: true, Path: path},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"file"}, manager.Channels())

	ctx := context.Background()
	require.NoError(t, manager.Notify(ctx, testNotification(SeverityInfo, NotifyRestoreCompleted)))
	assert.Equal(t, int64(0), manager.Sent())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, manager.Notify(ctx, testNotification(SeverityCritical, NotifyRestoreFailed)))
	assert.Equal(t, int64(1), manager.Sent())
}

func TestNotificationManager_Notify_TypeFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.log")
	manager, err := NewNotificationManager(NotificationConfig{
		Enabled:      true,
		Types:        []NotificationType{NotifyRestoreFailed, NotifyRestoreRolledBack},
		ExcludeTypes: []NotificationType{NotifyRestoreRolledBack},
		File:         &FileChannelConfig{Enabled: true, Path: path},
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, manager.Notify(ctx, testNotification(SeverityInfo, NotifyBackupCompleted)))
	require.NoError(t, manager.Notify(ctx, testNotification(SeverityWarning, NotifyRestoreRolledBack)))
	assert.Equal(t, int64(0), manager.Sent())

	require.NoError(t, manager.Notify(ctx, testNotification(SeverityCritical, NotifyRestoreFailed)))
	assert.Equal(t, int64(1), manager.Sent())
}

func TestNotificationManager_Notify_Disabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.log")
	manager, err := NewNotificationManager(NotificationConfig{
		Enabled: false,
		File:    &FileChannelConfig{Enabled: true, Path: path},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, manager.Notify(context.Background(), testNotification(SeverityCritical, NotifyRestoreFailed)))
	assert.Equal(t, int64(0), manager.Sent())
}

func TestNotificationManager_Notify_ChannelFailureDoesNotStopDelivery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "notify.log")
	manager, err := NewNotificationManager(NotificationConfig{
		Enabled: true,
		File:    &FileChannelConfig{Enabled: true, Path: path},
		Webhook: &WebhookChannelConfig{Enabled: true, URL: server.URL},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"file", "webhook"}, manager.Channels())

	err = manager.Notify(context.Background(), testNotification(SeverityCritical, NotifyRestoreFailed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel webhook")
	assert.Contains(t, err.Error(), "status 500")

	// the file channel still received the notification
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "notify-1")
}

func TestFileChannel_Send_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.log")
	channel := &FileChannel{config: FileChannelConfig{Enabled: true, Path: path, Format: "json"}}

	notification := testNotification(SeverityInfo, NotifyRestoreCompleted)
	require.NoError(t, channel.Send(context.Background(), notification))
	require.NoError(t, channel.Send(context.Background(), notification))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var decoded Notification
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, notification.ID, decoded.ID)
	assert.Equal(t, notification.Type, decoded.Type)
	assert.Equal(t, notification.Message, decoded.Message)
}

func TestFileChannel_Send_Text(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.log")
	channel := &FileChannel{config: FileChannelConfig{Enabled: true, Path: path, Format: "text"}}

	require.NoError(t, channel.Send(context.Background(), testNotification(SeverityWarning, NotifyRestoreRolledBack)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Contains(t, line, "[2026-01-15T09:30:00Z]")
	assert.Contains(t, line, "WARNING")
	assert.Contains(t, line, "Restore completed: Restore of backup backup-full-1 completed.")
}

func TestWebhookChannel_Send(t *testing.T) {
	var received Notification
	var gotMethod, gotContentType, gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotToken = r.Header.Get("X-Auth-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewWebhookChannel(WebhookChannelConfig{
		Enabled: true,
		URL:     server.URL,
		Headers: map[string]string{"X-Auth-Token": "hunter2"},
	})

	notification := testNotification(SeverityCritical, NotifyRestoreFailed)
	require.NoError(t, channel.Send(context.Background(), notification))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "hunter2", gotToken)
	assert.Equal(t, notification.ID, received.ID)
	assert.Equal(t, notification.Type, received.Type)
}

func TestWebhookChannel_Send_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel := NewWebhookChannel(WebhookChannelConfig{Enabled: true, URL: server.URL})
	err := channel.Send(context.Background(), testNotification(SeverityInfo, NotifyRestoreCompleted))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook returned status 502")
}

func TestNewNotificationManager_InvalidConfig(t *testing.T) {
	_, err := NewNotificationManager(NotificationConfig{
		Enabled: true,
		Webhook: &WebhookChannelConfig{Enabled: true},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a URL")
}
