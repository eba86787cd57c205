package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"care-migrate/internal/logging"
)

// NotificationConfig controls which restore and schedule events are
// delivered and over which channels.
type NotificationConfig struct {
	Enabled      bool                 `yaml:"enabled" json:"enabled"`
	MinSeverity  NotificationSeverity `yaml:"min_severity" json:"min_severity"`
	Types        []NotificationType   `yaml:"types" json:"types"`
	ExcludeTypes []NotificationType   `yaml:"exclude_types" json:"exclude_types"`

	File    *FileChannelConfig    `yaml:"file,omitempty" json:"file,omitempty"`
	Webhook *WebhookChannelConfig `yaml:"webhook,omitempty" json:"webhook,omitempty"`
	Email   *EmailChannelConfig   `yaml:"email,omitempty" json:"email,omitempty"`
}

// FileChannelConfig appends notifications to a local file.
type FileChannelConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Format  string `yaml:"format" json:"format"` // json or text
}

// WebhookChannelConfig posts notifications to an HTTP endpoint.
type WebhookChannelConfig struct {
	Enabled        bool              `yaml:"enabled" json:"enabled"`
	URL            string            `yaml:"url" json:"url"`
	Method         string            `yaml:"method" json:"method"`
	Headers        map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// EmailChannelConfig sends notifications over SMTP.
type EmailChannelConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Host     string   `yaml:"host" json:"host"`
	Port     int      `yaml:"port" json:"port"`
	Username string   `yaml:"username" json:"username"`
	Password string   `yaml:"password" json:"password"`
	From     string   `yaml:"from" json:"from"`
	To       []string `yaml:"to" json:"to"`
}

// Validate checks notification settings.
func (nc *NotificationConfig) Validate() error {
	var errs ValidationErrors

	if !nc.Enabled {
		return nil
	}

	switch nc.MinSeverity {
	case "", SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		errs.Add("notifications.min_severity", "invalid severity", nc.MinSeverity)
	}

	if nc.File != nil && nc.File.Enabled {
		if nc.File.Path == "" {
			errs.Add("notifications.file.path", "file channel requires a path", "")
		}
		switch nc.File.Format {
		case "", "json", "text":
		default:
			errs.Add("notifications.file.format", "format must be json or text", nc.File.Format)
		}
	}
	if nc.Webhook != nil && nc.Webhook.Enabled {
		if nc.Webhook.URL == "" {
			errs.Add("notifications.webhook.url", "webhook channel requires a URL", "")
		} else if !strings.HasPrefix(nc.Webhook.URL, "http://") && !strings.HasPrefix(nc.Webhook.URL, "https://") {
			errs.Add("notifications.webhook.url", "webhook URL must start with http:// or https://", nc.Webhook.URL)
		}
		if nc.Webhook.TimeoutSeconds < 0 {
			errs.Add("notifications.webhook.timeout_seconds", "timeout must not be negative", nc.Webhook.TimeoutSeconds)
		}
	}
	if nc.Email != nil && nc.Email.Enabled {
		if nc.Email.Host == "" {
			errs.Add("notifications.email.host", "email channel requires an SMTP host", "")
		}
		if nc.Email.From == "" {
			errs.Add("notifications.email.from", "email channel requires a sender address", "")
		}
		if len(nc.Email.To) == 0 {
			errs.Add("notifications.email.to", "email channel requires at least one recipient", "")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults fills unset notification settings.
func (nc *NotificationConfig) SetDefaults() {
	if nc.MinSeverity == "" {
		nc.MinSeverity = SeverityInfo
	}
	if nc.File != nil && nc.File.Format == "" {
		nc.File.Format = "json"
	}
	if nc.Webhook != nil {
		if nc.Webhook.Method == "" {
			nc.Webhook.Method = http.MethodPost
		}
		if nc.Webhook.TimeoutSeconds == 0 {
			nc.Webhook.TimeoutSeconds = 30
		}
	}
	if nc.Email != nil && nc.Email.Port == 0 {
		nc.Email.Port = 587
	}
}

// LoadFromEnvironment overrides notification settings from the
// environment.
func (nc *NotificationConfig) LoadFromEnvironment() {
	if val := os.Getenv("CARE_MIGRATE_NOTIFY_ENABLED"); val != "" {
		nc.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CARE_MIGRATE_NOTIFY_MIN_SEVERITY"); val != "" {
		nc.MinSeverity = NotificationSeverity(strings.ToLower(val))
	}
	if val := os.Getenv("CARE_MIGRATE_NOTIFY_FILE_PATH"); val != "" {
		if nc.File == nil {
			nc.File = &FileChannelConfig{Enabled: true}
		}
		nc.File.Path = val
	}
	if val := os.Getenv("CARE_MIGRATE_NOTIFY_WEBHOOK_URL"); val != "" {
		if nc.Webhook == nil {
			nc.Webhook = &WebhookChannelConfig{Enabled: true}
		}
		nc.Webhook.URL = val
	}
	if nc.Email != nil {
		if val := os.Getenv("CARE_MIGRATE_NOTIFY_SMTP_PASSWORD"); val != "" {
			nc.Email.Password = val
		}
		if val := os.Getenv("CARE_MIGRATE_NOTIFY_SMTP_PORT"); val != "" {
			if parsed, err := strconv.Atoi(val); err == nil {
				nc.Email.Port = parsed
			}
		}
	}
}

// NotificationChannel delivers a single notification over one
// transport.
type NotificationChannel interface {
	Send(ctx context.Context, notification Notification) error
	Type() string
	Enabled() bool
}

// NotificationManager fans notifications out to the configured
// channels, applying severity and type filters first. It implements
// Notifier.
type NotificationManager struct {
	config   NotificationConfig
	channels []NotificationChannel
	logger   *logging.Logger

	mu   sync.Mutex
	sent int64
}

// NewNotificationManager builds a manager from configuration. Disabled
// channels are skipped.
func NewNotificationManager(config NotificationConfig, logger *logging.Logger) (*NotificationManager, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	manager := &NotificationManager{
		config: config,
		logger: logger,
	}
	if config.File != nil && config.File.Enabled {
		manager.channels = append(manager.channels, &FileChannel{config: *config.File})
	}
	if config.Webhook != nil && config.Webhook.Enabled {
		manager.channels = append(manager.channels, NewWebhookChannel(*config.Webhook))
	}
	if config.Email != nil && config.Email.Enabled {
		manager.channels = append(manager.channels, &EmailChannel{config: *config.Email})
	}
	return manager, nil
}

// Channels returns the active channel types.
func (nm *NotificationManager) Channels() []string {
	types := make([]string, 0, len(nm.channels))
	for _, channel := range nm.channels {
		types = append(types, channel.Type())
	}
	return types
}

// Sent returns how many notifications passed the filters.
func (nm *NotificationManager) Sent() int64 {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.sent
}

// Notify delivers the notification to every enabled channel. A channel
// failure does not stop delivery to the rest; the first error is
// returned after all channels were tried.
func (nm *NotificationManager) Notify(ctx context.Context, notification Notification) error {
	if !nm.config.Enabled || !nm.shouldDeliver(notification) {
		return nil
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now().UTC()
	}

	nm.mu.Lock()
	nm.sent++
	nm.mu.Unlock()

	var firstErr error
	for _, channel := range nm.channels {
		if !channel.Enabled() {
			continue
		}
		if err := channel.Send(ctx, notification); err != nil {
			nm.logger.WithFields(map[string]interface{}{
				"channel": channel.Type(),
				"type":    string(notification.Type),
			}).Warnf("Notification delivery failed: %v", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("channel %s: %w", channel.Type(), err)
			}
		}
	}
	return firstErr
}

func (nm *NotificationManager) shouldDeliver(notification Notification) bool {
	if severityRank(notification.Severity) < severityRank(nm.config.MinSeverity) {
		return false
	}
	for _, excluded := range nm.config.ExcludeTypes {
		if notification.Type == excluded {
			return false
		}
	}
	if len(nm.config.Types) == 0 {
		return true
	}
	for _, included := range nm.config.Types {
		if notification.Type == included {
			return true
		}
	}
	return false
}

func severityRank(severity NotificationSeverity) int {
	switch severity {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	default:
		return 1
	}
}

// FileChannel appends notifications to a log file, one per line.
type FileChannel struct {
	config FileChannelConfig

	mu sync.Mutex
}

func (fc *FileChannel) Type() string  { return "file" }
func (fc *FileChannel) Enabled() bool { return fc.config.Enabled }

func (fc *FileChannel) Send(_ context.Context, notification Notification) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	file, err := os.OpenFile(fc.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open notification file: %w", err)
	}
	defer file.Close()

	var line string
	if fc.config.Format == "text" {
		line = fmt.Sprintf("[%s] %s %s: %s\n",
			notification.Timestamp.Format(time.RFC3339),
			strings.ToUpper(string(notification.Severity)),
			notification.Title,
			notification.Message)
	} else {
		encoded, err := json.Marshal(notification)
		if err != nil {
			return fmt.Errorf("failed to encode notification: %w", err)
		}
		line = string(encoded) + "\n"
	}
	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return nil
}

// WebhookChannel posts notifications as JSON to an HTTP endpoint.
type WebhookChannel struct {
	config WebhookChannelConfig
	client *http.Client
}

// NewWebhookChannel builds a webhook channel with its own HTTP client.
func NewWebhookChannel(config WebhookChannelConfig) *WebhookChannel {
	timeout := time.Duration(config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookChannel{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

func (wc *WebhookChannel) Type() string  { return "webhook" }
func (wc *WebhookChannel) Enabled() bool { return wc.config.Enabled }

func (wc *WebhookChannel) Send(ctx context.Context, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	method := wc.config.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, wc.config.URL, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range wc.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailChannel sends notifications over SMTP.
type EmailChannel struct {
	config EmailChannelConfig
}

func (ec *EmailChannel) Type() string  { return "email" }
func (ec *EmailChannel) Enabled() bool { return ec.config.Enabled }

func (ec *EmailChannel) Send(_ context.Context, notification Notification) error {
	addr := fmt.Sprintf("%s:%d", ec.config.Host, ec.config.Port)

	var auth smtp.Auth
	if ec.config.Username != "" {
		auth = smtp.PlainAuth("", ec.config.Username, ec.config.Password, ec.config.Host)
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(notification.Severity)), notification.Title)
	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", ec.config.From)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(ec.config.To, ", "))
	fmt.Fprintf(&body, "Subject: %s\r\n", subject)
	body.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	body.WriteString(notification.Message)
	body.WriteString("\r\n\r\n")
	for key, value := range notification.Metadata {
		fmt.Fprintf(&body, "%s: %v\r\n", key, value)
	}

	if err := smtp.SendMail(addr, auth, ec.config.From, ec.config.To, []byte(body.String())); err != nil {
		return fmt.Errorf("failed to send notification email: %w", err)
	}
	return nil
}
