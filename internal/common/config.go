package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Schedule    ScheduleConfig  `toml:"schedule"`
	Runner      RunnerConfig    `toml:"runner"`
	Modules     []ModuleConfig  `toml:"modules"`
	Storage     StorageConfig   `toml:"storage"`
	Metrics     MetricsConfig   `toml:"metrics"`
	Sync        SyncConfig      `toml:"sync"`
	Retention   RetentionConfig `toml:"retention"`
	Alerts      AlertsConfig    `toml:"alerts"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ScheduleConfig defines the fixed daily firing marks for the clock trigger
type ScheduleConfig struct {
	Marks        []string      `toml:"marks"`         // Time-of-day marks in "HH:MM" form, fired once per day each
	PollInterval time.Duration `toml:"poll_interval"` // How often the trigger loop samples the wall clock
	ResetMark    string        `toml:"reset_mark"`    // Mark at which the per-day fired set is cleared
	Cooldown     time.Duration `toml:"cooldown"`      // Pause after an unhandled trigger-loop error before resuming
}

// RunnerConfig controls per-module retry and timeout behavior
type RunnerConfig struct {
	MaxRetries    int           `toml:"max_retries"`    // Attempts per module before it is recorded as failed
	RetryDelay    time.Duration `toml:"retry_delay"`    // Fixed delay between failed attempts (no backoff)
	ModuleTimeout time.Duration `toml:"module_timeout"` // Hard wall-clock limit per attempt
	OutputLimit   int           `toml:"output_limit"`   // Max bytes of captured stdout/stderr kept per attempt
}

// ModuleConfig describes one collection module invoked as an external process
type ModuleConfig struct {
	Name    string   `toml:"name"`
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
}

// SQLiteConfig represents SQLite-specific configuration
type SQLiteConfig struct {
	Path          string `toml:"path"`            // Database file path
	CacheSizeMB   int    `toml:"cache_size_mb"`   // Page cache size
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // Lock wait before SQLITE_BUSY
	WALMode       bool   `toml:"wal_mode"`        // Write-ahead logging
}

// MetricsConfig controls the rolling JSON metrics history
type MetricsConfig struct {
	Path         string `toml:"path"`          // JSON history file path
	HistoryLimit int    `toml:"history_limit"` // Session snapshots retained, oldest dropped first
}

// SyncConfig locates the shared timestamp artifact consumed by modules
type SyncConfig struct {
	TimestampPath string `toml:"timestamp_path"`
}

// RetentionConfig controls history cleanup
type RetentionConfig struct {
	DaysToKeep      int    `toml:"days_to_keep"`
	CleanupSchedule string `toml:"cleanup_schedule"` // Cron expression for the daily cleanup run
}

// AlertsConfig groups the notification channels and throttling policy
type AlertsConfig struct {
	ThrottleWindow time.Duration `toml:"throttle_window"` // Duplicate (kind,module) suppression window
	DigestDay      string        `toml:"digest_day"`      // Weekday on which the digest is sent unconditionally
	Email          EmailConfig   `toml:"email"`
	Webhook        WebhookConfig `toml:"webhook"`
	Slack          SlackConfig   `toml:"slack"`
}

// EmailConfig holds SMTP channel settings, validated at construction when enabled
type EmailConfig struct {
	Enabled  bool     `toml:"enabled"`
	Host     string   `toml:"host" validate:"required"`
	Port     int      `toml:"port" validate:"required,gt=0"`
	Username string   `toml:"username" validate:"required"`
	Password string   `toml:"password" validate:"required"`
	From     string   `toml:"from" validate:"required,email"`
	FromName string   `toml:"from_name"`
	To       []string `toml:"to" validate:"required,min=1,dive,email"`
	UseTLS   bool     `toml:"use_tls"`
}

// WebhookConfig holds generic webhook channel settings
type WebhookConfig struct {
	Enabled bool          `toml:"enabled"`
	URL     string        `toml:"url" validate:"required,url"`
	Timeout time.Duration `toml:"timeout"`
}

// SlackConfig holds Slack webhook channel settings
type SlackConfig struct {
	Enabled    bool   `toml:"enabled"`
	WebhookURL string `toml:"webhook_url" validate:"required,url"`
	Channel    string `toml:"channel"`
	Username   string `toml:"username"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for log lines
}

// NewDefaultConfig creates a configuration with default values.
// The schedule and runner defaults match the production collection window:
// hourly marks from 10:50 through 18:50, three attempts per module.
func NewDefaultConfig() *Config {
	marks := make([]string, 0, 9)
	for hour := 10; hour <= 18; hour++ {
		marks = append(marks, fmt.Sprintf("%02d:50", hour))
	}

	return &Config{
		Environment: "development",
		Schedule: ScheduleConfig{
			Marks:        marks,
			PollInterval: 10 * time.Second,
			ResetMark:    "00:00",
			Cooldown:     60 * time.Second,
		},
		Runner: RunnerConfig{
			MaxRetries:    3,
			RetryDelay:    60 * time.Second,
			ModuleTimeout: 30 * time.Minute,
			OutputLimit:   16 * 1024,
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/colligo.db",
				CacheSizeMB:   10,
				BusyTimeoutMS: 5000,
				WALMode:       true,
			},
		},
		Metrics: MetricsConfig{
			Path:         "./logs/metrics.json",
			HistoryLimit: 100,
		},
		Sync: SyncConfig{
			TimestampPath: "./shared_timestamp.txt",
		},
		Retention: RetentionConfig{
			DaysToKeep:      30,
			CleanupSchedule: "30 2 * * *", // 02:30 daily, outside the collection window
		},
		Alerts: AlertsConfig{
			ThrottleWindow: 30 * time.Minute,
			DigestDay:      "Sunday",
			Email: EmailConfig{
				Port:     587,
				FromName: "Colligo",
				UseTLS:   true,
			},
			Webhook: WebhookConfig{
				Timeout: 10 * time.Second,
			},
			Slack: SlackConfig{
				Channel:  "#alerts",
				Username: "colligo",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files; later files override
// earlier files, environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks structural requirements that would otherwise surface mid-session
func (c *Config) Validate() error {
	if len(c.Modules) > 0 {
		seen := make(map[string]bool, len(c.Modules))
		for _, m := range c.Modules {
			if m.Name == "" {
				return fmt.Errorf("module with empty name in [[modules]]")
			}
			if m.Command == "" {
				return fmt.Errorf("module %s has no command", m.Name)
			}
			if seen[m.Name] {
				return fmt.Errorf("duplicate module name %s", m.Name)
			}
			seen[m.Name] = true
		}
	}

	for _, mark := range c.Schedule.Marks {
		if _, err := ParseMark(mark); err != nil {
			return fmt.Errorf("invalid schedule mark %q: %w", mark, err)
		}
	}
	if c.Schedule.ResetMark != "" {
		if _, err := ParseMark(c.Schedule.ResetMark); err != nil {
			return fmt.Errorf("invalid reset mark %q: %w", c.Schedule.ResetMark, err)
		}
	}

	if c.Runner.MaxRetries < 1 {
		return fmt.Errorf("runner max_retries must be at least 1, got %d", c.Runner.MaxRetries)
	}

	return nil
}

// ParseMark parses an "HH:MM" time-of-day mark and returns it normalized.
// Marks are minute-resolution by design; the trigger compares truncated clock time.
func ParseMark(mark string) (string, error) {
	parts := strings.Split(strings.TrimSpace(mark), ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("expected HH:MM")
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour %q", parts[0])
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute %q", parts[1])
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("COLLIGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Schedule
	if marks := os.Getenv("COLLIGO_SCHEDULE_MARKS"); marks != "" {
		parsed := []string{}
		for _, m := range strings.Split(marks, ",") {
			if trimmed := strings.TrimSpace(m); trimmed != "" {
				parsed = append(parsed, trimmed)
			}
		}
		if len(parsed) > 0 {
			config.Schedule.Marks = parsed
		}
	}
	if poll := os.Getenv("COLLIGO_SCHEDULE_POLL_INTERVAL"); poll != "" {
		if d, err := time.ParseDuration(poll); err == nil {
			config.Schedule.PollInterval = d
		}
	}
	if reset := os.Getenv("COLLIGO_SCHEDULE_RESET_MARK"); reset != "" {
		config.Schedule.ResetMark = reset
	}

	// Runner
	if retries := os.Getenv("COLLIGO_RUNNER_MAX_RETRIES"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil {
			config.Runner.MaxRetries = r
		}
	}
	if delay := os.Getenv("COLLIGO_RUNNER_RETRY_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			config.Runner.RetryDelay = d
		}
	}
	if timeout := os.Getenv("COLLIGO_RUNNER_MODULE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Runner.ModuleTimeout = d
		}
	}

	// Storage
	if path := os.Getenv("COLLIGO_SQLITE_PATH"); path != "" {
		config.Storage.SQLite.Path = path
	}

	// Metrics
	if path := os.Getenv("COLLIGO_METRICS_PATH"); path != "" {
		config.Metrics.Path = path
	}

	// Sync artifact
	if path := os.Getenv("COLLIGO_SYNC_TIMESTAMP_PATH"); path != "" {
		config.Sync.TimestampPath = path
	}

	// Retention
	if days := os.Getenv("COLLIGO_RETENTION_DAYS"); days != "" {
		if d, err := strconv.Atoi(days); err == nil {
			config.Retention.DaysToKeep = d
		}
	}

	// Alerts
	if window := os.Getenv("COLLIGO_ALERTS_THROTTLE_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			config.Alerts.ThrottleWindow = d
		}
	}
	if enabled := os.Getenv("COLLIGO_ALERTS_EMAIL_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Alerts.Email.Enabled = e
		}
	}
	if host := os.Getenv("COLLIGO_SMTP_HOST"); host != "" {
		config.Alerts.Email.Host = host
	}
	if port := os.Getenv("COLLIGO_SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Alerts.Email.Port = p
		}
	}
	if username := os.Getenv("COLLIGO_SMTP_USERNAME"); username != "" {
		config.Alerts.Email.Username = username
	}
	if password := os.Getenv("COLLIGO_SMTP_PASSWORD"); password != "" {
		config.Alerts.Email.Password = password
	}
	if from := os.Getenv("COLLIGO_SMTP_FROM"); from != "" {
		config.Alerts.Email.From = from
	}
	if to := os.Getenv("COLLIGO_ALERT_EMAILS"); to != "" {
		recipients := []string{}
		for _, addr := range strings.Split(to, ",") {
			if trimmed := strings.TrimSpace(addr); trimmed != "" {
				recipients = append(recipients, trimmed)
			}
		}
		if len(recipients) > 0 {
			config.Alerts.Email.To = recipients
		}
	}
	if enabled := os.Getenv("COLLIGO_ALERTS_WEBHOOK_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Alerts.Webhook.Enabled = e
		}
	}
	if url := os.Getenv("COLLIGO_WEBHOOK_URL"); url != "" {
		config.Alerts.Webhook.URL = url
	}
	if enabled := os.Getenv("COLLIGO_ALERTS_SLACK_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Alerts.Slack.Enabled = e
		}
	}
	if url := os.Getenv("COLLIGO_SLACK_WEBHOOK_URL"); url != "" {
		config.Alerts.Slack.WebhookURL = url
	}

	// Logging
	if level := os.Getenv("COLLIGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("COLLIGO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ModuleNames returns the declared module names in execution order
func (c *Config) ModuleNames() []string {
	names := make([]string, len(c.Modules))
	for i, m := range c.Modules {
		names[i] = m.Name
	}
	return names
}
