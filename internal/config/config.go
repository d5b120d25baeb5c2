// Package config provides configuration management for scanward.
// Configuration is loaded from YAML files with sane defaults and
// validated before the daemon starts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scanward/scanward/internal/db"
)

// Config represents the complete scanward configuration.
type Config struct {
	// Daemon configuration
	Daemon DaemonConfig `yaml:"daemon" json:"daemon"`

	// Database configuration
	Database db.Config `yaml:"database" json:"database"`

	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Reports configuration
	Reports ReportsConfig `yaml:"reports" json:"reports"`

	// Scheduler configuration
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// SMTP configuration for notifications
	SMTP SMTPConfig `yaml:"smtp" json:"smtp"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DaemonConfig contains daemon process settings.
type DaemonConfig struct {
	// PID file location
	PIDFile string `yaml:"pid_file" json:"pid_file"`

	// Working directory
	WorkDir string `yaml:"work_dir" json:"work_dir"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Prometheus scrape endpoint address; empty disables the listener
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// ScanningConfig contains scan execution settings.
type ScanningConfig struct {
	// Maximum number of scans running at once
	MaxConcurrentScans int `yaml:"max_concurrent_scans" json:"max_concurrent_scans"`

	// Default per-scan execution timeout
	DefaultScanTimeout time.Duration `yaml:"default_scan_timeout" json:"default_scan_timeout"`

	// Hard ceiling on any per-scan timeout
	MaxScanTimeout time.Duration `yaml:"max_scan_timeout" json:"max_scan_timeout"`

	// Trivy scanner image reference
	TrivyImage string `yaml:"trivy_image" json:"trivy_image"`

	// Directory holding SCAP datastream content
	SCAPContentDir string `yaml:"scap_content_dir" json:"scap_content_dir"`
}

// ReportsConfig contains report artifact settings.
type ReportsConfig struct {
	// Root directory for scan report artifacts
	Dir string `yaml:"dir" json:"dir"`
}

// SchedulerConfig contains scheduled-scan settings.
type SchedulerConfig struct {
	// Enable the cron scheduler
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Days to retain completed scans before cleanup
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	// Cron expression for the daily retention sweep
	CleanupCron string `yaml:"cleanup_cron" json:"cleanup_cron"`
}

// SMTPConfig contains notification email settings. Notifications are
// silently disabled when Host is empty.
type SMTPConfig struct {
	// SMTP server host
	Host string `yaml:"host" json:"host"`

	// SMTP server port
	Port int `yaml:"port" json:"port"`

	// SMTP authentication username
	Username string `yaml:"username" json:"username"`

	// SMTP authentication password
	Password string `yaml:"password" json:"password"`

	// From address for outgoing mail
	From string `yaml:"from" json:"from"`

	// Default recipient addresses
	To []string `yaml:"to" json:"to"`
}

// Enabled reports whether notification delivery is configured.
func (s *SMTPConfig) Enabled() bool {
	return s.Host != "" && len(s.To) > 0
}

// Address returns the host:port dial address.
func (s *SMTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Log level: debug, info, warn, error
	Level string `yaml:"level" json:"level"`

	// Log format: text or json
	Format string `yaml:"format" json:"format"`

	// Output destination: stdout, stderr, or file path
	Output string `yaml:"output" json:"output"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			PIDFile:         "/var/run/scanward.pid",
			WorkDir:         "/var/lib/scanward",
			ShutdownTimeout: 30 * time.Second,
			MetricsAddr:     "127.0.0.1:9464",
		},
		Database: db.DefaultConfig(),
		Scanning: ScanningConfig{
			MaxConcurrentScans: 4,
			DefaultScanTimeout: 10 * time.Minute,
			MaxScanTimeout:     30 * time.Minute,
			TrivyImage:         "aquasec/trivy:0.58.0",
			SCAPContentDir:     "/usr/share/xml/scap/ssg/content",
		},
		Reports: ReportsConfig{
			Dir: "/var/lib/scanward/reports",
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			RetentionDays: 30,
			CleanupCron:   "0 3 * * *",
		},
		SMTP: SMTPConfig{
			Host: "",
			Port: 587,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load loads configuration from a file. Missing files yield defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	if c.Scanning.MaxConcurrentScans <= 0 {
		return fmt.Errorf("max concurrent scans must be positive")
	}
	if c.Scanning.DefaultScanTimeout <= 0 {
		return fmt.Errorf("default scan timeout must be positive")
	}
	if c.Scanning.MaxScanTimeout < c.Scanning.DefaultScanTimeout {
		return fmt.Errorf("max scan timeout must be at least the default scan timeout")
	}
	if c.Scanning.TrivyImage == "" {
		return fmt.Errorf("trivy image is required")
	}

	if c.Reports.Dir == "" {
		return fmt.Errorf("reports directory is required")
	}

	if c.Scheduler.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	if c.Scheduler.CleanupCron == "" {
		return fmt.Errorf("cleanup cron expression is required")
	}

	if c.SMTP.Host != "" {
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			return fmt.Errorf("SMTP port must be between 1 and 65535")
		}
		if c.SMTP.From == "" {
			return fmt.Errorf("SMTP from address is required when SMTP is enabled")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// GetDatabaseConfig returns the database configuration.
func (c *Config) GetDatabaseConfig() db.Config {
	return c.Database
}

// GetLogOutput returns the log output destination.
func (c *Config) GetLogOutput() string {
	return c.Logging.Output
}
