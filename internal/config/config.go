package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	globalConfig *Config
	configMutex  sync.RWMutex
)

// Get returns the global configuration instance
func Get() (*Config, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}

	return globalConfig, nil
}

// Set sets the global configuration instance
func Set(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = cfg
}

// Config represents the complete application configuration
type Config struct {
	EWS         EWSConfig
	Sync        SyncConfig
	Targets     TargetsConfig
	Credentials CredentialsConfig
	Database    DatabaseConfig
	Logging     LoggingConfig
	configDir   string
}

// EWSConfig holds settings for talking to Exchange Web Services
type EWSConfig struct {
	Timeout           time.Duration // Per-request timeout, surfaced to the UI as a countdown
	UserAgent         string
	MaxRetries        int // Retries for transient request failures
	RequestsPerMinute int
	BurstLimit        int
	PageSize          int // Items requested per pull page
	MaxIdleConns      int
	IdleConnTimeout   time.Duration
	AutodiscoverURL   string // Overrides the autodiscover endpoint derived from the user's domain
}

// SyncConfig holds sync engine settings
type SyncConfig struct {
	MaxItemsPerRequest   int // Changelog batch size for the push phase
	MaxAccountReruns     int
	MaxFolderReruns      int
	RerunDelay           time.Duration
	AutosyncTick         time.Duration // How often the daemon checks for due accounts
	AutocompleteMinChars int
}

// TargetsConfig controls which local target kinds are available
type TargetsConfig struct {
	CalendarEnabled bool // When false, calendar and task folders fail with "nolightning"
	StaleSuffix     string
	PendingSuffix   string
}

// CredentialsConfig holds keyring settings
type CredentialsConfig struct {
	Service      string   // Keyring service name
	Backends     []string // Allowed keyring backends, empty for the platform default
	FileDir      string   // Directory for the encrypted file backend
	FilePassword string   // Passphrase of the file backend, prompted for when empty
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Path            string
	JournalMode     string
	SynchronousMode string
	BusyTimeout     int // Milliseconds
	CacheSize       int // KiB
	ForeignKeys     bool
	ConnMaxLife     time.Duration
	QueryTimeout    time.Duration
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Output     string // stdout, stderr, or file path
	AddSource  bool
	TimeFormat string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a new empty Config
func New() *Config {
	return &Config{}
}

// ConfigDir returns the directory the configuration was loaded from
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateEWS(); err != nil {
		return fmt.Errorf("EWS config: %w", err)
	}

	if err := c.validateSync(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}

	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// ParseLogLevel parses a log level string to a slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none":
		return slog.Level(9999)
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validateEWS() error {
	if c.EWS.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.EWS.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if c.EWS.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be positive")
	}

	if c.EWS.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}

	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.MaxItemsPerRequest <= 0 {
		return fmt.Errorf("max_items_per_request must be positive")
	}

	if c.Sync.MaxAccountReruns < 0 || c.Sync.MaxFolderReruns < 0 {
		return fmt.Errorf("rerun bounds cannot be negative")
	}

	if c.Sync.AutosyncTick <= 0 {
		return fmt.Errorf("autosync_tick must be positive")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	dir := filepath.Dir(c.Database.Path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for database: %w", err)
		}
	}

	if err := checkDirectoryWritable(dir); err != nil {
		return fmt.Errorf("database directory: %w", err)
	}

	if c.Database.BusyTimeout <= 0 {
		return fmt.Errorf("busy timeout must be positive")
	}

	if c.Database.ConnMaxLife <= 0 {
		return fmt.Errorf("connection max life must be positive")
	}

	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}

	return nil
}

func (c *Config) validateLogging() error {
	level := strings.ToLower(c.Logging.Level)
	if level != "debug" && level != "info" && level != "warn" && level != "error" && level != "none" {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	format := strings.ToLower(c.Logging.Format)
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnvString(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getTimeFormat converts a named time format to its actual format string
func getTimeFormat(name string) string {
	switch name {
	case "RFC3339":
		return time.RFC3339
	case "RFC3339Nano":
		return time.RFC3339Nano
	case "Kitchen":
		return time.Kitchen
	case "DateTime":
		return time.DateTime
	case "Date":
		return time.DateOnly
	case "Time":
		return time.TimeOnly
	default:
		return name
	}
}

func checkDirectoryWritable(dir string) error {
	testFile := filepath.Join(dir, fmt.Sprintf("test_write_%d", time.Now().UnixNano()))
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}

	f.Close()
	os.Remove(testFile)

	return nil
}
