package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// DefaultConnectionTimeout is the per-request timeout used when neither the
// environment nor the stored settings override it.
const DefaultConnectionTimeout = 50 * time.Second

// DefaultConfigDir returns ~/.ewsync
func DefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".ewsync"), nil
}

// LoadFromEnv loads configuration from environment variables.
// configDir and configFilePath may be empty to use ~/.ewsync and ~/.ewsync/.env.
func LoadFromEnv(configDir string, configFilePath string) (*Config, error) {
	cfg := New()

	if configDir == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		configDir = dir
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	cfg.configDir = configDir

	if configFilePath == "" {
		configFilePath = filepath.Join(configDir, ".env")
	}

	if envFilePath := getEnvString("ENV_FILE_PATH", ""); envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			return nil, fmt.Errorf("failed to load env file from %s: %w", envFilePath, err)
		}
	} else if err := godotenv.Load(configFilePath); err != nil {
		_ = godotenv.Load()
	}

	cfg.EWS = EWSConfig{
		Timeout:           getEnvDuration("EWSYNC_EWS_TIMEOUT", DefaultConnectionTimeout),
		UserAgent:         getEnvString("EWSYNC_EWS_USER_AGENT", "ewsync/1.0"),
		MaxRetries:        getEnvInt("EWSYNC_EWS_MAX_RETRIES", 3),
		RequestsPerMinute: getEnvInt("EWSYNC_EWS_REQUESTS_PER_MINUTE", 120),
		BurstLimit:        getEnvInt("EWSYNC_EWS_BURST_LIMIT", 10),
		PageSize:          getEnvInt("EWSYNC_EWS_PAGE_SIZE", 100),
		MaxIdleConns:      getEnvInt("EWSYNC_EWS_MAX_IDLE_CONNS", 10),
		IdleConnTimeout:   getEnvDuration("EWSYNC_EWS_IDLE_CONN_TIMEOUT", 90*time.Second),
		AutodiscoverURL:   getEnvString("EWSYNC_EWS_AUTODISCOVER_URL", ""),
	}

	cfg.Sync = SyncConfig{
		MaxItemsPerRequest:   getEnvInt("EWSYNC_SYNC_MAX_ITEMS_PER_REQUEST", 10),
		MaxAccountReruns:     getEnvInt("EWSYNC_SYNC_MAX_ACCOUNT_RERUNS", 3),
		MaxFolderReruns:      getEnvInt("EWSYNC_SYNC_MAX_FOLDER_RERUNS", 3),
		RerunDelay:           getEnvDuration("EWSYNC_SYNC_RERUN_DELAY", 2*time.Second),
		AutosyncTick:         getEnvDuration("EWSYNC_SYNC_AUTOSYNC_TICK", time.Minute),
		AutocompleteMinChars: getEnvInt("EWSYNC_SYNC_AUTOCOMPLETE_MIN_CHARS", 3),
	}

	cfg.Targets = TargetsConfig{
		CalendarEnabled: getEnvBool("EWSYNC_CALENDAR_ENABLED", true),
		StaleSuffix:     getEnvString("EWSYNC_TARGET_STALE_SUFFIX", "(stale)"),
		PendingSuffix:   getEnvString("EWSYNC_TARGET_PENDING_SUFFIX", "(unsynced changes)"),
	}

	cfg.Credentials = CredentialsConfig{
		Service:      getEnvString("EWSYNC_KEYRING_SERVICE", "ewsync"),
		Backends:     getEnvList("EWSYNC_KEYRING_BACKENDS"),
		FileDir:      getEnvString("EWSYNC_KEYRING_FILE_DIR", filepath.Join(configDir, "keyring")),
		FilePassword: getEnvString("EWSYNC_KEYRING_FILE_PASSWORD", ""),
	}

	cfg.Database = DatabaseConfig{
		Path:            getEnvString("EWSYNC_DB_PATH", filepath.Join(configDir, "ewsync.db")),
		BusyTimeout:     getEnvInt("EWSYNC_DB_BUSY_TIMEOUT", 5000),
		JournalMode:     getEnvString("EWSYNC_DB_JOURNAL_MODE", "WAL"),
		SynchronousMode: getEnvString("EWSYNC_DB_SYNCHRONOUS_MODE", "NORMAL"),
		CacheSize:       getEnvInt("EWSYNC_DB_CACHE_SIZE", -16000),
		ForeignKeys:     getEnvBool("EWSYNC_DB_FOREIGN_KEYS", true),
		ConnMaxLife:     getEnvDuration("EWSYNC_DB_CONN_MAX_LIFE", 5*time.Minute),
		QueryTimeout:    getEnvDuration("EWSYNC_DB_QUERY_TIMEOUT", 30*time.Second),
	}

	cfg.Logging = LoggingConfig{
		Level:      getEnvString("EWSYNC_LOG_LEVEL", "info"),
		Format:     getEnvString("EWSYNC_LOG_FORMAT", "text"),
		Output:     getEnvString("EWSYNC_LOG_OUTPUT", filepath.Join(configDir, "ewsync.log")),
		AddSource:  getEnvBool("EWSYNC_LOG_ADD_SOURCE", false),
		TimeFormat: getTimeFormat(getEnvString("EWSYNC_LOG_TIME_FORMAT", "RFC3339")),
		MaxSizeMB:  getEnvInt("EWSYNC_LOG_MAX_SIZE_MB", 10),
		MaxBackups: getEnvInt("EWSYNC_LOG_MAX_BACKUPS", 3),
		MaxAgeDays: getEnvInt("EWSYNC_LOG_MAX_AGE_DAYS", 28),
	}

	return cfg, cfg.Validate()
}
