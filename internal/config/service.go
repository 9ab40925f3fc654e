package config

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/tildaslashalef/ewsync/internal/loggy"
)

// SettingsService layers persisted installation settings over the env config
type SettingsService struct {
	repo   SettingsRepository
	config *Config
	logger *loggy.Logger
}

// NewSettingsService creates a new settings service
func NewSettingsService(db *sql.DB, config *Config, logger *loggy.Logger) *SettingsService {
	return NewSettingsServiceWithRepo(NewSQLSettingsRepository(db, logger), config, logger)
}

// NewSettingsServiceWithRepo creates a settings service on top of an existing repository
func NewSettingsServiceWithRepo(repo SettingsRepository, config *Config, logger *loggy.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

// GetSetting retrieves a setting by key
func (s *SettingsService) GetSetting(ctx context.Context, key string) (string, error) {
	return s.repo.GetSetting(ctx, key)
}

// GetSettings retrieves multiple settings by prefix
func (s *SettingsService) GetSettings(ctx context.Context, prefix string) (map[string]string, error) {
	return s.repo.GetSettings(ctx, prefix)
}

// SetSetting sets a setting value
func (s *SettingsService) SetSetting(ctx context.Context, key, value string) error {
	return s.repo.SetSetting(ctx, key, value)
}

// DeleteSetting deletes a setting
func (s *SettingsService) DeleteSetting(ctx context.Context, key string) error {
	return s.repo.DeleteSetting(ctx, key)
}

// ConnectionTimeout returns the stored per-request timeout override, or the
// configured EWS timeout when none is stored or the stored value is unusable.
func (s *SettingsService) ConnectionTimeout(ctx context.Context) time.Duration {
	value, err := s.repo.GetSetting(ctx, SettingConnectionTimeout)
	if err != nil {
		s.logger.Warn("Failed to read connection timeout setting", "error", err)
		return s.config.EWS.Timeout
	}
	if value == "" {
		return s.config.EWS.Timeout
	}

	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		s.logger.Warn("Ignoring invalid connection timeout setting", "value", value)
		return s.config.EWS.Timeout
	}

	return time.Duration(seconds) * time.Second
}

// SetConnectionTimeout stores the per-request timeout override
func (s *SettingsService) SetConnectionTimeout(ctx context.Context, timeout time.Duration) error {
	seconds := int(timeout / time.Second)
	if seconds <= 0 {
		return fmt.Errorf("timeout must be at least one second")
	}
	return s.repo.SetSetting(ctx, SettingConnectionTimeout, strconv.Itoa(seconds))
}

// LoadOverrides applies stored settings to the in-memory configuration
func (s *SettingsService) LoadOverrides(ctx context.Context) error {
	settings, err := s.repo.GetSettings(ctx, "targets.")
	if err != nil {
		return fmt.Errorf("loading target settings: %w", err)
	}

	if enabled, ok := settings[SettingCalendarEnabled]; ok && enabled != "" {
		s.config.Targets.CalendarEnabled = enabled == "true"
	}

	s.config.EWS.Timeout = s.ConnectionTimeout(ctx)
	return nil
}
