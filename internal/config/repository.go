package config

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/ewsync/internal/loggy"
	"github.com/tildaslashalef/ewsync/internal/ulid"
)

// Settings keys understood by ewsync
const (
	SettingConnectionTimeout = "ews.timeout" // seconds
	SettingOAuthClientID     = "ews.oauth.client_id"
	SettingOAuthTokenURL     = "ews.oauth.token_url"
	SettingOAuthScopes       = "ews.oauth.scopes"        // comma separated
	SettingOAuthClientSecret = "ews.oauth.client_secret" // obfuscated at rest
	SettingCalendarEnabled   = "targets.calendar_enabled"
)

// Settings represents a persistent setting in the database
type Settings struct {
	ID        string
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SettingsRepository defines operations for managing settings in the database
type SettingsRepository interface {
	// GetSetting returns "" when the key is not set
	GetSetting(ctx context.Context, key string) (string, error)
	GetSettings(ctx context.Context, prefix string) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// SQLSettingsRepository implements SettingsRepository using a SQL database
type SQLSettingsRepository struct {
	db     *sql.DB
	logger *loggy.Logger
	sq     sq.StatementBuilderType
}

// NewSQLSettingsRepository creates a new SQL settings repository
func NewSQLSettingsRepository(db *sql.DB, logger *loggy.Logger) SettingsRepository {
	return &SQLSettingsRepository{
		db:     db,
		logger: logger,
		sq:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

func isSecret(key string) bool {
	return strings.HasSuffix(key, "secret")
}

// GetSetting retrieves a setting by key
func (r *SQLSettingsRepository) GetSetting(ctx context.Context, key string) (string, error) {
	query, args, err := r.sq.Select("value").
		From("settings").
		Where(sq.Eq{"key": key}).
		Limit(1).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building get setting query: %w", err)
	}

	var value string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("executing get setting query: %w", err)
	}

	if isSecret(key) && value != "" {
		return deobfuscate(value)
	}

	return value, nil
}

// GetSettings retrieves multiple settings by prefix
func (r *SQLSettingsRepository) GetSettings(ctx context.Context, prefix string) (map[string]string, error) {
	query, args, err := r.sq.Select("key", "value").
		From("settings").
		Where(sq.Like{"key": prefix + "%"}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get settings query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get settings query: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning setting row: %w", err)
		}

		if isSecret(key) && value != "" {
			value, err = deobfuscate(value)
			if err != nil {
				r.logger.Warn("Failed to decode secret setting", "key", key, "error", err)
				continue
			}
		}

		settings[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating setting rows: %w", err)
	}

	return settings, nil
}

// SetSetting upserts a setting value
func (r *SQLSettingsRepository) SetSetting(ctx context.Context, key, value string) error {
	storeValue := value
	if isSecret(key) && value != "" {
		storeValue = obfuscate(value)
	}

	now := time.Now().UTC()
	query, args, err := r.sq.Insert("settings").
		Columns("id", "key", "value", "created_at", "updated_at").
		Values(ulid.SettingID(), key, storeValue, now, now).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building set setting query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing set setting query: %w", err)
	}

	return nil
}

// DeleteSetting deletes a setting
func (r *SQLSettingsRepository) DeleteSetting(ctx context.Context, key string) error {
	query, args, err := r.sq.Delete("settings").
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete setting query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete setting query: %w", err)
	}

	return nil
}

// obfuscate keeps secrets from being readable at a glance in the database file.
// It is not encryption; account passwords live in the keyring instead.
func obfuscate(secret string) string {
	runes := []rune(secret)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return "OBFS:" + base64.StdEncoding.EncodeToString([]byte(string(runes)))
}

func deobfuscate(stored string) (string, error) {
	if !strings.HasPrefix(stored, "OBFS:") {
		return stored, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, "OBFS:"))
	if err != nil {
		return "", fmt.Errorf("decoding obfuscated value: %w", err)
	}

	runes := []rune(string(decoded))
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}

	return string(runes), nil
}
