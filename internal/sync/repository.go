package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/ewsync/internal/loggy"
	"github.com/tildaslashalef/ewsync/internal/ulid"
)

// Repository defines operations for managing sync logs in the database
type Repository interface {
	// CreateSyncLog creates a new sync log
	CreateSyncLog(ctx context.Context, log *SyncLog) error

	// GetSyncLogs retrieves sync logs, newest first. An empty accountID lists all accounts.
	GetSyncLogs(ctx context.Context, accountID string, limit, offset int) ([]*SyncLog, error)

	// GetLatestSyncLog retrieves the latest log of an account pass (folderID
	// empty) or of a folder. It returns nil when there is none.
	GetLatestSyncLog(ctx context.Context, accountID, folderID string) (*SyncLog, error)

	// DeleteSyncLogs removes every log of an account
	DeleteSyncLogs(ctx context.Context, accountID string) (int, error)
}

var syncLogColumns = []string{
	"id", "run_id", "account_id", "folder_id", "scope", "status", "success",
	"pulled", "pushed", "error_message", "started_at", "completed_at",
}

// SQLRepository implements the Repository interface using a SQL database
type SQLRepository struct {
	db     *sql.DB
	logger *loggy.Logger
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:     db,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncLog(row rowScanner) (*SyncLog, error) {
	var log SyncLog
	var completedAt sql.NullTime
	err := row.Scan(
		&log.ID,
		&log.RunID,
		&log.AccountID,
		&log.FolderID,
		&log.Scope,
		&log.Status,
		&log.Success,
		&log.Pulled,
		&log.Pushed,
		&log.ErrorMessage,
		&log.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		log.CompletedAt = completedAt.Time
	}
	return &log, nil
}

// CreateSyncLog creates a new sync log
func (r *SQLRepository) CreateSyncLog(ctx context.Context, log *SyncLog) error {
	if log.ID == "" {
		log.ID = ulid.SyncID()
	}

	q := squirrel.Insert("sync_logs").
		Columns(syncLogColumns...).
		Values(log.ID, log.RunID, log.AccountID, log.FolderID, log.Scope, log.Status, log.Success,
			log.Pulled, log.Pushed, log.ErrorMessage, log.StartedAt, log.CompletedAt)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building create sync log query: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing create sync log query: %w", err)
	}

	return nil
}

// GetSyncLogs retrieves sync logs with optional filtering
func (r *SQLRepository) GetSyncLogs(ctx context.Context, accountID string, limit, offset int) ([]*SyncLog, error) {
	q := squirrel.Select(syncLogColumns...).
		From("sync_logs").
		OrderBy("started_at DESC", "id DESC")

	if accountID != "" {
		q = q.Where(squirrel.Eq{"account_id": accountID})
	}

	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get sync logs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get sync logs query: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync log row: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync log rows: %w", err)
	}

	return logs, nil
}

// GetLatestSyncLog retrieves the latest sync log of an account or folder
func (r *SQLRepository) GetLatestSyncLog(ctx context.Context, accountID, folderID string) (*SyncLog, error) {
	scope := ScopeFolder
	if folderID == "" {
		scope = ScopeAccount
	}

	q := squirrel.Select(syncLogColumns...).
		From("sync_logs").
		Where(squirrel.Eq{"account_id": accountID, "folder_id": folderID, "scope": scope}).
		OrderBy("started_at DESC", "id DESC").
		Limit(1)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get latest sync log query: %w", err)
	}

	log, err := scanSyncLog(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No sync log found
		}
		return nil, fmt.Errorf("executing get latest sync log query: %w", err)
	}

	return log, nil
}

// DeleteSyncLogs removes the logs of an account
func (r *SQLRepository) DeleteSyncLogs(ctx context.Context, accountID string) (int, error) {
	query, args, err := squirrel.Delete("sync_logs").
		Where(squirrel.Eq{"account_id": accountID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building delete sync logs query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("executing delete sync logs query: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return int(n), nil
}
