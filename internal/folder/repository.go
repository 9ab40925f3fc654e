package folder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/ewsync/internal/database"
	"github.com/tildaslashalef/ewsync/internal/loggy"
)

var (
	// ErrFolderNotFound is returned when a folder is not found
	ErrFolderNotFound = errors.New("folder not found")
)

// Store defines persistence operations for folders
type Store interface {
	ListFolders(ctx context.Context, accountID string) ([]*Folder, error)
	GetFolder(ctx context.Context, accountID, folderID string) (*Folder, error)
	// SaveFolder inserts or replaces one folder record atomically
	SaveFolder(ctx context.Context, f *Folder) error
	SetStatus(ctx context.Context, accountID, folderID, status string) error
	MarkSynced(ctx context.Context, accountID, folderID string, at int64) error
	SetCursor(ctx context.Context, accountID, folderID, cursor string) error
	// BindTarget records the local target of a folder without touching its
	// other columns
	BindTarget(ctx context.Context, accountID, folderID, targetID, targetName string) error
	// MarkPending sets every selected, non-cached folder to pending and clears
	// stale pending marks from all others, in one transaction
	MarkPending(ctx context.Context, accountID string) (int, error)
	// NextPending returns the first pending folder in discovery order, or nil
	NextPending(ctx context.Context, accountID string) (*Folder, error)
	// ReplacePending moves every remaining pending folder to status
	ReplacePending(ctx context.Context, accountID, status string) (int, error)
	DeleteFolder(ctx context.Context, accountID, folderID string) error
}

// SQLRepository implements Store using SQLite
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new folder SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) Store {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

var folderColumns = []string{
	"account_id", "folder_id", "parent_id", "name", "type", "target", "target_name",
	"target_color", "selected", "status", "last_sync_time", "use_changelog",
	"download_only", "cached", "cursor", "position", "created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFolder(row rowScanner) (*Folder, error) {
	var f Folder
	var folderType string
	err := row.Scan(
		&f.AccountID, &f.FolderID, &f.ParentID, &f.Name, &folderType, &f.Target, &f.TargetName,
		&f.TargetColor, &f.Selected, &f.Status, &f.LastSyncTime, &f.UseChangelog,
		&f.DownloadOnly, &f.Cached, &f.Cursor, &f.Position, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Type = Type(folderType)
	return &f, nil
}

func (r *SQLRepository) queryFolders(ctx context.Context, q sq.SelectBuilder) ([]*Folder, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building folder query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying folders: %w", err)
	}
	defer rows.Close()

	var folders []*Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning folder row: %w", err)
		}
		folders = append(folders, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating folder rows: %w", err)
	}
	return folders, nil
}

// ListFolders returns the folders of an account in discovery order
func (r *SQLRepository) ListFolders(ctx context.Context, accountID string) ([]*Folder, error) {
	return r.queryFolders(ctx, r.builder.
		Select(folderColumns...).
		From("folders").
		Where(sq.Eq{"account_id": accountID}).
		OrderBy("position ASC", "folder_id ASC"))
}

// GetFolder retrieves one folder
func (r *SQLRepository) GetFolder(ctx context.Context, accountID, folderID string) (*Folder, error) {
	query, args, err := r.builder.
		Select(folderColumns...).
		From("folders").
		Where(sq.Eq{"account_id": accountID, "folder_id": folderID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get folder query: %w", err)
	}

	f, err := scanFolder(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFolderNotFound
		}
		return nil, fmt.Errorf("getting folder: %w", err)
	}
	return f, nil
}

// SaveFolder upserts a folder
func (r *SQLRepository) SaveFolder(ctx context.Context, f *Folder) error {
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	query, args, err := r.builder.
		Insert("folders").
		Columns(folderColumns...).
		Values(
			f.AccountID, f.FolderID, f.ParentID, f.Name, string(f.Type), f.Target, f.TargetName,
			f.TargetColor, f.Selected, f.Status, f.LastSyncTime, f.UseChangelog,
			f.DownloadOnly, f.Cached, f.Cursor, f.Position, f.CreatedAt, f.UpdatedAt,
		).
		Suffix(`ON CONFLICT(account_id, folder_id) DO UPDATE SET
			parent_id = excluded.parent_id, name = excluded.name, type = excluded.type,
			target = excluded.target, target_name = excluded.target_name,
			target_color = excluded.target_color, selected = excluded.selected,
			status = excluded.status, last_sync_time = excluded.last_sync_time,
			use_changelog = excluded.use_changelog, download_only = excluded.download_only,
			cached = excluded.cached, cursor = excluded.cursor, position = excluded.position,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building save folder query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving folder: %w", err)
	}
	return nil
}

func (r *SQLRepository) updateOne(ctx context.Context, accountID, folderID string, set map[string]any) error {
	set["updated_at"] = time.Now().UTC()
	query, args, err := r.builder.
		Update("folders").
		SetMap(set).
		Where(sq.Eq{"account_id": accountID, "folder_id": folderID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building folder update: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating folder: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrFolderNotFound
	}
	return nil
}

// SetStatus updates the folder status
func (r *SQLRepository) SetStatus(ctx context.Context, accountID, folderID, status string) error {
	return r.updateOne(ctx, accountID, folderID, map[string]any{"status": status})
}

// MarkSynced records a successful sync at the given unix time
func (r *SQLRepository) MarkSynced(ctx context.Context, accountID, folderID string, at int64) error {
	return r.updateOne(ctx, accountID, folderID, map[string]any{
		"status":         StatusOK,
		"last_sync_time": at,
	})
}

// SetCursor stores the pull cursor of a folder
func (r *SQLRepository) SetCursor(ctx context.Context, accountID, folderID, cursor string) error {
	return r.updateOne(ctx, accountID, folderID, map[string]any{"cursor": cursor})
}

// BindTarget stores the target id and name of a folder
func (r *SQLRepository) BindTarget(ctx context.Context, accountID, folderID, targetID, targetName string) error {
	return r.updateOne(ctx, accountID, folderID, map[string]any{
		"target":      targetID,
		"target_name": targetName,
	})
}

// MarkPending snapshots the folders that take part in this pass
func (r *SQLRepository) MarkPending(ctx context.Context, accountID string) (int, error) {
	now := time.Now().UTC()
	clearQuery, clearArgs, err := r.builder.
		Update("folders").
		Set("status", "").
		Set("updated_at", now).
		Where(sq.Eq{"account_id": accountID, "status": StatusPending}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building clear pending query: %w", err)
	}
	markQuery, markArgs, err := r.builder.
		Update("folders").
		Set("status", StatusPending).
		Set("updated_at", now).
		Where(sq.Eq{"account_id": accountID, "selected": true, "cached": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building mark pending query: %w", err)
	}

	var marked int64
	err = database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, clearQuery, clearArgs...); err != nil {
			return fmt.Errorf("clearing pending folders: %w", err)
		}
		result, err := tx.ExecContext(ctx, markQuery, markArgs...)
		if err != nil {
			return fmt.Errorf("marking pending folders: %w", err)
		}
		if marked, err = result.RowsAffected(); err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(marked), nil
}

// NextPending returns the first pending folder in discovery order
func (r *SQLRepository) NextPending(ctx context.Context, accountID string) (*Folder, error) {
	folders, err := r.queryFolders(ctx, r.builder.
		Select(folderColumns...).
		From("folders").
		Where(sq.Eq{"account_id": accountID, "status": StatusPending}).
		OrderBy("position ASC", "folder_id ASC").
		Limit(1))
	if err != nil {
		return nil, err
	}
	if len(folders) == 0 {
		return nil, nil
	}
	return folders[0], nil
}

// ReplacePending moves all remaining pending folders to status
func (r *SQLRepository) ReplacePending(ctx context.Context, accountID, status string) (int, error) {
	query, args, err := r.builder.
		Update("folders").
		Set("status", status).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"account_id": accountID, "status": StatusPending}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building replace pending query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("replacing pending folders: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteFolder removes a folder record
func (r *SQLRepository) DeleteFolder(ctx context.Context, accountID, folderID string) error {
	query, args, err := r.builder.
		Delete("folders").
		Where(sq.Eq{"account_id": accountID, "folder_id": folderID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete folder query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting folder: %w", err)
	}
	return nil
}
