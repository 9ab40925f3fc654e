package target

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/ewsync/internal/loggy"
)

var (
	// ErrTargetNotFound is returned when a target is not found
	ErrTargetNotFound = errors.New("target not found")
	// ErrItemNotFound is returned when an item is not found
	ErrItemNotFound = errors.New("item not found")
)

// Store defines persistence operations for targets and their items
type Store interface {
	CreateTarget(ctx context.Context, t *Target) error
	GetTarget(ctx context.Context, id string) (*Target, error)
	ListTargets(ctx context.Context, accountID string) ([]*Target, error)
	UpdateTarget(ctx context.Context, t *Target) error
	DeleteTarget(ctx context.Context, id string) error

	PutItem(ctx context.Context, item *Item) error
	GetItem(ctx context.Context, targetID, id string) (*Item, error)
	GetItemByRemoteID(ctx context.Context, targetID, remoteID string) (*Item, error)
	ListItems(ctx context.Context, targetID string) ([]*Item, error)
	DeleteItem(ctx context.Context, targetID, id string) error
}

// SQLRepository implements Store using SQLite
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new target SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) Store {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

var targetColumns = []string{
	"id", "kind", "name", "color", "account_id", "folder_id", "orphaned", "created_at", "updated_at",
}

var itemColumns = []string{
	"target_id", "id", "remote_id", "change_key", "summary", "payload", "created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTarget(row rowScanner) (*Target, error) {
	var t Target
	var kind string
	if err := row.Scan(&t.ID, &kind, &t.Name, &t.Color, &t.AccountID, &t.FolderID, &t.Orphaned, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Kind = Kind(kind)
	return &t, nil
}

func scanItem(row rowScanner) (*Item, error) {
	var i Item
	if err := row.Scan(&i.TargetID, &i.ID, &i.RemoteID, &i.ChangeKey, &i.Summary, &i.Payload, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

// CreateTarget inserts a target
func (r *SQLRepository) CreateTarget(ctx context.Context, t *Target) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	query, args, err := r.builder.
		Insert("targets").
		Columns(targetColumns...).
		Values(t.ID, string(t.Kind), t.Name, t.Color, t.AccountID, t.FolderID, t.Orphaned, t.CreatedAt, t.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building create target query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("creating target: %w", err)
	}
	return nil
}

// GetTarget retrieves a target by id
func (r *SQLRepository) GetTarget(ctx context.Context, id string) (*Target, error) {
	query, args, err := r.builder.
		Select(targetColumns...).
		From("targets").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get target query: %w", err)
	}

	t, err := scanTarget(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTargetNotFound
		}
		return nil, fmt.Errorf("getting target: %w", err)
	}
	return t, nil
}

// ListTargets returns the targets of an account, orphaned ones included
func (r *SQLRepository) ListTargets(ctx context.Context, accountID string) ([]*Target, error) {
	query, args, err := r.builder.
		Select(targetColumns...).
		From("targets").
		Where(sq.Eq{"account_id": accountID}).
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list targets query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing targets: %w", err)
	}
	defer rows.Close()

	var targets []*Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning target row: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating target rows: %w", err)
	}
	return targets, nil
}

// UpdateTarget saves name, color, binding and orphan state
func (r *SQLRepository) UpdateTarget(ctx context.Context, t *Target) error {
	t.UpdatedAt = time.Now().UTC()

	query, args, err := r.builder.
		Update("targets").
		Set("name", t.Name).
		Set("color", t.Color).
		Set("account_id", t.AccountID).
		Set("folder_id", t.FolderID).
		Set("orphaned", t.Orphaned).
		Set("updated_at", t.UpdatedAt).
		Where(sq.Eq{"id": t.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update target query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating target: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTargetNotFound
	}
	return nil
}

// DeleteTarget removes a target and, by cascade, its items
func (r *SQLRepository) DeleteTarget(ctx context.Context, id string) error {
	query, args, err := r.builder.
		Delete("targets").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete target query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting target: %w", err)
	}
	return nil
}

// PutItem inserts or replaces an item
func (r *SQLRepository) PutItem(ctx context.Context, item *Item) error {
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	query, args, err := r.builder.
		Insert("items").
		Columns(itemColumns...).
		Values(item.TargetID, item.ID, item.RemoteID, item.ChangeKey, item.Summary, item.Payload, item.CreatedAt, item.UpdatedAt).
		Suffix(`ON CONFLICT(target_id, id) DO UPDATE SET
			remote_id = excluded.remote_id, change_key = excluded.change_key,
			summary = excluded.summary, payload = excluded.payload,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building put item query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving item: %w", err)
	}
	return nil
}

func (r *SQLRepository) getItem(ctx context.Context, where sq.Eq) (*Item, error) {
	query, args, err := r.builder.
		Select(itemColumns...).
		From("items").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get item query: %w", err)
	}

	item, err := scanItem(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// GetItem retrieves an item by its local id
func (r *SQLRepository) GetItem(ctx context.Context, targetID, id string) (*Item, error) {
	return r.getItem(ctx, sq.Eq{"target_id": targetID, "id": id})
}

// GetItemByRemoteID retrieves an item by its server id
func (r *SQLRepository) GetItemByRemoteID(ctx context.Context, targetID, remoteID string) (*Item, error) {
	return r.getItem(ctx, sq.Eq{"target_id": targetID, "remote_id": remoteID})
}

// ListItems returns the items of a target
func (r *SQLRepository) ListItems(ctx context.Context, targetID string) ([]*Item, error) {
	query, args, err := r.builder.
		Select(itemColumns...).
		From("items").
		Where(sq.Eq{"target_id": targetID}).
		OrderBy("summary ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list items query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating item rows: %w", err)
	}
	return items, nil
}

// DeleteItem removes an item
func (r *SQLRepository) DeleteItem(ctx context.Context, targetID, id string) error {
	query, args, err := r.builder.
		Delete("items").
		Where(sq.Eq{"target_id": targetID, "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete item query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrItemNotFound
	}
	return nil
}
