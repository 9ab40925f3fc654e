package changelog

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

// Store defines persistence operations for the changelog
type Store interface {
	// Append records a local change, merging it into any existing entry for the item
	Append(ctx context.Context, targetID, itemID string, kind Kind, remoteID string) (*Entry, error)
	// HighWater returns the highest entry id of a target, 0 when it has none
	HighWater(ctx context.Context, targetID string) (int64, error)
	// Batch returns up to limit entries with afterID < id <= upToID in id order
	Batch(ctx context.Context, targetID string, afterID, upToID int64, limit int) ([]*Entry, error)
	Count(ctx context.Context, targetID string) (int, error)
	// Pending returns the entry of an item, or nil when it has none
	Pending(ctx context.Context, targetID, itemID string) (*Entry, error)
	// Discard drops the entry of an item without pushing it
	Discard(ctx context.Context, targetID, itemID string) error
	List(ctx context.Context, targetID string) ([]*Entry, error)
	// Acknowledge removes acknowledged entries in one transaction. Entries
	// changed since the acknowledged revision survive, keeping any new remote id.
	Acknowledge(ctx context.Context, acks []Ack) (int, error)
	DeleteTarget(ctx context.Context, targetID string) (int, error)
}

// SQLRepository implements Store using SQLite
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new changelog SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) Store {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

var entryColumns = []string{
	"id", "target_id", "item_id", "kind", "actor", "remote_id", "revision", "created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var kind, actor string
	if err := row.Scan(&e.ID, &e.TargetID, &e.ItemID, &kind, &actor, &e.RemoteID, &e.Revision, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Kind = Kind(kind)
	e.Actor = Actor(actor)
	return &e, nil
}

// Append records a user change
func (r *SQLRepository) Append(ctx context.Context, targetID, itemID string, kind Kind, remoteID string) (*Entry, error) {
	var stored *Entry
	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		e, err := r.appendTx(ctx, tx, targetID, itemID, kind, remoteID)
		stored = e
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *SQLRepository) appendTx(ctx context.Context, tx *sql.Tx, targetID, itemID string, kind Kind, remoteID string) (*Entry, error) {
	query, args, err := r.builder.
		Select(entryColumns...).
		From("changelog").
		Where(sq.Eq{"target_id": targetID, "item_id": itemID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building changelog lookup: %w", err)
	}

	now := time.Now().UTC()
	existing, err := scanEntry(tx.QueryRowContext(ctx, query, args...))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing = &Entry{
			TargetID:  targetID,
			ItemID:    itemID,
			Kind:      kind,
			Actor:     ActorUser,
			RemoteID:  remoteID,
			Revision:  1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		insert, insertArgs, err := r.builder.
			Insert("changelog").
			Columns("target_id", "item_id", "kind", "actor", "remote_id", "revision", "created_at", "updated_at").
			Values(targetID, itemID, string(kind), string(ActorUser), remoteID, 1, now, now).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("building changelog insert: %w", err)
		}
		result, err := tx.ExecContext(ctx, insert, insertArgs...)
		if err != nil {
			return nil, fmt.Errorf("inserting changelog entry: %w", err)
		}
		if existing.ID, err = result.LastInsertId(); err != nil {
			return nil, fmt.Errorf("getting changelog entry id: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("looking up changelog entry: %w", err)
	default:
		if remoteID != "" {
			existing.RemoteID = remoteID
		}
		existing.Kind = Merge(existing.Kind, existing.RemoteID, kind)
		existing.Revision++
		existing.UpdatedAt = now

		update, updateArgs, err := r.builder.
			Update("changelog").
			Set("kind", string(existing.Kind)).
			Set("remote_id", existing.RemoteID).
			Set("revision", existing.Revision).
			Set("updated_at", now).
			Where(sq.Eq{"id": existing.ID}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("building changelog update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, update, updateArgs...); err != nil {
			return nil, fmt.Errorf("merging changelog entry: %w", err)
		}
	}
	return existing, nil
}

// HighWater returns the highest entry id for a target
func (r *SQLRepository) HighWater(ctx context.Context, targetID string) (int64, error) {
	query, args, err := r.builder.
		Select("COALESCE(MAX(id), 0)").
		From("changelog").
		Where(sq.Eq{"target_id": targetID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building high water query: %w", err)
	}

	var id int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("getting changelog high water: %w", err)
	}
	return id, nil
}

func (r *SQLRepository) queryEntries(ctx context.Context, q sq.SelectBuilder) ([]*Entry, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building changelog query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying changelog: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning changelog row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating changelog rows: %w", err)
	}
	return entries, nil
}

// Batch returns the next slice of entries to push
func (r *SQLRepository) Batch(ctx context.Context, targetID string, afterID, upToID int64, limit int) ([]*Entry, error) {
	return r.queryEntries(ctx, r.builder.
		Select(entryColumns...).
		From("changelog").
		Where(sq.Eq{"target_id": targetID}).
		Where(sq.Gt{"id": afterID}).
		Where(sq.LtOrEq{"id": upToID}).
		OrderBy("id ASC").
		Limit(uint64(limit)))
}

// List returns all entries of a target in id order
func (r *SQLRepository) List(ctx context.Context, targetID string) ([]*Entry, error) {
	return r.queryEntries(ctx, r.builder.
		Select(entryColumns...).
		From("changelog").
		Where(sq.Eq{"target_id": targetID}).
		OrderBy("id ASC"))
}

// Count returns the number of pending entries of a target
func (r *SQLRepository) Count(ctx context.Context, targetID string) (int, error) {
	query, args, err := r.builder.
		Select("COUNT(*)").
		From("changelog").
		Where(sq.Eq{"target_id": targetID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building changelog count: %w", err)
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting changelog entries: %w", err)
	}
	return n, nil
}

// Pending returns the entry of one item
func (r *SQLRepository) Pending(ctx context.Context, targetID, itemID string) (*Entry, error) {
	query, args, err := r.builder.
		Select(entryColumns...).
		From("changelog").
		Where(sq.Eq{"target_id": targetID, "item_id": itemID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building pending entry query: %w", err)
	}

	e, err := scanEntry(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting pending entry: %w", err)
	}
	return e, nil
}

// Discard drops the entry of one item
func (r *SQLRepository) Discard(ctx context.Context, targetID, itemID string) error {
	query, args, err := r.builder.
		Delete("changelog").
		Where(sq.Eq{"target_id": targetID, "item_id": itemID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building discard query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("discarding changelog entry: %w", err)
	}
	return nil
}

// Acknowledge removes entries the server accepted
func (r *SQLRepository) Acknowledge(ctx context.Context, acks []Ack) (int, error) {
	if len(acks) == 0 {
		return 0, nil
	}

	removed := 0
	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		removed = 0
		for _, ack := range acks {
			ok, err := r.acknowledgeTx(ctx, tx, ack)
			if err != nil {
				return err
			}
			if ok {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// acknowledgeTx removes one acknowledged entry and reports whether it went
func (r *SQLRepository) acknowledgeTx(ctx context.Context, tx *sql.Tx, ack Ack) (bool, error) {
	query, args, err := r.builder.
		Delete("changelog").
		Where(sq.Eq{"id": ack.EntryID, "revision": ack.Revision}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building acknowledge delete: %w", err)
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("removing acknowledged entry %d: %w", ack.EntryID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if ack.RemoteID == "" {
		return false, nil
	}

	// The item changed again while its add was in flight. Keep the entry
	// but make it an update of the item the server now knows.
	update, updateArgs, err := r.builder.
		Update("changelog").
		Set("remote_id", ack.RemoteID).
		Set("kind", sq.Expr("CASE WHEN kind = ? THEN ? ELSE kind END", string(KindAdded), string(KindModified))).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": ack.EntryID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building remote id update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, update, updateArgs...); err != nil {
		return false, fmt.Errorf("recording remote id for entry %d: %w", ack.EntryID, err)
	}
	return false, nil
}

// DeleteTarget drops every entry of a target
func (r *SQLRepository) DeleteTarget(ctx context.Context, targetID string) (int, error) {
	query, args, err := r.builder.
		Delete("changelog").
		Where(sq.Eq{"target_id": targetID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building changelog delete: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting changelog entries: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return int(n), nil
}
