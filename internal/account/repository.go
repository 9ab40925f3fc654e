package account

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
	// ErrAccountNotFound is returned when an account is not found
	ErrAccountNotFound = errors.New("account not found")
)

// Store defines persistence operations for accounts
type Store interface {
	CreateAccount(ctx context.Context, acct *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	UpdateAccount(ctx context.Context, acct *Account) error
	SetStatus(ctx context.Context, id, status string) error
	// FinishSync stores the outcome of a pass. It reports false and leaves
	// the row alone when the account is no longer syncing.
	FinishSync(ctx context.Context, id, status string, at int64) (bool, error)
	SetEndpoint(ctx context.Context, id, url string) error
	DeleteAccount(ctx context.Context, id string) error
}

// SQLRepository implements Store using SQLite
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new account SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) Store {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

var accountColumns = []string{
	"id", "name", "provider", "server_type", "host", "ews_url", "user_name", "email",
	"auth_method", "credential_ref", "https", "status", "last_sync_time", "autosync",
	"download_only", "sync_default_folders", "created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var serverType, authMethod string
	err := row.Scan(
		&a.ID, &a.Name, &a.Provider, &serverType, &a.Host, &a.EWSURL, &a.User, &a.Email,
		&authMethod, &a.CredentialRef, &a.HTTPS, &a.Status, &a.LastSyncTime, &a.Autosync,
		&a.DownloadOnly, &a.SyncDefaultFolders, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.ServerType = ServerType(serverType)
	a.AuthMethod = AuthMethod(authMethod)
	return &a, nil
}

// CreateAccount inserts a new account
func (r *SQLRepository) CreateAccount(ctx context.Context, acct *Account) error {
	now := time.Now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now

	query, args, err := r.builder.
		Insert("accounts").
		Columns(accountColumns...).
		Values(
			acct.ID, acct.Name, acct.Provider, string(acct.ServerType), acct.Host, acct.EWSURL,
			acct.User, acct.Email, string(acct.AuthMethod), acct.CredentialRef, acct.HTTPS,
			acct.Status, acct.LastSyncTime, acct.Autosync, acct.DownloadOnly,
			acct.SyncDefaultFolders, acct.CreatedAt, acct.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert account query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting account: %w", err)
	}

	r.logger.Debug("Created account", "account_id", acct.ID, "name", acct.Name)
	return nil
}

// GetAccount retrieves an account by ID
func (r *SQLRepository) GetAccount(ctx context.Context, id string) (*Account, error) {
	query, args, err := r.builder.
		Select(accountColumns...).
		From("accounts").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get account query: %w", err)
	}

	acct, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return acct, nil
}

// ListAccounts returns all accounts ordered by creation time
func (r *SQLRepository) ListAccounts(ctx context.Context) ([]*Account, error) {
	query, args, err := r.builder.
		Select(accountColumns...).
		From("accounts").
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list accounts query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account row: %w", err)
		}
		accounts = append(accounts, acct)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating account rows: %w", err)
	}
	return accounts, nil
}

// UpdateAccount writes every mutable field of the account
func (r *SQLRepository) UpdateAccount(ctx context.Context, acct *Account) error {
	acct.UpdatedAt = time.Now().UTC()

	query, args, err := r.builder.
		Update("accounts").
		Set("name", acct.Name).
		Set("server_type", string(acct.ServerType)).
		Set("host", acct.Host).
		Set("ews_url", acct.EWSURL).
		Set("user_name", acct.User).
		Set("email", acct.Email).
		Set("auth_method", string(acct.AuthMethod)).
		Set("credential_ref", acct.CredentialRef).
		Set("https", acct.HTTPS).
		Set("status", acct.Status).
		Set("last_sync_time", acct.LastSyncTime).
		Set("autosync", acct.Autosync).
		Set("download_only", acct.DownloadOnly).
		Set("sync_default_folders", acct.SyncDefaultFolders).
		Set("updated_at", acct.UpdatedAt).
		Where(sq.Eq{"id": acct.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update account query: %w", err)
	}

	return r.execOne(ctx, query, args...)
}

// SetStatus updates only the status column
func (r *SQLRepository) SetStatus(ctx context.Context, id, status string) error {
	query, args, err := r.builder.
		Update("accounts").
		Set("status", status).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building set status query: %w", err)
	}

	return r.execOne(ctx, query, args...)
}

// FinishSync sets status and last sync time of an account still in the
// syncing state
func (r *SQLRepository) FinishSync(ctx context.Context, id, status string, at int64) (bool, error) {
	query, args, err := r.builder.
		Update("accounts").
		Set("status", status).
		Set("last_sync_time", at).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id, "status": StatusSyncing}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building finish sync query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("executing account query: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetEndpoint stores a discovered EWS URL
func (r *SQLRepository) SetEndpoint(ctx context.Context, id, url string) error {
	query, args, err := r.builder.
		Update("accounts").
		Set("ews_url", url).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building set endpoint query: %w", err)
	}

	return r.execOne(ctx, query, args...)
}

// DeleteAccount removes an account; folders cascade
func (r *SQLRepository) DeleteAccount(ctx context.Context, id string) error {
	query, args, err := r.builder.
		Delete("accounts").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete account query: %w", err)
	}

	return r.execOne(ctx, query, args...)
}

func (r *SQLRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing account query: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
