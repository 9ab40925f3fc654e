package account

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tildaslashalef/ewsync/internal/loggy"
)

// SecretStore keeps account secrets outside the database
type SecretStore interface {
	Set(key, secret string) error
	Delete(key string) error
}

// Service provides account lifecycle operations
type Service struct {
	store   Store
	secrets SecretStore
	logger  *loggy.Logger
}

// NewService creates a new account service
func NewService(db *sql.DB, secrets SecretStore, logger *loggy.Logger) *Service {
	return NewServiceWithStore(NewSQLRepository(db, logger), secrets, logger)
}

// NewServiceWithStore creates a service with a custom store implementation
func NewServiceWithStore(store Store, secrets SecretStore, logger *loggy.Logger) *Service {
	return &Service{
		store:   store,
		secrets: secrets,
		logger:  logger,
	}
}

// Store returns the underlying store
func (s *Service) Store() Store {
	return s.store
}

// Add creates a new, disabled account and stores its secret
func (s *Service) Add(ctx context.Context, p NewParams, secret string) (*Account, error) {
	acct, err := New(p)
	if err != nil {
		return nil, err
	}

	if secret != "" && s.secrets != nil {
		if err := s.secrets.Set(acct.CredentialRef, secret); err != nil {
			return nil, fmt.Errorf("storing credentials: %w", err)
		}
	}

	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}

	s.logger.Info("Account added", "account_id", acct.ID, "name", acct.Name, "server_type", acct.ServerType)
	return acct, nil
}

// Get returns an account by ID
func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.store.GetAccount(ctx, id)
}

// List returns all accounts
func (s *Service) List(ctx context.Context) ([]*Account, error) {
	return s.store.ListAccounts(ctx)
}

// Enable marks the account as not yet synchronized so the next pass does a full sync
func (s *Service) Enable(ctx context.Context, id string) (*Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	acct.Status = StatusNotSynchronized
	acct.LastSyncTime = 0
	if err := s.store.UpdateAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("enabling account: %w", err)
	}

	s.logger.Info("Account enabled", "account_id", id)
	return acct, nil
}

// Disable sets the account status to disabled. Folder retirement is handled by the caller.
func (s *Service) Disable(ctx context.Context, id string) (*Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	// status only, so a running pass cannot write the account back over it
	acct.Status = StatusDisabled
	if err := s.store.SetStatus(ctx, id, StatusDisabled); err != nil {
		return nil, fmt.Errorf("disabling account: %w", err)
	}

	s.logger.Info("Account disabled", "account_id", id)
	return acct, nil
}

// SetSecret replaces the stored secret of an account
func (s *Service) SetSecret(ctx context.Context, id, secret string) error {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if s.secrets == nil {
		return fmt.Errorf("no secret store configured")
	}
	return s.secrets.Set(CredentialRef(acct), secret)
}

// Update persists edited account settings
func (s *Service) Update(ctx context.Context, acct *Account) error {
	if acct.Autosync < 0 {
		return fmt.Errorf("autosync cannot be negative")
	}
	return s.store.UpdateAccount(ctx, acct)
}

// Remove deletes the account and its stored secret. Folder rows cascade.
func (s *Service) Remove(ctx context.Context, id string) error {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return fmt.Errorf("removing account: %w", err)
	}

	if s.secrets != nil {
		if err := s.secrets.Delete(CredentialRef(acct)); err != nil {
			s.logger.Warn("Failed to delete stored credentials", "account_id", id, "error", err)
		}
	}

	s.logger.Info("Account removed", "account_id", id)
	return nil
}
