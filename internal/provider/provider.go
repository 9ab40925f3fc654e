// Package provider is the host-facing surface of the EWS provider: account
// lifecycle, folder selection, directory search and sync entry points over
// the underlying services.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/config"
	"github.com/tildaslashalef/ewsync/internal/ews"
	"github.com/tildaslashalef/ewsync/internal/folder"
	"github.com/tildaslashalef/ewsync/internal/loggy"
	"github.com/tildaslashalef/ewsync/internal/sync"
	"github.com/tildaslashalef/ewsync/internal/target"
)

const defaultTimeout = 50 * time.Second

// Directory looks up people on the server
type Directory interface {
	ResolveNames(ctx context.Context, acct *account.Account, query string) ([]ews.Mailbox, error)
	// Forget drops cached authentication state of an account
	Forget(accountID string)
}

// Suggestion is one autocomplete entry
type Suggestion struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	DisplayName  string `json:"display_name"`
	PrimaryEmail string `json:"primary_email"`
	// Value is what gets inserted into an address field
	Value string `json:"value"`
}

// Provider exposes the operations a host application calls
type Provider struct {
	accounts  *account.Service
	registry  *folder.Registry
	targets   *target.Manager
	engine    *sync.Engine
	logs      sync.Repository
	directory Directory
	timeouts  sync.TimeoutSource
	cfg       config.SyncConfig
	logger    *loggy.Logger
}

// Deps groups the services a Provider works on
type Deps struct {
	Accounts  *account.Service
	Registry  *folder.Registry
	Targets   *target.Manager
	Engine    *sync.Engine
	Logs      sync.Repository
	Directory Directory
	Timeouts  sync.TimeoutSource
}

// New creates a provider
func New(deps Deps, cfg config.SyncConfig, logger *loggy.Logger) *Provider {
	return &Provider{
		accounts:  deps.Accounts,
		registry:  deps.Registry,
		targets:   deps.Targets,
		engine:    deps.Engine,
		logs:      deps.Logs,
		directory: deps.Directory,
		timeouts:  deps.Timeouts,
		cfg:       cfg,
		logger:    logger,
	}
}

// DefaultAccountEntries returns a new account record with every default set
func (p *Provider) DefaultAccountEntries() *account.Account {
	return account.Default()
}

// DefaultFolderEntries returns a folder record with the defaults of acct
func (p *Provider) DefaultFolderEntries(acct *account.Account) *folder.Folder {
	return folder.New(acct, folder.RemoteFolder{}, 0)
}

// AddAccount creates a disabled account and stores its secret
func (p *Provider) AddAccount(ctx context.Context, params account.NewParams, secret string) (*account.Account, error) {
	return p.accounts.Add(ctx, params, secret)
}

// Account returns one account
func (p *Provider) Account(ctx context.Context, id string) (*account.Account, error) {
	return p.accounts.Get(ctx, id)
}

// Accounts lists all accounts
func (p *Provider) Accounts(ctx context.Context) ([]*account.Account, error) {
	return p.accounts.List(ctx)
}

// EnableAccount prepares an account for a full first sync
func (p *Provider) EnableAccount(ctx context.Context, id string) (*account.Account, error) {
	return p.accounts.Enable(ctx, id)
}

// DisableAccount stops syncing an account and retires its folders. Folder
// settings survive; targets are orphaned with the stale suffix.
func (p *Provider) DisableAccount(ctx context.Context, id string) (*account.Account, error) {
	acct, err := p.accounts.Disable(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := p.retireFolders(ctx, id); err != nil {
		return acct, err
	}
	if p.directory != nil {
		p.directory.Forget(id)
	}
	return acct, nil
}

func (p *Provider) retireFolders(ctx context.Context, accountID string) error {
	store := p.registry.Store()
	folders, err := store.ListFolders(ctx, accountID)
	if err != nil {
		return fmt.Errorf("listing folders to retire: %w", err)
	}

	for _, f := range folders {
		if err := p.targets.Detach(ctx, f); err != nil {
			return err
		}
		f.Cached = true
		f.Status = ""
		if err := store.SaveFolder(ctx, f); err != nil {
			return fmt.Errorf("retiring folder %s: %w", f.FolderID, err)
		}
	}

	p.logger.Debug("Retired folders", "account_id", accountID, "count", len(folders))
	return nil
}

// RemoveAccount disables and then deletes an account with its folders, logs
// and stored secret. Local targets are kept as orphans.
func (p *Provider) RemoveAccount(ctx context.Context, id string) error {
	acct, err := p.accounts.Get(ctx, id)
	if err != nil {
		return err
	}
	if acct.Enabled() {
		if _, err := p.DisableAccount(ctx, id); err != nil {
			return err
		}
	} else if err := p.retireFolders(ctx, id); err != nil {
		return err
	}

	if err := p.accounts.Remove(ctx, id); err != nil {
		return err
	}
	if _, err := p.logs.DeleteSyncLogs(ctx, id); err != nil {
		p.logger.Warn("Failed to delete sync logs", "account_id", id, "error", err)
	}
	return nil
}

// SetPassword replaces the stored secret of an account
func (p *Provider) SetPassword(ctx context.Context, id, secret string) error {
	if err := p.accounts.SetSecret(ctx, id, secret); err != nil {
		return err
	}
	if p.directory != nil {
		p.directory.Forget(id)
	}
	return nil
}

// ResetTarget drops the local data of a folder so the next pass starts over
func (p *Provider) ResetTarget(ctx context.Context, accountID, folderID string) error {
	f, err := p.registry.Store().GetFolder(ctx, accountID, folderID)
	if err != nil {
		return err
	}
	if err := p.targets.ResetTarget(ctx, f); err != nil {
		return err
	}

	p.logger.Info("Target reset", "account_id", accountID, "folder_id", folderID)
	return nil
}

// SelectFolder sets whether a folder takes part in syncing. Deselected
// folders keep their target as an orphan until selected again.
func (p *Provider) SelectFolder(ctx context.Context, accountID, folderID string, selected bool) (*folder.Folder, error) {
	store := p.registry.Store()
	f, err := store.GetFolder(ctx, accountID, folderID)
	if err != nil {
		return nil, err
	}
	if f.Selected == selected {
		return f, nil
	}

	if !selected {
		if err := p.targets.Detach(ctx, f); err != nil {
			return nil, err
		}
	}
	f.Selected = selected
	if err := store.SaveFolder(ctx, f); err != nil {
		return nil, fmt.Errorf("saving folder selection: %w", err)
	}
	return f, nil
}

// SortedFolders lists the folders of an account in display order
func (p *Provider) SortedFolders(ctx context.Context, accountID string) ([]*folder.Folder, error) {
	return p.registry.Sorted(ctx, accountID)
}

// SyncFolderList reconciles the folder list without syncing any folder
func (p *Provider) SyncFolderList(ctx context.Context, accountID string) (*folder.Result, error) {
	acct, err := p.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acct.Enabled() {
		return nil, sync.Failed(sync.ReasonDisabled)
	}
	return p.registry.Reconcile(ctx, acct)
}

// SyncAccount runs one sync pass
func (p *Provider) SyncAccount(ctx context.Context, accountID string) (*sync.Result, error) {
	return p.engine.SyncAccount(ctx, accountID)
}

// SyncAccounts runs passes for several accounts concurrently
func (p *Provider) SyncAccounts(ctx context.Context, ids []string) ([]*sync.Result, map[string]error) {
	return p.engine.SyncAccounts(ctx, ids)
}

// Tracker exposes live progress of running passes
func (p *Provider) Tracker() *sync.Tracker {
	return p.engine.Tracker()
}

// ConnectionTimeout is the per-request timeout shown as a countdown
func (p *Provider) ConnectionTimeout(ctx context.Context) time.Duration {
	if p.timeouts == nil {
		return defaultTimeout
	}
	return p.timeouts.ConnectionTimeout(ctx)
}

// SyncLogs returns the most recent sync logs of an account
func (p *Provider) SyncLogs(ctx context.Context, accountID string, limit, offset int) ([]*sync.SyncLog, error) {
	return p.logs.GetSyncLogs(ctx, accountID, limit, offset)
}

// LatestSyncLog returns the last account-level log, nil when never synced
func (p *Provider) LatestSyncLog(ctx context.Context, accountID string) (*sync.SyncLog, error) {
	return p.logs.GetLatestSyncLog(ctx, accountID, "")
}

// AbAutoComplete searches the server directory for address completion.
// Short queries and disabled accounts yield no suggestions.
func (p *Provider) AbAutoComplete(ctx context.Context, accountID, query string) ([]Suggestion, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < p.minChars() {
		return nil, nil
	}

	acct, err := p.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acct.Enabled() || p.directory == nil {
		return nil, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.ConnectionTimeout(ctx))
	defer cancel()

	found, err := p.directory.ResolveNames(reqCtx, acct, query)
	if err != nil {
		return nil, fmt.Errorf("searching directory: %w", err)
	}

	suggestions := make([]Suggestion, 0, len(found))
	for _, m := range found {
		if m.Email == "" {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			FirstName:    m.FirstName,
			LastName:     m.LastName,
			DisplayName:  m.DisplayName,
			PrimaryEmail: m.Email,
			Value:        autocompleteValue(m),
		})
	}
	return suggestions, nil
}

func (p *Provider) minChars() int {
	if p.cfg.AutocompleteMinChars > 0 {
		return p.cfg.AutocompleteMinChars
	}
	return 3
}

func autocompleteValue(m ews.Mailbox) string {
	name := strings.TrimSpace(m.DisplayName)
	if name == "" {
		name = strings.TrimSpace(m.FirstName + " " + m.LastName)
	}
	if name == "" {
		return m.Email
	}
	return name + " <" + m.Email + ">"
}
