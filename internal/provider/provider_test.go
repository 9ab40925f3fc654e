package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/changelog"
	"github.com/tildaslashalef/ewsync/internal/config"
	"github.com/tildaslashalef/ewsync/internal/ews"
	"github.com/tildaslashalef/ewsync/internal/folder"
	"github.com/tildaslashalef/ewsync/internal/loggy"
	"github.com/tildaslashalef/ewsync/internal/sync"
	"github.com/tildaslashalef/ewsync/internal/target"
	"github.com/tildaslashalef/ewsync/internal/testutil"
)

type fakeDirectory struct {
	mailboxes []ews.Mailbox
	err       error
	queries   []string
	forgotten []string
}

func (d *fakeDirectory) ResolveNames(ctx context.Context, acct *account.Account, query string) ([]ews.Mailbox, error) {
	d.queries = append(d.queries, query)
	return d.mailboxes, d.err
}

func (d *fakeDirectory) Forget(accountID string) {
	d.forgotten = append(d.forgotten, accountID)
}

type fixedTimeout time.Duration

func (f fixedTimeout) ConnectionTimeout(ctx context.Context) time.Duration {
	return time.Duration(f)
}

type staticLister []folder.RemoteFolder

func (l staticLister) ListFolders(ctx context.Context, acct *account.Account) ([]folder.RemoteFolder, error) {
	return l, nil
}

type fixture struct {
	provider  *Provider
	directory *fakeDirectory
	folders   folder.Store
	targets   *target.Manager
	changes   changelog.Store
	logs      *sync.SQLRepository
	acct      *account.Account
}

func newFixture(t *testing.T) *fixture {
	conn := testutil.NewTestDB(t)
	logger := loggy.NewNoopLogger()

	folders := folder.NewSQLRepository(conn, logger)
	changes := changelog.NewSQLRepository(conn, logger)
	targets := target.NewManager(target.NewSQLRepository(conn, logger), folders, changes, config.TargetsConfig{
		CalendarEnabled: true,
		StaleSuffix:     "(stale)",
		PendingSuffix:   "(unsynced changes)",
	}, logger)
	registry := folder.NewRegistry(folders, staticLister{
		{ID: "contacts", Name: "Contacts", Type: folder.TypeAddressBook},
		{ID: "calendar", Name: "Calendar", Type: folder.TypeCalendar},
		{ID: "inbox", Name: "Inbox", Type: folder.TypeMail},
	}, logger)
	logs := sync.NewSQLRepository(conn, logger)
	directory := &fakeDirectory{}

	p := New(Deps{
		Accounts:  account.NewService(conn, nil, logger),
		Registry:  registry,
		Targets:   targets,
		Logs:      logs,
		Directory: directory,
		Timeouts:  fixedTimeout(5 * time.Second),
	}, config.SyncConfig{AutocompleteMinChars: 3}, logger)

	return &fixture{
		provider:  p,
		directory: directory,
		folders:   folders,
		targets:   targets,
		changes:   changes,
		logs:      logs,
		acct:      testutil.CreateAccount(t, conn),
	}
}

func TestDefaultEntries(t *testing.T) {
	fx := newFixture(t)

	acct := fx.provider.DefaultAccountEntries()
	assert.True(t, acct.HTTPS)
	assert.Equal(t, 0, acct.Autosync)
	assert.False(t, acct.DownloadOnly)
	assert.True(t, acct.SyncDefaultFolders)
	assert.Equal(t, account.ServerTypeCustom, acct.ServerType)
	assert.Equal(t, account.StatusDisabled, acct.Status)

	acct.DownloadOnly = true
	f := fx.provider.DefaultFolderEntries(acct)
	assert.True(t, f.UseChangelog)
	assert.True(t, f.DownloadOnly)
	assert.False(t, f.Cached)
	assert.Equal(t, folder.RootParentID, f.ParentID)
}

func TestAbAutoComplete(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.directory.mailboxes = []ews.Mailbox{
		{DisplayName: "Jane Doe", FirstName: "Jane", LastName: "Doe", Email: "jane@example.com"},
		{FirstName: "John", LastName: "Roe", Email: "john@example.com"},
		{Email: "room@example.com"},
		{DisplayName: "No Mail"},
	}

	got, err := fx.provider.AbAutoComplete(ctx, fx.acct.ID, "  jo ")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, fx.directory.queries, "short queries never reach the server")

	got, err = fx.provider.AbAutoComplete(ctx, fx.acct.ID, "doe")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Jane Doe <jane@example.com>", got[0].Value)
	assert.Equal(t, "Jane", got[0].FirstName)
	assert.Equal(t, "jane@example.com", got[0].PrimaryEmail)
	assert.Equal(t, "John Roe <john@example.com>", got[1].Value)
	assert.Equal(t, "room@example.com", got[2].Value)
	assert.Equal(t, []string{"doe"}, fx.directory.queries)
}

func TestAbAutoCompleteError(t *testing.T) {
	fx := newFixture(t)
	fx.directory.err = errors.New("boom")

	_, err := fx.provider.AbAutoComplete(context.Background(), fx.acct.ID, "jane")
	assert.ErrorContains(t, err, "boom")
}

func TestAbAutoCompleteDisabledAccount(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.provider.DisableAccount(ctx, fx.acct.ID)
	require.NoError(t, err)

	got, err := fx.provider.AbAutoComplete(ctx, fx.acct.ID, "jane")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, fx.directory.queries)
}

func TestDisableAccountRetiresFolders(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.provider.SyncFolderList(ctx, fx.acct.ID)
	require.NoError(t, err)

	contacts, err := fx.folders.GetFolder(ctx, fx.acct.ID, "contacts")
	require.NoError(t, err)
	tgt, _, err := fx.targets.EnsureTarget(ctx, contacts)
	require.NoError(t, err)
	_, err = fx.targets.CreateItem(ctx, tgt.ID, &target.Contact{DisplayName: "Jane"})
	require.NoError(t, err)

	acct, err := fx.provider.DisableAccount(ctx, fx.acct.ID)
	require.NoError(t, err)
	assert.Equal(t, account.StatusDisabled, acct.Status)
	assert.Equal(t, []string{fx.acct.ID}, fx.directory.forgotten)

	folders, err := fx.provider.SortedFolders(ctx, fx.acct.ID)
	require.NoError(t, err)
	require.Len(t, folders, 3)
	for _, f := range folders {
		assert.True(t, f.Cached, f.FolderID)
	}

	orphan, err := fx.targets.Store().GetTarget(ctx, tgt.ID)
	require.NoError(t, err)
	assert.True(t, orphan.Orphaned)
	assert.Contains(t, orphan.Name, "(unsynced changes)")

	_, err = fx.provider.SyncFolderList(ctx, fx.acct.ID)
	var pf *sync.ProtocolFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, sync.ReasonDisabled, pf.Reason)
}

func TestEnableAccountAfterDisable(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.provider.SyncFolderList(ctx, fx.acct.ID)
	require.NoError(t, err)
	_, err = fx.provider.DisableAccount(ctx, fx.acct.ID)
	require.NoError(t, err)

	acct, err := fx.provider.EnableAccount(ctx, fx.acct.ID)
	require.NoError(t, err)
	assert.Equal(t, account.StatusNotSynchronized, acct.Status)
	assert.Zero(t, acct.LastSyncTime)

	res, err := fx.provider.SyncFolderList(ctx, fx.acct.ID)
	require.NoError(t, err)
	assert.Len(t, res.Restored, 3)

	contacts, err := fx.folders.GetFolder(ctx, fx.acct.ID, "contacts")
	require.NoError(t, err)
	assert.True(t, contacts.Selected, "selection survives a disable")
	assert.False(t, contacts.Cached)
}

func TestSelectFolder(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.provider.SyncFolderList(ctx, fx.acct.ID)
	require.NoError(t, err)

	calendar, err := fx.folders.GetFolder(ctx, fx.acct.ID, "calendar")
	require.NoError(t, err)
	tgt, _, err := fx.targets.EnsureTarget(ctx, calendar)
	require.NoError(t, err)

	f, err := fx.provider.SelectFolder(ctx, fx.acct.ID, "calendar", false)
	require.NoError(t, err)
	assert.False(t, f.Selected)
	assert.Equal(t, tgt.ID, f.Target, "binding is kept for reselection")

	orphan, err := fx.targets.Store().GetTarget(ctx, tgt.ID)
	require.NoError(t, err)
	assert.True(t, orphan.Orphaned)

	f, err = fx.provider.SelectFolder(ctx, fx.acct.ID, "inbox", true)
	require.NoError(t, err)
	assert.True(t, f.Selected)

	_, err = fx.provider.SelectFolder(ctx, fx.acct.ID, "missing", true)
	assert.ErrorIs(t, err, folder.ErrFolderNotFound)
}

func TestResetTarget(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.provider.SyncFolderList(ctx, fx.acct.ID)
	require.NoError(t, err)
	contacts, err := fx.folders.GetFolder(ctx, fx.acct.ID, "contacts")
	require.NoError(t, err)
	tgt, _, err := fx.targets.EnsureTarget(ctx, contacts)
	require.NoError(t, err)
	_, err = fx.targets.CreateItem(ctx, tgt.ID, &target.Contact{DisplayName: "Jane"})
	require.NoError(t, err)
	require.NoError(t, fx.folders.SetCursor(ctx, fx.acct.ID, "contacts", "state-1"))

	require.NoError(t, fx.provider.ResetTarget(ctx, fx.acct.ID, "contacts"))

	contacts, err = fx.folders.GetFolder(ctx, fx.acct.ID, "contacts")
	require.NoError(t, err)
	assert.Empty(t, contacts.Target)
	assert.Empty(t, contacts.Cursor)

	n, err := fx.changes.Count(ctx, tgt.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRemoveAccount(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	l := sync.NewSyncLog("run_1", sync.ScopeAccount, fx.acct.ID, "")
	l.MarkSuccessful(1, 0)
	require.NoError(t, fx.logs.CreateSyncLog(ctx, l))

	require.NoError(t, fx.provider.RemoveAccount(ctx, fx.acct.ID))

	_, err := fx.provider.Account(ctx, fx.acct.ID)
	assert.ErrorIs(t, err, account.ErrAccountNotFound)

	latest, err := fx.provider.LatestSyncLog(ctx, fx.acct.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestConnectionTimeout(t *testing.T) {
	fx := newFixture(t)
	assert.Equal(t, 5*time.Second, fx.provider.ConnectionTimeout(context.Background()))

	bare := New(Deps{}, config.SyncConfig{}, loggy.NewNoopLogger())
	assert.Equal(t, defaultTimeout, bare.ConnectionTimeout(context.Background()))
}
