package target

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/changelog"
	"github.com/tildaslashalef/ewsync/internal/config"
	"github.com/tildaslashalef/ewsync/internal/folder"
	"github.com/tildaslashalef/ewsync/internal/loggy"
	"github.com/tildaslashalef/ewsync/internal/testutil"
)

type fixture struct {
	manager *Manager
	folders folder.Store
	changes changelog.Store
	acct    *account.Account
}

func newFixture(t *testing.T) *fixture {
	conn := testutil.NewTestDB(t)
	logger := loggy.NewNoopLogger()
	folders := folder.NewSQLRepository(conn, logger)
	changes := changelog.NewSQLRepository(conn, logger)
	cfg := config.TargetsConfig{CalendarEnabled: true, StaleSuffix: "(stale)", PendingSuffix: "(unsynced changes)"}

	return &fixture{
		manager: NewManager(NewSQLRepository(conn, logger), folders, changes, cfg, logger),
		folders: folders,
		changes: changes,
		acct:    testutil.CreateAccount(t, conn),
	}
}

func (fx *fixture) folder(t *testing.T, id string, typ folder.Type) *folder.Folder {
	f := folder.New(fx.acct, folder.RemoteFolder{ID: id, Name: "Folder " + id, Type: typ}, 0)
	require.NoError(t, fx.folders.SaveFolder(context.Background(), f))
	return f
}

func TestAdapterFor(t *testing.T) {
	fx := newFixture(t)

	a, err := fx.manager.AdapterFor(folder.TypeAddressBook)
	require.NoError(t, err)
	assert.Equal(t, KindAddressBook, a.Kind())
	assert.True(t, a.LogUserChanges())
	assert.Equal(t, "UID", a.PrimaryKeyField())

	c, err := fx.manager.AdapterFor(folder.TypeTask)
	require.NoError(t, err)
	assert.Equal(t, KindTodoCalendar, c.Kind())
	assert.False(t, c.LogUserChanges())

	_, err = fx.manager.AdapterFor(folder.TypeMail)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	fx.manager.cfg.CalendarEnabled = false
	_, err = fx.manager.AdapterFor(folder.TypeCalendar)
	assert.ErrorIs(t, err, ErrKindDisabled)
}

func TestEnsureTargetCreatesOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.folder(t, "1", folder.TypeAddressBook)

	tgt, adapter, err := fx.manager.EnsureTarget(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, KindAddressBook, adapter.Kind())
	assert.Equal(t, "Folder 1", tgt.Name)
	assert.Equal(t, f.FolderID, tgt.FolderID)

	saved, err := fx.folders.GetFolder(ctx, fx.acct.ID, "1")
	require.NoError(t, err)
	assert.Equal(t, tgt.ID, saved.Target)

	again, _, err := fx.manager.EnsureTarget(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, tgt.ID, again.ID)
}

func TestUserEditsAreLoggedForAddressBooks(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	book, _, err := fx.manager.EnsureTarget(ctx, fx.folder(t, "ab", folder.TypeAddressBook))
	require.NoError(t, err)
	cal, _, err := fx.manager.EnsureTarget(ctx, fx.folder(t, "cal", folder.TypeCalendar))
	require.NoError(t, err)

	contact, err := fx.manager.CreateItem(ctx, book.ID, &Contact{DisplayName: "Ada"})
	require.NoError(t, err)
	assert.NotEmpty(t, contact.ID)

	_, err = fx.manager.CreateItem(ctx, cal.ID, &Event{Title: "Standup"})
	require.NoError(t, err)

	bookEntries, err := fx.changes.List(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, bookEntries, 1)
	assert.Equal(t, changelog.KindAdded, bookEntries[0].Kind)
	assert.Equal(t, contact.ID, bookEntries[0].ItemID)

	calCount, err := fx.changes.Count(ctx, cal.ID)
	require.NoError(t, err)
	assert.Zero(t, calCount)
}

func TestLocalEditAppendsExactlyOneEntry(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	book, _, err := fx.manager.EnsureTarget(ctx, fx.folder(t, "ab", folder.TypeAddressBook))
	require.NoError(t, err)
	cal, _, err := fx.manager.EnsureTarget(ctx, fx.folder(t, "cal", folder.TypeCalendar))
	require.NoError(t, err)

	// items arriving from the server are never logged
	require.NoError(t, fx.manager.ApplyRemote(ctx, book, fx.manager.addressBook, RemoteChange{
		Op: OpCreate, RemoteID: "r1", Payload: &Contact{ID: "c1", DisplayName: "Ada"},
	}))
	require.NoError(t, fx.manager.ApplyRemote(ctx, cal, fx.manager.events, RemoteChange{
		Op: OpCreate, RemoteID: "r2", Payload: &Event{ID: "e1", Title: "Standup"},
	}))

	_, err = fx.manager.UpdateItem(ctx, book.ID, "c1", &Contact{DisplayName: "Ada L."})
	require.NoError(t, err)
	_, err = fx.manager.UpdateItem(ctx, cal.ID, "e1", &Event{Title: "Standup moved"})
	require.NoError(t, err)

	entries, err := fx.changes.List(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, changelog.KindModified, entries[0].Kind)
	assert.Equal(t, "r1", entries[0].RemoteID)

	n, err := fx.changes.Count(ctx, cal.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApplyRemote(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	book, adapter, err := fx.manager.EnsureTarget(ctx, fx.folder(t, "ab", folder.TypeAddressBook))
	require.NoError(t, err)

	create := RemoteChange{Op: OpCreate, RemoteID: "r1", ChangeKey: "k1", Payload: &Contact{DisplayName: "Ada"}}
	require.NoError(t, fx.manager.ApplyRemote(ctx, book, adapter, create))
	require.NoError(t, fx.manager.ApplyRemote(ctx, book, adapter, create))

	items, err := fx.manager.Store().ListItems(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "k1", items[0].ChangeKey)
	itemID := items[0].ID

	// a local edit is pending, so the server update is skipped
	_, err = fx.manager.UpdateItem(ctx, book.ID, itemID, &Contact{DisplayName: "Local"})
	require.NoError(t, err)
	require.NoError(t, fx.manager.ApplyRemote(ctx, book, adapter, RemoteChange{
		Op: OpUpdate, RemoteID: "r1", ChangeKey: "k2", Payload: &Contact{DisplayName: "Remote"},
	}))

	item, _, err := fx.manager.Item(ctx, book.ID, itemID)
	require.NoError(t, err)
	assert.Equal(t, "Local", item.Summary)

	// a server delete wins and drops the pending change
	require.NoError(t, fx.manager.ApplyRemote(ctx, book, adapter, RemoteChange{Op: OpDelete, RemoteID: "r1"}))
	_, err = fx.manager.Store().GetItem(ctx, book.ID, itemID)
	assert.ErrorIs(t, err, ErrItemNotFound)

	n, err := fx.changes.Count(ctx, book.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	// deleting an unknown item is a no-op
	assert.NoError(t, fx.manager.ApplyRemote(ctx, book, adapter, RemoteChange{Op: OpDelete, RemoteID: "gone"}))
}

func TestDetachAndReattach(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.folder(t, "ab", folder.TypeAddressBook)

	book, _, err := fx.manager.EnsureTarget(ctx, f)
	require.NoError(t, err)
	_, err = fx.manager.CreateItem(ctx, book.ID, &Contact{DisplayName: "Unsynced"})
	require.NoError(t, err)

	require.NoError(t, fx.manager.Detach(ctx, f))

	orphan, err := fx.manager.Store().GetTarget(ctx, book.ID)
	require.NoError(t, err)
	assert.True(t, orphan.Orphaned)
	assert.Equal(t, "Folder ab (stale) (unsynced changes)", orphan.Name)

	// detaching twice changes nothing
	require.NoError(t, fx.manager.Detach(ctx, f))

	again, _, err := fx.manager.EnsureTarget(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, book.ID, again.ID)
	assert.False(t, again.Orphaned)
	assert.Equal(t, "Folder ab", again.Name)
}

func TestResetTarget(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.folder(t, "ab", folder.TypeAddressBook)

	book, _, err := fx.manager.EnsureTarget(ctx, f)
	require.NoError(t, err)
	_, err = fx.manager.CreateItem(ctx, book.ID, &Contact{DisplayName: "Ada"})
	require.NoError(t, err)
	f.Cursor = "state"
	f.LastSyncTime = 42

	require.NoError(t, fx.manager.ResetTarget(ctx, f))

	_, err = fx.manager.Store().GetTarget(ctx, book.ID)
	assert.ErrorIs(t, err, ErrTargetNotFound)

	n, err := fx.changes.Count(ctx, book.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	saved, err := fx.folders.GetFolder(ctx, fx.acct.ID, "ab")
	require.NoError(t, err)
	assert.Empty(t, saved.Target)
	assert.Empty(t, saved.Cursor)
	assert.Zero(t, saved.LastSyncTime)
}

func TestRenameAndRemoveTarget(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.folder(t, "ab", folder.TypeAddressBook)

	book, _, err := fx.manager.EnsureTarget(ctx, f)
	require.NoError(t, err)

	var seen []ChangeType
	fx.manager.Subscribe(ObserverFunc(func(ctx context.Context, ev Change) error {
		seen = append(seen, ev.Type)
		return nil
	}))

	require.NoError(t, fx.manager.RenameTarget(ctx, book.ID, "Work contacts"))
	saved, err := fx.folders.GetFolder(ctx, fx.acct.ID, "ab")
	require.NoError(t, err)
	assert.Equal(t, "Work contacts", saved.TargetName)

	require.NoError(t, fx.manager.RemoveTarget(ctx, book.ID))
	saved, err = fx.folders.GetFolder(ctx, fx.acct.ID, "ab")
	require.NoError(t, err)
	assert.Empty(t, saved.Target)
	assert.False(t, saved.Selected)

	assert.Equal(t, []ChangeType{ContainerRenamed, ContainerDeleted}, seen)
}
