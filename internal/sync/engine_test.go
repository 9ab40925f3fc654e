package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	stdsync "sync"
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
	"github.com/tildaslashalef/ewsync/internal/target"
	"github.com/tildaslashalef/ewsync/internal/testutil"
)

// fakeRemote is a scripted server. Pulls return pages[folderID] in order,
// identified by their cursors; pushes accept everything not rejected.
type fakeRemote struct {
	mu stdsync.Mutex

	folders  []folder.RemoteFolder
	listErr  error
	listCall int

	endpoint       string
	discoverCalls  int
	pages          map[string][]ews.ChangeSet
	pullHook       func(f *folder.Folder, cursor string) (*ews.ChangeSet, error)
	pullCursors    map[string][]string
	pushed         [][]ews.OutgoingChange
	reject         map[string]bool
	pushErr        error
	pushErrOnBatch int
}

func newFakeRemote(folders ...folder.RemoteFolder) *fakeRemote {
	return &fakeRemote{
		folders:     folders,
		endpoint:    "https://mail.example.com/EWS/Exchange.asmx",
		pages:       make(map[string][]ews.ChangeSet),
		pullCursors: make(map[string][]string),
		reject:      make(map[string]bool),
	}
}

func (r *fakeRemote) ListFolders(ctx context.Context, acct *account.Account) ([]folder.RemoteFolder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCall++
	if r.listErr != nil {
		return nil, r.listErr
	}
	return append([]folder.RemoteFolder(nil), r.folders...), nil
}

func (r *fakeRemote) Autodiscover(ctx context.Context, acct *account.Account) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discoverCalls++
	return r.endpoint, nil
}

func (r *fakeRemote) PullChanges(ctx context.Context, acct *account.Account, f *folder.Folder, cursor string) (*ews.ChangeSet, error) {
	r.mu.Lock()
	r.pullCursors[f.FolderID] = append(r.pullCursors[f.FolderID], cursor)
	hook := r.pullHook
	pages := r.pages[f.FolderID]
	r.mu.Unlock()

	if hook != nil {
		if cs, err := hook(f, cursor); cs != nil || err != nil {
			return cs, err
		}
	}

	next := 0
	for i, p := range pages {
		if p.Cursor == cursor {
			next = i + 1
		}
	}
	if cursor == "" {
		next = 0
	}
	if next >= len(pages) {
		return &ews.ChangeSet{Cursor: cursor}, nil
	}
	page := pages[next]
	return &page, nil
}

func (r *fakeRemote) PushChanges(ctx context.Context, acct *account.Account, f *folder.Folder, changes []ews.OutgoingChange) ([]ews.PushResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushed = append(r.pushed, append([]ews.OutgoingChange(nil), changes...))

	var results []ews.PushResult
	for _, c := range changes {
		res := ews.PushResult{EntryID: c.EntryID, Revision: c.Revision, ItemID: c.ItemID, RemoteID: c.RemoteID}
		if r.reject[c.ItemID] {
			res.Code = ews.CodeAccessDenied
			res.Message = "rejected"
			results = append(results, res)
			continue
		}
		res.Accepted = true
		if res.RemoteID == "" && c.Kind != changelog.KindDeleted {
			res.RemoteID = "srv-" + c.ItemID
		}
		res.ChangeKey = "ck-" + c.ItemID
		results = append(results, res)
	}

	if r.pushErr != nil && len(r.pushed) == r.pushErrOnBatch {
		// the server answered for the first change only
		return results[:1], r.pushErr
	}
	return results, nil
}

func (r *fakeRemote) batchSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sizes := make([]int, 0, len(r.pushed))
	for _, b := range r.pushed {
		sizes = append(sizes, len(b))
	}
	return sizes
}

type fixture struct {
	engine   *Engine
	remote   *fakeRemote
	accounts account.Store
	folders  folder.Store
	changes  changelog.Store
	targets  *target.Manager
	logs     *SQLRepository
	acct     *account.Account
}

func newFixture(t *testing.T, remote *fakeRemote, mutate ...func(*account.Account)) *fixture {
	conn := testutil.NewTestDB(t)
	logger := loggy.NewNoopLogger()

	accounts := account.NewSQLRepository(conn, logger)
	folders := folder.NewSQLRepository(conn, logger)
	changes := changelog.NewSQLRepository(conn, logger)
	targets := target.NewManager(target.NewSQLRepository(conn, logger), folders, changes, config.TargetsConfig{
		CalendarEnabled: true,
		StaleSuffix:     "(stale)",
		PendingSuffix:   "(unsynced changes)",
	}, logger)
	logs := NewSQLRepository(conn, logger)

	cfg := config.SyncConfig{
		MaxItemsPerRequest: 10,
		MaxAccountReruns:   2,
		MaxFolderReruns:    1,
		RerunDelay:         time.Millisecond,
	}
	registry := folder.NewRegistry(folders, remote, logger)

	return &fixture{
		engine:   NewEngine(accounts, registry, targets, changes, remote, logs, nil, cfg, logger),
		remote:   remote,
		accounts: accounts,
		folders:  folders,
		changes:  changes,
		targets:  targets,
		logs:     logs,
		acct:     testutil.CreateAccount(t, conn, mutate...),
	}
}

func (fx *fixture) sync(t *testing.T) *Result {
	t.Helper()
	res, err := fx.engine.SyncAccount(context.Background(), fx.acct.ID)
	require.NoError(t, err)
	return res
}

func (fx *fixture) folder(t *testing.T, id string) *folder.Folder {
	t.Helper()
	f, err := fx.folders.GetFolder(context.Background(), fx.acct.ID, id)
	require.NoError(t, err)
	return f
}

func (fx *fixture) account(t *testing.T) *account.Account {
	t.Helper()
	a, err := fx.accounts.GetAccount(context.Background(), fx.acct.ID)
	require.NoError(t, err)
	return a
}

func folderIDs(res *Result) []string {
	ids := make([]string, 0, len(res.Folders))
	for _, f := range res.Folders {
		ids = append(ids, f.FolderID)
	}
	return ids
}

func TestPushDrainsChangelogInBatches(t *testing.T) {
	fx := newFixture(t, newFakeRemote(folder.RemoteFolder{ID: "ab", Name: "Contacts", Type: folder.TypeAddressBook}))
	ctx := context.Background()

	require.True(t, fx.sync(t).OK())
	book := fx.folder(t, "ab").Target
	require.NotEmpty(t, book)

	for i := range 12 {
		_, err := fx.targets.CreateItem(ctx, book, &target.Contact{DisplayName: fmt.Sprintf("Contact %02d", i)})
		require.NoError(t, err)
	}

	res := fx.sync(t)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, []int{10, 2}, fx.remote.batchSizes())

	// entries leave in id order across batches
	var last int64
	for _, batch := range fx.remote.pushed {
		for _, c := range batch {
			assert.Greater(t, c.EntryID, last)
			last = c.EntryID
			assert.Equal(t, changelog.KindAdded, c.Kind)
			assert.NotNil(t, c.Payload)
		}
	}

	n, err := fx.changes.Count(ctx, book)
	require.NoError(t, err)
	assert.Zero(t, n)

	items, err := fx.targets.Store().ListItems(ctx, book)
	require.NoError(t, err)
	require.Len(t, items, 12)
	for _, item := range items {
		assert.Equal(t, "srv-"+item.ID, item.RemoteID)
		assert.Equal(t, "ck-"+item.ID, item.ChangeKey)
	}

	fr, ok := res.Folder("ab")
	require.True(t, ok)
	assert.Equal(t, 12, fr.Pushed)
}

func TestFolderFailureDoesNotStopOtherFolders(t *testing.T) {
	remote := newFakeRemote(
		folder.RemoteFolder{ID: "f", Name: "Calendar", Type: folder.TypeCalendar},
		folder.RemoteFolder{ID: "g", Name: "Contacts", Type: folder.TypeAddressBook},
	)
	remote.pullHook = func(f *folder.Folder, cursor string) (*ews.ChangeSet, error) {
		if f.FolderID == "f" {
			return nil, fmt.Errorf("pulling: %w", context.DeadlineExceeded)
		}
		return nil, nil
	}
	fx := newFixture(t, remote)

	res := fx.sync(t)

	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, []string{"f", "g"}, folderIDs(res))
	assert.Equal(t, ReasonTimeout, fx.folder(t, "f").Status)
	assert.Equal(t, StatusOK, fx.folder(t, "g").Status)
	assert.Equal(t, StatusOK, fx.account(t).Status)

	// timeouts rerun the folder once
	assert.Len(t, remote.pullCursors["f"], 2)

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "f", failed[0].FolderID)
	assert.ErrorIs(t, failed[0].Err, context.DeadlineExceeded)
}

func TestOnlySelectedLiveFoldersAreSynced(t *testing.T) {
	remote := newFakeRemote(
		folder.RemoteFolder{ID: "ab", Name: "Contacts", Type: folder.TypeAddressBook},
		folder.RemoteFolder{ID: "inbox", Name: "Inbox", Type: folder.TypeMail},
		folder.RemoteFolder{ID: "gone", Name: "Old", Type: folder.TypeCalendar},
	)
	fx := newFixture(t, remote)
	assert.Equal(t, []string{"ab", "gone"}, folderIDs(fx.sync(t)))

	remote.folders = remote.folders[:2]
	res := fx.sync(t)
	assert.Equal(t, []string{"ab"}, folderIDs(res))

	gone := fx.folder(t, "gone")
	assert.True(t, gone.Cached)
	assert.True(t, gone.Selected)
	assert.NotEqual(t, folder.StatusPending, gone.Status)

	orphan, err := fx.targets.Store().GetTarget(context.Background(), gone.Target)
	require.NoError(t, err)
	assert.True(t, orphan.Orphaned)
	assert.Equal(t, "Old (stale)", orphan.Name)

	assert.Empty(t, fx.folder(t, "inbox").Status)
}

func TestPullAppliesPagesAndStoresCursor(t *testing.T) {
	remote := newFakeRemote(folder.RemoteFolder{ID: "cal", Name: "Calendar", Type: folder.TypeCalendar})
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	remote.pages["cal"] = []ews.ChangeSet{
		{
			Cursor:        "c1",
			MoreAvailable: true,
			Changes: []target.RemoteChange{
				{Op: target.OpCreate, RemoteID: "r1", Payload: &target.Event{ID: "e1", Title: "Standup", Start: start}},
				{Op: target.OpCreate, RemoteID: "r2", Payload: &target.Event{ID: "e2", Title: "Review", Start: start}},
			},
		},
		{
			Cursor: "c2",
			Changes: []target.RemoteChange{
				{Op: target.OpDelete, RemoteID: "r1"},
			},
		},
	}
	fx := newFixture(t, remote)

	res := fx.sync(t)
	require.True(t, res.OK())
	fr, _ := res.Folder("cal")
	assert.Equal(t, 3, fr.Pulled)

	f := fx.folder(t, "cal")
	assert.Equal(t, "c2", f.Cursor)
	assert.NotZero(t, f.LastSyncTime)

	items, err := fx.targets.Store().ListItems(context.Background(), f.Target)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "e2", items[0].ID)
	assert.Equal(t, "Review", items[0].Summary)

	fx.sync(t)
	assert.Equal(t, []string{"", "c1", "c2"}, remote.pullCursors["cal"])
}

func TestResyncRequestClearsCursor(t *testing.T) {
	remote := newFakeRemote(folder.RemoteFolder{ID: "ab", Name: "Contacts", Type: folder.TypeAddressBook})
	remote.pullHook = func(f *folder.Folder, cursor string) (*ews.ChangeSet, error) {
		if cursor == "stale" {
			return nil, &ews.Error{Code: ews.CodeInvalidSyncStateData}
		}
		return &ews.ChangeSet{Cursor: "fresh"}, nil
	}
	fx := newFixture(t, remote)
	require.True(t, fx.sync(t).OK())

	require.NoError(t, fx.folders.SetCursor(context.Background(), fx.acct.ID, "ab", "stale"))
	res := fx.sync(t)

	assert.True(t, res.OK())
	assert.Equal(t, StatusOK, fx.folder(t, "ab").Status)
	assert.Equal(t, "fresh", fx.folder(t, "ab").Cursor)
	assert.Equal(t, []string{"", "stale", ""}, remote.pullCursors["ab"])
}

func TestRejectedChangesStayQueued(t *testing.T) {
	remote := newFakeRemote(folder.RemoteFolder{ID: "ab", Name: "Contacts", Type: folder.TypeAddressBook})
	fx := newFixture(t, remote)
	ctx := context.Background()
	require.True(t, fx.sync(t).OK())
	book := fx.folder(t, "ab").Target

	kept, err := fx.targets.CreateItem(ctx, book, &target.Contact{DisplayName: "Refused"})
	require.NoError(t, err)
	_, err = fx.targets.CreateItem(ctx, book, &target.Contact{DisplayName: "Accepted"})
	require.NoError(t, err)
	remote.reject[kept.ID] = true

	res := fx.sync(t)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, ReasonPushRejected, fx.folder(t, "ab").Status)

	entries, err := fx.changes.List(ctx, book)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, kept.ID, entries[0].ItemID)
}

func TestPushErrorAcknowledgesAnsweredChanges(t *testing.T) {
	remote := newFakeRemote(folder.RemoteFolder{ID: "ab", Name: "Contacts", Type: folder.TypeAddressBook})
	fx := newFixture(t, remote)
	ctx := context.Background()
	require.True(t, fx.sync(t).OK())
	book := fx.folder(t, "ab").Target

	for _, name := range []string{"One", "Two", "Three"} {
		_, err := fx.targets.CreateItem(ctx, book, &target.Contact{DisplayName: name})
		require.NoError(t, err)
	}
	remote.pushErr = &ews.Error{StatusCode: http.StatusForbidden}
	remote.pushErrOnBatch = 1

	fx.sync(t)
	assert.Equal(t, ReasonAuthFailed, fx.folder(t, "ab").Status)

	n, err := fx.changes.Count(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDownloadOnlySkipsPush(t *testing.T) {
	remote := newFakeRemote(folder.RemoteFolder{ID: "ab", Name: "Contacts", Type: folder.TypeAddressBook})
	fx := newFixture(t, remote, func(a *account.Account) { a.DownloadOnly = true })
	ctx := context.Background()
	require.True(t, fx.sync(t).OK())
	book := fx.folder(t, "ab").Target

	_, err := fx.targets.CreateItem(ctx, book, &target.Contact{DisplayName: "Local only"})
	require.NoError(t, err)

	assert.True(t, fx.sync(t).OK())
	assert.Empty(t, remote.pushed)

	n, err := fx.changes.Count(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteOfUnsentItemIsAcknowledgedLocally(t *testing.T) {
	remote := newFakeRemote(folder.RemoteFolder{ID: "ab", Name: "Contacts", Type: folder.TypeAddressBook})
	fx := newFixture(t, remote)
	ctx := context.Background()
	require.True(t, fx.sync(t).OK())
	book := fx.folder(t, "ab").Target

	item, err := fx.targets.CreateItem(ctx, book, &target.Contact{DisplayName: "Short lived"})
	require.NoError(t, err)
	require.NoError(t, fx.targets.DeleteItem(ctx, book, item.ID))

	assert.True(t, fx.sync(t).OK())
	assert.Empty(t, remote.pushed)

	n, err := fx.changes.Count(ctx, book)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancellationAbortsBetweenFolders(t *testing.T) {
	remote := newFakeRemote(
		folder.RemoteFolder{ID: "a", Name: "Contacts", Type: folder.TypeAddressBook},
		folder.RemoteFolder{ID: "b", Name: "Calendar", Type: folder.TypeCalendar},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	remote.pullHook = func(f *folder.Folder, cursor string) (*ews.ChangeSet, error) {
		cancel()
		return &ews.ChangeSet{Cursor: "c1"}, nil
	}
	fx := newFixture(t, remote)

	res, err := fx.engine.SyncAccount(ctx, fx.acct.ID)
	require.NoError(t, err)

	assert.Equal(t, ReasonAborted, res.Status)
	assert.Equal(t, StatusOK, fx.folder(t, "a").Status)
	assert.Equal(t, "c1", fx.folder(t, "a").Cursor)
	assert.Equal(t, folder.StatusAborted, fx.folder(t, "b").Status)
	assert.Empty(t, remote.pullCursors["b"])
	assert.Equal(t, ReasonAborted, fx.account(t).Status)
}

func TestUnexpectedFailureAbortsPass(t *testing.T) {
	remote := newFakeRemote(
		folder.RemoteFolder{ID: "a", Name: "Contacts", Type: folder.TypeAddressBook},
		folder.RemoteFolder{ID: "b", Name: "Calendar", Type: folder.TypeCalendar},
	)
	remote.pages["a"] = []ews.ChangeSet{{
		Cursor:  "c1",
		Changes: []target.RemoteChange{{Op: target.OpCreate, RemoteID: "r1"}},
	}}
	fx := newFixture(t, remote)

	res := fx.sync(t)

	assert.Equal(t, ReasonUnexpected, res.Status)
	var unexpected *UnexpectedFailure
	assert.ErrorAs(t, res.Err, &unexpected)
	assert.Equal(t, ReasonUnexpected, fx.folder(t, "a").Status)
	assert.Empty(t, fx.folder(t, "a").Cursor)
	assert.Equal(t, folder.StatusAborted, fx.folder(t, "b").Status)
	assert.Equal(t, ReasonUnexpected, fx.account(t).Status)
	// unexpected failures are not rerun
	assert.Len(t, remote.pullCursors["a"], 1)
}

func TestAccountLevelFailures(t *testing.T) {
	tests := []struct {
		name      string
		listErr   error
		status    string
		listCalls int
	}{
		{name: "no folders", status: ReasonNoFolders, listCalls: 1},
		{name: "auth", listErr: &ews.Error{StatusCode: http.StatusUnauthorized}, status: ReasonAuthFailed, listCalls: 1},
		{name: "server busy", listErr: &ews.Error{Code: ews.CodeServerBusy}, status: ReasonServerError, listCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newFakeRemote()
			remote.listErr = tt.listErr
			fx := newFixture(t, remote)

			res := fx.sync(t)
			assert.Equal(t, tt.status, res.Status)
			assert.Empty(t, res.Folders)
			assert.Equal(t, tt.status, fx.account(t).Status)
			assert.Equal(t, tt.listCalls, remote.listCall)
		})
	}
}

func TestUnsupportedFolderType(t *testing.T) {
	remote := newFakeRemote(
		folder.RemoteFolder{ID: "inbox", Name: "Inbox", Type: folder.TypeMail},
		folder.RemoteFolder{ID: "tasks", Name: "Tasks", Type: folder.TypeTask},
	)
	fx := newFixture(t, remote)
	ctx := context.Background()

	_, err := fx.engine.registry.Reconcile(ctx, fx.acct)
	require.NoError(t, err)
	inbox := fx.folder(t, "inbox")
	inbox.Selected = true
	require.NoError(t, fx.folders.SaveFolder(ctx, inbox))

	fx.sync(t)
	assert.Equal(t, ReasonNotSupported, fx.folder(t, "inbox").Status)
	assert.Equal(t, StatusOK, fx.folder(t, "tasks").Status)
}

func TestAutodiscoverStoresEndpoint(t *testing.T) {
	remote := newFakeRemote(folder.RemoteFolder{ID: "ab", Name: "Contacts", Type: folder.TypeAddressBook})
	fx := newFixture(t, remote, func(a *account.Account) {
		a.ServerType = account.ServerTypeAuto
		a.Host = ""
	})

	require.True(t, fx.sync(t).OK())
	assert.Equal(t, remote.endpoint, fx.account(t).EWSURL)

	fx.sync(t)
	assert.Equal(t, 1, remote.discoverCalls)
}

func TestSyncAccountRefusesToStart(t *testing.T) {
	fx := newFixture(t, newFakeRemote(folder.RemoteFolder{ID: "ab", Type: folder.TypeAddressBook}))
	ctx := context.Background()

	lock := fx.engine.lockFor(fx.acct.ID)
	lock.Lock()
	_, err := fx.engine.SyncAccount(ctx, fx.acct.ID)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	lock.Unlock()

	require.NoError(t, fx.accounts.SetStatus(ctx, fx.acct.ID, account.StatusDisabled))
	_, err = fx.engine.SyncAccount(ctx, fx.acct.ID)
	var pf *ProtocolFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, ReasonDisabled, pf.Reason)

	_, err = fx.engine.SyncAccount(ctx, "acc_missing")
	assert.ErrorIs(t, err, account.ErrAccountNotFound)
}

func TestDisableDuringPassIsKept(t *testing.T) {
	remote := newFakeRemote(
		folder.RemoteFolder{ID: "ab", Name: "Contacts", Type: folder.TypeAddressBook},
		folder.RemoteFolder{ID: "cal", Name: "Calendar", Type: folder.TypeCalendar},
	)
	var fx *fixture
	remote.pullHook = func(f *folder.Folder, cursor string) (*ews.ChangeSet, error) {
		if f.FolderID != "ab" {
			return nil, nil
		}
		// another process disables the account and retires its folders
		ctx := context.Background()
		require.NoError(t, fx.accounts.SetStatus(ctx, fx.acct.ID, account.StatusDisabled))
		stored, err := fx.folders.GetFolder(ctx, fx.acct.ID, "ab")
		require.NoError(t, err)
		require.NoError(t, fx.targets.Detach(ctx, stored))
		stored.Cached = true
		stored.Status = ""
		require.NoError(t, fx.folders.SaveFolder(ctx, stored))
		return nil, nil
	}
	fx = newFixture(t, remote)

	res := fx.sync(t)

	assert.Equal(t, ReasonDisabled, res.Status)
	assert.Equal(t, []string{"ab"}, folderIDs(res))
	assert.Empty(t, remote.pullCursors["cal"])

	acct := fx.account(t)
	assert.Equal(t, account.StatusDisabled, acct.Status)
	assert.False(t, acct.Enabled())

	ab := fx.folder(t, "ab")
	assert.True(t, ab.Cached)
	orphan, err := fx.targets.Store().GetTarget(context.Background(), ab.Target)
	require.NoError(t, err)
	assert.True(t, orphan.Orphaned)

	assert.Equal(t, folder.StatusAborted, fx.folder(t, "cal").Status)
}

func TestDeselectDuringPassIsKept(t *testing.T) {
	remote := newFakeRemote(folder.RemoteFolder{ID: "ab", Name: "Contacts", Type: folder.TypeAddressBook})
	var fx *fixture
	remote.pullHook = func(f *folder.Folder, cursor string) (*ews.ChangeSet, error) {
		ctx := context.Background()
		stored, err := fx.folders.GetFolder(ctx, fx.acct.ID, f.FolderID)
		require.NoError(t, err)
		stored.Selected = false
		require.NoError(t, fx.folders.SaveFolder(ctx, stored))
		return nil, nil
	}
	fx = newFixture(t, remote)

	fx.sync(t)

	assert.False(t, fx.folder(t, "ab").Selected)
}

func TestSyncWritesLogsAndEvents(t *testing.T) {
	remote := newFakeRemote(folder.RemoteFolder{ID: "ab", Name: "Contacts", Type: folder.TypeAddressBook})
	remote.pages["ab"] = []ews.ChangeSet{{
		Cursor:  "c1",
		Changes: []target.RemoteChange{{Op: target.OpCreate, RemoteID: "r1", Payload: &target.Contact{DisplayName: "Ada"}}},
	}}
	fx := newFixture(t, remote)
	ctx := context.Background()

	events, stop := fx.engine.Tracker().Subscribe(256)
	res := fx.sync(t)
	stop()

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.NotEmpty(t, got)
	assert.Equal(t, EventAccountStarted, got[0].Type)
	assert.Equal(t, EventAccountFinished, got[len(got)-1].Type)
	assert.Equal(t, StatusOK, got[len(got)-1].State.Status)

	phases := map[Phase]bool{}
	for _, ev := range got {
		phases[ev.State.Phase] = true
		assert.Equal(t, res.RunID, ev.State.RunID)
	}
	assert.True(t, phases[PhaseGetFolders])
	assert.True(t, phases[PhasePullRequest])
	_, running := fx.engine.Tracker().Current(fx.acct.ID)
	assert.False(t, running)

	latest, err := fx.logs.GetLatestSyncLog(ctx, fx.acct.ID, "")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, res.RunID, latest.RunID)
	assert.True(t, latest.Success)
	assert.Equal(t, 1, latest.Pulled)

	folderLog, err := fx.logs.GetLatestSyncLog(ctx, fx.acct.ID, "ab")
	require.NoError(t, err)
	require.NotNil(t, folderLog)
	assert.Equal(t, ScopeFolder, folderLog.Scope)
	assert.Equal(t, StatusOK, folderLog.Status)
}

func TestRecoverInterrupted(t *testing.T) {
	fx := newFixture(t, newFakeRemote(folder.RemoteFolder{ID: "ab", Type: folder.TypeAddressBook}))
	ctx := context.Background()

	_, err := fx.engine.registry.Reconcile(ctx, fx.acct)
	require.NoError(t, err)
	_, err = fx.folders.MarkPending(ctx, fx.acct.ID)
	require.NoError(t, err)
	require.NoError(t, fx.accounts.SetStatus(ctx, fx.acct.ID, account.StatusSyncing))

	n, err := fx.engine.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, ReasonAborted, fx.account(t).Status)
	assert.Equal(t, folder.StatusAborted, fx.folder(t, "ab").Status)
}

func TestSchedulerSyncsDueAccounts(t *testing.T) {
	remote := newFakeRemote(folder.RemoteFolder{ID: "ab", Name: "Contacts", Type: folder.TypeAddressBook})
	fx := newFixture(t, remote, func(a *account.Account) { a.Autosync = 5 })
	ctx := context.Background()

	scheduler := NewScheduler(fx.engine, fx.accounts, time.Minute, loggy.NewNoopLogger())
	results, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, fx.acct.ID, results[0].AccountID)

	// synced just now, so not due again
	results, err = scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)

	scheduler.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	results, err = scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
		class  FailureClass
	}{
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), ReasonTimeout, ClassTimeout},
		{"canceled", context.Canceled, ReasonAborted, ClassPermanent},
		{"unauthorized", &ews.Error{StatusCode: http.StatusUnauthorized}, ReasonAuthFailed, ClassAuth},
		{"access denied", &ews.Error{Code: ews.CodeAccessDenied}, ReasonAuthFailed, ClassAuth},
		{"not found", &ews.Error{Code: ews.CodeFolderNotFound}, ReasonNotFound, ClassNotFound},
		{"busy", &ews.Error{Code: ews.CodeServerBusy}, ReasonServerError, ClassTransient},
		{"bad gateway", &ews.Error{StatusCode: http.StatusBadGateway}, ReasonServerError, ClassTransient},
		{"sync state", &ews.Error{Code: ews.CodeInvalidSyncStateData}, ReasonResyncRequested, ClassResync},
		{"no endpoint", &ews.Error{Code: ews.CodeNoEndpoint}, ReasonNoEndpoint, ClassPermanent},
		{"conflict", &ews.Error{Code: ews.CodeIrresolvableConflict}, ReasonServerError, ClassPermanent},
		{"protocol", Failed(ReasonNoTargets), ReasonNoTargets, ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf := Classify(tt.err)
			require.NotNil(t, pf)
			assert.Equal(t, tt.reason, pf.Reason)
			assert.Equal(t, tt.class, pf.Class)
		})
	}

	assert.Nil(t, Classify(errors.New("disk full")))
	assert.Nil(t, Classify(nil))
	assert.Equal(t, ReasonUnexpected, reason(errors.New("disk full")))
	assert.True(t, Classify(context.DeadlineExceeded).Retryable())
	assert.False(t, Classify(&ews.Error{StatusCode: http.StatusForbidden}).Retryable())
}
