package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/changelog"
	"github.com/tildaslashalef/ewsync/internal/config"
	"github.com/tildaslashalef/ewsync/internal/ews"
	"github.com/tildaslashalef/ewsync/internal/folder"
	"github.com/tildaslashalef/ewsync/internal/loggy"
	"github.com/tildaslashalef/ewsync/internal/target"
)

// ErrSyncInProgress is returned when the account already has a running pass
var ErrSyncInProgress = errors.New("sync already in progress")

// Remote is the server side of a sync pass. Folder listing goes through the
// folder registry.
type Remote interface {
	Autodiscover(ctx context.Context, acct *account.Account) (string, error)
	PullChanges(ctx context.Context, acct *account.Account, f *folder.Folder, cursor string) (*ews.ChangeSet, error)
	PushChanges(ctx context.Context, acct *account.Account, f *folder.Folder, changes []ews.OutgoingChange) ([]ews.PushResult, error)
}

// TimeoutSource returns the per-request timeout
type TimeoutSource interface {
	ConnectionTimeout(ctx context.Context) time.Duration
}

// Engine runs sync passes. Folders of one account are synced one at a time;
// distinct accounts may sync concurrently.
type Engine struct {
	accounts account.Store
	registry *folder.Registry
	folders  folder.Store
	targets  *target.Manager
	changes  changelog.Store
	remote   Remote
	logs     Repository
	timeouts TimeoutSource
	cfg      config.SyncConfig
	tracker  *Tracker
	logger   *loggy.Logger

	mu    stdsync.Mutex
	locks map[string]*stdsync.Mutex
	now   func() time.Time
}

// NewEngine creates a sync engine. timeouts may be nil to use the default
// connection timeout.
func NewEngine(
	accounts account.Store,
	registry *folder.Registry,
	targets *target.Manager,
	changes changelog.Store,
	remote Remote,
	logs Repository,
	timeouts TimeoutSource,
	cfg config.SyncConfig,
	logger *loggy.Logger,
) *Engine {
	return &Engine{
		accounts: accounts,
		registry: registry,
		folders:  registry.Store(),
		targets:  targets,
		changes:  changes,
		remote:   remote,
		logs:     logs,
		timeouts: timeouts,
		cfg:      cfg,
		tracker:  NewTracker(),
		logger:   logger,
		locks:    make(map[string]*stdsync.Mutex),
		now:      time.Now,
	}
}

// Tracker returns the progress tracker of running passes
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

func (e *Engine) lockFor(accountID string) *stdsync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[accountID]
	if !ok {
		l = &stdsync.Mutex{}
		e.locks[accountID] = l
	}
	return l
}

// SyncAccount runs one pass for an account: reconcile the folder list, mark
// selected folders pending and sync them in discovery order. The returned
// error is set only when the pass could not start; failures of the pass
// itself are reported in the result and stored as status.
func (e *Engine) SyncAccount(ctx context.Context, accountID string) (*Result, error) {
	lock := e.lockFor(accountID)
	if !lock.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer lock.Unlock()

	acct, err := e.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acct.Enabled() {
		return nil, Failed(ReasonDisabled)
	}

	ctx, runID := loggy.StartRun(loggy.WithLogger(ctx, e.logger), "account_id", acct.ID)
	logger := loggy.FromContext(ctx)
	// bookkeeping still happens after cancellation
	store := context.WithoutCancel(ctx)

	started := e.now()
	result := &Result{AccountID: acct.ID, RunID: runID}
	accountLog := NewSyncLog(runID, ScopeAccount, acct.ID, "")

	e.tracker.start(acct.ID, runID)
	logger.Info("Sync pass started", "account", acct.Name)

	if err := e.accounts.SetStatus(store, acct.ID, account.StatusSyncing); err != nil {
		e.tracker.finish(acct.ID, ReasonUnexpected)
		return nil, fmt.Errorf("setting account status: %w", err)
	}

	runErr := e.run(ctx, acct, result)

	status := StatusOK
	if runErr != nil {
		status = reason(runErr)
		if _, err := e.folders.ReplacePending(store, acct.ID, folder.StatusAborted); err != nil {
			logger.Error("Failed to abort pending folders", "error", err)
		}
		if Classify(runErr) == nil {
			runErr = &UnexpectedFailure{Err: runErr}
			logger.WithError(runErr).Error("Sync pass aborted by unexpected failure")
		} else {
			logger.Warn("Sync pass failed", "status", status, "error", runErr)
		}
	}

	pulled, pushed := 0, 0
	for _, f := range result.Folders {
		pulled += f.Pulled
		pushed += f.Pushed
	}

	acct.Status = status
	acct.LastSyncTime = e.now().Unix()
	if stored, err := e.accounts.FinishSync(store, acct.ID, status, acct.LastSyncTime); err != nil {
		logger.Error("Failed to store account status", "status", status, "error", err)
	} else if !stored {
		logger.Info("Account changed during the pass, status left as is", "status", status)
	}

	if runErr != nil {
		accountLog.MarkFailed(status, runErr)
	} else {
		accountLog.MarkSuccessful(pulled, pushed)
	}
	e.writeLog(store, accountLog)

	result.Status = status
	result.Err = runErr
	result.Duration = e.now().Sub(started)
	e.tracker.finish(acct.ID, status)

	logger.Info("Sync pass finished",
		"status", status,
		"folders", len(result.Folders),
		"failed_folders", len(result.Failed()),
		"pulled", pulled,
		"pushed", pushed,
		"duration", result.Duration)
	return result, nil
}

func (e *Engine) run(ctx context.Context, acct *account.Account, result *Result) error {
	if err := e.prepare(ctx, acct); err != nil {
		return err
	}

	e.setPhase(acct.ID, PhaseMarkPending)
	marked, err := e.folders.MarkPending(context.WithoutCancel(ctx), acct.ID)
	if err != nil {
		return fmt.Errorf("marking pending folders: %w", err)
	}
	loggy.FromContext(ctx).Debug("Folders marked pending", "count", marked)

	store := context.WithoutCancel(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return aborted(err)
		}
		if err := e.stillSyncing(store, acct.ID); err != nil {
			return err
		}

		f, err := e.folders.NextPending(store, acct.ID)
		if err != nil {
			return fmt.Errorf("loading next pending folder: %w", err)
		}
		if f == nil {
			return nil
		}

		fr, err := e.syncFolderWithReruns(ctx, acct, f)
		result.Folders = append(result.Folders, fr)
		if err != nil {
			// a removed account makes folder bookkeeping fail; report the removal
			if serr := e.stillSyncing(store, acct.ID); serr != nil {
				return serr
			}
			return err
		}
		if err := e.stillSyncing(store, acct.ID); err != nil {
			e.detachRetired(store, acct.ID, f.FolderID)
			return err
		}
	}
}

// stillSyncing fails the pass when the account left the syncing state under
// it, e.g. because another process disabled or removed it
func (e *Engine) stillSyncing(ctx context.Context, accountID string) error {
	acct, err := e.accounts.GetAccount(ctx, accountID)
	switch {
	case errors.Is(err, account.ErrAccountNotFound):
		return &ProtocolFailure{Reason: ReasonDisabled, Class: ClassPermanent, Err: err}
	case err != nil:
		return fmt.Errorf("reloading account: %w", err)
	case acct.Status != account.StatusSyncing:
		return &ProtocolFailure{Reason: ReasonDisabled, Class: ClassPermanent,
			Err: fmt.Errorf("account status changed to %q during the pass", acct.Status)}
	}
	return nil
}

// detachRetired orphans the target of a folder that was retired while it
// synced, since the folder sync may have reattached it
func (e *Engine) detachRetired(ctx context.Context, accountID, folderID string) {
	f, err := e.folders.GetFolder(ctx, accountID, folderID)
	if err != nil || !f.Cached {
		return
	}
	if err := e.targets.Detach(ctx, f); err != nil {
		e.logger.Warn("Failed to detach retired folder", "folder_id", folderID, "error", err)
	}
}

// prepare finds the endpoint and reconciles the folder list, rerunning on
// retryable failures
func (e *Engine) prepare(ctx context.Context, acct *account.Account) error {
	store := context.WithoutCancel(ctx)
	logger := loggy.FromContext(ctx)

	attempt := 0
	operation := func() error {
		attempt++
		if acct.ServerType == account.ServerTypeAuto && acct.EWSURL == "" {
			e.setPhase(acct.ID, PhaseAutodiscover)
			reqCtx, cancel := e.requestContext(store, acct.ID)
			url, err := e.remote.Autodiscover(reqCtx, acct)
			cancel()
			if err != nil {
				return e.rerunnable(ctx, err, attempt, "autodiscover")
			}
			acct.EWSURL = url
			if err := e.accounts.SetEndpoint(store, acct.ID, url); err != nil {
				return backoff.Permanent(fmt.Errorf("storing discovered endpoint: %w", err))
			}
			logger.Info("Discovered EWS endpoint", "url", url)
		}

		e.setPhase(acct.ID, PhaseGetFolders)
		reqCtx, cancel := e.requestContext(store, acct.ID)
		res, err := e.registry.Reconcile(reqCtx, acct)
		cancel()
		if err != nil {
			if errors.Is(err, folder.ErrNoRemoteFolders) {
				return backoff.Permanent(&ProtocolFailure{Reason: ReasonNoFolders, Class: ClassPermanent, Err: err})
			}
			return e.rerunnable(ctx, err, attempt, "folder list")
		}

		for _, id := range res.Cached {
			f, err := e.folders.GetFolder(store, acct.ID, id)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("loading cached folder: %w", err))
			}
			if err := e.targets.Detach(store, f); err != nil {
				return backoff.Permanent(fmt.Errorf("detaching target of %s: %w", id, err))
			}
		}
		return nil
	}

	return backoff.Retry(operation, e.rerunBackOff(ctx, e.cfg.MaxAccountReruns))
}

func (e *Engine) rerunBackOff(ctx context.Context, reruns int) backoff.BackOff {
	b := backoff.NewConstantBackOff(e.cfg.RerunDelay)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(reruns, 0))), ctx)
}

// rerunnable returns err as is when a rerun may succeed, else as permanent
func (e *Engine) rerunnable(ctx context.Context, err error, attempt int, what string) error {
	pf := Classify(err)
	if pf == nil || !pf.Retryable() || ctx.Err() != nil {
		return backoff.Permanent(err)
	}
	loggy.FromContext(ctx).Warn("Rerun requested", "step", what, "attempt", attempt, "reason", pf.Reason, "error", err)
	return err
}

// syncFolderWithReruns syncs one folder and stores its status. The error
// is returned only when it must abort the pass.
func (e *Engine) syncFolderWithReruns(ctx context.Context, acct *account.Account, f *folder.Folder) (FolderResult, error) {
	store := context.WithoutCancel(ctx)
	ctx = loggy.AddToContext(ctx, loggy.Fields{"folder_id": f.FolderID})
	logger := loggy.FromContext(ctx)

	fr := FolderResult{FolderID: f.FolderID, Name: f.Name}
	folderLog := NewSyncLog(loggy.RunID(ctx), ScopeFolder, acct.ID, f.FolderID)

	attempt := 0
	operation := func() error {
		attempt++
		err := e.syncFolder(ctx, acct, f, &fr)
		if err == nil {
			return nil
		}
		if pf := Classify(err); pf != nil && pf.Class == ClassResync {
			f.Cursor = ""
			if err := e.folders.SetCursor(store, acct.ID, f.FolderID, ""); err != nil {
				return backoff.Permanent(fmt.Errorf("clearing cursor: %w", err))
			}
		}
		return e.rerunnable(ctx, err, attempt, "folder")
	}
	err := backoff.Retry(operation, e.rerunBackOff(ctx, e.cfg.MaxFolderReruns))

	if err == nil {
		fr.Status = StatusOK
		if err := e.folders.MarkSynced(store, acct.ID, f.FolderID, e.now().Unix()); err != nil {
			return fr, fmt.Errorf("marking folder synced: %w", err)
		}
		folderLog.MarkSuccessful(fr.Pulled, fr.Pushed)
		e.writeLog(store, folderLog)
		e.tracker.update(acct.ID, EventFolderFinished, func(s *State) {
			s.Status = StatusOK
			s.Deadline = time.Time{}
		})
		logger.Info("Folder synced", "pulled", fr.Pulled, "pushed", fr.Pushed)
		return fr, nil
	}

	fr.Status = reason(err)
	fr.Err = err
	if setErr := e.folders.SetStatus(store, acct.ID, f.FolderID, fr.Status); setErr != nil {
		return fr, fmt.Errorf("storing folder status: %w", setErr)
	}
	folderLog.MarkFailed(fr.Status, err)
	e.writeLog(store, folderLog)
	e.tracker.update(acct.ID, EventFolderFinished, func(s *State) {
		s.Status = fr.Status
		s.Deadline = time.Time{}
	})

	pf := Classify(err)
	if pf == nil || pf.Reason == ReasonAborted {
		return fr, err
	}
	logger.Warn("Folder sync failed", "status", fr.Status, "error", err)
	return fr, nil
}

// syncFolder pulls server changes into the folder's target, then pushes
// the target's changelog
func (e *Engine) syncFolder(ctx context.Context, acct *account.Account, f *folder.Folder, fr *FolderResult) error {
	// requests and writes run to completion; cancellation is checked between pages and batches
	work := context.WithoutCancel(ctx)

	e.tracker.update(acct.ID, EventPhase, func(s *State) {
		s.FolderID = f.FolderID
		s.FolderName = f.Name
		s.Phase = PhasePrepareFolder
		s.Done, s.Todo = 0, 0
		s.Status = ""
	})

	t, adapter, err := e.targets.EnsureTarget(work, f)
	if err != nil {
		switch {
		case errors.Is(err, target.ErrKindDisabled):
			return &ProtocolFailure{Reason: ReasonNoLightning, Class: ClassPermanent, Err: err}
		case errors.Is(err, target.ErrUnsupportedType):
			return &ProtocolFailure{Reason: ReasonNotSupported, Class: ClassPermanent, Err: err}
		case errors.Is(err, target.ErrNoTarget):
			return &ProtocolFailure{Reason: ReasonNoTargets, Class: ClassPermanent, Err: err}
		default:
			return err
		}
	}

	if err := e.pull(ctx, work, acct, f, t, adapter, fr); err != nil {
		return err
	}

	if acct.DownloadOnly || f.DownloadOnly {
		loggy.FromContext(ctx).Debug("Download-only folder, skipping push")
		return nil
	}
	return e.push(ctx, work, acct, f, t, fr)
}

func (e *Engine) pull(ctx, work context.Context, acct *account.Account, f *folder.Folder, t *target.Target, adapter target.Adapter, fr *FolderResult) error {
	for page := 0; ; page++ {
		if page > 0 && ctx.Err() != nil {
			return aborted(ctx.Err())
		}

		e.setPhase(acct.ID, PhasePullRequest)
		reqCtx, cancel := e.requestContext(work, acct.ID)
		cs, err := e.remote.PullChanges(reqCtx, acct, f, f.Cursor)
		cancel()
		if err != nil {
			return err
		}

		e.tracker.update(acct.ID, EventPhase, func(s *State) {
			s.Phase = PhasePullApply
			s.Deadline = time.Time{}
			s.Done, s.Todo = 0, len(cs.Changes)
		})
		for _, ch := range cs.Changes {
			if err := e.targets.ApplyRemote(work, t, adapter, ch); err != nil {
				return fmt.Errorf("applying remote %s of %s: %w", ch.Op, ch.RemoteID, err)
			}
			fr.Pulled++
		}
		e.progress(acct.ID, len(cs.Changes), len(cs.Changes))

		// the cursor moves only after the whole page is stored
		if cs.Cursor != "" && cs.Cursor != f.Cursor {
			if err := e.folders.SetCursor(work, acct.ID, f.FolderID, cs.Cursor); err != nil {
				return fmt.Errorf("storing cursor: %w", err)
			}
			f.Cursor = cs.Cursor
		}
		if !cs.MoreAvailable {
			return nil
		}
	}
}

// push drains the changelog entries present when the push starts, in id
// order and in batches of MaxItemsPerRequest. Entries are removed only once
// the server accepted them.
func (e *Engine) push(ctx, work context.Context, acct *account.Account, f *folder.Folder, t *target.Target, fr *FolderResult) error {
	logger := loggy.FromContext(ctx)

	high, err := e.changes.HighWater(work, t.ID)
	if err != nil {
		return fmt.Errorf("reading changelog high water: %w", err)
	}
	if high == 0 {
		return nil
	}
	todo, err := e.changes.Count(work, t.ID)
	if err != nil {
		return fmt.Errorf("counting changelog: %w", err)
	}

	e.tracker.update(acct.ID, EventPhase, func(s *State) {
		s.Phase = PhasePushRequest
		s.Done, s.Todo = 0, todo
	})

	var after int64
	done, rejected := 0, 0
	for batch := 0; ; batch++ {
		if batch > 0 && ctx.Err() != nil {
			return aborted(ctx.Err())
		}

		entries, err := e.changes.Batch(work, t.ID, after, high, e.batchSize())
		if err != nil {
			return fmt.Errorf("reading changelog batch: %w", err)
		}
		if len(entries) == 0 {
			break
		}
		after = entries[len(entries)-1].ID

		outgoing, acks, err := e.outgoing(work, t, entries)
		if err != nil {
			return err
		}

		var pushErr error
		if len(outgoing) > 0 {
			e.setPhase(acct.ID, PhasePushRequest)
			reqCtx, cancel := e.requestContext(work, acct.ID)
			results, err := e.remote.PushChanges(reqCtx, acct, f, outgoing)
			cancel()
			pushErr = err

			for _, r := range results {
				if !r.Accepted {
					rejected++
					logger.Warn("Server rejected change", "item_id", r.ItemID, "code", r.Code, "message", r.Message)
					continue
				}
				if err := e.targets.RecordRemoteID(work, t.ID, r.ItemID, r.RemoteID, r.ChangeKey); err != nil {
					return fmt.Errorf("recording server id of %s: %w", r.ItemID, err)
				}
				acks = append(acks, changelog.Ack{EntryID: r.EntryID, Revision: r.Revision, RemoteID: r.RemoteID})
			}
		}

		removed, err := e.changes.Acknowledge(work, acks)
		if err != nil {
			return fmt.Errorf("acknowledging changes: %w", err)
		}
		fr.Pushed += len(acks)
		logger.Debug("Changelog batch pushed", "entries", len(entries), "acknowledged", len(acks), "removed", removed)

		if pushErr != nil {
			return pushErr
		}
		done += len(entries)
		e.progress(acct.ID, done, todo)
	}

	if rejected > 0 {
		return &ProtocolFailure{
			Reason: ReasonPushRejected,
			Class:  ClassPermanent,
			Err:    fmt.Errorf("server rejected %d of %d changes", rejected, done),
		}
	}
	return nil
}

// outgoing turns changelog entries into upload requests. Entries that need
// no server call are returned as acknowledgements.
func (e *Engine) outgoing(ctx context.Context, t *target.Target, entries []*changelog.Entry) ([]ews.OutgoingChange, []changelog.Ack, error) {
	var out []ews.OutgoingChange
	var acks []changelog.Ack
	for _, en := range entries {
		oc := ews.OutgoingChange{
			EntryID:  en.ID,
			Revision: en.Revision,
			Kind:     en.Kind,
			ItemID:   en.ItemID,
			RemoteID: en.RemoteID,
		}

		if en.Kind == changelog.KindDeleted {
			if en.RemoteID == "" {
				// never reached the server
				acks = append(acks, changelog.Ack{EntryID: en.ID, Revision: en.Revision})
				continue
			}
			out = append(out, oc)
			continue
		}

		item, payload, err := e.targets.Item(ctx, t.ID, en.ItemID)
		if err != nil {
			if errors.Is(err, target.ErrItemNotFound) {
				acks = append(acks, changelog.Ack{EntryID: en.ID, Revision: en.Revision})
				continue
			}
			return nil, nil, fmt.Errorf("loading item %s: %w", en.ItemID, err)
		}
		if oc.RemoteID == "" {
			oc.RemoteID = item.RemoteID
		}
		oc.ChangeKey = item.ChangeKey
		oc.Payload = payload
		out = append(out, oc)
	}
	return out, acks, nil
}

func (e *Engine) batchSize() int {
	if e.cfg.MaxItemsPerRequest <= 0 {
		return 10
	}
	return e.cfg.MaxItemsPerRequest
}

// requestContext bounds one server request by the connection timeout and
// publishes its deadline as the advisory countdown
func (e *Engine) requestContext(ctx context.Context, accountID string) (context.Context, context.CancelFunc) {
	timeout := config.DefaultConnectionTimeout
	if e.timeouts != nil {
		timeout = e.timeouts.ConnectionTimeout(ctx)
	}
	deadline := e.now().Add(timeout)
	e.tracker.update(accountID, EventPhase, func(s *State) {
		s.Deadline = deadline
	})
	return context.WithTimeout(ctx, timeout)
}

func (e *Engine) setPhase(accountID string, phase Phase) {
	e.tracker.update(accountID, EventPhase, func(s *State) {
		s.Phase = phase
	})
}

func (e *Engine) progress(accountID string, done, todo int) {
	e.tracker.update(accountID, EventProgress, func(s *State) {
		s.Done, s.Todo = done, todo
	})
}

func (e *Engine) writeLog(ctx context.Context, l *SyncLog) {
	if e.logs == nil {
		return
	}
	if err := e.logs.CreateSyncLog(ctx, l); err != nil {
		e.logger.Warn("Failed to write sync log", "account_id", l.AccountID, "folder_id", l.FolderID, "error", err)
	}
}

func aborted(err error) *ProtocolFailure {
	return &ProtocolFailure{Reason: ReasonAborted, Class: ClassPermanent, Err: err}
}

// RecoverInterrupted resets accounts left in the syncing state by a process
// that died mid-pass, and aborts their pending folders
func (e *Engine) RecoverInterrupted(ctx context.Context) (int, error) {
	accounts, err := e.accounts.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, acct := range accounts {
		if acct.Status != account.StatusSyncing {
			continue
		}
		lock := e.lockFor(acct.ID)
		if !lock.TryLock() {
			continue
		}
		_, err := e.folders.ReplacePending(ctx, acct.ID, folder.StatusAborted)
		if err == nil {
			err = e.accounts.SetStatus(ctx, acct.ID, ReasonAborted)
		}
		lock.Unlock()
		if err != nil {
			return recovered, fmt.Errorf("recovering account %s: %w", acct.ID, err)
		}
		e.logger.Warn("Recovered interrupted sync pass", "account_id", acct.ID)
		recovered++
	}
	return recovered, nil
}
