package folder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/loggy"
)

// ErrNoRemoteFolders is returned when the server reports no folders at all.
// The local registry is left untouched in that case.
var ErrNoRemoteFolders = errors.New("no folders found on server")

// Lister fetches the folder list of an account from the server
type Lister interface {
	ListFolders(ctx context.Context, acct *account.Account) ([]RemoteFolder, error)
}

// Result summarizes the changes made by one reconcile
type Result struct {
	Added     []string
	Updated   []string
	Cached    []string
	Restored  []string
	Unchanged int
}

// Changed reports whether the local folder list changed
func (r *Result) Changed() bool {
	return len(r.Added)+len(r.Updated)+len(r.Cached)+len(r.Restored) > 0
}

// Notification is sent to subscribers after a reconcile changed something
type Notification struct {
	AccountID string
	Result    Result
}

// Registry reconciles the server folder list into the local store
type Registry struct {
	store  Store
	lister Lister
	logger *loggy.Logger

	mu   sync.Mutex
	subs map[chan Notification]struct{}
}

// NewRegistry creates a new folder registry
func NewRegistry(store Store, lister Lister, logger *loggy.Logger) *Registry {
	return &Registry{
		store:  store,
		lister: lister,
		logger: logger,
		subs:   make(map[chan Notification]struct{}),
	}
}

// Store returns the underlying folder store
func (r *Registry) Store() Store {
	return r.store
}

// Subscribe returns a channel receiving change notifications and a function
// that unsubscribes. Slow subscribers miss notifications instead of blocking.
func (r *Registry) Subscribe(buffer int) (<-chan Notification, func()) {
	ch := make(chan Notification, buffer)

	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ch)
			r.mu.Unlock()
			close(ch)
		})
	}
}

func (r *Registry) notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ch := range r.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Reconcile fetches the server folder list for acct and merges it into the
// local registry. Folders missing on the server are cached, keeping their
// target binding and selection, and restored if they reappear.
func (r *Registry) Reconcile(ctx context.Context, acct *account.Account) (*Result, error) {
	remote, err := r.lister.ListFolders(ctx, acct)
	if err != nil {
		return nil, err
	}
	return r.Apply(ctx, acct, remote)
}

// Apply merges an already fetched server folder list into the registry
func (r *Registry) Apply(ctx context.Context, acct *account.Account, remote []RemoteFolder) (*Result, error) {
	if len(remote) == 0 {
		return nil, ErrNoRemoteFolders
	}

	local, err := r.store.ListFolders(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("listing local folders: %w", err)
	}

	existing := make(map[string]*Folder, len(local))
	for _, f := range local {
		existing[f.FolderID] = f
	}

	result := &Result{}
	seen := make(map[string]bool, len(remote))
	for position, rf := range remote {
		if rf.ID == "" || seen[rf.ID] {
			continue
		}
		seen[rf.ID] = true

		f, ok := existing[rf.ID]
		if !ok {
			f = New(acct, rf, position)
			if err := r.store.SaveFolder(ctx, f); err != nil {
				return nil, fmt.Errorf("adding folder %s: %w", rf.ID, err)
			}
			result.Added = append(result.Added, rf.ID)
			continue
		}

		restored := f.Cached
		if !applyRemote(f, rf, position) {
			result.Unchanged++
			continue
		}
		if err := r.store.SaveFolder(ctx, f); err != nil {
			return nil, fmt.Errorf("updating folder %s: %w", rf.ID, err)
		}
		if restored {
			result.Restored = append(result.Restored, rf.ID)
		} else {
			result.Updated = append(result.Updated, rf.ID)
		}
	}

	for _, f := range local {
		if seen[f.FolderID] || f.Cached {
			continue
		}
		f.Cached = true
		if f.Status == StatusPending {
			f.Status = ""
		}
		if err := r.store.SaveFolder(ctx, f); err != nil {
			return nil, fmt.Errorf("caching folder %s: %w", f.FolderID, err)
		}
		result.Cached = append(result.Cached, f.FolderID)
	}

	if result.Changed() {
		r.logger.Info("Folder list reconciled",
			"account_id", acct.ID,
			"added", len(result.Added),
			"updated", len(result.Updated),
			"cached", len(result.Cached),
			"restored", len(result.Restored))
		r.notify(Notification{AccountID: acct.ID, Result: *result})
	}

	return result, nil
}

// applyRemote copies server attributes onto f and reports whether anything changed
func applyRemote(f *Folder, rf RemoteFolder, position int) bool {
	parent := rf.ParentID
	if parent == "" {
		parent = RootParentID
	}

	changed := f.Cached
	f.Cached = false
	if f.Name != rf.Name {
		f.Name = rf.Name
		changed = true
	}
	if f.ParentID != parent {
		f.ParentID = parent
		changed = true
	}
	if f.Type != rf.Type {
		f.Type = rf.Type
		changed = true
	}
	if f.Position != position {
		f.Position = position
		changed = true
	}
	return changed
}

// Sorted returns the folders of an account for display: live folders before
// cached ones, then by type, then by name.
func (r *Registry) Sorted(ctx context.Context, accountID string) ([]*Folder, error) {
	folders, err := r.store.ListFolders(ctx, accountID)
	if err != nil {
		return nil, err
	}
	SortFolders(folders)
	return folders, nil
}

// SortFolders orders folders in place for display
func SortFolders(folders []*Folder) {
	sort.SliceStable(folders, func(i, j int) bool {
		a, b := folders[i], folders[j]
		if a.Cached != b.Cached {
			return !a.Cached
		}
		if ra, rb := a.Type.sortRank(), b.Type.sortRank(); ra != rb {
			return ra < rb
		}
		return a.Name < b.Name
	})
}
