package target

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tildaslashalef/ewsync/internal/changelog"
	"github.com/tildaslashalef/ewsync/internal/config"
	"github.com/tildaslashalef/ewsync/internal/folder"
	"github.com/tildaslashalef/ewsync/internal/loggy"
)

// Manager binds folders to targets and routes item mutations through the
// registered observers
type Manager struct {
	store   Store
	folders folder.Store
	changes changelog.Store
	cfg     config.TargetsConfig
	logger  *loggy.Logger

	addressBook *AddressBook
	events      *Calendar
	todos       *Calendar

	mu        sync.RWMutex
	observers []Observer
}

// NewManager creates a target manager. The changelog observer is always registered.
func NewManager(store Store, folders folder.Store, changes changelog.Store, cfg config.TargetsConfig, logger *loggy.Logger) *Manager {
	m := &Manager{
		store:       store,
		folders:     folders,
		changes:     changes,
		cfg:         cfg,
		logger:      logger,
		addressBook: NewAddressBook(store),
		events:      NewCalendar(KindEventCalendar, store),
		todos:       NewCalendar(KindTodoCalendar, store),
	}
	m.Subscribe(NewChangelogObserver(changes))
	return m
}

// Store returns the underlying target store
func (m *Manager) Store() Store {
	return m.store
}

// Subscribe registers an observer for local mutations
func (m *Manager) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Manager) notify(ctx context.Context, ev Change) error {
	m.mu.RLock()
	observers := append([]Observer(nil), m.observers...)
	m.mu.RUnlock()

	var errs []error
	for _, o := range observers {
		if err := o.Observe(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AdapterFor returns the adapter serving a folder type
func (m *Manager) AdapterFor(t folder.Type) (Adapter, error) {
	switch t {
	case folder.TypeAddressBook:
		return m.addressBook, nil
	case folder.TypeCalendar, folder.TypeTask:
		if !m.cfg.CalendarEnabled {
			return nil, ErrKindDisabled
		}
		if t == folder.TypeTask {
			return m.todos, nil
		}
		return m.events, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func (m *Manager) adapterForKind(k Kind) (Adapter, error) {
	switch k {
	case KindAddressBook:
		return m.addressBook, nil
	case KindEventCalendar:
		return m.events, nil
	case KindTodoCalendar:
		return m.todos, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, k)
	}
}

func (m *Manager) resolve(ctx context.Context, targetID string) (*Target, Adapter, error) {
	t, err := m.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := m.adapterForKind(t.Kind)
	if err != nil {
		return nil, nil, err
	}
	return t, adapter, nil
}

// EnsureTarget returns the live target of f, creating it on first use or
// reattaching a target orphaned earlier. Only the binding columns of the
// folder are written.
func (m *Manager) EnsureTarget(ctx context.Context, f *folder.Folder) (*Target, Adapter, error) {
	adapter, err := m.AdapterFor(f.Type)
	if err != nil {
		return nil, nil, err
	}

	if f.Target != "" {
		t, err := m.store.GetTarget(ctx, f.Target)
		switch {
		case err == nil && t.Kind == adapter.Kind():
			if t.Orphaned || t.FolderID != f.FolderID || t.AccountID != f.AccountID {
				if err := m.reattach(ctx, f, t); err != nil {
					return nil, nil, noTarget(err)
				}
			}
			return t, adapter, nil
		case err != nil && !errors.Is(err, ErrTargetNotFound):
			return nil, nil, noTarget(err)
		}
	}

	name := f.TargetName
	if name == "" {
		name = f.Name
	}
	t, err := adapter.CreateTarget(ctx, name, f.TargetColor)
	if err != nil {
		return nil, nil, noTarget(err)
	}
	t.AccountID = f.AccountID
	t.FolderID = f.FolderID
	if err := m.store.UpdateTarget(ctx, t); err != nil {
		return nil, nil, noTarget(err)
	}

	f.Target = t.ID
	f.TargetName = t.Name
	if err := m.folders.BindTarget(ctx, f.AccountID, f.FolderID, t.ID, t.Name); err != nil {
		return nil, nil, noTarget(err)
	}

	m.logger.Info("Created target", "account_id", f.AccountID, "folder_id", f.FolderID, "target_id", t.ID, "kind", t.Kind)
	return t, adapter, nil
}

func (m *Manager) reattach(ctx context.Context, f *folder.Folder, t *Target) error {
	t.Orphaned = false
	t.AccountID = f.AccountID
	t.FolderID = f.FolderID
	t.Name = StripStaleSuffix(t.Name, m.cfg.StaleSuffix, m.cfg.PendingSuffix)
	if err := m.store.UpdateTarget(ctx, t); err != nil {
		return err
	}

	if f.TargetName != t.Name {
		f.TargetName = t.Name
		if err := m.folders.BindTarget(ctx, f.AccountID, f.FolderID, t.ID, t.Name); err != nil {
			return err
		}
	}
	m.logger.Info("Reattached target", "account_id", f.AccountID, "folder_id", f.FolderID, "target_id", t.ID)
	return nil
}

// Detach orphans the target of a folder that was deselected, disappeared
// or whose account was disabled. The target and its items are kept.
func (m *Manager) Detach(ctx context.Context, f *folder.Folder) error {
	if f.Target == "" {
		return nil
	}

	t, err := m.store.GetTarget(ctx, f.Target)
	if err != nil {
		if errors.Is(err, ErrTargetNotFound) {
			return nil
		}
		return fmt.Errorf("loading target to detach: %w", err)
	}
	if t.Orphaned {
		return nil
	}

	pending, err := m.changes.Count(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("counting pending changes: %w", err)
	}

	t.Name = AppendStaleSuffix(t.Name, m.cfg.StaleSuffix, m.cfg.PendingSuffix, pending > 0)
	t.Orphaned = true
	if err := m.store.UpdateTarget(ctx, t); err != nil {
		return fmt.Errorf("orphaning target: %w", err)
	}

	m.logger.Info("Detached target", "folder_id", f.FolderID, "target_id", t.ID, "pending_changes", pending)
	return nil
}

// ResetTarget drops the target of a folder with its items and pending
// changes, so the next sync starts from scratch
func (m *Manager) ResetTarget(ctx context.Context, f *folder.Folder) error {
	if f.Target != "" {
		if _, err := m.changes.DeleteTarget(ctx, f.Target); err != nil {
			return fmt.Errorf("dropping changelog: %w", err)
		}
		if err := m.store.DeleteTarget(ctx, f.Target); err != nil {
			return fmt.Errorf("dropping target: %w", err)
		}
	}

	f.Target = ""
	f.Cursor = ""
	f.LastSyncTime = 0
	f.Status = ""
	if err := m.folders.SaveFolder(ctx, f); err != nil {
		return fmt.Errorf("saving reset folder: %w", err)
	}
	return nil
}

// CreateItem adds an item as a user edit
func (m *Manager) CreateItem(ctx context.Context, targetID string, p Payload) (*Item, error) {
	t, adapter, err := m.resolve(ctx, targetID)
	if err != nil {
		return nil, err
	}

	if p.UID() == "" {
		p.SetUID(adapter.GeneratePrimaryKey())
	}
	if _, err := m.store.GetItem(ctx, targetID, p.UID()); err == nil {
		return nil, fmt.Errorf("item %s already exists", p.UID())
	}

	item := &Item{TargetID: targetID, ID: p.UID()}
	if err := fill(item, p); err != nil {
		return nil, err
	}
	if err := m.store.PutItem(ctx, item); err != nil {
		return nil, err
	}
	return item, m.notify(ctx, Change{Type: ItemCreated, Actor: changelog.ActorUser, Adapter: adapter, Target: t, Item: item})
}

// UpdateItem replaces the content of an item as a user edit
func (m *Manager) UpdateItem(ctx context.Context, targetID, itemID string, p Payload) (*Item, error) {
	t, adapter, err := m.resolve(ctx, targetID)
	if err != nil {
		return nil, err
	}

	item, err := m.store.GetItem(ctx, targetID, itemID)
	if err != nil {
		return nil, err
	}
	p.SetUID(itemID)
	if err := fill(item, p); err != nil {
		return nil, err
	}
	if err := m.store.PutItem(ctx, item); err != nil {
		return nil, err
	}

	evType := ItemModified
	if c, ok := p.(*Contact); ok && c.IsList() {
		evType = ListChanged
	}
	return item, m.notify(ctx, Change{Type: evType, Actor: changelog.ActorUser, Adapter: adapter, Target: t, Item: item})
}

// DeleteItem removes an item as a user edit
func (m *Manager) DeleteItem(ctx context.Context, targetID, itemID string) error {
	t, adapter, err := m.resolve(ctx, targetID)
	if err != nil {
		return err
	}

	item, err := m.store.GetItem(ctx, targetID, itemID)
	if err != nil {
		return err
	}
	if err := m.store.DeleteItem(ctx, targetID, itemID); err != nil {
		return err
	}
	return m.notify(ctx, Change{Type: ItemDeleted, Actor: changelog.ActorUser, Adapter: adapter, Target: t, Item: item})
}

// RenameTarget renames a target as a user edit and keeps the folder's
// target name in step
func (m *Manager) RenameTarget(ctx context.Context, targetID, name string) error {
	t, adapter, err := m.resolve(ctx, targetID)
	if err != nil {
		return err
	}
	if err := adapter.RenameTarget(ctx, targetID, name); err != nil {
		return err
	}
	t.Name = name

	if t.FolderID != "" && !t.Orphaned {
		f, err := m.folders.GetFolder(ctx, t.AccountID, t.FolderID)
		if err == nil {
			f.TargetName = name
			if err := m.folders.SaveFolder(ctx, f); err != nil {
				return err
			}
		} else if !errors.Is(err, folder.ErrFolderNotFound) {
			return err
		}
	}
	return m.notify(ctx, Change{Type: ContainerRenamed, Actor: changelog.ActorUser, Adapter: adapter, Target: t})
}

// RemoveTarget deletes a target as a user action. Its folder is deselected
// so the next sync does not recreate it.
func (m *Manager) RemoveTarget(ctx context.Context, targetID string) error {
	t, adapter, err := m.resolve(ctx, targetID)
	if err != nil {
		return err
	}

	if _, err := m.changes.DeleteTarget(ctx, targetID); err != nil {
		return fmt.Errorf("dropping changelog: %w", err)
	}
	if err := adapter.RemoveTarget(ctx, targetID); err != nil {
		return err
	}

	if t.FolderID != "" {
		f, err := m.folders.GetFolder(ctx, t.AccountID, t.FolderID)
		if err == nil && f.Target == targetID {
			f.Target = ""
			f.Selected = false
			f.Cursor = ""
			if err := m.folders.SaveFolder(ctx, f); err != nil {
				return err
			}
		} else if err != nil && !errors.Is(err, folder.ErrFolderNotFound) {
			return err
		}
	}
	return m.notify(ctx, Change{Type: ContainerDeleted, Actor: changelog.ActorUser, Adapter: adapter, Target: t})
}

// ApplyRemote applies one server change to a target. Updates to items with
// pending local changes are skipped; the local change wins on push.
func (m *Manager) ApplyRemote(ctx context.Context, t *Target, adapter Adapter, ch RemoteChange) error {
	existing, err := m.store.GetItemByRemoteID(ctx, t.ID, ch.RemoteID)
	if err != nil && !errors.Is(err, ErrItemNotFound) {
		return err
	}

	if ch.Op == OpDelete {
		if existing == nil {
			return nil
		}
		if err := m.changes.Discard(ctx, t.ID, existing.ID); err != nil {
			return err
		}
		if err := m.store.DeleteItem(ctx, t.ID, existing.ID); err != nil && !errors.Is(err, ErrItemNotFound) {
			return err
		}
		return m.notify(ctx, Change{Type: ItemDeleted, Actor: changelog.ActorSync, Adapter: adapter, Target: t, Item: existing})
	}

	if ch.Payload == nil {
		return fmt.Errorf("change %s for %s has no payload", ch.Op, ch.RemoteID)
	}

	evType := ItemModified
	item := existing
	if item == nil {
		evType = ItemCreated
		id := ch.Payload.UID()
		if id == "" {
			id = adapter.GeneratePrimaryKey()
		}
		item = &Item{TargetID: t.ID, ID: id}
	}

	pending, err := m.changes.Pending(ctx, t.ID, item.ID)
	if err != nil {
		return err
	}
	if pending != nil && pending.Kind != changelog.KindAdded {
		m.logger.Debug("Skipping remote change to locally modified item", "target_id", t.ID, "item_id", item.ID)
		return nil
	}

	ch.Payload.SetUID(item.ID)
	if err := fill(item, ch.Payload); err != nil {
		return err
	}
	item.RemoteID = ch.RemoteID
	item.ChangeKey = ch.ChangeKey
	if err := m.store.PutItem(ctx, item); err != nil {
		return err
	}
	return m.notify(ctx, Change{Type: evType, Actor: changelog.ActorSync, Adapter: adapter, Target: t, Item: item})
}

// RecordRemoteID stores the server id and change key returned for an uploaded item
func (m *Manager) RecordRemoteID(ctx context.Context, targetID, itemID, remoteID, changeKey string) error {
	item, err := m.store.GetItem(ctx, targetID, itemID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil
		}
		return err
	}
	if remoteID != "" {
		item.RemoteID = remoteID
	}
	if changeKey != "" {
		item.ChangeKey = changeKey
	}
	return m.store.PutItem(ctx, item)
}

// Item returns one item with its decoded payload
func (m *Manager) Item(ctx context.Context, targetID, itemID string) (*Item, Payload, error) {
	_, adapter, err := m.resolve(ctx, targetID)
	if err != nil {
		return nil, nil, err
	}
	item, err := m.store.GetItem(ctx, targetID, itemID)
	if err != nil {
		return nil, nil, err
	}
	p, err := adapter.Decode(item.Payload)
	if err != nil {
		return nil, nil, err
	}
	return item, p, nil
}

func fill(item *Item, p Payload) error {
	encoded, err := p.Encode()
	if err != nil {
		return err
	}
	item.Payload = encoded
	item.Summary = p.Summary()
	return nil
}
