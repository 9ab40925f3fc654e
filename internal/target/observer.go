package target

import (
	"context"
	"fmt"

	"github.com/tildaslashalef/ewsync/internal/changelog"
)

// ChangeType is the kind of local mutation
type ChangeType string

const (
	ItemCreated      ChangeType = "item.created"
	ItemModified     ChangeType = "item.modified"
	ItemDeleted      ChangeType = "item.deleted"
	ListChanged      ChangeType = "list.changed"
	ContainerRenamed ChangeType = "container.renamed"
	ContainerDeleted ChangeType = "container.deleted"
)

// Change describes one local mutation
type Change struct {
	Type    ChangeType
	Actor   changelog.Actor
	Adapter Adapter
	Target  *Target
	// Item is nil for container events
	Item *Item
}

// Observer is notified of local mutations
type Observer interface {
	Observe(ctx context.Context, ev Change) error
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, ev Change) error

func (f ObserverFunc) Observe(ctx context.Context, ev Change) error {
	return f(ctx, ev)
}

// ChangelogObserver queues user edits of logging targets for upload
type ChangelogObserver struct {
	store changelog.Store
}

// NewChangelogObserver creates an observer appending to store
func NewChangelogObserver(store changelog.Store) *ChangelogObserver {
	return &ChangelogObserver{store: store}
}

// Observe appends one changelog entry per user item mutation
func (o *ChangelogObserver) Observe(ctx context.Context, ev Change) error {
	if ev.Actor != changelog.ActorUser || ev.Item == nil {
		return nil
	}
	if ev.Adapter == nil || !ev.Adapter.LogUserChanges() {
		return nil
	}

	var kind changelog.Kind
	switch ev.Type {
	case ItemCreated:
		kind = changelog.KindAdded
	case ItemModified, ListChanged:
		kind = changelog.KindModified
	case ItemDeleted:
		kind = changelog.KindDeleted
	default:
		return nil
	}

	if _, err := o.store.Append(ctx, ev.Target.ID, ev.Item.ID, kind, ev.Item.RemoteID); err != nil {
		return fmt.Errorf("logging %s of item %s: %w", ev.Type, ev.Item.ID, err)
	}
	return nil
}
