package target

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tildaslashalef/ewsync/internal/ulid"
)

// Adapter is the capability interface of one kind of local store
type Adapter interface {
	Kind() Kind
	// PrimaryKeyField names the payload field correlating local and remote items
	PrimaryKeyField() string
	GeneratePrimaryKey() string
	// LogUserChanges reports whether user edits are queued for upload
	LogUserChanges() bool
	Decode(payload string) (Payload, error)

	CreateTarget(ctx context.Context, name, color string) (*Target, error)
	RemoveTarget(ctx context.Context, id string) error
	RenameTarget(ctx context.Context, id, name string) error
}

// containers implements the target lifecycle shared by every variant
type containers struct {
	kind  Kind
	store Store
}

func (c containers) Kind() Kind { return c.kind }

func (c containers) GeneratePrimaryKey() string {
	return uuid.NewString()
}

func (c containers) CreateTarget(ctx context.Context, name, color string) (*Target, error) {
	now := time.Now().UTC()
	t := &Target{
		ID:        ulid.TargetID(),
		Kind:      c.kind,
		Name:      name,
		Color:     color,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateTarget(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (c containers) RemoveTarget(ctx context.Context, id string) error {
	return c.store.DeleteTarget(ctx, id)
}

func (c containers) RenameTarget(ctx context.Context, id, name string) error {
	t, err := c.store.GetTarget(ctx, id)
	if err != nil {
		return err
	}
	t.Name = name
	return c.store.UpdateTarget(ctx, t)
}

// AddressBook stores contacts and mailing lists as vCards. User edits are
// logged for upload.
type AddressBook struct {
	containers
}

// NewAddressBook creates the address book adapter
func NewAddressBook(store Store) *AddressBook {
	return &AddressBook{containers{kind: KindAddressBook, store: store}}
}

func (a *AddressBook) PrimaryKeyField() string { return "UID" }
func (a *AddressBook) LogUserChanges() bool    { return true }

func (a *AddressBook) Decode(payload string) (Payload, error) {
	return DecodeContact(payload)
}

// Calendar stores events or tasks. User edits are not logged.
type Calendar struct {
	containers
}

// NewCalendar creates a calendar adapter of the given kind
func NewCalendar(kind Kind, store Store) *Calendar {
	return &Calendar{containers{kind: kind, store: store}}
}

func (c *Calendar) PrimaryKeyField() string { return "uid" }
func (c *Calendar) LogUserChanges() bool    { return false }

func (c *Calendar) Decode(payload string) (Payload, error) {
	return DecodeEvent(payload)
}

// AppendStaleSuffix marks the name of an orphaned target, adding a second
// marker when it still holds changes that were never uploaded.
func AppendStaleSuffix(name, staleSuffix, pendingSuffix string, pendingChanges bool) string {
	name = strings.TrimSpace(name)
	if !strings.HasSuffix(name, staleSuffix) && !strings.HasSuffix(name, pendingSuffix) {
		name = strings.TrimSpace(name + " " + staleSuffix)
	}
	if pendingChanges && !strings.HasSuffix(name, pendingSuffix) {
		name = strings.TrimSpace(name + " " + pendingSuffix)
	}
	return name
}

// StripStaleSuffix removes the markers added by AppendStaleSuffix
func StripStaleSuffix(name, staleSuffix, pendingSuffix string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSpace(strings.TrimSuffix(name, pendingSuffix))
	return strings.TrimSpace(strings.TrimSuffix(name, staleSuffix))
}

var (
	// ErrUnsupportedType is returned for folder types without a local store
	ErrUnsupportedType = errors.New("folder type not supported")
	// ErrKindDisabled is returned when the store kind is turned off
	ErrKindDisabled = errors.New("target kind disabled")
	// ErrNoTarget is returned when a target cannot be created or attached
	ErrNoTarget = errors.New("no target")
)

func noTarget(err error) error {
	return fmt.Errorf("%w: %w", ErrNoTarget, err)
}
