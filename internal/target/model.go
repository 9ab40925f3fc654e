// Package target manages the local stores (address books and calendars) bound
// to server folders, their items, and the observers notified on local change.
package target

import "time"

// Kind is the kind of local store
type Kind string

const (
	KindAddressBook   Kind = "addressbook"
	KindEventCalendar Kind = "calendar"
	KindTodoCalendar  Kind = "tasks"
)

// Target is a local store bound to at most one folder
type Target struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	AccountID string    `json:"account_id"`
	FolderID  string    `json:"folder_id"`
	Orphaned  bool      `json:"orphaned"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item is one contact, event or task in a target
type Item struct {
	TargetID  string    `json:"target_id"`
	ID        string    `json:"id"`
	RemoteID  string    `json:"remote_id,omitempty"`
	ChangeKey string    `json:"change_key,omitempty"`
	Summary   string    `json:"summary"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChangeOp is the operation of a change received from the server
type ChangeOp string

const (
	OpCreate ChangeOp = "create"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// RemoteChange is one server-side change to apply locally
type RemoteChange struct {
	Op        ChangeOp
	RemoteID  string
	ChangeKey string
	// Payload is nil for deletes
	Payload Payload
}
