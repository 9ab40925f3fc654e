// Package folder keeps the local registry of server folders and reconciles it
// against the folder list reported by the server.
package folder

import (
	"time"

	"github.com/tildaslashalef/ewsync/internal/account"
)

// Type is the server-side folder type
type Type string

const (
	TypeAddressBook Type = "addressbook"
	TypeCalendar    Type = "calendar"
	TypeTask        Type = "task"
	TypeMail        Type = "mail"
	TypeOther       Type = "other"
)

// Folder status values. Failed syncs store the failure reason instead.
const (
	StatusPending = "pending"
	StatusOK      = "OK"
	StatusAborted = "aborted"
)

// RootParentID is the parent of top-level folders
const RootParentID = "0"

// AutoSelected reports whether new folders of this type are selected by default
func (t Type) AutoSelected() bool {
	switch t {
	case TypeAddressBook, TypeCalendar, TypeTask:
		return true
	default:
		return false
	}
}

// sortRank orders folder types for display
func (t Type) sortRank() int {
	switch t {
	case TypeAddressBook:
		return 0
	case TypeCalendar:
		return 1
	case TypeTask:
		return 2
	default:
		return 3
	}
}

// Folder is the local record of one server folder
type Folder struct {
	AccountID    string    `json:"account_id"`
	FolderID     string    `json:"folder_id"`
	ParentID     string    `json:"parent_id"`
	Name         string    `json:"name"`
	Type         Type      `json:"type"`
	Target       string    `json:"target,omitempty"`
	TargetName   string    `json:"target_name,omitempty"`
	TargetColor  string    `json:"target_color,omitempty"`
	Selected     bool      `json:"selected"`
	Status       string    `json:"status"`
	LastSyncTime int64     `json:"last_sync_time"`
	UseChangelog bool      `json:"use_changelog"`
	DownloadOnly bool      `json:"download_only"`
	Cached       bool      `json:"cached"`
	Cursor       string    `json:"-"`
	Position     int       `json:"position"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RemoteFolder is a folder as reported by the server
type RemoteFolder struct {
	ID       string
	ParentID string
	Name     string
	Type     Type
}

// New returns a folder record with the default entries for acct
func New(acct *account.Account, remote RemoteFolder, position int) *Folder {
	parent := remote.ParentID
	if parent == "" {
		parent = RootParentID
	}

	now := time.Now().UTC()
	return &Folder{
		AccountID:    acct.ID,
		FolderID:     remote.ID,
		ParentID:     parent,
		Name:         remote.Name,
		Type:         remote.Type,
		TargetName:   remote.Name,
		Selected:     acct.SyncDefaultFolders && remote.Type.AutoSelected(),
		UseChangelog: true,
		DownloadOnly: acct.DownloadOnly,
		Position:     position,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Syncable reports whether the folder takes part in a sync pass
func (f *Folder) Syncable() bool {
	return f.Selected && !f.Cached
}

// Key identifies a folder across accounts
func (f *Folder) Key() string {
	return f.AccountID + "/" + f.FolderID
}
