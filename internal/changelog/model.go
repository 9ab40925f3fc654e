// Package changelog records local changes that still have to be pushed to the
// server. There is at most one entry per item; repeated edits are merged.
package changelog

import "time"

// Kind is the kind of local change
type Kind string

const (
	KindAdded    Kind = "added_by_user"
	KindModified Kind = "modified_by_user"
	KindDeleted  Kind = "deleted_by_user"
)

// Actor identifies who made a change
type Actor string

const (
	ActorUser Actor = "user"
	ActorSync Actor = "sync"
)

// Entry is one pending local change
type Entry struct {
	ID       int64  `json:"id"`
	TargetID string `json:"target_id"`
	ItemID   string `json:"item_id"`
	Kind     Kind   `json:"kind"`
	Actor    Actor  `json:"actor"`
	// RemoteID is the server id of the item, empty until the server knows it
	RemoteID  string    `json:"remote_id,omitempty"`
	Revision  int       `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ack confirms that the server accepted an entry at a given revision
type Ack struct {
	EntryID  int64
	Revision int
	// RemoteID is set when the server assigned an id to a newly added item
	RemoteID string
}

// Merge folds a new change into the existing entry for the same item.
// A delete of an item the server never saw stays a delete; the push
// acknowledges it locally once any in-flight add has settled.
func Merge(existing Kind, remoteID string, incoming Kind) Kind {
	switch {
	case incoming == KindDeleted:
		return KindDeleted
	case existing == KindAdded:
		return KindAdded
	case existing == KindDeleted && remoteID == "":
		return KindAdded
	case existing == KindDeleted:
		return KindModified
	case existing == "":
		return incoming
	default:
		return KindModified
	}
}
