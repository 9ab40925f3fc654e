// Package ulid wraps github.com/oklog/ulid/v2 with prefixed identifiers
// for the records ewsync creates locally: accounts, targets, sync runs,
// sync logs and settings.
//
// Folder ids are never generated here; they are issued by the server.
package ulid

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	PrefixAccount = "acc"
	PrefixTarget  = "tgt"
	PrefixRun     = "run"
	PrefixSync    = "sync"
	PrefixSetting = "set"

	// PrefixSeparator is used to separate the prefix from the ULID
	PrefixSeparator = "-"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
	// Nil represents the zero value of ULID
	Nil = ULID{ulid.ULID{}, ""}
)

// ULID wraps ulid.ULID with an optional prefix
type ULID struct {
	ulid.ULID
	prefix string
}

// Generate creates a new ULID with the current timestamp.
func Generate() ULID {
	return NewWithTime(time.Now())
}

// GenerateWithPrefix creates a new ULID with the current timestamp and a prefix.
func GenerateWithPrefix(prefix string) ULID {
	id := NewWithTime(time.Now())
	id.prefix = prefix
	return id
}

// NewWithTime creates a new ULID with a specific timestamp.
func NewWithTime(t time.Time) ULID {
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyLock.Unlock()
	return ULID{id, ""}
}

// Parse handles both plain and prefixed ("acc-01AN4Z07BY79KA1307SR9X4MV3") ULIDs.
func Parse(id string) (ULID, error) {
	prefix, rawID, found := strings.Cut(id, PrefixSeparator)
	if !found {
		rawID, prefix = id, ""
	}

	parsed, err := ulid.Parse(rawID)
	if err != nil {
		return ULID{}, err
	}

	return ULID{parsed, prefix}, nil
}

// Validate reports whether id is a plain or prefixed ULID.
func Validate(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// HasPrefix reports whether id is a valid ULID carrying the given prefix.
func HasPrefix(id, prefix string) bool {
	parsed, err := Parse(id)
	return err == nil && parsed.prefix == prefix
}

// IsZero returns true if the ULID is the zero value.
func (u ULID) IsZero() bool {
	return u.ULID == ulid.ULID{}
}

// Prefix returns the prefix of the ULID.
func (u ULID) Prefix() string {
	return u.prefix
}

// String returns "prefix-ulid" when a prefix is set.
func (u ULID) String() string {
	if u.prefix != "" {
		return u.prefix + PrefixSeparator + u.ULID.String()
	}
	return u.ULID.String()
}

// Time returns the timestamp component of the ULID.
func (u ULID) Time() time.Time {
	return ulid.Time(u.ULID.Time())
}

// Value implements driver.Valuer; ULIDs are stored as strings.
func (u ULID) Value() (driver.Value, error) {
	return u.String(), nil
}

// Scan implements sql.Scanner.
func (u *ULID) Scan(src any) error {
	switch src := src.(type) {
	case nil:
		return nil
	case string:
		parsed, err := Parse(src)
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(src))
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	}
	return fmt.Errorf("cannot scan %T into ULID", src)
}

// AccountID generates a new account id
func AccountID() string {
	return GenerateWithPrefix(PrefixAccount).String()
}

// TargetID generates a new local target id
func TargetID() string {
	return GenerateWithPrefix(PrefixTarget).String()
}

// RunID generates a new sync run id
func RunID() string {
	return GenerateWithPrefix(PrefixRun).String()
}

// SyncID generates a new sync log id
func SyncID() string {
	return GenerateWithPrefix(PrefixSync).String()
}

// SettingID generates a new setting id
func SettingID() string {
	return GenerateWithPrefix(PrefixSetting).String()
}
