// Package account manages EWS accounts: their connection settings, lifecycle
// status and per-account sync bookkeeping.
package account

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tildaslashalef/ewsync/internal/ulid"
	"github.com/tildaslashalef/ewsync/internal/utils"
)

// Provider is the protocol flavor stored on every account
const Provider = "ews"

// Account status values. Failed passes store the failure reason instead.
const (
	StatusDisabled        = "disabled"
	StatusNotSynchronized = "notsyncronized"
	StatusSyncing         = "syncing"
	StatusOK              = "OK"
)

// ServerType selects how the EWS endpoint is found
type ServerType string

const (
	ServerTypeAuto   ServerType = "auto"   // autodiscover from the e-mail domain
	ServerTypeCustom ServerType = "custom" // host given explicitly
)

// AuthMethod selects how requests are authenticated
type AuthMethod string

const (
	AuthBasic  AuthMethod = "basic"
	AuthOAuth2 AuthMethod = "oauth2"
)

// Account represents one configured Exchange account
type Account struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Provider           string     `json:"provider"`
	ServerType         ServerType `json:"server_type"`
	Host               string     `json:"host"`
	EWSURL             string     `json:"ews_url,omitempty"`
	User               string     `json:"user"`
	Email              string     `json:"email"`
	AuthMethod         AuthMethod `json:"auth_method"`
	CredentialRef      string     `json:"credential_ref"`
	HTTPS              bool       `json:"https"`
	Status             string     `json:"status"`
	LastSyncTime       int64      `json:"last_sync_time"` // unix seconds, 0 when never synced
	Autosync           int        `json:"autosync"`       // minutes, 0 disables autosync
	DownloadOnly       bool       `json:"download_only"`
	SyncDefaultFolders bool       `json:"sync_default_folders"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// NewParams are the user-supplied fields for a new account
type NewParams struct {
	Name       string
	Host       string // host, URL, or empty for autodiscover
	User       string
	Email      string
	AuthMethod AuthMethod
	Autosync   int
}

// Default returns an account populated with the default entries
func Default() *Account {
	now := time.Now().UTC()
	return &Account{
		ID:                 ulid.AccountID(),
		Provider:           Provider,
		ServerType:         ServerTypeCustom,
		AuthMethod:         AuthBasic,
		HTTPS:              true,
		Status:             StatusDisabled,
		SyncDefaultFolders: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// New builds an account from user input, normalizing the server address
func New(p NewParams) (*Account, error) {
	acct := Default()
	acct.Name = strings.TrimSpace(p.Name)
	if acct.Name == "" {
		acct.Name = utils.GenerateName()
	}
	acct.User = strings.TrimSpace(p.User)
	acct.Email = strings.TrimSpace(p.Email)
	acct.Autosync = p.Autosync
	if p.AuthMethod != "" {
		acct.AuthMethod = p.AuthMethod
	}
	if acct.Email == "" && strings.Contains(acct.User, "@") {
		acct.Email = acct.User
	}

	if acct.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if acct.AuthMethod != AuthBasic && acct.AuthMethod != AuthOAuth2 {
		return nil, fmt.Errorf("unknown auth method %q", acct.AuthMethod)
	}
	if acct.Autosync < 0 {
		return nil, fmt.Errorf("autosync cannot be negative")
	}
	acct.CredentialRef = CredentialRef(acct)

	if strings.TrimSpace(p.Host) == "" {
		if acct.Email == "" {
			return nil, fmt.Errorf("an e-mail address is required for autodiscover")
		}
		acct.ServerType = ServerTypeAuto
		return acct, nil
	}

	host, https, err := NormalizeHost(p.Host)
	if err != nil {
		return nil, err
	}
	acct.Host = host
	acct.HTTPS = https
	return acct, nil
}

// NormalizeHost accepts a bare host or a URL and returns the host (with any
// non-autodiscover path kept) and whether https is used. A missing scheme means https.
func NormalizeHost(raw string) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parsing server address: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("server address %q has no host", raw)
	}

	var https bool
	switch strings.ToLower(u.Scheme) {
	case "https":
		https = true
	case "http":
		https = false
	default:
		return "", false, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	path := strings.TrimRight(u.Path, "/")
	if strings.Contains(strings.ToLower(path), "autodiscover") {
		path = ""
	}
	return u.Host + path, https, nil
}

// CredentialRef is the keyring key holding the account secret
func CredentialRef(a *Account) string {
	if a.CredentialRef != "" {
		return a.CredentialRef
	}
	return "account:" + a.ID
}

// Enabled reports whether the account takes part in syncing
func (a *Account) Enabled() bool {
	return a.Status != StatusDisabled
}

// Endpoint returns the EWS URL for the account
func (a *Account) Endpoint() string {
	if a.EWSURL != "" {
		return a.EWSURL
	}
	if a.Host == "" {
		return ""
	}

	scheme := "https"
	if !a.HTTPS {
		scheme = "http"
	}
	host := a.Host
	if !strings.Contains(host, "/") {
		host += "/EWS/Exchange.asmx"
	}
	return scheme + "://" + host
}

// AutosyncDue reports whether an autosync pass is due at now
func (a *Account) AutosyncDue(now time.Time) bool {
	if !a.Enabled() || a.Autosync <= 0 || a.Status == StatusSyncing {
		return false
	}
	next := time.Unix(a.LastSyncTime, 0).Add(time.Duration(a.Autosync) * time.Minute)
	return !now.Before(next)
}
