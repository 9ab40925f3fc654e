// Package credential keeps account secrets in the operating system keyring
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/config"
)

// ErrNotFound is returned when no secret is stored under a key
var ErrNotFound = errors.New("credential not found")

// Store reads and writes secrets by credential reference
type Store struct {
	ring keyring.Keyring
}

// Open opens the configured keyring
func Open(cfg config.CredentialsConfig) (*Store, error) {
	backends := make([]keyring.BackendType, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		backends = append(backends, keyring.BackendType(b))
	}

	prompt := keyring.PromptFunc(keyring.TerminalPrompt)
	if cfg.FilePassword != "" {
		prompt = keyring.FixedStringPrompt(cfg.FilePassword)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              cfg.Service,
		AllowedBackends:          backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         prompt,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

// New wraps an already opened keyring
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Get retrieves the secret stored under key
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a secret under key
func (s *Store) Set(key, secret string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(secret),
		Label: "ewsync " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes the secret under key. Missing keys are not an error.
func (s *Store) Delete(key string) error {
	if err := s.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Secret returns the secret of an account
func (s *Store) Secret(acct *account.Account) (string, error) {
	return s.Get(account.CredentialRef(acct))
}
