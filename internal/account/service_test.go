package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/ewsync/internal/loggy"
)

type memStore struct {
	accounts map[string]*Account
}

func newMemStore() *memStore {
	return &memStore{accounts: map[string]*Account{}}
}

func (m *memStore) CreateAccount(_ context.Context, a *Account) error {
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *memStore) GetAccount(_ context.Context, id string) (*Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListAccounts(context.Context) ([]*Account, error) {
	var out []*Account
	for _, a := range m.accounts {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) UpdateAccount(_ context.Context, a *Account) error {
	if _, ok := m.accounts[a.ID]; !ok {
		return ErrAccountNotFound
	}
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *memStore) SetStatus(_ context.Context, id, status string) error {
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.Status = status
	return nil
}

func (m *memStore) FinishSync(_ context.Context, id, status string, at int64) (bool, error) {
	a, ok := m.accounts[id]
	if !ok || a.Status != StatusSyncing {
		return false, nil
	}
	a.Status = status
	a.LastSyncTime = at
	return true, nil
}

func (m *memStore) SetEndpoint(_ context.Context, id, url string) error {
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.EWSURL = url
	return nil
}

func (m *memStore) DeleteAccount(_ context.Context, id string) error {
	delete(m.accounts, id)
	return nil
}

type memSecrets map[string]string

func (m memSecrets) Set(key, secret string) error { m[key] = secret; return nil }
func (m memSecrets) Delete(key string) error      { delete(m, key); return nil }

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	secrets := memSecrets{}
	svc := NewServiceWithStore(newMemStore(), secrets, loggy.NewNoopLogger())

	acct, err := svc.Add(ctx, NewParams{Name: "work", Host: "mail.example.com", User: "jdoe"}, "pw")
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, acct.Status)
	assert.Equal(t, "pw", secrets[acct.CredentialRef])

	acct.LastSyncTime = 1234
	require.NoError(t, svc.Update(ctx, acct))

	enabled, err := svc.Enable(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNotSynchronized, enabled.Status)
	assert.Zero(t, enabled.LastSyncTime)

	disabled, err := svc.Disable(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, disabled.Status)

	require.NoError(t, svc.Remove(ctx, acct.ID))
	_, err = svc.Get(ctx, acct.ID)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.Empty(t, secrets)
}
