package account

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/ewsync/internal/loggy"
)

func setupTestRepo(t *testing.T) (Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewSQLRepository(db, loggy.NewNoopLogger()), mock
}

func accountRow(a *Account) *sqlmock.Rows {
	return sqlmock.NewRows(accountColumns).AddRow(
		a.ID, a.Name, a.Provider, string(a.ServerType), a.Host, a.EWSURL, a.User, a.Email,
		string(a.AuthMethod), a.CredentialRef, a.HTTPS, a.Status, a.LastSyncTime, a.Autosync,
		a.DownloadOnly, a.SyncDefaultFolders, a.CreatedAt, a.UpdatedAt,
	)
}

func TestCreateAccount(t *testing.T) {
	repo, mock := setupTestRepo(t)
	acct, err := New(NewParams{Name: "work", Host: "mail.example.com", User: "jdoe"})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO accounts").
		WithArgs(
			acct.ID, "work", Provider, "custom", "mail.example.com", "", "jdoe", "",
			"basic", acct.CredentialRef, true, StatusDisabled, int64(0), 0, false, true,
			sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.CreateAccount(context.Background(), acct))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccount(t *testing.T) {
	repo, mock := setupTestRepo(t)
	want := Default()
	want.Name = "work"
	want.Host = "mail.example.com"
	want.CreatedAt = time.Now().UTC().Truncate(time.Second)
	want.UpdatedAt = want.CreatedAt

	mock.ExpectQuery("SELECT .+ FROM accounts WHERE id = ?").
		WithArgs(want.ID).
		WillReturnRows(accountRow(want))

	got, err := repo.GetAccount(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	mock.ExpectQuery("SELECT .+ FROM accounts WHERE id = ?").
		WithArgs("acc-missing").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetAccount(context.Background(), "acc-missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAccounts(t *testing.T) {
	repo, mock := setupTestRepo(t)
	a1, a2 := Default(), Default()

	rows := accountRow(a1)
	rows.AddRow(
		a2.ID, a2.Name, a2.Provider, string(a2.ServerType), a2.Host, a2.EWSURL, a2.User, a2.Email,
		string(a2.AuthMethod), a2.CredentialRef, a2.HTTPS, a2.Status, a2.LastSyncTime, a2.Autosync,
		a2.DownloadOnly, a2.SyncDefaultFolders, a2.CreatedAt, a2.UpdatedAt,
	)
	mock.ExpectQuery("SELECT .+ FROM accounts ORDER BY created_at ASC").WillReturnRows(rows)

	accounts, err := repo.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, a1.ID, accounts[0].ID)
	assert.Equal(t, a2.ID, accounts[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusNotFound(t *testing.T) {
	repo, mock := setupTestRepo(t)

	mock.ExpectExec("UPDATE accounts SET status = \\?, updated_at = \\? WHERE id = \\?").
		WithArgs(StatusSyncing, sqlmock.AnyArg(), "acc-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetStatus(context.Background(), "acc-missing", StatusSyncing)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishSyncOnlyWhileSyncing(t *testing.T) {
	repo, mock := setupTestRepo(t)

	mock.ExpectExec("UPDATE accounts SET status = \\?, last_sync_time = \\?, updated_at = \\? WHERE id = \\? AND status = \\?").
		WithArgs("OK", int64(1700000000), sqlmock.AnyArg(), "acc-1", StatusSyncing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE accounts SET status = \\?, last_sync_time = \\?, updated_at = \\? WHERE id = \\? AND status = \\?").
		WithArgs("OK", int64(1700000000), sqlmock.AnyArg(), "acc-2", StatusSyncing).
		WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err := repo.FinishSync(context.Background(), "acc-1", "OK", 1700000000)
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = repo.FinishSync(context.Background(), "acc-2", "OK", 1700000000)
	require.NoError(t, err)
	assert.False(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetEndpoint(t *testing.T) {
	repo, mock := setupTestRepo(t)

	mock.ExpectExec("UPDATE accounts SET ews_url = \\?, updated_at = \\? WHERE id = \\?").
		WithArgs("https://mail.example.com/EWS/Exchange.asmx", sqlmock.AnyArg(), "acc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetEndpoint(context.Background(), "acc-1", "https://mail.example.com/EWS/Exchange.asmx"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAccount(t *testing.T) {
	repo, mock := setupTestRepo(t)

	mock.ExpectExec("DELETE FROM accounts WHERE id = \\?").
		WithArgs("acc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteAccount(context.Background(), "acc-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
