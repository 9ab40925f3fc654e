package sync

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/ewsync/internal/loggy"
	"github.com/tildaslashalef/ewsync/internal/testutil"
)

func setupMockRepo(t *testing.T) (*SQLRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewSQLRepository(db, loggy.NewNoopLogger()), mock
}

func TestCreateSyncLog(t *testing.T) {
	repo, mock := setupMockRepo(t)

	log := NewSyncLog("run_1", ScopeFolder, "acc_1", "f1")
	log.MarkFailed(ReasonTimeout, errors.New("request timed out"))

	mock.ExpectExec("INSERT INTO sync_logs").
		WithArgs(sqlmock.AnyArg(), "run_1", "acc_1", "f1", ScopeFolder, ReasonTimeout, false,
			0, 0, "request timed out", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.CreateSyncLog(context.Background(), log))
	assert.NotEmpty(t, log.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSyncLogError(t *testing.T) {
	repo, mock := setupMockRepo(t)

	mock.ExpectExec("INSERT INTO sync_logs").WillReturnError(sql.ErrConnDone)

	err := repo.CreateSyncLog(context.Background(), NewSyncLog("run_1", ScopeAccount, "acc_1", ""))
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatestSyncLogNone(t *testing.T) {
	repo, mock := setupMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM sync_logs WHERE (.+) ORDER BY started_at DESC, id DESC LIMIT 1").
		WithArgs("acc_1", "", ScopeAccount).
		WillReturnRows(sqlmock.NewRows(syncLogColumns))

	log, err := repo.GetLatestSyncLog(context.Background(), "acc_1", "")
	require.NoError(t, err)
	assert.Nil(t, log)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSyncLogsPaging(t *testing.T) {
	repo, mock := setupMockRepo(t)
	started := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(syncLogColumns).
		AddRow("sync_2", "run_2", "acc_1", "", "account", "OK", true, 3, 1, "", started.Add(time.Hour), started.Add(time.Hour+time.Second)).
		AddRow("sync_1", "run_1", "acc_1", "", "account", "timeout", false, 0, 0, "timeout", started, nil)
	mock.ExpectQuery("SELECT (.+) FROM sync_logs WHERE account_id = \\? ORDER BY started_at DESC, id DESC LIMIT 2 OFFSET 1").
		WithArgs("acc_1").
		WillReturnRows(rows)

	logs, err := repo.GetSyncLogs(context.Background(), "acc_1", 2, 1)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "sync_2", logs[0].ID)
	assert.True(t, logs[0].Success)
	assert.Equal(t, time.Second, logs[0].Duration())
	assert.Equal(t, "timeout", logs[1].Status)
	assert.True(t, logs[1].CompletedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncLogsRoundTrip(t *testing.T) {
	repo := NewSQLRepository(testutil.NewTestDB(t), loggy.NewNoopLogger())
	ctx := context.Background()

	first := NewSyncLog("run_1", ScopeAccount, "acc_1", "")
	first.MarkSuccessful(4, 2)
	require.NoError(t, repo.CreateSyncLog(ctx, first))

	second := NewSyncLog("run_2", ScopeAccount, "acc_1", "")
	second.StartedAt = first.StartedAt.Add(time.Minute)
	second.MarkFailed(ReasonAuthFailed, errors.New("401"))
	require.NoError(t, repo.CreateSyncLog(ctx, second))

	other := NewSyncLog("run_3", ScopeAccount, "acc_2", "")
	require.NoError(t, repo.CreateSyncLog(ctx, other))

	latest, err := repo.GetLatestSyncLog(ctx, "acc_1", "")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run_2", latest.RunID)
	assert.Equal(t, ReasonAuthFailed, latest.Status)
	assert.Equal(t, "401", latest.ErrorMessage)

	all, err := repo.GetSyncLogs(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := repo.DeleteSyncLogs(ctx, "acc_1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	latest, err = repo.GetLatestSyncLog(ctx, "acc_1", "")
	require.NoError(t, err)
	assert.Nil(t, latest)
}
