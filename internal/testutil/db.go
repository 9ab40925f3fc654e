// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/config"
	"github.com/tildaslashalef/ewsync/internal/database"
	"github.com/tildaslashalef/ewsync/internal/loggy"
)

// NewTestDB opens a private in-memory SQLite database with all migrations
// applied. It is closed when the test completes.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := database.Open(&config.DatabaseConfig{
		Path: "file::memory:?cache=private&_foreign_keys=true",
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	t.Cleanup(func() {
		if err := conn.Close(); err != nil {
			t.Errorf("closing test database: %v", err)
		}
	})

	if err := database.Migrate(conn); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return conn
}

// CreateAccount stores an enabled account with default entries
func CreateAccount(t *testing.T, conn *sql.DB, mutate ...func(*account.Account)) *account.Account {
	t.Helper()

	acct := account.Default()
	acct.Name = "test"
	acct.Host = "mail.example.com"
	acct.User = "user@example.com"
	acct.Email = "user@example.com"
	acct.Status = account.StatusNotSynchronized
	acct.CredentialRef = account.CredentialRef(acct)
	for _, fn := range mutate {
		fn(acct)
	}

	store := account.NewSQLRepository(conn, loggy.NewNoopLogger())
	if err := store.CreateAccount(context.Background(), acct); err != nil {
		t.Fatalf("creating test account: %v", err)
	}
	return acct
}
