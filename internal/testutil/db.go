// Package testutil provides shared helpers for repository tests.
package testutil

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Cocopuffff/TraderJoe/internal/database"
)

// NewLedgerDB opens an in-memory SQLite database with the full ledger schema
// applied. The connection is closed automatically when the test ends.
func NewLedgerDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	// A :memory: database exists per connection; pin the pool to one so
	// every statement sees the same schema.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if _, err := db.Exec(database.LedgerSchema()); err != nil {
		t.Fatalf("failed to apply ledger schema: %v", err)
	}

	return db
}
