package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MrEthical07/goIdentity/eventstore/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := Open(context.Background(), Config{Dialect: DialectSQLite, DSN: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return openTestStore(t)
	})
}

func TestMigrationsAreIdempotent(t *testing.T) {
	store := openTestStore(t)
	if err := applyMigrations(context.Background(), store.db, store.dialect); err != nil {
		t.Fatalf("second applyMigrations failed: %v", err)
	}

	var count int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM " + migrationTable).Scan(&count); err != nil {
		t.Fatalf("count migrations failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 recorded migration, got %d", count)
	}
}

func TestRebindNumbersPlaceholders(t *testing.T) {
	pg, err := lookupDialect("postgres")
	if err != nil {
		t.Fatalf("lookupDialect failed: %v", err)
	}
	got := pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?")
	if got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Fatalf("unexpected rebind output %q", got)
	}

	lite, err := lookupDialect("sqlite")
	if err != nil {
		t.Fatalf("lookupDialect failed: %v", err)
	}
	if q := lite.rebind("x = ?"); q != "x = ?" {
		t.Fatalf("sqlite rebind must be identity, got %q", q)
	}

	if _, err := lookupDialect("oracle"); err == nil {
		t.Fatal("expected unsupported dialect error")
	}
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (x INT);\n-- +migrate Down\nDROP TABLE a;\n"
	if got := extractUpMigration(content); got != "\nCREATE TABLE a (x INT);\n" {
		t.Fatalf("unexpected up section %q", got)
	}
}
