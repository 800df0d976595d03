package migrate_test

import (
	"testing"

	"taskline/internal/db"
	"taskline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	v, err := migrate.Version(conn)
	if err != nil {
		t.Fatalf("version before migrate: %v", err)
	}
	if v != 0 {
		t.Fatalf("fresh store version = %d, want 0", v)
	}

	for i := 0; i < 2; i++ {
		if err := migrate.Migrate(conn); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	v, err = migrate.Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != migrate.Current {
		t.Fatalf("version = %d, want %d", v, migrate.Current)
	}

	// Core tables exist.
	for _, table := range []string{"issues", "dependencies", "events", "comments", "labels", "config"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
