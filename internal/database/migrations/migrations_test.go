package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	for _, table := range []string{"exports", "export_artifacts", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Fresh database should need migration
	err := CheckDBMigrationStatus(db)
	if err == nil {
		t.Fatal("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}

	// Error should mention needing migration
	if !errors.Is(err, ErrNoVersion) {
		t.Errorf("CheckDBMigrationStatus() error = %v, want ErrNoVersion", err)
	}
}

func TestCheckDBMigrationStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Migrate up
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// Status should be OK now
	err := CheckDBMigrationStatus(db)
	if err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Run migration twice
	if err := MigrateUp(db); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}

	if err := MigrateUp(db); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}

	// Status should still be OK
	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec("INSERT INTO export_artifacts (export_id, path) VALUES ('missing', 'Windows/Mod.info')")
	if err == nil {
		t.Error("Expected foreign key constraint violation, but insert succeeded")
	}
}

func TestSchema_ArtifactsCascade(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if _, err := db.Exec("INSERT INTO exports (id, mod_name, status, started_at) VALUES ('e1', 'Mod', 'success', datetime('now'))"); err != nil {
		t.Fatalf("Failed to insert export: %v", err)
	}
	if _, err := db.Exec("INSERT INTO export_artifacts (export_id, path) VALUES ('e1', 'Mod.rootinfo')"); err != nil {
		t.Fatalf("Failed to insert artifact: %v", err)
	}
	if _, err := db.Exec("DELETE FROM exports WHERE id = 'e1'"); err != nil {
		t.Fatalf("Failed to delete export: %v", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM export_artifacts").Scan(&n); err != nil {
		t.Fatalf("Failed to count artifacts: %v", err)
	}
	if n != 0 {
		t.Errorf("artifacts after delete = %d, want 0", n)
	}
}

func TestLatestVersion(t *testing.T) {
	got, err := LatestVersion()
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if got != 1 {
		t.Errorf("LatestVersion() = %d, want 1", got)
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	return db
}
