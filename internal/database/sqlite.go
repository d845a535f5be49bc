// Package database records export runs in SQLite.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"modtool-go/internal/database/migrations"
	"modtool-go/internal/modtool"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteHistory implements modtool.History on a SQLite database.
type SQLiteHistory struct {
	db    *sql.DB
	path  string
	clock modtool.Clock
}

var _ modtool.History = (*SQLiteHistory)(nil)

// NewSQLiteHistory opens (creating if needed) the database at path and
// migrates it to the latest schema. path can be ":memory:".
func NewSQLiteHistory(path string, clock modtool.Clock) (*SQLiteHistory, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return NewSQLiteHistoryFromDB(db, path, clock), nil
}

// NewSQLiteHistoryFromDB wraps an existing, migrated connection.
func NewSQLiteHistoryFromDB(db *sql.DB, path string, clock modtool.Clock) *SQLiteHistory {
	if clock == nil {
		clock = modtool.RealClock{}
	}
	return &SQLiteHistory{db: db, path: path, clock: clock}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Artifacts reference their export row.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// StartExport inserts a row for rec. StartedAt is set from the clock when
// zero.
func (h *SQLiteHistory) StartExport(rec *modtool.ExportRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = h.clock.Now()
	}
	if rec.Status == "" {
		rec.Status = modtool.StatusRunning
	}
	_, err := h.db.Exec(`
		INSERT INTO exports (id, mod_name, version, platforms, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ModName, rec.Version, int(rec.Platforms), rec.Status, rec.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording export start: %w", err)
	}
	return nil
}

// FinishExport updates the row for rec and replaces its artifact list.
// A suspended export keeps FinishedAt empty.
func (h *SQLiteHistory) FinishExport(rec *modtool.ExportRecord) error {
	var finished sql.NullTime
	if rec.Status != modtool.StatusSuspended {
		if rec.FinishedAt.IsZero() {
			rec.FinishedAt = h.clock.Now()
		}
		finished = sql.NullTime{Time: rec.FinishedAt.UTC(), Valid: true}
	}

	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE exports
		SET platforms = ?, status = ?, failed_stage = ?, error = ?, warnings = ?, finished_at = ?
		WHERE id = ?`,
		int(rec.Platforms), rec.Status, rec.FailedStage, rec.Error, rec.Warnings, finished, rec.ID)
	if err != nil {
		return fmt.Errorf("recording export finish: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("recording export finish: no export with id %s", rec.ID)
	}

	if _, err := tx.Exec("DELETE FROM export_artifacts WHERE export_id = ?", rec.ID); err != nil {
		return fmt.Errorf("clearing artifacts: %w", err)
	}
	for _, a := range rec.Artifacts {
		if _, err := tx.Exec("INSERT OR IGNORE INTO export_artifacts (export_id, path) VALUES (?, ?)", rec.ID, a); err != nil {
			return fmt.Errorf("recording artifact %s: %w", a, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing export finish: %w", err)
	}
	return nil
}

// ListExports returns up to limit exports, newest first.
func (h *SQLiteHistory) ListExports(limit int) ([]*modtool.ExportRecord, error) {
	rows, err := h.db.Query(`
		SELECT id, mod_name, version, platforms, status, failed_stage, error, warnings, started_at, finished_at
		FROM exports
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing exports: %w", err)
	}
	defer rows.Close()

	var records []*modtool.ExportRecord
	for rows.Next() {
		var (
			rec       modtool.ExportRecord
			platforms int
			finished  sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.ModName, &rec.Version, &platforms, &rec.Status,
			&rec.FailedStage, &rec.Error, &rec.Warnings, &rec.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning export: %w", err)
		}
		rec.Platforms = modtool.Platform(platforms)
		if finished.Valid {
			rec.FinishedAt = finished.Time
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing exports: %w", err)
	}

	for _, rec := range records {
		if rec.Artifacts, err = h.artifacts(rec.ID); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (h *SQLiteHistory) artifacts(id string) ([]string, error) {
	rows, err := h.db.Query("SELECT path FROM export_artifacts WHERE export_id = ? ORDER BY path", id)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (h *SQLiteHistory) Path() string {
	return h.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (h *SQLiteHistory) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(h.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (h *SQLiteHistory) BackupTo(destPath string) error {
	if _, err := h.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (h *SQLiteHistory) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}
