package database

import (
	"path/filepath"
	"testing"
	"time"

	"modtool-go/internal/modtool"
	"modtool-go/internal/testutil"
)

// newTestHistory creates a new in-memory history with migrations applied.
func newTestHistory(t *testing.T) *SQLiteHistory {
	t.Helper()

	h, err := NewSQLiteHistory(":memory:", testutil.FixedClock())
	if err != nil {
		t.Fatalf("failed to create history: %v", err)
	}
	t.Cleanup(func() {
		h.Close()
	})
	return h
}

func TestSQLiteHistory_StartExport(t *testing.T) {
	t.Run("records running export", func(t *testing.T) {
		h := newTestHistory(t)

		rec := &modtool.ExportRecord{ID: "job-1", ModName: "Crates", Version: "1.0", Platforms: modtool.Windows}
		if err := h.StartExport(rec); err != nil {
			t.Fatalf("StartExport() error = %v", err)
		}
		if rec.StartedAt.IsZero() {
			t.Error("StartedAt not set from clock")
		}

		got, err := h.ListExports(10)
		if err != nil {
			t.Fatalf("ListExports() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("len(ListExports()) = %d, want 1", len(got))
		}
		if got[0].Status != modtool.StatusRunning {
			t.Errorf("Status = %q, want %q", got[0].Status, modtool.StatusRunning)
		}
		if got[0].Platforms != modtool.Windows {
			t.Errorf("Platforms = %v, want Windows", got[0].Platforms)
		}
		if !got[0].FinishedAt.IsZero() {
			t.Errorf("FinishedAt = %v, want zero", got[0].FinishedAt)
		}
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		h := newTestHistory(t)

		rec := &modtool.ExportRecord{ID: "job-1", ModName: "Crates"}
		if err := h.StartExport(rec); err != nil {
			t.Fatalf("StartExport() error = %v", err)
		}
		if err := h.StartExport(&modtool.ExportRecord{ID: "job-1", ModName: "Crates"}); err == nil {
			t.Error("StartExport() expected error for duplicate id")
		}
	})
}

func TestSQLiteHistory_FinishExport(t *testing.T) {
	t.Run("stores outcome and artifacts", func(t *testing.T) {
		h := newTestHistory(t)

		rec := &modtool.ExportRecord{ID: "job-1", ModName: "Crates", Version: "1.0"}
		if err := h.StartExport(rec); err != nil {
			t.Fatalf("StartExport() error = %v", err)
		}
		rec.Status = modtool.StatusSuccess
		rec.Warnings = 1
		rec.Artifacts = []string{"Windows/Crates.info", "Crates.rootinfo"}
		if err := h.FinishExport(rec); err != nil {
			t.Fatalf("FinishExport() error = %v", err)
		}

		got, err := h.ListExports(1)
		if err != nil {
			t.Fatalf("ListExports() error = %v", err)
		}
		r := got[0]
		if r.Status != modtool.StatusSuccess || r.Warnings != 1 {
			t.Errorf("record = %+v", r)
		}
		if r.FinishedAt.IsZero() {
			t.Error("FinishedAt not recorded")
		}
		want := []string{"Crates.rootinfo", "Windows/Crates.info"}
		if len(r.Artifacts) != 2 || r.Artifacts[0] != want[0] || r.Artifacts[1] != want[1] {
			t.Errorf("Artifacts = %v, want %v", r.Artifacts, want)
		}
	})

	t.Run("records failed stage", func(t *testing.T) {
		h := newTestHistory(t)

		rec := &modtool.ExportRecord{ID: "job-2", ModName: "Crates"}
		if err := h.StartExport(rec); err != nil {
			t.Fatalf("StartExport() error = %v", err)
		}
		rec.Status = modtool.StatusError
		rec.FailedStage = "CreateBackup"
		rec.Error = "disk full"
		if err := h.FinishExport(rec); err != nil {
			t.Fatalf("FinishExport() error = %v", err)
		}

		got, err := h.ListExports(1)
		if err != nil {
			t.Fatalf("ListExports() error = %v", err)
		}
		if got[0].FailedStage != "CreateBackup" || got[0].Error != "disk full" {
			t.Errorf("record = %+v", got[0])
		}
	})

	t.Run("suspended keeps export open", func(t *testing.T) {
		h := newTestHistory(t)

		rec := &modtool.ExportRecord{ID: "job-3", ModName: "Crates"}
		if err := h.StartExport(rec); err != nil {
			t.Fatalf("StartExport() error = %v", err)
		}
		rec.Status = modtool.StatusSuspended
		if err := h.FinishExport(rec); err != nil {
			t.Fatalf("FinishExport() error = %v", err)
		}
		got, err := h.ListExports(1)
		if err != nil {
			t.Fatalf("ListExports() error = %v", err)
		}
		if !got[0].FinishedAt.IsZero() {
			t.Errorf("FinishedAt = %v, want zero", got[0].FinishedAt)
		}
	})

	t.Run("replaces artifacts on resume", func(t *testing.T) {
		h := newTestHistory(t)

		rec := &modtool.ExportRecord{ID: "job-4", ModName: "Crates"}
		if err := h.StartExport(rec); err != nil {
			t.Fatalf("StartExport() error = %v", err)
		}
		rec.Status = modtool.StatusSuspended
		rec.Artifacts = []string{"old"}
		if err := h.FinishExport(rec); err != nil {
			t.Fatalf("FinishExport() error = %v", err)
		}
		rec.Status = modtool.StatusSuccess
		rec.Artifacts = []string{"new"}
		if err := h.FinishExport(rec); err != nil {
			t.Fatalf("FinishExport() error = %v", err)
		}
		got, err := h.ListExports(1)
		if err != nil {
			t.Fatalf("ListExports() error = %v", err)
		}
		if len(got[0].Artifacts) != 1 || got[0].Artifacts[0] != "new" {
			t.Errorf("Artifacts = %v, want [new]", got[0].Artifacts)
		}
	})

	t.Run("unknown export", func(t *testing.T) {
		h := newTestHistory(t)
		if err := h.FinishExport(&modtool.ExportRecord{ID: "missing", Status: modtool.StatusSuccess}); err == nil {
			t.Error("FinishExport() expected error for unknown id")
		}
	})
}

func TestSQLiteHistory_ListExports(t *testing.T) {
	h := newTestHistory(t)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		rec := &modtool.ExportRecord{ID: id, ModName: "Crates", StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := h.StartExport(rec); err != nil {
			t.Fatalf("StartExport(%s) error = %v", id, err)
		}
	}

	t.Run("newest first", func(t *testing.T) {
		got, err := h.ListExports(10)
		if err != nil {
			t.Fatalf("ListExports() error = %v", err)
		}
		if len(got) != 3 || got[0].ID != "c" || got[2].ID != "a" {
			t.Errorf("order = %v", ids(got))
		}
		if !got[2].StartedAt.Equal(base) {
			t.Errorf("StartedAt = %v, want %v", got[2].StartedAt, base)
		}
	})

	t.Run("limit", func(t *testing.T) {
		got, err := h.ListExports(2)
		if err != nil {
			t.Fatalf("ListExports() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("len(ListExports(2)) = %d, want 2", len(got))
		}
	})
}

func TestSQLiteHistory_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", HistoryFile)

	h, err := NewSQLiteHistory(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteHistory() error = %v", err)
	}
	if err := h.StartExport(&modtool.ExportRecord{ID: "job-1", ModName: "Crates"}); err != nil {
		t.Fatalf("StartExport() error = %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteHistory(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteHistory() reopen error = %v", err)
	}
	defer reopened.Close()

	if err := reopened.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
	got, err := reopened.ListExports(10)
	if err != nil {
		t.Fatalf("ListExports() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "job-1" {
		t.Errorf("ListExports() = %v, want [job-1]", ids(got))
	}
	if reopened.Path() != path {
		t.Errorf("Path() = %q, want %q", reopened.Path(), path)
	}
}

func TestSQLiteHistory_BackupTo(t *testing.T) {
	h := newTestHistory(t)
	if err := h.StartExport(&modtool.ExportRecord{ID: "job-1", ModName: "Crates"}); err != nil {
		t.Fatalf("StartExport() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := h.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	copied, err := NewSQLiteHistory(dest, nil)
	if err != nil {
		t.Fatalf("NewSQLiteHistory() error = %v", err)
	}
	defer copied.Close()
	got, err := copied.ListExports(10)
	if err != nil {
		t.Fatalf("ListExports() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len(ListExports()) = %d, want 1", len(got))
	}
}

func ids(recs []*modtool.ExportRecord) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
