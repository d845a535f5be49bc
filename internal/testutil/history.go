package testutil

import (
	"sync"

	"modtool-go/internal/modtool"
)

// MemoryHistory is an in-memory modtool.History that keeps every record.
// Safe for concurrent use.
type MemoryHistory struct {
	mu      sync.Mutex
	records map[string]modtool.ExportRecord
	order   []string
	// Finishes counts FinishExport calls per export ID.
	Finishes map[string]int
}

var _ modtool.History = (*MemoryHistory)(nil)

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{records: make(map[string]modtool.ExportRecord), Finishes: make(map[string]int)}
}

func (h *MemoryHistory) StartExport(rec *modtool.ExportRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec.Status == "" {
		rec.Status = modtool.StatusRunning
	}
	h.records[rec.ID] = *rec
	h.order = append(h.order, rec.ID)
	return nil
}

func (h *MemoryHistory) FinishExport(rec *modtool.ExportRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	stored, ok := h.records[rec.ID]
	if !ok {
		h.order = append(h.order, rec.ID)
	} else if rec.StartedAt.IsZero() {
		rec.StartedAt = stored.StartedAt
	}
	r := *rec
	r.Artifacts = append([]string(nil), rec.Artifacts...)
	h.records[rec.ID] = r
	h.Finishes[rec.ID]++
	return nil
}

// ListExports returns records newest first.
func (h *MemoryHistory) ListExports(limit int) ([]*modtool.ExportRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*modtool.ExportRecord
	for i := len(h.order) - 1; i >= 0 && len(out) < limit; i-- {
		r := h.records[h.order[i]]
		out = append(out, &r)
	}
	return out, nil
}

// Get returns the record for id.
func (h *MemoryHistory) Get(id string) (modtool.ExportRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.records[id]
	return r, ok
}
