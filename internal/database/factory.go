package database

import (
	"fmt"
	"path/filepath"

	"modtool-go/internal/config"
	"modtool-go/internal/modtool"
)

// HistoryFile is the database file name inside the history data dir.
const HistoryFile = "history.db"

// NewHistoryFromConfig creates a History implementation based on the history config type.
// The returned close function is never nil.
func NewHistoryFromConfig(cfg config.HistoryConfig, clock modtool.Clock) (modtool.History, func() error, error) {
	nop := func() error { return nil }
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, nop, fmt.Errorf("data_dir required for sqlite history")
		}
		h, err := NewSQLiteHistory(filepath.Join(cfg.DataDir, HistoryFile), clock)
		if err != nil {
			return nil, nop, err
		}
		return h, h.Close, nil
	case "memory":
		h, err := NewSQLiteHistory(":memory:", clock)
		if err != nil {
			return nil, nop, err
		}
		return h, h.Close, nil
	case "none", "":
		return modtool.NopHistory{}, nop, nil
	default:
		return nil, nop, fmt.Errorf("unknown history type: %s", cfg.Type)
	}
}
