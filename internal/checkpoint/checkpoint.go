// Package checkpoint persists a suspended export so it can be resumed after
// the host recompiles, possibly by a later process.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modtool-go/internal/modtool"
)

// ErrNotFound is returned by Load when no checkpoint is stored.
var ErrNotFound = errors.New("no checkpoint")

// Checkpoint is the state of a suspended export: the index of the stage to
// run next and the job as it was when the export suspended.
type Checkpoint struct {
	Version   int          `json:"version"`
	NextStage int          `json:"next_stage"`
	StageName string       `json:"stage_name"`
	Job       *modtool.Job `json:"job"`
	SavedAt   time.Time    `json:"saved_at"`
}

// FormatVersion is written into every checkpoint; Load rejects others.
const FormatVersion = 1

// Store holds at most one checkpoint.
type Store interface {
	Save(cp *Checkpoint) error
	// Load returns ErrNotFound when nothing is stored.
	Load() (*Checkpoint, error)
	// Delete is a no-op when nothing is stored.
	Delete() error
}

func encode(cp *Checkpoint) ([]byte, error) {
	if cp.Job == nil {
		return nil, fmt.Errorf("checkpoint has no job")
	}
	cp.Version = FormatVersion
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding checkpoint: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	if cp.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", cp.Version)
	}
	if cp.Job == nil {
		return nil, fmt.Errorf("checkpoint has no job")
	}
	return &cp, nil
}
