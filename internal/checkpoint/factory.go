package checkpoint

import (
	"fmt"

	"modtool-go/internal/config"
)

// NewStoreFromConfig creates a Store implementation based on the config type.
func NewStoreFromConfig(cfg config.CheckpointConfig) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem", "":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem checkpoint store requires dir to be set")
		}
		return NewFileSystemStore(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown checkpoint store type: %s", cfg.Type)
	}
}
