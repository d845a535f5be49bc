package publish

import (
	"context"
	"fmt"

	"modtool-go/internal/config"
	"modtool-go/internal/modtool"
)

// NewPublisherFromConfig creates a Publisher based on the publish config type.
func NewPublisherFromConfig(ctx context.Context, cfg config.PublishConfig, logger modtool.Logger) (modtool.Publisher, error) {
	switch cfg.Type {
	case "filesystem", "":
		return NewFileSystemPublisher(logger), nil
	case "s3":
		return NewS3Publisher(ctx, cfg, logger)
	case "memory":
		return NewMemoryPublisher(NewMemoryStore(), cfg.S3Prefix, logger), nil
	default:
		return nil, fmt.Errorf("unknown publish type: %s", cfg.Type)
	}
}

// IsRemote reports whether the configured publisher writes outside the
// local filesystem, so the output directory need not exist locally.
func IsRemote(cfg config.PublishConfig) bool {
	return cfg.Type == "s3" || cfg.Type == "memory"
}
