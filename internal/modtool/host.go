package modtool

import (
	"context"
	"time"
)

// Host is the editor or build environment the export runs inside. The
// pipeline uses it for scene handling and to trigger recompilation.
type Host interface {
	// ToolchainVersion is the version of the running toolchain.
	ToolchainVersion() string

	// ActiveScene returns the path of the open scene, or "" if none.
	ActiveScene() string

	// SaveModifiedScenes asks the user whether to save unsaved scene
	// changes. It returns false if the user declined.
	SaveModifiedScenes(ctx context.Context) (bool, error)

	// NewEmptyScene replaces the open scene with an empty one.
	NewEmptyScene() error

	// OpenScene opens the scene at path.
	OpenScene(path string) error

	// RequestRecompile starts a recompilation of project code. The returned
	// channel is closed when that recompilation finishes. It is never closed
	// if ctx ends first.
	RequestRecompile(ctx context.Context) (<-chan struct{}, error)

	// CompileError is the failure of the last recompilation, if any.
	CompileError() error

	// Refresh reimports changed project files.
	Refresh() error
}

// Verifier inspects compiled modules for disallowed API usage and returns
// one message per violation.
type Verifier interface {
	Verify(ctx context.Context, modules []string) ([]string, error)
}

// ArchiveBuilder packs the assets assigned to archives into outDir for one
// platform, returning the files it wrote.
type ArchiveBuilder interface {
	BuildArchives(ctx context.Context, outDir string, compression Compression, platform Platform, assets []*Asset) ([]string, error)
}

// Publisher copies a finished staging tree to the output location.
type Publisher interface {
	Publish(ctx context.Context, stagingRoot, outputRoot, modName string) error
}

// Export statuses recorded in the history.
const (
	StatusRunning   = "running"
	StatusSuspended = "suspended"
	StatusSuccess   = "success"
	StatusError     = "error"
)

// ExportRecord is one export as recorded in the history.
type ExportRecord struct {
	ID          string
	ModName     string
	Version     string
	Platforms   Platform
	Status      string
	FailedStage string
	Error       string
	Warnings    int
	Artifacts   []string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// History records export runs.
type History interface {
	StartExport(rec *ExportRecord) error
	FinishExport(rec *ExportRecord) error
	ListExports(limit int) ([]*ExportRecord, error)
}

// NopHistory discards every record.
type NopHistory struct{}

func (NopHistory) StartExport(*ExportRecord) error          { return nil }
func (NopHistory) FinishExport(*ExportRecord) error         { return nil }
func (NopHistory) ListExports(int) ([]*ExportRecord, error) { return nil, nil }
