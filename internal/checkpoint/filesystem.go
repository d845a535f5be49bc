package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the checkpoint file inside the checkpoint directory.
const FileName = "export.json"

// FileSystemStore keeps the checkpoint as a JSON file.
//
// Directory structure:
//
//	<dir>/
//	  export.json    (the suspended job)
type FileSystemStore struct {
	dir string
}

var _ Store = (*FileSystemStore)(nil)

// NewFileSystemStore creates dir if needed.
func NewFileSystemStore(dir string) (*FileSystemStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileSystemStore{dir: dir}, nil
}

func (s *FileSystemStore) path() string {
	return filepath.Join(s.dir, FileName)
}

// Save writes the checkpoint via a temp file and rename so a crash never
// leaves a partial checkpoint behind.
func (s *FileSystemStore) Save(cp *Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".export-*.json")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path()); err != nil {
		return fmt.Errorf("renaming checkpoint: %w", err)
	}
	success = true
	return nil
}

func (s *FileSystemStore) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	return decode(data)
}

func (s *FileSystemStore) Delete() error {
	if err := os.Remove(s.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing checkpoint: %w", err)
	}
	return nil
}
