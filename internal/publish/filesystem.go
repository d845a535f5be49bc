package publish

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"modtool-go/internal/modtool"
)

// FileSystemPublisher publishes to a local output directory:
//
//	<outputRoot>/
//	  <modName>/
//	    <modName>.rootinfo
//	    <Platform>/
//	      <modName>.info
//	      <Module>.dll
//	      <Platform>/
//	        <Platform>, <Platform>.manifest, <bundle>, <bundle>.manifest
type FileSystemPublisher struct {
	logger modtool.Logger
}

var _ modtool.Publisher = (*FileSystemPublisher)(nil)

func NewFileSystemPublisher(logger modtool.Logger) *FileSystemPublisher {
	return &FileSystemPublisher{logger: logger}
}

// Publish prunes the previous build at <outputRoot>/<modName>, then copies
// every file of stagingRoot into it.
func (p *FileSystemPublisher) Publish(ctx context.Context, stagingRoot, outputRoot, modName string) error {
	modDir := filepath.Join(outputRoot, modName)

	if _, err := os.Stat(modDir); err == nil {
		if err := p.prune(ctx, modDir, modName); err != nil {
			return err
		}
	}

	copied := 0
	err := filepath.WalkDir(stagingRoot, func(src string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(stagingRoot, src)
		if err != nil {
			return err
		}
		dst := filepath.Join(modDir, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := copyFile(src, dst); err != nil {
			return &modtool.IOError{Op: "publishing", Path: dst, Err: err}
		}
		copied++
		return nil
	})
	if err != nil {
		return err
	}

	p.logger.Info("published mod", "output", modDir, "files", copied)
	return nil
}

func (p *FileSystemPublisher) prune(ctx context.Context, modDir, modName string) error {
	var stale []string
	err := filepath.WalkDir(modDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(modDir, path)
		if err != nil {
			return err
		}
		if IsBuildFile(filepath.ToSlash(rel), modName) {
			stale = append(stale, path)
		}
		return nil
	})
	if err != nil {
		return &modtool.IOError{Op: "scanning", Path: modDir, Err: err}
	}

	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			return &modtool.IOError{Op: "pruning", Path: path, Err: err}
		}
	}
	p.logger.Debug("pruned previous build", "output", modDir, "files", len(stale))
	return nil
}

// copyFile writes src to dst using atomic write (temp file + rename).
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, in)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != info.Size() {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", info.Size(), written)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
