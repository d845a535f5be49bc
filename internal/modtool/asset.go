package modtool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MetaSuffix is appended to an asset path to get its sidecar metadata file.
const MetaSuffix = ".meta"

// Asset is a project file the export may mutate. It tracks where the file
// started, where it is now (renames move it) and where its snapshot lives.
// Paths are absolute.
type Asset struct {
	OriginalPath string `json:"original_path"`
	CurrentPath  string `json:"current_path"`
	// BackupPath is set only after Backup succeeds.
	BackupPath   string `json:"backup_path,omitempty"`
	OriginalName string `json:"original_name"`

	// Recorded holds the membership found before the first SetBundle call;
	// RemoveFromBundle always returns to it.
	Recorded *Membership `json:"recorded,omitempty"`
}

// NewAsset creates an Asset for the file at path.
func NewAsset(path string) *Asset {
	return &Asset{
		OriginalPath: path,
		CurrentPath:  path,
		OriginalName: baseName(path),
	}
}

// Name is the current file name without extension.
func (a *Asset) Name() string { return baseName(a.CurrentPath) }

// MetaPath is the current sidecar path.
func (a *Asset) MetaPath() string { return a.CurrentPath + MetaSuffix }

// Backup copies the file and its sidecar into backupRoot, at the same
// position relative to backupRoot as the file has relative to projectRoot.
func (a *Asset) Backup(projectRoot, backupRoot string) error {
	rel, err := filepath.Rel(projectRoot, a.CurrentPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return &IOError{Op: "backing up", Path: a.CurrentPath, Err: fmt.Errorf("not inside project root %s", projectRoot)}
	}
	if !exists(a.CurrentPath) {
		return &IOError{Op: "backing up", Path: a.CurrentPath, Err: os.ErrNotExist}
	}

	backup := filepath.Join(backupRoot, rel)
	if err := CopyFile(a.CurrentPath, backup); err != nil {
		return wrapIO("backing up", a.CurrentPath, err)
	}
	if exists(a.MetaPath()) {
		if err := CopyFile(a.MetaPath(), backup+MetaSuffix); err != nil {
			return wrapIO("backing up", a.MetaPath(), err)
		}
	}

	a.OriginalPath = a.CurrentPath
	a.BackupPath = backup
	return nil
}

// HasBackup reports whether a snapshot exists on disk.
func (a *Asset) HasBackup() bool {
	return a.BackupPath != "" && exists(a.BackupPath)
}

// Restore replaces the current file and sidecar with the snapshot, moving
// the asset back to its original path. Without a snapshot it does nothing.
func (a *Asset) Restore() error {
	if !a.HasBackup() {
		return nil
	}

	if err := removeIfExists(a.CurrentPath); err != nil {
		return wrapIO("removing", a.CurrentPath, err)
	}
	if err := removeIfExists(a.MetaPath()); err != nil {
		return wrapIO("removing", a.MetaPath(), err)
	}

	a.CurrentPath = a.OriginalPath

	if err := CopyFile(a.BackupPath, a.CurrentPath); err != nil {
		return wrapIO("restoring", a.CurrentPath, err)
	}
	if exists(a.BackupPath + MetaSuffix) {
		if err := CopyFile(a.BackupPath+MetaSuffix, a.MetaPath()); err != nil {
			return wrapIO("restoring", a.MetaPath(), err)
		}
	} else if err := removeIfExists(a.MetaPath()); err != nil {
		return wrapIO("removing", a.MetaPath(), err)
	}
	return nil
}

// Rename gives the file (and its sidecar) a new base name, keeping its
// directory and extension.
func (a *Asset) Rename(name string) error {
	if name == a.Name() {
		return nil
	}
	target := filepath.Join(filepath.Dir(a.CurrentPath), name+filepath.Ext(a.CurrentPath))
	if exists(target) {
		return &IOError{Op: "renaming", Path: a.CurrentPath, Err: fmt.Errorf("%s already exists", target)}
	}
	if err := os.Rename(a.CurrentPath, target); err != nil {
		return wrapIO("renaming", a.CurrentPath, err)
	}
	if exists(a.MetaPath()) {
		if err := os.Rename(a.MetaPath(), target+MetaSuffix); err != nil {
			return wrapIO("renaming", a.MetaPath(), err)
		}
	}
	a.CurrentPath = target
	return nil
}

// Membership returns the asset's current archive assignment.
func (a *Asset) Membership() (Membership, error) {
	return ReadMembership(a.MetaPath())
}

// SetBundle assigns the asset to an archive. The membership found on the
// first call is recorded so it can be restored later.
func (a *Asset) SetBundle(name, variant string) error {
	if a.Recorded == nil {
		m, err := a.Membership()
		if err != nil {
			return err
		}
		a.Recorded = &m
	}
	return WriteMembership(a.MetaPath(), Membership{Name: name, Variant: variant})
}

// RemoveFromBundle returns the asset to its recorded membership. An asset
// that was never assigned is left alone.
func (a *Asset) RemoveFromBundle() error {
	if a.Recorded == nil {
		return nil
	}
	return WriteMembership(a.MetaPath(), *a.Recorded)
}

// Delete removes the file and its sidecar.
func (a *Asset) Delete() error {
	if err := removeIfExists(a.CurrentPath); err != nil {
		return wrapIO("deleting", a.CurrentPath, err)
	}
	if err := removeIfExists(a.MetaPath()); err != nil {
		return wrapIO("deleting", a.MetaPath(), err)
	}
	return nil
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
