// Package asmdef reads and writes compilation-grouping descriptors, the
// JSON files that tell the host toolchain which scripts compile into which
// module.
package asmdef

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Ext is the descriptor file extension.
const Ext = ".asmdef"

// DefaultModule is the module the toolchain compiles scripts without a
// descriptor into.
const DefaultModule = "Assembly-CSharp"

// EditorPlatform restricts a descriptor to the editor.
const EditorPlatform = "Editor"

// Definition is a compilation-grouping descriptor.
type Definition struct {
	Name             string   `json:"name"`
	References       []string `json:"references"`
	IncludePlatforms []string `json:"includePlatforms,omitempty"`
	ExcludePlatforms []string `json:"excludePlatforms,omitempty"`
}

// EditorOnly reports whether the descriptor only compiles for the editor.
func (d *Definition) EditorOnly() bool {
	return len(d.IncludePlatforms) == 1 && d.IncludePlatforms[0] == EditorPlatform
}

// Read parses the descriptor at path.
func Read(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor: %w", err)
	}
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing descriptor %s: %w", path, err)
	}
	return &d, nil
}

// WriteFile writes the descriptor to path. It fails if path exists so an
// export never overwrites a descriptor it did not create.
func (d *Definition) WriteFile(path string) error {
	data, err := json.MarshalIndent(d, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding descriptor: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("creating descriptor: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("writing descriptor: %w", err)
	}
	return f.Close()
}

// Entry is an existing descriptor found in the project.
type Entry struct {
	// Path is relative to the project root with forward slashes.
	Path       string
	Definition *Definition
}

// Index maps module names to their descriptors under the project's Assets
// and Packages directories.
func Index(projectRoot string) (map[string]Entry, error) {
	index := make(map[string]Entry)
	for _, top := range []string{"Assets", "Packages"} {
		root := filepath.Join(projectRoot, top)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == root {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || filepath.Ext(path) != Ext {
				return nil
			}
			def, err := Read(path)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(projectRoot, path)
			if err != nil {
				return err
			}
			index[def.Name] = Entry{Path: filepath.ToSlash(rel), Definition: def}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("indexing descriptors: %w", err)
		}
	}
	return index, nil
}

// Exportable reports whether a compiled module belongs to the mod: the
// default module, or one whose descriptor lives outside package-manager
// content and outside editor folders.
func Exportable(name string, index map[string]Entry) bool {
	if name == DefaultModule {
		return true
	}
	e, ok := index[name]
	if !ok {
		return false
	}
	return !strings.HasPrefix(e.Path, "Packages/") && !strings.Contains(e.Path, EditorPlatform)
}

// TopLevel returns the descriptors directly inside assetsDir.
func TopLevel(assetsDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(assetsDir, "*"+Ext))
	if err != nil {
		return nil, fmt.Errorf("listing descriptors: %w", err)
	}
	return matches, nil
}

// EditorFolders returns every folder named Editor under assetsDir that
// contains scripts and has no descriptor of its own.
func EditorFolders(assetsDir string) ([]string, error) {
	var folders []string
	err := filepath.WalkDir(assetsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || d.Name() != EditorPlatform {
			return nil
		}
		scripts, err := hasScripts(path)
		if err != nil {
			return err
		}
		defs, err := filepath.Glob(filepath.Join(path, "*"+Ext))
		if err != nil {
			return err
		}
		if scripts && len(defs) == 0 {
			folders = append(folders, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finding editor folders: %w", err)
	}
	return folders, nil
}

func hasScripts(dir string) (bool, error) {
	found := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cs" {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found, err
}

// FolderName derives a descriptor name from a project-relative folder:
// separators become '-' and spaces are dropped.
func FolderName(rel string) string {
	name := strings.ReplaceAll(filepath.ToSlash(rel), "/", "-")
	return strings.ReplaceAll(name, " ", "")
}

// References lists the runtime modules in compiledDir a new descriptor
// should reference: everything except the default module and editor-only
// modules.
func References(compiledDir string, index map[string]Entry) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(compiledDir, "*.dll"))
	if err != nil {
		return nil, fmt.Errorf("listing compiled modules: %w", err)
	}
	refs := []string{}
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".dll")
		if name == DefaultModule || name == DefaultModule+"-Editor" {
			continue
		}
		if e, ok := index[name]; ok && e.Definition.EditorOnly() {
			continue
		}
		refs = append(refs, name)
	}
	sort.Strings(refs)
	return refs, nil
}
