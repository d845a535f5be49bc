package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"modtool-go/internal/modtool"
)

// Project is an on-disk project fixture rooted in a test temp directory.
type Project struct {
	t      *testing.T
	Root   string
	Layout modtool.Layout
}

// NewProject creates an empty project with the default layout.
func NewProject(t *testing.T) *Project {
	t.Helper()
	root := t.TempDir()
	layout := modtool.NewLayout(root)
	for _, dir := range []string{layout.AssetsDir, layout.CompiledDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("creating %s: %v", dir, err)
		}
	}
	return &Project{t: t, Root: root, Layout: layout}
}

// Path returns the absolute path of a slash path relative to the root.
func (p *Project) Path(rel string) string {
	return filepath.Join(p.Root, filepath.FromSlash(rel))
}

// Write creates a file relative to the project root and returns its path.
func (p *Project) Write(rel string, content string) string {
	p.t.Helper()
	path := p.Path(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		p.t.Fatalf("creating directory for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		p.t.Fatalf("writing %s: %v", rel, err)
	}
	return path
}

// WriteAsset creates a file plus a sidecar holding a guid and the given
// bundle membership.
func (p *Project) WriteAsset(rel, content, bundle string) string {
	p.t.Helper()
	path := p.Write(rel, content)
	meta := "fileFormatVersion: 2\nguid: " + SHA256Hex([]byte(rel))[:32] + "\n" +
		"DefaultImporter:\n  userData: \n  assetBundleName: " + bundle + "\n  assetBundleVariant: \n"
	p.Write(rel+modtool.MetaSuffix, meta)
	return path
}

// Read returns the content of a file relative to the project root.
func (p *Project) Read(rel string) string {
	p.t.Helper()
	data, err := os.ReadFile(p.Path(rel))
	if err != nil {
		p.t.Fatalf("reading %s: %v", rel, err)
	}
	return string(data)
}

// Exists reports whether a project-relative path exists.
func (p *Project) Exists(rel string) bool {
	_, err := os.Stat(p.Path(rel))
	return err == nil
}

// Hash returns the TreeHash of the project, leaving out the staging and
// backup roots.
func (p *Project) Hash() map[string]string {
	p.t.Helper()
	return TreeHash(p.t, p.Root, p.Layout.Rel(p.Layout.StagingDir), p.Layout.Rel(p.Layout.BackupDir))
}
