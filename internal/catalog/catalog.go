// Package catalog discovers the assets, scenes and compiled modules a mod
// export includes.
package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"modtool-go/internal/asmdef"
	"modtool-go/internal/modtool"
)

// Kind is a class of discoverable project file.
type Kind int

const (
	KindAsset Kind = iota
	KindScene
	KindAssembly
)

func (k Kind) String() string {
	switch k {
	case KindAsset:
		return "asset"
	case KindScene:
		return "scene"
	case KindAssembly:
		return "assembly"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var kindExts = map[Kind][]string{
	KindAsset:    {".prefab", ".asset"},
	KindScene:    {".unity"},
	KindAssembly: {".dll"},
}

// Index finds project files by kind. Results are absolute paths and may
// contain duplicates.
type Index interface {
	FindAssets(ctx context.Context, kind Kind) ([]string, error)
}

// FSIndex walks the assets root on disk.
type FSIndex struct {
	root string
}

var _ Index = (*FSIndex)(nil)

func NewFSIndex(assetsDir string) *FSIndex {
	return &FSIndex{root: assetsDir}
}

func (x *FSIndex) FindAssets(ctx context.Context, kind Kind) ([]string, error) {
	exts := kindExts[kind]
	var paths []string
	err := filepath.WalkDir(x.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		for _, e := range exts {
			if ext == e {
				paths = append(paths, p)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", x.root, err)
	}
	return paths, nil
}

// Catalog applies the exclusion rules to an Index.
type Catalog struct {
	index  Index
	ignore *IgnoreMatcher
	logger modtool.Logger
}

func New(index Index, ignore *IgnoreMatcher, logger modtool.Logger) *Catalog {
	if ignore == nil {
		ignore = NewIgnoreMatcher(nil)
	}
	return &Catalog{index: index, ignore: ignore, logger: logger}
}

// Discover fills the job's asset, scene and assembly catalogs, then clears
// every content kind whose catalog came up empty. A selected platform left
// without content is a PreconditionError.
func (c *Catalog) Discover(ctx context.Context, job *modtool.Job) error {
	var err error
	if job.Assets, err = c.find(ctx, job, KindAsset); err != nil {
		return err
	}
	if job.Scenes, err = c.find(ctx, job, KindScene); err != nil {
		return err
	}
	if job.Assemblies, err = c.Assemblies(ctx, job); err != nil {
		return err
	}

	c.logger.Info("discovered content",
		"assets", len(job.Assets),
		"scenes", len(job.Scenes),
		"assemblies", len(job.Assemblies))

	return CheckTargets(job)
}

// CheckTargets prunes the job's targets and fails if any platform is left
// without content.
func CheckTargets(job *modtool.Job) error {
	job.Prune()
	if empty := job.EmptyTargets(); len(empty) > 0 {
		names := make([]string, len(empty))
		for i, p := range empty {
			names[i] = p.String()
		}
		return &modtool.PreconditionError{Reason: "no content to export for " + strings.Join(names, ", ")}
	}
	return nil
}

// Assemblies returns the modules in the assets root plus the compiled
// modules that belong to the mod.
func (c *Catalog) Assemblies(ctx context.Context, job *modtool.Job) ([]*modtool.Asset, error) {
	assemblies, err := c.find(ctx, job, KindAssembly)
	if err != nil {
		return nil, err
	}

	index, err := asmdef.Index(job.Layout.ProjectRoot)
	if err != nil {
		return nil, err
	}
	compiled, err := filepath.Glob(filepath.Join(job.Layout.CompiledDir, "*.dll"))
	if err != nil {
		return nil, fmt.Errorf("listing compiled modules: %w", err)
	}
	sort.Strings(compiled)
	for _, p := range compiled {
		name := strings.TrimSuffix(filepath.Base(p), ".dll")
		if !asmdef.Exportable(name, index) || c.excluded(job, job.Layout.Rel(p)) {
			continue
		}
		assemblies = append(assemblies, modtool.NewAsset(p))
	}
	return assemblies, nil
}

// ModulePaths returns the paths of a list of assembly Assets.
func ModulePaths(assemblies []*modtool.Asset) []string {
	paths := make([]string, len(assemblies))
	for i, a := range assemblies {
		paths[i] = a.CurrentPath
	}
	return paths
}

func (c *Catalog) find(ctx context.Context, job *modtool.Job, kind Kind) ([]*modtool.Asset, error) {
	paths, err := c.index.FindAssets(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("finding %s files: %w", kind, err)
	}

	seen := make(map[string]bool, len(paths))
	var assets []*modtool.Asset
	for _, p := range paths {
		clean := filepath.Clean(p)
		rel := job.Layout.Rel(clean)
		if seen[rel] || c.excluded(job, rel) {
			continue
		}
		seen[rel] = true
		assets = append(assets, modtool.NewAsset(clean))
	}
	return assets, nil
}

// excluded applies the fixed exclusion rules and the configured patterns to
// a project-relative slash path.
func (c *Catalog) excluded(job *modtool.Job, rel string) bool {
	if strings.HasPrefix(rel, "Packages/") {
		return true
	}
	for _, seg := range strings.Split(path.Dir(rel), "/") {
		if seg == "ModTool" || seg == "Editor" {
			return true
		}
	}
	for _, shared := range job.Settings.SharedAssets {
		if shared == rel {
			return true
		}
		if ok, _ := doublestar.Match(shared, rel); ok {
			return true
		}
	}
	if c.ignore.Match(rel) {
		c.logger.Debug("ignored by pattern", "path", rel)
		return true
	}
	return false
}
