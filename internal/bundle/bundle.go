// Package bundle lays out the per-platform build of a mod in the staging
// directory: manifests, content archives and rewritten modules.
package bundle

import (
	"context"
	"os"
	"path/filepath"

	"modtool-go/internal/modtool"
)

// Bundle variants assigned to mod content.
const (
	VariantAssets = "assets"
	VariantScenes = "scenes"
)

// Builder writes the staging tree for a job.
type Builder struct {
	archives modtool.ArchiveBuilder
	logger   modtool.Logger
}

func New(archives modtool.ArchiveBuilder, logger modtool.Logger) *Builder {
	return &Builder{archives: archives, logger: logger}
}

// Build produces, for every target, <staging>/<Platform>/<Name>.info, the
// archives under <staging>/<Platform>/<Platform> and, for code targets, a
// copy of each rewritten module. The shared module copies are removed
// afterwards and <staging>/<Name>.rootinfo is written last.
func (b *Builder) Build(ctx context.Context, job *modtool.Job) error {
	var platforms modtool.Platform
	for _, t := range job.Targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.buildTarget(ctx, job, t); err != nil {
			return err
		}
		if t.Content != 0 {
			platforms |= t.Platform
		}
	}

	for _, m := range job.Modules {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return &modtool.IOError{Op: "removing", Path: m, Err: err}
		}
	}

	root := filepath.Join(job.Layout.StagingDir, job.Settings.Name+".rootinfo")
	info := modtool.RootInfo{Name: job.Settings.Name, Platforms: platforms}
	if err := info.WriteFile(root); err != nil {
		return err
	}
	b.addArtifact(job, root)

	b.logger.Info("built mod", "platforms", len(job.Targets), "artifacts", len(job.Artifacts))
	return nil
}

func (b *Builder) buildTarget(ctx context.Context, job *modtool.Job, t modtool.Target) error {
	s := job.Settings
	dir := filepath.Join(job.Layout.StagingDir, t.Platform.String())
	outDir := filepath.Join(dir, t.Platform.String())
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return &modtool.IOError{Op: "creating", Path: outDir, Err: err}
	}

	infoPath := filepath.Join(dir, s.Name+".info")
	if err := modtool.NewManifest(s, t).WriteFile(infoPath); err != nil {
		return err
	}
	b.addArtifact(job, infoPath)

	candidates, err := adjustMembership(job, t.Content)
	if err != nil {
		return err
	}

	files, err := b.archives.BuildArchives(ctx, outDir, t.Compression, t.Platform, candidates)
	for _, f := range files {
		b.addArtifact(job, f)
	}
	if err != nil {
		return err
	}

	if t.Content.Has(modtool.Code) {
		for _, m := range job.Modules {
			dst := filepath.Join(dir, filepath.Base(m))
			if err := modtool.CopyFile(m, dst); err != nil {
				return &modtool.IOError{Op: "copying", Path: m, Err: err}
			}
			b.addArtifact(job, dst)
		}
	}

	b.logger.Debug("built platform", "platform", t.Platform, "content", t.Content, "compression", t.Compression)
	return nil
}

// adjustMembership assigns included assets and scenes to the mod's bundles
// and returns them. Excluded ones go back to their recorded membership, and
// scenes to their original name.
func adjustMembership(job *modtool.Job, content modtool.Content) ([]*modtool.Asset, error) {
	name := job.Settings.Name
	var included []*modtool.Asset

	for _, a := range job.Assets {
		if content.Has(modtool.Assets) {
			if err := a.SetBundle(name, VariantAssets); err != nil {
				return nil, err
			}
			included = append(included, a)
		} else if err := a.RemoveFromBundle(); err != nil {
			return nil, err
		}
	}

	for _, sc := range job.Scenes {
		if content.Has(modtool.Scenes) {
			if err := sc.Rename(name + "-" + sc.OriginalName); err != nil {
				return nil, err
			}
			if err := sc.SetBundle(name, VariantScenes); err != nil {
				return nil, err
			}
			included = append(included, sc)
			continue
		}
		if err := sc.Rename(sc.OriginalName); err != nil {
			return nil, err
		}
		if err := sc.RemoveFromBundle(); err != nil {
			return nil, err
		}
	}
	return included, nil
}

func (b *Builder) addArtifact(job *modtool.Job, path string) {
	rel, err := filepath.Rel(job.Layout.StagingDir, path)
	if err != nil {
		rel = path
	}
	job.Artifacts = append(job.Artifacts, filepath.ToSlash(rel))
}
