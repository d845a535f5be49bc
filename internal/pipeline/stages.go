package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modtool-go/internal/asmdef"
	"modtool-go/internal/bundle"
	"modtool-go/internal/catalog"
	"modtool-go/internal/modtool"
	"modtool-go/internal/rewrite"
)

// ContentFinder discovers what an export includes. *catalog.Catalog
// implements it.
type ContentFinder interface {
	Discover(ctx context.Context, job *modtool.Job) error
	Assemblies(ctx context.Context, job *modtool.Job) ([]*modtool.Asset, error)
}

var _ ContentFinder = (*catalog.Catalog)(nil)

// Stage names, in execution order.
const (
	StageVerify           = "Verify"
	StageSetupSettings    = "SetupSettings"
	StageFindContent      = "FindContent"
	StageStartExport      = "StartExport"
	StageCreateAssemblies = "CreateAssemblies"
	StageReloadAssemblies = "ReloadAssemblies"
	StageCreateBackup     = "CreateBackup"
	StageUpdateAssemblies = "UpdateAssemblies"
	StageExport           = "Export"
	StageRestoreProject   = "RestoreProject"
)

// Stages returns the export stages in execution order. Restoration is not
// part of the list; the orchestrator runs it after every export.
func Stages(d Deps) []Stage {
	return []Stage{
		&verifyStage{host: d.Host, verifier: d.Verifier, content: d.Content, remote: d.RemoteOutput, logger: d.Logger},
		&setupSettingsStage{},
		&findContentStage{content: d.Content},
		&startExportStage{host: d.Host},
		&createAssembliesStage{host: d.Host, logger: d.Logger},
		&reloadAssembliesStage{host: d.Host, content: d.Content},
		&createBackupStage{logger: d.Logger},
		&updateAssembliesStage{logger: d.Logger},
		&exportStage{builder: bundle.New(d.Archives, d.Logger), publisher: d.Publisher, logger: d.Logger},
	}
}

// immediate is embedded by stages that never wait on the host.
type immediate struct{}

func (immediate) ExternalResume() <-chan struct{} { return nil }

type verifyStage struct {
	immediate
	host     modtool.Host
	verifier modtool.Verifier
	content  ContentFinder
	remote   bool
	logger   modtool.Logger
}

func (s *verifyStage) Name() string { return StageVerify }

// Execute checks the toolchain, then the candidate code, then the settings.
// Nothing in the project is modified.
func (s *verifyStage) Execute(ctx context.Context, job *modtool.Job) error {
	settings := job.Settings
	version := s.host.ToolchainVersion()
	if settings.RequiredToolchain != "" && version != settings.RequiredToolchain {
		product := settings.ProductName
		if product == "" {
			product = "this product"
		}
		return &modtool.PreconditionError{
			Reason: fmt.Sprintf("mods for %s can only be exported with toolchain %s (running %s)", product, settings.RequiredToolchain, version),
		}
	}

	assemblies, err := s.content.Assemblies(ctx, job)
	if err != nil {
		return err
	}
	messages, err := s.verifier.Verify(ctx, catalog.ModulePaths(assemblies))
	if err != nil {
		return err
	}
	if len(messages) > 0 {
		for _, m := range messages {
			s.logger.Warn(m)
		}
		return &modtool.VerificationError{Messages: messages}
	}

	if err := settings.Validate(s.remote); err != nil {
		return err
	}
	job.Settings = settings.WithToolchainVersion(version)
	return nil
}

type setupSettingsStage struct {
	immediate
}

func (s *setupSettingsStage) Name() string { return StageSetupSettings }

// Execute builds one target per selected platform from the content matrix.
func (s *setupSettingsStage) Execute(_ context.Context, job *modtool.Job) error {
	settings := job.Settings
	matrix := settings.Matrix()

	job.Targets = nil
	var empty []string
	for _, p := range modtool.AllPlatforms {
		if !settings.Platforms.Has(p) {
			continue
		}
		compression, ok := settings.Compression[p]
		if !ok || compression == 0 {
			compression = modtool.LZMA
		}
		t := modtool.Target{Platform: p, Content: matrix.Content(p), Compression: compression}
		if t.Content == 0 {
			empty = append(empty, p.String())
		}
		job.Targets = append(job.Targets, t)
	}

	if len(job.Targets) == 0 {
		return &modtool.PreconditionError{Reason: "no platforms selected"}
	}
	if len(empty) > 0 {
		return &modtool.PreconditionError{Reason: "platforms with no content: " + strings.Join(empty, ", ")}
	}
	return nil
}

type findContentStage struct {
	immediate
	content ContentFinder
}

func (s *findContentStage) Name() string { return StageFindContent }

func (s *findContentStage) Execute(ctx context.Context, job *modtool.Job) error {
	return s.content.Discover(ctx, job)
}

type startExportStage struct {
	immediate
	host modtool.Host
}

func (s *startExportStage) Name() string { return StageStartExport }

// Execute records the open scene, lets the user save it, switches to an
// empty scene and clears the staging directory.
func (s *startExportStage) Execute(ctx context.Context, job *modtool.Job) error {
	job.LoadedScene = s.host.ActiveScene()

	ok, err := s.host.SaveModifiedScenes(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return &modtool.UserCancelledError{Reason: "modified scenes were not saved"}
	}
	if err := s.host.NewEmptyScene(); err != nil {
		return fmt.Errorf("opening empty scene: %w", err)
	}
	return modtool.ResetDir(job.Layout.StagingDir)
}

type createAssembliesStage struct {
	host   modtool.Host
	logger modtool.Logger

	recompiled <-chan struct{}
}

func (s *createAssembliesStage) Name() string { return StageCreateAssemblies }

func (s *createAssembliesStage) ExternalResume() <-chan struct{} { return s.recompiled }

// Execute groups loose scripts into a module named after the mod, plus one
// editor-only module per Editor folder, and asks the host to recompile.
// It does nothing when no target takes code, when the project already has
// a top-level descriptor or when there is no default module.
func (s *createAssembliesStage) Execute(ctx context.Context, job *modtool.Job) error {
	s.recompiled = nil
	if !job.HasCode() {
		return nil
	}
	layout := job.Layout

	top, err := asmdef.TopLevel(layout.AssetsDir)
	if err != nil {
		return err
	}
	if len(top) > 0 {
		return nil
	}
	if _, err := os.Stat(filepath.Join(layout.CompiledDir, asmdef.DefaultModule+".dll")); err != nil {
		return nil
	}

	index, err := asmdef.Index(layout.ProjectRoot)
	if err != nil {
		return err
	}
	refs, err := asmdef.References(layout.CompiledDir, index)
	if err != nil {
		return err
	}

	name := job.Settings.FileName()
	path := filepath.Join(layout.AssetsDir, name+asmdef.Ext)
	if err := s.write(job, path, &asmdef.Definition{Name: name, References: refs}); err != nil {
		return err
	}

	folders, err := asmdef.EditorFolders(layout.AssetsDir)
	if err != nil {
		return err
	}
	for _, folder := range folders {
		name := asmdef.FolderName(layout.Rel(folder))
		def := &asmdef.Definition{Name: name, References: refs, IncludePlatforms: []string{asmdef.EditorPlatform}}
		if err := s.write(job, filepath.Join(folder, name+asmdef.Ext), def); err != nil {
			return err
		}
	}

	recompiled, err := s.host.RequestRecompile(ctx)
	if err != nil {
		return fmt.Errorf("requesting recompile: %w", err)
	}
	s.recompiled = recompiled
	return nil
}

// write creates a descriptor and records it for deletion on restore.
func (s *createAssembliesStage) write(job *modtool.Job, path string, def *asmdef.Definition) error {
	if err := def.WriteFile(path); err != nil {
		return &modtool.IOError{Op: "creating", Path: path, Err: err}
	}
	job.AssemblyDefinitions = append(job.AssemblyDefinitions, modtool.NewAsset(path))
	s.logger.Debug("created descriptor", "path", job.Layout.Rel(path))
	return nil
}

type reloadAssembliesStage struct {
	immediate
	host    modtool.Host
	content ContentFinder
}

func (s *reloadAssembliesStage) Name() string { return StageReloadAssemblies }

// Execute picks up the modules produced by a recompilation. Without new
// descriptors the catalog from FindContent stands.
func (s *reloadAssembliesStage) Execute(ctx context.Context, job *modtool.Job) error {
	if len(job.AssemblyDefinitions) == 0 {
		return nil
	}
	if err := s.host.CompileError(); err != nil {
		return err
	}
	assemblies, err := s.content.Assemblies(ctx, job)
	if err != nil {
		return err
	}
	job.Assemblies = assemblies
	return catalog.CheckTargets(job)
}

type createBackupStage struct {
	immediate
	logger modtool.Logger
}

func (s *createBackupStage) Name() string { return StageCreateBackup }

func (s *createBackupStage) Execute(ctx context.Context, job *modtool.Job) error {
	layout := job.Layout
	if err := modtool.ResetDir(layout.BackupDir); err != nil {
		return err
	}
	for _, list := range [][]*modtool.Asset{job.Assets, job.Scenes} {
		for _, a := range list {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := a.Backup(layout.ProjectRoot, layout.BackupDir); err != nil {
				return err
			}
		}
	}
	s.logger.Debug("backed up project", "assets", len(job.Assets), "scenes", len(job.Scenes))
	return nil
}

type updateAssembliesStage struct {
	immediate
	logger modtool.Logger
}

func (s *updateAssembliesStage) Name() string { return StageUpdateAssemblies }

// Execute writes a patched copy of every module into the staging directory.
func (s *updateAssembliesStage) Execute(ctx context.Context, job *modtool.Job) error {
	if !job.HasCode() {
		return nil
	}
	r := rewrite.New(job.Layout.StagingDir, job.Settings.StrictRewrite, s.logger)
	job.Modules = nil
	for _, a := range job.Assemblies {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := r.Rewrite(a.CurrentPath, job.Settings.Name)
		if err != nil {
			return err
		}
		job.Modules = append(job.Modules, res.Output)
		if res.Unresolved > 0 {
			job.Warn(fmt.Sprintf("%s: %d call operands could not be resolved and were left unpatched", filepath.Base(a.CurrentPath), res.Unresolved))
		}
	}
	return nil
}

type exportStage struct {
	immediate
	builder   *bundle.Builder
	publisher modtool.Publisher
	logger    modtool.Logger
}

func (s *exportStage) Name() string { return StageExport }

// Execute builds the staging tree and publishes it. A failed publication is
// recorded as a warning; the build itself is kept in the staging directory.
func (s *exportStage) Execute(ctx context.Context, job *modtool.Job) error {
	if err := s.builder.Build(ctx, job); err != nil {
		return err
	}
	settings := job.Settings
	if err := s.publisher.Publish(ctx, job.Layout.StagingDir, settings.OutputDirectory, settings.Name); err != nil {
		job.Warn("there was an issue while copying the mod to the output folder: " + err.Error())
		return nil
	}
	s.logger.Info("published mod", "output", settings.OutputDirectory, "mod", settings.Name)
	return nil
}

// RestoreProject undoes every project mutation an export made. It never
// fails: problems are logged and restoration carries on.
type RestoreProject struct {
	immediate
	host   modtool.Host
	logger modtool.Logger
}

func NewRestoreProject(host modtool.Host, logger modtool.Logger) *RestoreProject {
	return &RestoreProject{host: host, logger: logger}
}

func (s *RestoreProject) Name() string { return StageRestoreProject }

func (s *RestoreProject) Execute(_ context.Context, job *modtool.Job) error {
	for _, def := range job.AssemblyDefinitions {
		if err := def.Delete(); err != nil {
			s.logger.Error("deleting descriptor failed", "path", def.CurrentPath, "error", err)
		}
	}
	for _, list := range [][]*modtool.Asset{job.Assets, job.Scenes} {
		for _, a := range list {
			if err := a.Restore(); err != nil {
				s.logger.Error("restoring asset failed", "path", a.OriginalPath, "error", err)
			}
		}
	}
	if err := s.host.Refresh(); err != nil {
		s.logger.Error("refreshing host failed", "error", err)
	}
	if job.LoadedScene != "" {
		if err := s.host.OpenScene(job.LoadedScene); err != nil {
			s.logger.Error("reopening scene failed", "scene", job.LoadedScene, "error", err)
		}
	}
	return nil
}
