package modtool

import (
	"path/filepath"
)

// Default project-relative directories.
const (
	DefaultAssetsDir   = "Assets"
	DefaultCompiledDir = "Library/ScriptAssemblies"
	DefaultStagingDir  = "Temp/ModDirectory"
	DefaultBackupDir   = "Backup"
)

// Layout is the directory contract of a project. All fields are absolute.
type Layout struct {
	ProjectRoot string `json:"project_root"`
	AssetsDir   string `json:"assets_dir"`
	CompiledDir string `json:"compiled_dir"`
	StagingDir  string `json:"staging_dir"`
	BackupDir   string `json:"backup_dir"`
}

// NewLayout returns the default layout for a project root.
func NewLayout(projectRoot string) Layout {
	return Layout{
		ProjectRoot: projectRoot,
		AssetsDir:   filepath.Join(projectRoot, filepath.FromSlash(DefaultAssetsDir)),
		CompiledDir: filepath.Join(projectRoot, filepath.FromSlash(DefaultCompiledDir)),
		StagingDir:  filepath.Join(projectRoot, filepath.FromSlash(DefaultStagingDir)),
		BackupDir:   filepath.Join(projectRoot, filepath.FromSlash(DefaultBackupDir)),
	}
}

// Rel returns path relative to the project root using forward slashes.
func (l Layout) Rel(path string) string {
	rel, err := filepath.Rel(l.ProjectRoot, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Target is one selected platform with its content and compression.
type Target struct {
	Platform    Platform    `json:"platform"`
	Content     Content     `json:"content"`
	Compression Compression `json:"compression"`
}

// Job is the shared context of one export. Stages read and mutate it in
// order; it is discarded when the pipeline returns to idle. It serializes to
// JSON so a suspended export can be resumed by a later process.
type Job struct {
	ID       string   `json:"id"`
	Settings Settings `json:"settings"`
	Layout   Layout   `json:"layout"`

	Targets []Target `json:"targets"`

	Assemblies []*Asset `json:"assemblies"`
	Assets     []*Asset `json:"assets"`
	Scenes     []*Asset `json:"scenes"`
	// AssemblyDefinitions are descriptors created by the export; they are
	// deleted during restoration.
	AssemblyDefinitions []*Asset `json:"assembly_definitions"`

	// LoadedScene is the scene that was open before the export started.
	LoadedScene string `json:"loaded_scene"`

	// Modules are the rewritten modules in the staging directory.
	Modules []string `json:"modules"`

	Warnings  []string `json:"warnings"`
	Artifacts []string `json:"artifacts"`
}

// NewJob creates an empty job for the given settings and layout.
func NewJob(id string, settings Settings, layout Layout) *Job {
	return &Job{ID: id, Settings: settings, Layout: layout}
}

// HasCode reports whether any target includes compiled code.
func (j *Job) HasCode() bool {
	for _, t := range j.Targets {
		if t.Content.Has(Code) {
			return true
		}
	}
	return false
}

// PlatformMask is the union of every target that exports any content.
func (j *Job) PlatformMask() Platform {
	var mask Platform
	for _, t := range j.Targets {
		if t.Content != 0 {
			mask |= t.Platform
		}
	}
	return mask
}

// Warn records a non-fatal problem to report when the job finishes.
func (j *Job) Warn(msg string) {
	j.Warnings = append(j.Warnings, msg)
}

// Prune clears content kinds whose catalogs are empty from every target.
func (j *Job) Prune() {
	var empty Content
	if len(j.Assets) == 0 {
		empty |= Assets
	}
	if len(j.Scenes) == 0 {
		empty |= Scenes
	}
	if len(j.Assemblies) == 0 {
		empty |= Code
	}
	for i := range j.Targets {
		j.Targets[i].Content &^= empty
	}
}

// EmptyTargets returns the platforms left with no content.
func (j *Job) EmptyTargets() []Platform {
	var out []Platform
	for _, t := range j.Targets {
		if t.Content == 0 {
			out = append(out, t.Platform)
		}
	}
	return out
}
