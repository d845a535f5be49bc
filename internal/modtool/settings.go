package modtool

import (
	"os"
	"path/filepath"
	"strings"
)

// Settings is the immutable set of export selections for one job. It is
// built once from config and passed to every stage; nothing reads export
// settings from process-wide state.
type Settings struct {
	Name        string
	Author      string
	Description string
	Version     string

	// Platforms is the bitmask of selected platforms.
	Platforms Platform
	// Content and Compression are the per-platform selections.
	Content     map[Platform]Content
	Compression map[Platform]Compression
	// Supported is the per-platform content the host product accepts.
	// A nil map means every kind is supported.
	Supported map[Platform]Content

	OutputDirectory string

	// ProductName and RequiredToolchain come from the host product's
	// settings. An empty RequiredToolchain accepts any toolchain.
	ProductName       string
	RequiredToolchain string
	// ToolchainVersion is the version of the toolchain running the export.
	ToolchainVersion string

	// SharedAssets are project paths (or glob patterns) that ship with the
	// base product and must never be exported with a mod.
	SharedAssets []string

	// StrictRewrite turns unresolvable call operands into rewrite errors.
	StrictRewrite bool
}

// WithToolchainVersion returns a copy of s with the toolchain version set.
func (s Settings) WithToolchainVersion(v string) Settings {
	s.ToolchainVersion = v
	return s
}

// FileName is the mod name with spaces removed, used for the generated
// script descriptor and the compiled module it produces.
func (s Settings) FileName() string {
	return strings.ReplaceAll(s.Name, " ", "")
}

// OutputLocation is where the published mod ends up: the mod's folder in
// the output directory, or its prefix when the output is a URL.
func (s Settings) OutputLocation() string {
	if strings.Contains(s.OutputDirectory, "://") {
		return strings.TrimSuffix(s.OutputDirectory, "/") + "/" + s.Name
	}
	return filepath.Join(s.OutputDirectory, s.Name)
}

// BundleName is the lower-cased name used for content archives.
func (s Settings) BundleName() string {
	return strings.ToLower(s.Name)
}

// SupportedContent returns the content kinds the host accepts for p.
func (s Settings) SupportedContent(p Platform) Content {
	if s.Supported == nil {
		return Scenes | Assets | Code
	}
	return s.Supported[p]
}

// Matrix builds the content matrix from the supported and selected content.
func (s Settings) Matrix() ContentMatrix {
	supported := make(map[Platform]Content, len(AllPlatforms))
	for _, p := range AllPlatforms {
		supported[p] = s.SupportedContent(p)
	}
	return NewContentMatrix(supported, s.Content)
}

// Validate checks the settings that must hold before anything is mutated.
// remoteOutput skips the on-disk existence check for object store targets.
func (s Settings) Validate(remoteOutput bool) error {
	if s.Name == "" {
		return &PreconditionError{Reason: "mod has no name"}
	}
	if s.OutputDirectory == "" {
		return &PreconditionError{Reason: "no output directory set"}
	}
	if !remoteOutput {
		info, err := os.Stat(s.OutputDirectory)
		if err != nil || !info.IsDir() {
			return &PreconditionError{Reason: "output directory " + s.OutputDirectory + " does not exist"}
		}
	}
	if s.Platforms == 0 {
		return &PreconditionError{Reason: "no platforms selected"}
	}
	return nil
}
