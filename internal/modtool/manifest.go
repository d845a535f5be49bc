package modtool

import (
	"encoding/json"
	"fmt"
	"os"
)

// Manifest describes one platform build of a mod. It is written next to the
// platform's archives and read by the runtime loader. The field names match
// what the loader expects, so they carry a leading underscore.
type Manifest struct {
	Name             string   `json:"_name"`
	Author           string   `json:"_author"`
	Description      string   `json:"_description"`
	Version          string   `json:"_version"`
	ToolchainVersion string   `json:"_unityVersion"`
	Platforms        Platform `json:"_platforms"`
	Content          Content  `json:"_content"`
	Enabled          bool     `json:"_isEnabled"`
}

// NewManifest creates the manifest for one export target.
func NewManifest(s Settings, t Target) Manifest {
	return Manifest{
		Name:             s.Name,
		Author:           s.Author,
		Description:      s.Description,
		Version:          s.Version,
		ToolchainVersion: s.ToolchainVersion,
		Platforms:        t.Platform,
		Content:          t.Content,
	}
}

// WriteFile writes the manifest as a flat JSON record.
func (m Manifest) WriteFile(path string) error {
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return wrapIO("writing", path, err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteFile.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, wrapIO("reading", path, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return m, nil
}

// RootInfo is the top-level record telling the loader which platform
// subtrees exist.
type RootInfo struct {
	Name      string   `json:"_name"`
	Platforms Platform `json:"_platforms"`
}

// WriteFile writes the root record as JSON.
func (r RootInfo) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "\t")
	if err != nil {
		return fmt.Errorf("encoding root info: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return wrapIO("writing", path, err)
	}
	return nil
}

// ReadRootInfo loads a root record.
func ReadRootInfo(path string) (RootInfo, error) {
	var r RootInfo
	data, err := os.ReadFile(path)
	if err != nil {
		return r, wrapIO("reading", path, err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("parsing root info %s: %w", path, err)
	}
	return r, nil
}
