package app

import (
	"fmt"

	"modtool-go/internal/config"
	"modtool-go/internal/modtool"
)

// SettingsFromConfig builds the export settings for one job. toolchain is
// the version of the host running the export.
func SettingsFromConfig(cfg *config.Config, toolchain string) (modtool.Settings, error) {
	s := modtool.Settings{
		Name:              cfg.Export.Name,
		Author:            cfg.Export.Author,
		Description:       cfg.Export.Description,
		Version:           cfg.Export.Version,
		Content:           make(map[modtool.Platform]modtool.Content),
		Compression:       make(map[modtool.Platform]modtool.Compression),
		OutputDirectory:   cfg.Export.OutputDirectory,
		ProductName:       cfg.Project.ProductName,
		RequiredToolchain: cfg.Project.RequiredToolchain,
		ToolchainVersion:  toolchain,
		SharedAssets:      cfg.Project.SharedAssets,
		StrictRewrite:     cfg.Project.StrictRewrite,
	}

	supported := make(map[modtool.Platform]modtool.Content)
	restricted := false
	for i, pc := range cfg.Platforms {
		p, err := modtool.ParsePlatform(pc.Name)
		if err != nil {
			return s, fmt.Errorf("platforms[%d]: %w", i, err)
		}
		if s.Platforms.Has(p) {
			return s, fmt.Errorf("platforms[%d]: %s listed twice", i, p)
		}
		content, err := modtool.ParseContent(pc.Content)
		if err != nil {
			return s, fmt.Errorf("platforms[%d]: %w", i, err)
		}
		compression, err := modtool.ParseCompression(pc.Compression)
		if err != nil {
			return s, fmt.Errorf("platforms[%d]: %w", i, err)
		}

		s.Platforms |= p
		s.Content[p] = content
		s.Compression[p] = compression

		supported[p] = modtool.Scenes | modtool.Assets | modtool.Code
		if len(pc.Supported) > 0 {
			if supported[p], err = modtool.ParseContent(pc.Supported); err != nil {
				return s, fmt.Errorf("platforms[%d] supported: %w", i, err)
			}
			restricted = true
		}
	}

	if restricted {
		for _, p := range modtool.AllPlatforms {
			if _, ok := supported[p]; !ok {
				supported[p] = modtool.Scenes | modtool.Assets | modtool.Code
			}
		}
		s.Supported = supported
	}
	return s, nil
}
