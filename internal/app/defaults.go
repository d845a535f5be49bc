package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - MODTOOL_CONFIG_PATH: config file location (default: ~/.config/modtool.toml)
//   - MODTOOL_HOME: base directory for modtool data (default: ~/.local/share/modtool)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"cache_dir":   filepath.Join(baseDir, "cache"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("MODTOOL_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "modtool.toml"), nil
}

// getBaseDir falls back to the XDG default ~/.local/share/modtool.
func getBaseDir() (string, error) {
	if path := os.Getenv("MODTOOL_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "modtool"), nil
}
