package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for modtool.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Project    ProjectConfig    `toml:"project"`
	Export     ExportConfig     `toml:"export"`
	Platforms  []PlatformConfig `toml:"platforms"`
	Publish    PublishConfig    `toml:"publish"`
	History    HistoryConfig    `toml:"history"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Encryption EncryptionConfig `toml:"encryption"`
	Verify     VerifyConfig     `toml:"verify"`
	Host       HostConfig       `toml:"host"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
}

// ProjectConfig describes the project being exported from and the host
// product the mod targets.
type ProjectConfig struct {
	Root              string   `toml:"root"`
	ProductName       string   `toml:"product_name"`
	RequiredToolchain string   `toml:"required_toolchain,omitempty"`
	SharedAssets      []string `toml:"shared_assets,omitempty"`
	StrictRewrite     bool     `toml:"strict_rewrite"`
}

// ExportConfig holds the mod's identity and where it is published.
type ExportConfig struct {
	Name            string `toml:"name"`
	Author          string `toml:"author"`
	Description     string `toml:"description"`
	Version         string `toml:"version"`
	OutputDirectory string `toml:"output_directory"`
}

// PlatformConfig selects a platform and its content. Supported lists the
// content kinds the host product accepts; empty means all.
type PlatformConfig struct {
	Name        string   `toml:"name"`
	Content     []string `toml:"content"`
	Compression string   `toml:"compression,omitempty"` // "lzma" (default), "lz4" or "none"
	Supported   []string `toml:"supported,omitempty"`
}

// PublishConfig represents configuration for the output publisher.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type PublishConfig struct {
	Type string `toml:"type"` // "filesystem" (default) or "s3"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket       string `toml:"s3_bucket,omitempty"`
	S3Prefix       string `toml:"s3_prefix,omitempty"`
	S3Region       string `toml:"s3_region,omitempty"`
	S3Endpoint     string `toml:"s3_endpoint,omitempty"`
	S3AccessKey    string `toml:"s3_access_key,omitempty"`
	S3SecretKey    string `toml:"s3_secret_key,omitempty"`
	S3UsePathStyle bool   `toml:"s3_use_path_style,omitempty"`
}

// HistoryConfig represents configuration for the export history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type HistoryConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "none"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// CheckpointConfig represents configuration for suspended export storage.
type CheckpointConfig struct {
	Type string `toml:"type"`          // "filesystem" or "memory"
	Dir  string `toml:"dir,omitempty"` // only used for type=filesystem
}

// EncryptionConfig holds paths to the age key pair used to seal archives.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VerifyConfig points at the disallowed API rules.
type VerifyConfig struct {
	RulesPath string `toml:"rules_path,omitempty"`
}

// HostConfig describes the headless host environment.
type HostConfig struct {
	ToolchainVersion string   `toml:"toolchain_version"`
	ActiveScene      string   `toml:"active_scene,omitempty"`
	CompileCommand   []string `toml:"compile_command,omitempty"`
	AssumeYes        bool     `toml:"assume_yes"`
}

// DiscoveryConfig configures the mod search directory watcher.
type DiscoveryConfig struct {
	Interval string `toml:"interval,omitempty"` // Go duration, default "2s"
	Notify   bool   `toml:"notify"`             // also react to filesystem events
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(projectRoot, baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Project: ProjectConfig{Root: projectRoot},
		Export:  ExportConfig{Version: "1.0"},
		Platforms: []PlatformConfig{
			{Name: "Windows", Content: []string{"scenes", "assets", "code"}, Compression: "lzma"},
		},
		Publish:    PublishConfig{Type: "filesystem"},
		History:    HistoryConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Checkpoint: CheckpointConfig{Type: "filesystem", Dir: filepath.Join(baseDir, "checkpoints")},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "modtool.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "modtool.key"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
