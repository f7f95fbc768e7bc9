// Package config provides configuration loading and structs for the image indexer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Source   SourceConfig   `yaml:"source"`
	Model    ModelConfig    `yaml:"model"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Output   OutputConfig   `yaml:"output"`
	Watch    WatchConfig    `yaml:"watch"`
}

// SourceConfig lists candidate image folders in priority order and the file suffixes to index.
// The first existing folder wins; suffix matching is case-sensitive.
type SourceConfig struct {
	Folders    []string `yaml:"folders"`
	Extensions []string `yaml:"extensions"`
}

// ModelConfig holds vision model settings.
type ModelConfig struct {
	Backend     string `yaml:"backend"` // "onnx" or "mock"
	WeightsPath string `yaml:"weights_path"`
	InputName   string `yaml:"input_name"`
	OutputName  string `yaml:"output_name"`
	Dimensions  int    `yaml:"dimensions"`
	ImageSize   int    `yaml:"image_size"`
	MinFileSize int64  `yaml:"min_file_size"`
	// RuntimeLibrary is the onnxruntime shared library path; empty uses the platform default.
	RuntimeLibrary string `yaml:"runtime_library"`
}

// DispatchConfig holds chunking and worker pool settings.
type DispatchConfig struct {
	BatchSize int `yaml:"batch_size"`
	Workers   int `yaml:"workers"`
}

// OutputConfig holds paths for the persisted index and the run report.
type OutputConfig struct {
	FeaturesPath string `yaml:"features_path"`
	PathsPath    string `yaml:"paths_path"`
	ReportPath   string `yaml:"report_path"`
}

// WatchConfig holds rebuild-on-change settings.
type WatchConfig struct {
	DebounceMS int `yaml:"debounce_ms"`
}

// Debounce returns the debounce interval as a duration.
func (w *WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMS) * time.Millisecond
}

// Load reads and parses the config file at path, applies defaults, and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	for i := range cfg.Source.Folders {
		cfg.Source.Folders[i] = expandPath(cfg.Source.Folders[i], configDir)
	}
	cfg.Model.WeightsPath = expandPath(cfg.Model.WeightsPath, configDir)
	cfg.Output.FeaturesPath = expandPath(cfg.Output.FeaturesPath, configDir)
	cfg.Output.PathsPath = expandPath(cfg.Output.PathsPath, configDir)
	cfg.Output.ReportPath = expandPath(cfg.Output.ReportPath, configDir)

	return &cfg, nil
}

// Default returns a config with every field set to its default. Paths stay relative to the
// working directory.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a "./" path to one relative to configDir. Absolute paths and
// bare relative names (e.g. "gallery") are left unchanged so they resolve against the
// working directory, which is where the indexer looks for its inputs.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	return path
}
