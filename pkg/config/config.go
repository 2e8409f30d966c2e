// Package config provides configuration loading and management for
// txmconvert. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Conversion parameters
	Conversion struct {
		// Parallel converts every discovered scan concurrently; when
		// false, scans are converted one at a time in discovery order
		Parallel bool `yaml:"parallel"`

		// Workers caps the number of concurrent conversions; 0 means one
		// worker per scan
		Workers int `yaml:"workers"`

		// ConvertTo8Bit rescales reconstructed volumes onto the 8-bit
		// range using the global minimum and maximum
		ConvertTo8Bit bool `yaml:"convertTo8Bit"`

		// LowPercentile and HighPercentile are the clip bounds used when
		// rescaling projection (.xrm) files
		LowPercentile  float64 `yaml:"lowPercentile"`
		HighPercentile float64 `yaml:"highPercentile"`
	} `yaml:"conversion"`

	// Output parameters
	Output struct {
		// Volume3D writes each scan as a single multi-page BigTIFF
		// instead of one TIFF per plane
		Volume3D bool `yaml:"volume3D"`

		// ZipOutput archives each scan's TIFF output after writing
		ZipOutput bool `yaml:"zipOutput"`

		// WritePreview saves a JPEG of the middle plane alongside the
		// TIFF output
		WritePreview bool `yaml:"writePreview"`
	} `yaml:"output"`

	// Metadata parameters
	Metadata struct {
		// DetectorRevision selects the detector half-width constant used
		// for recipe cone-angle derivation: 2042 or 2048
		DetectorRevision int `yaml:"detectorRevision"`
	} `yaml:"metadata"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Conversion.Parallel = true
	cfg.Conversion.Workers = runtime.NumCPU()
	cfg.Conversion.ConvertTo8Bit = true
	cfg.Conversion.LowPercentile = 0.1
	cfg.Conversion.HighPercentile = 99.9

	cfg.Output.Volume3D = false
	cfg.Output.ZipOutput = false
	cfg.Output.WritePreview = false

	cfg.Metadata.DetectorRevision = 2042

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Metadata.DetectorRevision != 2042 && c.Metadata.DetectorRevision != 2048 {
		return fmt.Errorf("detectorRevision must be 2042 or 2048, got %d", c.Metadata.DetectorRevision)
	}
	if c.Conversion.LowPercentile < 0 || c.Conversion.HighPercentile > 100 ||
		c.Conversion.LowPercentile >= c.Conversion.HighPercentile {
		return fmt.Errorf("percentile bounds [%v, %v] are not an ascending range within [0, 100]",
			c.Conversion.LowPercentile, c.Conversion.HighPercentile)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
