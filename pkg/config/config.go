// Package config provides configuration loading and management for ctslices.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"ctslices/internal/models"
	"ctslices/pkg/dicom"
	"ctslices/pkg/filters"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores full-volume filters may use
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Filter parameters
	Filters struct {
		Median struct {
			// Kernel is the neighbourhood extent along x, y and z
			Kernel filters.Kernel `yaml:"kernel"`
		} `yaml:"median"`

		Threshold struct {
			// Lower and Upper are the inclusive bounds of the kept window
			Lower int16 `yaml:"lower"`
			Upper int16 `yaml:"upper"`
		} `yaml:"threshold"`

		Gradient struct {
			// Variant is one of gradient-xy, roberts or sobel
			Variant string `yaml:"variant"`
		} `yaml:"gradient"`
	} `yaml:"filters"`

	// Export parameters
	Export struct {
		// Prefix is the path prefix of exported files, <prefix>-0000.dcm
		Prefix string `yaml:"prefix"`

		// Extension of exported files, without the dot
		Extension string `yaml:"extension"`

		// Patient and study fields written into every file
		dicom.Metadata `yaml:",inline"`
	} `yaml:"export"`

	// Viewer parameters
	Viewer struct {
		// SnapshotDir receives TIFF snapshots of the three views on every
		// redraw; empty disables snapshots
		SnapshotDir string `yaml:"snapshotDir"`

		// HistogramBins is the bin count of intensity histograms
		HistogramBins int `yaml:"histogramBins"`
	} `yaml:"viewer"`

	// Journal parameters
	Journal struct {
		// Path of the SQLite job journal; empty disables the journal
		Path string `yaml:"path"`
	} `yaml:"journal"`

	// Logging parameters
	Logging struct {
		// Debug enables debug level logging with a text formatter
		Debug bool `yaml:"debug"`

		// JSON selects the JSON formatter when not debugging
		JSON bool `yaml:"json"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default

	cfg.Filters.Median.Kernel = filters.Kernel{Width: 3, Height: 3, Depth: 3}
	cfg.Filters.Threshold.Lower = 0
	cfg.Filters.Threshold.Upper = 1000
	cfg.Filters.Gradient.Variant = "sobel"

	cfg.Export.Prefix = "export/ct"
	cfg.Export.Extension = "dcm"
	cfg.Export.Metadata = dicom.DefaultMetadata()

	cfg.Viewer.HistogramBins = 64

	cfg.Logging.JSON = true

	return cfg
}

// Validate checks the values that cannot be corrected silently
func (c *Config) Validate() error {
	if c.Processing.NumCores < 0 {
		return fmt.Errorf("processing.numCores must not be negative, got %d", c.Processing.NumCores)
	}
	k := c.Filters.Median.Kernel
	if k.Width <= 0 || k.Height <= 0 || k.Depth <= 0 {
		return fmt.Errorf("filters.median.kernel must be positive, got %dx%dx%d", k.Width, k.Height, k.Depth)
	}
	if c.Filters.Threshold.Lower > c.Filters.Threshold.Upper {
		return fmt.Errorf("filters.threshold.lower %d exceeds upper %d",
			c.Filters.Threshold.Lower, c.Filters.Threshold.Upper)
	}
	if kind, _, err := filters.ParseFilter(c.Filters.Gradient.Variant); err != nil || kind != filters.Gradient {
		return fmt.Errorf("filters.gradient.variant %q is not a gradient variant", c.Filters.Gradient.Variant)
	}
	if c.Export.Extension == "" {
		return fmt.Errorf("export.extension must not be empty")
	}
	if c.Viewer.HistogramBins <= 0 {
		return fmt.Errorf("viewer.histogramBins must be positive, got %d", c.Viewer.HistogramBins)
	}
	return nil
}

// FilterRequest builds a request for the named filter from the configured
// parameters. The name "gradient" uses the configured variant.
func (c *Config) FilterRequest(name string, scope models.Scope) (filters.Request, error) {
	if name == "gradient" {
		name = c.Filters.Gradient.Variant
	}
	kind, variant, err := filters.ParseFilter(name)
	if err != nil {
		return filters.Request{}, err
	}
	return filters.Request{
		Kind:    kind,
		Scope:   scope,
		Kernel:  c.Filters.Median.Kernel,
		Variant: variant,
		Lower:   c.Filters.Threshold.Lower,
		Upper:   c.Filters.Threshold.Upper,
	}, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
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
