// Package config provides configuration loading and management for dustmap.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"dustmap/pkg/density"
	"dustmap/pkg/extmap"
	"dustmap/pkg/skygrid"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input parameters
	Input struct {
		// ScienceCatalog is the CSV catalog of the extincted science field
		ScienceCatalog string `yaml:"scienceCatalog"`

		// ControlCatalog is the CSV catalog of the extinction-free control field
		ControlCatalog string `yaml:"controlCatalog"`

		// LonColumn names the longitude column in both catalogs
		LonColumn string `yaml:"lonColumn"`

		// LatColumn names the latitude column in both catalogs
		LatColumn string `yaml:"latColumn"`

		// Frame is the coordinate frame of the catalogs (galactic or equatorial)
		Frame string `yaml:"frame"`

		// Bands lists the photometric band columns, ordered by decreasing extinction
		Bands []string `yaml:"bands"`

		// ExtinctionVector holds the extinction coefficient of each band
		ExtinctionVector []float64 `yaml:"extinctionVector"`
	} `yaml:"input"`

	// Estimator parameters
	Estimator struct {
		// Method selects the estimation technique (pnicer or nicer)
		Method string `yaml:"method"`

		// Sampling is the grid oversampling factor of the density estimator
		Sampling int `yaml:"sampling"`

		// Kernel names the density kernel (epanechnikov or gaussian)
		Kernel string `yaml:"kernel"`

		// UseColors estimates in color space instead of magnitude space
		UseColors bool `yaml:"useColors"`

		// Workers specifies how many goroutines to use for density evaluation
		Workers int `yaml:"workers"`
	} `yaml:"estimator"`

	// Map parameters
	Map struct {
		// Bandwidth is the smoothing bandwidth in degrees
		Bandwidth float64 `yaml:"bandwidth"`

		// Method selects the pixel aggregation (average, median, uniform,
		// triangular, gaussian or epanechnikov)
		Method string `yaml:"method"`

		// Nicest applies the NICEST correction for unresolved substructure
		Nicest bool `yaml:"nicest"`

		// UseFWHM interprets the bandwidth as a full width at half maximum
		UseFWHM bool `yaml:"useFwhm"`

		// Sampling is the number of map pixels per bandwidth
		Sampling int `yaml:"sampling"`
	} `yaml:"map"`

	// Output parameters
	Output struct {
		// Directory receives the extinction table and rendered maps
		Directory string `yaml:"directory"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default input parameters
	cfg.Input.ScienceCatalog = "science.csv"
	cfg.Input.ControlCatalog = "control.csv"
	cfg.Input.LonColumn = "lon"
	cfg.Input.LatColumn = "lat"
	cfg.Input.Frame = string(skygrid.FrameGalactic)
	cfg.Input.Bands = []string{"J", "H", "Ks"}
	cfg.Input.ExtinctionVector = []float64{2.5, 1.55, 1.0}

	// Set default estimator parameters
	cfg.Estimator.Method = "pnicer"
	cfg.Estimator.Sampling = 2
	cfg.Estimator.Kernel = "epanechnikov"
	cfg.Estimator.UseColors = false
	cfg.Estimator.Workers = runtime.NumCPU() // Use all available cores by default

	// Set default map parameters
	cfg.Map.Bandwidth = 10.0 / 60.0
	cfg.Map.Method = "median"
	cfg.Map.Nicest = false
	cfg.Map.UseFWHM = false
	cfg.Map.Sampling = 2

	// Set default output parameters
	cfg.Output.Directory = "dustmap_output"
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks the configuration for values the pipeline cannot run with
func (cfg *Config) Validate() error {
	if cfg.Input.ScienceCatalog == "" {
		return fmt.Errorf("input: science catalog is required")
	}
	if cfg.Input.ControlCatalog == "" {
		return fmt.Errorf("input: control catalog is required")
	}
	if _, err := skygrid.ParseFrame(cfg.Input.Frame); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if len(cfg.Input.Bands) < 2 {
		return fmt.Errorf("input: at least two bands are required, got %d", len(cfg.Input.Bands))
	}
	if len(cfg.Input.ExtinctionVector) != len(cfg.Input.Bands) {
		return fmt.Errorf("input: extinction vector needs one coefficient per band, got %d for %d bands",
			len(cfg.Input.ExtinctionVector), len(cfg.Input.Bands))
	}

	switch cfg.Estimator.Method {
	case "pnicer", "nicer":
	default:
		return fmt.Errorf(`estimator: method must be "pnicer" or "nicer", got %q`, cfg.Estimator.Method)
	}
	if _, err := density.ParseKernel(cfg.Estimator.Kernel); err != nil {
		return fmt.Errorf("estimator: %w", err)
	}
	if cfg.Estimator.Sampling < 1 {
		return fmt.Errorf("estimator: sampling must be at least 1, got %d", cfg.Estimator.Sampling)
	}

	if !(cfg.Map.Bandwidth > 0) {
		return fmt.Errorf("map: bandwidth must be positive, got %g", cfg.Map.Bandwidth)
	}
	if _, err := extmap.ParseMethod(cfg.Map.Method); err != nil {
		return fmt.Errorf("map: %w", err)
	}
	if cfg.Map.Sampling < 1 {
		return fmt.Errorf("map: sampling must be at least 1, got %d", cfg.Map.Sampling)
	}

	if cfg.Output.Directory == "" {
		return fmt.Errorf("output: directory is required")
	}
	return nil
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
