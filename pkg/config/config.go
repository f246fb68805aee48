// Package config provides configuration loading and management for
// imgcube. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the analysis configuration loaded from YAML.
type Config struct {
	// Cube parameters
	Cube struct {
		// Kelvin converts the brightness to Kelvin on load
		Kelvin bool `yaml:"kelvin"`

		// Absolute keeps absolute sky coordinates instead of offsets
		Absolute bool `yaml:"absolute"`
	} `yaml:"cube"`

	// Disk geometry
	Disk struct {
		// X0, Y0 is the disk centre offset in arcsec
		X0 float64 `yaml:"x0"`
		Y0 float64 `yaml:"y0"`

		// Inc is the inclination in degrees (0 = face-on)
		Inc float64 `yaml:"inc"`

		// PA is the position angle in degrees from the eastern axis
		PA float64 `yaml:"pa"`

		// Dist is the source distance in parsec
		Dist float64 `yaml:"dist"`

		// MStar is the stellar mass in solar masses
		MStar float64 `yaml:"mstar"`

		// Nearest is the closer side of the midplane, north or south
		Nearest string `yaml:"nearest"`
	} `yaml:"disk"`

	// Surface extraction parameters
	Surface struct {
		// Kind selects the surface: "powerlaw", "conical", or "data"
		// to extract it from the channel maps
		Kind string `yaml:"kind"`

		// Params are the analytical surface parameters
		Params []float64 `yaml:"params"`

		// NSigma is the background clipping level for extraction
		NSigma float64 `yaml:"nsigma"`

		// Method reduces the extracted points: gp, binned or raw
		Method string `yaml:"method"`
	} `yaml:"surface"`

	// Rotation solver parameters
	Rotation struct {
		// Method selects the solver: dv or gp
		Method string `yaml:"method"`

		// Resample averages deprojected spectra on the velocity axis
		Resample bool `yaml:"resample"`

		// NWalkers, NBurnin, NSteps bound the ensemble sampler
		NWalkers int `yaml:"nwalkers"`
		NBurnin  int `yaml:"nburnin"`
		NSteps   int `yaml:"nsteps"`

		// Seed makes the sampling reproducible
		Seed uint64 `yaml:"seed"`

		// BeamStride thins each annulus to every n-th spectrum; zero
		// selects roughly one spectrum per beam
		BeamStride int `yaml:"beamStride"`

		// Workers parallelises the radial sweep
		Workers int `yaml:"workers"`

		// ClipBeams excludes bins inside this many beam major axes
		// from the Keplerian fit
		ClipBeams float64 `yaml:"clipBeams"`
	} `yaml:"rotation"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Cube.Kelvin = true

	cfg.Disk.Dist = 100.0
	cfg.Disk.MStar = 1.0
	cfg.Disk.Nearest = "north"

	cfg.Surface.Kind = "data"
	cfg.Surface.NSigma = 1.0
	cfg.Surface.Method = "gp"

	cfg.Rotation.Method = "dv"
	cfg.Rotation.Resample = true
	cfg.Rotation.NWalkers = 32
	cfg.Rotation.NBurnin = 100
	cfg.Rotation.NSteps = 100
	cfg.Rotation.Seed = 42
	cfg.Rotation.Workers = runtime.NumCPU()
	cfg.Rotation.ClipBeams = 1.0

	return cfg
}

// LoadConfig loads configuration from a YAML file. If the file doesn't
// exist, it returns the default configuration.
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

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
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

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
