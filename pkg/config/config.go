// Package config provides configuration loading and management for dicomvolume.
// It handles loading configuration from YAML files, environment variables and
// command line flags, and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/disintegration/imaging"
	"gopkg.in/yaml.v3"

	"dicomvolume/pkg/assembly"
	"dicomvolume/pkg/projection"
)

// Config represents the application configuration
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers is the number of slices windowed in parallel, 0 for one per CPU
		NumWorkers int `yaml:"num_workers" koanf:"num_workers"`

		// SpacingTolerance is the deviation in mm allowed between a slice and its expected position
		SpacingTolerance float64 `yaml:"spacing_tolerance" koanf:"spacing_tolerance"`

		// DefaultSliceGap is the slice distance in mm for image stacks without a manifest
		DefaultSliceGap float64 `yaml:"default_slice_gap" koanf:"default_slice_gap"`
	} `yaml:"processing" koanf:"processing"`

	// Initial VOI window
	Window struct {
		// UseDefault picks the window stored with the slices instead of Center/Width
		UseDefault bool    `yaml:"use_default" koanf:"use_default"`
		Center     float64 `yaml:"center" koanf:"center"`
		// Width 0 keeps the width of the stored window
		Width float64 `yaml:"width" koanf:"width"`
	} `yaml:"window" koanf:"window"`

	// Point projection parameters
	Projection struct {
		// Bits is the voxel depth used for points, 8 or 16
		Bits int `yaml:"bits" koanf:"bits"`

		// Buckets is the number of color classes in 16-bit mode
		Buckets int `yaml:"buckets" koanf:"buckets"`

		// Alpha is the opacity of points outside the highlighted layer
		Alpha float64 `yaml:"alpha" koanf:"alpha"`

		// Projection is the camera type, ortho or frustum
		Projection string `yaml:"projection" koanf:"projection"`
	} `yaml:"projection" koanf:"projection"`

	// Renderer visibility switches
	View struct {
		HideEmpty bool `yaml:"hide_empty" koanf:"hide_empty"`
		Highlight bool `yaml:"highlight" koanf:"highlight"`
		HideAbove bool `yaml:"hide_above" koanf:"hide_above"`
		HideBelow bool `yaml:"hide_below" koanf:"hide_below"`
	} `yaml:"view" koanf:"view"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose" koanf:"verbose"`

		// LogFile sends logs to a rotated file instead of stderr
		LogFile string `yaml:"log_file" koanf:"log_file"`

		// LogMaxSize is the size in megabytes at which the log file is rotated
		LogMaxSize int `yaml:"log_max_size" koanf:"log_max_size"`

		// LogMaxAge is the number of days rotated log files are kept
		LogMaxAge int `yaml:"log_max_age" koanf:"log_max_age"`

		// ImageFormat is the file format of exported slices
		ImageFormat string `yaml:"image_format" koanf:"image_format"`
	} `yaml:"output" koanf:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.SpacingTolerance = assembly.DefaultSpacingTolerance
	cfg.Processing.DefaultSliceGap = 1.0

	cfg.Window.UseDefault = true

	view := projection.DefaultViewState()
	cfg.Projection.Bits = int(view.Bits)
	cfg.Projection.Buckets = view.Buckets
	cfg.Projection.Alpha = view.Alpha
	cfg.Projection.Projection = view.Projection.String()

	// Set default output parameters
	cfg.Output.Verbose = false
	cfg.Output.LogMaxSize = 10
	cfg.Output.LogMaxAge = 7
	cfg.Output.ImageFormat = "png"

	return cfg
}

// Validate checks that every value is in range
func (c *Config) Validate() error {
	var errs []error
	if c.Processing.NumWorkers < 0 {
		errs = append(errs, fmt.Errorf("processing.num_workers must not be negative (got %d)", c.Processing.NumWorkers))
	}
	if !(c.Processing.SpacingTolerance > 0) {
		errs = append(errs, fmt.Errorf("processing.spacing_tolerance must be positive (got %g)", c.Processing.SpacingTolerance))
	}
	if !(c.Processing.DefaultSliceGap > 0) {
		errs = append(errs, fmt.Errorf("processing.default_slice_gap must be positive (got %g)", c.Processing.DefaultSliceGap))
	}
	if !c.Window.UseDefault && c.Window.Width != 0 && c.Window.Width < 1 {
		errs = append(errs, fmt.Errorf("window.width must be 0 or at least 1 (got %g)", c.Window.Width))
	}
	if _, err := c.ViewState(); err != nil {
		errs = append(errs, err)
	}
	if c.Output.LogMaxSize < 0 || c.Output.LogMaxAge < 0 {
		errs = append(errs, errors.New("output.log_max_size and output.log_max_age must not be negative"))
	}
	if _, err := imaging.FormatFromExtension(c.Output.ImageFormat); err != nil {
		errs = append(errs, fmt.Errorf("output.image_format %q: %w", c.Output.ImageFormat, err))
	}
	return errors.Join(errs...)
}

// ViewState returns the initial renderer settings described by the configuration
func (c *Config) ViewState() (projection.ViewState, error) {
	bits, err := projection.ParseBits(c.Projection.Bits)
	if err != nil {
		return projection.ViewState{}, err
	}
	proj, err := projection.ParseProjection(c.Projection.Projection)
	if err != nil {
		return projection.ViewState{}, err
	}
	view := projection.ViewState{
		Bits:       bits,
		Buckets:    c.Projection.Buckets,
		Alpha:      c.Projection.Alpha,
		Projection: proj,
		HideEmpty:  c.View.HideEmpty,
		Highlight:  c.View.Highlight,
		HideAbove:  c.View.HideAbove,
		HideBelow:  c.View.HideBelow,
	}
	if err := view.Validate(); err != nil {
		return projection.ViewState{}, err
	}
	return view, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
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

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
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
