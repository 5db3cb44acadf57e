package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes the environment variables read by Load. The first
// underscore after the prefix separates the section from the key:
// DICOMVOLUME_PROCESSING_NUM_WORKERS sets processing.num_workers.
const EnvPrefix = "DICOMVOLUME_"

// DefaultFile is the config file Load looks for when none is given.
const DefaultFile = "dicomvolume.yaml"

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"workers":    "processing.num_workers",
	"tolerance":  "processing.spacing_tolerance",
	"slice-gap":  "processing.default_slice_gap",
	"center":     "window.center",
	"width":      "window.width",
	"bits":       "projection.bits",
	"buckets":    "projection.buckets",
	"alpha":      "projection.alpha",
	"projection": "projection.projection",
	"hide-empty": "view.hide_empty",
	"highlight":  "view.highlight",
	"hide-above": "view.hide_above",
	"hide-below": "view.hide_below",
	"verbose":    "output.verbose",
	"log-file":   "output.log_file",
	"format":     "output.image_format",
}

func defaults() map[string]interface{} {
	d := DefaultConfig()
	return map[string]interface{}{
		"processing.num_workers":       d.Processing.NumWorkers,
		"processing.spacing_tolerance": d.Processing.SpacingTolerance,
		"processing.default_slice_gap": d.Processing.DefaultSliceGap,
		"window.use_default":           d.Window.UseDefault,
		"window.center":                d.Window.Center,
		"window.width":                 d.Window.Width,
		"projection.bits":              d.Projection.Bits,
		"projection.buckets":           d.Projection.Buckets,
		"projection.alpha":             d.Projection.Alpha,
		"projection.projection":        d.Projection.Projection,
		"view.hide_empty":              d.View.HideEmpty,
		"view.highlight":               d.View.Highlight,
		"view.hide_above":              d.View.HideAbove,
		"view.hide_below":              d.View.HideBelow,
		"output.verbose":               d.Output.Verbose,
		"output.log_file":              d.Output.LogFile,
		"output.log_max_size":          d.Output.LogMaxSize,
		"output.log_max_age":           d.Output.LogMaxAge,
		"output.image_format":          d.Output.ImageFormat,
	}
}

// envKey turns DICOMVOLUME_SECTION_SOME_KEY into section.some_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, key, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + key
}

// Load builds the configuration from defaults, the YAML file at path (or
// DefaultFile in the working directory when path is empty), DICOMVOLUME_
// environment variables and the flags that were set, in increasing order of
// precedence. The result is validated.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// 3. Environment
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags that were explicitly set
	if flags != nil {
		explicitWindow := false
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			if key == "window.center" || key == "window.width" {
				explicitWindow = true
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
		// A window given on the command line replaces the stored one.
		if explicitWindow {
			if err := k.Set("window.use_default", false); err != nil {
				return nil, fmt.Errorf("failed to load flags: %w", err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
