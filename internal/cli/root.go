// Package cli provides the command-line interface for dicomvolume.
package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"dicomvolume/pkg/config"
	"dicomvolume/pkg/logging"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// envKey stores the runEnv in the command context.
type envKey struct{}

// runEnv is what PersistentPreRunE prepares for the commands.
type runEnv struct {
	cfg    *config.Config
	logger *slog.Logger
	close  func() error
}

// skipConfig lists the commands that run without loading the configuration.
var skipConfig = map[string]bool{
	"help":       true,
	"completion": true,
	"version":    true,
	"init":       true,
}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "dicomvolume",
		Short: "Assemble image slices into windowed volumes and point sets",
		Long: `dicomvolume reads a series of DICOM files or a directory of grayscale
slices, validates that they form one regular volume, and produces windowed
8-bit or raw 16-bit volumes, slice images and normalized point sets.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfig[cmd.Name()] {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			logger, closeLog := logging.New(logging.Options{
				Verbose: cfg.Output.Verbose,
				File:    cfg.Output.LogFile,
				MaxSize: cfg.Output.LogMaxSize,
				MaxAge:  cfg.Output.LogMaxAge,
				Stderr:  cmd.ErrOrStderr(),
			})
			rt := &runEnv{cfg: cfg, logger: logger, close: closeLog}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, rt))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if rt, ok := cmd.Context().Value(envKey{}).(*runEnv); ok {
				return rt.close()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags, mapped onto config keys by config.Load
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./"+config.DefaultFile+")")
	pf.BoolP("verbose", "v", false, "Verbose output")
	pf.String("log-file", "", "Write logs to a rotated file")
	pf.Int("workers", 0, "Slices windowed in parallel (0 for one per CPU)")
	pf.Float64("tolerance", 0, "Slice spacing tolerance in mm")
	pf.Float64("slice-gap", 0, "Slice distance in mm for image stacks without a manifest")
	pf.Float64("center", 0, "Window center (overrides the stored window)")
	pf.Float64("width", 0, "Window width (defaults to the stored width when only --center is set)")
	pf.Int("bits", 8, "Voxel depth of points and exports (8 or 16)")
	pf.Int("buckets", 6, "Number of color buckets in 16-bit mode")
	pf.Float64("alpha", 0, "Opacity of points outside the current layer")
	pf.String("projection", "", "Camera projection (ortho|frustum)")
	pf.Bool("hide-empty", false, "Hide points with a zero color")
	pf.Bool("highlight", false, "Draw the current layer opaque")
	pf.Bool("hide-above", false, "Hide layers above the current one")
	pf.Bool("hide-below", false, "Hide layers below the current one")
	pf.String("format", "", "Image format of exported slices (png|jpg|tif|bmp|gif)")

	_ = rootCmd.RegisterFlagCompletionFunc("projection", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"ortho", "frustum"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("bits", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"8", "16"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(NewVersionCommand(Version))
	rootCmd.AddCommand(NewInfoCommand())
	rootCmd.AddCommand(NewExportCommand())
	rootCmd.AddCommand(NewPointsCommand())
	rootCmd.AddCommand(NewConfigCommand())

	return rootCmd
}

// getEnv retrieves the runEnv from the command context, falling back
// to defaults.
func getEnv(ctx context.Context) *runEnv {
	if rt, ok := ctx.Value(envKey{}).(*runEnv); ok {
		return rt
	}
	return &runEnv{
		cfg:    config.DefaultConfig(),
		logger: slog.New(slog.DiscardHandler),
		close:  func() error { return nil },
	}
}
