package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"dicomvolume/pkg/projection"
	"dicomvolume/pkg/session"
	"dicomvolume/pkg/visualization"
)

// NewExportCommand creates the export command.
func NewExportCommand() *cobra.Command {
	var outDir, axis string
	var instance int

	cmd := &cobra.Command{
		Use:   "export <inputs>...",
		Short: "Save windowed slices as images",
		Long: `Assemble and window the inputs, then save every plane of the volume along
an axis. In 8-bit mode planes are grayscale; in 16-bit mode voxels are colored
by bucket. With --instance only the slice with that instance number is saved.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := getEnv(cmd.Context())
			_, st, err := loadSession(cmd.Context(), rt, args)
			if err != nil {
				return err
			}

			viewer, err := viewerFor(st)
			if err != nil {
				return err
			}
			format := rt.cfg.Output.ImageFormat

			var paths []string
			if cmd.Flags().Changed("instance") {
				coll := st.Collection
				if instance < coll.MinInstance || instance > coll.MaxInstance {
					return fmt.Errorf("instance %d is outside [%d, %d]", instance, coll.MinInstance, coll.MaxInstance)
				}
				img, err := viewer.ExtractScaledSlice("z", coll.Layer(instance))
				if err != nil {
					return err
				}
				path := filepath.Join(outDir, fmt.Sprintf("instance_%03d.%s", instance, format))
				if err := mkdirFor(path); err != nil {
					return err
				}
				if err := viewer.SaveSlice(img, path); err != nil {
					return err
				}
				paths = append(paths, path)
			} else {
				paths, err = viewer.SaveSliceSequence(axis, outDir, format)
				if err != nil {
					return err
				}
			}

			rt.logger.Info("slices exported", "count", len(paths), "dir", outDir)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d images to %s\n", len(paths), outDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "slices", "Output directory")
	cmd.Flags().StringVar(&axis, "axis", "z", "Axis to cut planes along (x|y|z)")
	cmd.Flags().IntVar(&instance, "instance", 0, "Save only the slice with this instance number")
	return cmd
}

// viewerFor picks the viewer matching the bit depth of the state.
func viewerFor(st *session.State) (*visualization.Viewer, error) {
	if st.View.Bits == projection.Bits16 {
		return visualization.NewBucketViewer(st.Raw, st.View.Buckets)
	}
	return visualization.NewViewer(st.Display), nil
}
