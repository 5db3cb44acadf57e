package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"dicomvolume/pkg/session"
)

// NewInfoCommand creates the info command.
func NewInfoCommand() *cobra.Command {
	var frames bool
	var instance int

	cmd := &cobra.Command{
		Use:   "info <inputs>...",
		Short: "Show collection properties",
		Long: `Assemble the inputs and print the properties of the resulting collection:
patient, dimensions, spacing, value range and window. With --frames, one row
per slice is added; with --instance, the details of a single slice.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := getEnv(cmd.Context())
			s, st, err := loadSession(cmd.Context(), rt, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			stats, err := s.Stats()
			if err != nil {
				return err
			}
			renderStats(out, stats, st)

			if cmd.Flags().Changed("instance") {
				fi, err := s.Frame(instance)
				if err != nil {
					return err
				}
				renderFrame(out, fi)
			} else if frames {
				if err := renderFrames(out, s, st); err != nil {
					return err
				}
			}

			for _, le := range st.LayerErrors {
				_, _ = fmt.Fprintf(out, "warning: %v\n", le)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&frames, "frames", false, "List every slice")
	cmd.Flags().IntVar(&instance, "instance", 0, "Show the details of one slice")
	return cmd
}

func renderStats(w io.Writer, stats session.Stats, st *session.State) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Property", "Value"})

	t.AppendRow(table.Row{"Patient", stats.PatientID})
	t.AppendRow(table.Row{"Slices", fmt.Sprintf("%d of %d", stats.Slices, stats.Expected)})
	t.AppendRow(table.Row{"Instances", fmt.Sprintf("%d..%d", stats.MinInstance, stats.MaxInstance)})
	t.AppendRow(table.Row{"Dimensions", fmt.Sprintf("%dx%dx%d", stats.Width, stats.Height, stats.Expected)})
	t.AppendRow(table.Row{"Pixel spacing", stats.PixelSpacing.String() + " mm"})
	t.AppendRow(table.Row{"Slice spacing", fmt.Sprintf("%g mm", stats.SliceSpacing)})
	t.AppendRow(table.Row{"Values", fmt.Sprintf("[%g, %g]", stats.Values.Min, stats.Values.Max)})
	t.AppendRow(table.Row{"Window", fmt.Sprintf("center %g, width %g", stats.Window.Center, stats.Window.Width)})
	if st.Display != nil {
		t.AppendRow(table.Row{"8-bit volume", humanize.Bytes(uint64(len(st.Display.Data)))})
	}
	if st.Raw != nil {
		t.AppendRow(table.Row{"16-bit volume", humanize.Bytes(uint64(2 * len(st.Raw.Data)))})
	}
	t.AppendRow(table.Row{"Points", humanize.Comma(int64(len(st.Points)))})
	t.Render()

	for _, warning := range stats.Warnings {
		_, _ = fmt.Fprintf(w, "warning: %s\n", warning)
	}
}

func renderFrames(w io.Writer, s *session.Session, st *session.State) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Instance", "Source", "Acq.", "Z (mm)", "Used", "Mean", "Std. dev."})

	for _, rec := range st.Collection.Records() {
		fi, err := s.Frame(rec.InstanceNumber())
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{
			fi.InstanceNumber,
			fi.Source,
			fi.AcquisitionNumber,
			fmt.Sprintf("%.2f", fi.Position.Z),
			fmt.Sprintf("[%g, %g]", fi.Used.Min, fi.Used.Max),
			fmt.Sprintf("%.2f", fi.Mean),
			fmt.Sprintf("%.2f", fi.StdDev),
		})
	}
	t.Render()
	return nil
}

func renderFrame(w io.Writer, fi session.FrameInfo) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Slice", fmt.Sprint(fi.InstanceNumber)})

	t.AppendRow(table.Row{"Source", fi.Source})
	t.AppendRow(table.Row{"Acquisition", fi.AcquisitionNumber})
	t.AppendRow(table.Row{"Encoding", fi.TransferSyntax})
	t.AppendRow(table.Row{"Frames", fi.FrameCount})
	t.AppendRow(table.Row{"Size", fmt.Sprintf("%dx%d", fi.Width, fi.Height)})
	t.AppendRow(table.Row{"Position", fmt.Sprintf("(%g, %g, %g)", fi.Position.X, fi.Position.Y, fi.Position.Z)})
	t.AppendRow(table.Row{"Allowed", fmt.Sprintf("[%g, %g]", fi.Allowed.Min, fi.Allowed.Max)})
	t.AppendRow(table.Row{"Used", fmt.Sprintf("[%g, %g]", fi.Used.Min, fi.Used.Max)})
	if fi.HasWindow {
		t.AppendRow(table.Row{"Window", fmt.Sprintf("[%g, %g]", fi.Window.Min(), fi.Window.Max())})
	}
	t.AppendRow(table.Row{"Rescale", fmt.Sprintf("%g*x + %g", fi.RescaleSlope, fi.RescaleIntercept)})
	t.AppendRow(table.Row{"Mean", fmt.Sprintf("%.2f", fi.Mean)})
	t.AppendRow(table.Row{"Std. dev.", fmt.Sprintf("%.2f", fi.StdDev)})
	t.Render()
}
