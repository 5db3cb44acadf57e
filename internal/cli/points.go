package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dicomvolume/pkg/projection"
)

// NewPointsCommand creates the points command.
func NewPointsCommand() *cobra.Command {
	var out, nearest string
	var instance int

	cmd := &cobra.Command{
		Use:   "points <inputs>...",
		Short: "Write the normalized point set as CSV",
		Long: `Assemble, window and project the inputs, apply the view settings and write
one CSV row per visible point: x, y, z, layer, r, g, b, a. Coordinates are
normalized so that the longest physical axis spans [-1, 1].

--instance selects the current layer used by --highlight, --hide-above and
--hide-below. --nearest "x,y,z" prints the visible point closest to a
position instead of writing the file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := getEnv(cmd.Context())
			s, st, err := loadSession(cmd.Context(), rt, args)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("instance") {
				if st, err = s.SetCurrentInstance(cmd.Context(), instance); err != nil {
					return err
				}
			}

			visible := projection.Filter(st.Points, st.View)
			stdout := cmd.OutOrStdout()

			if nearest != "" {
				pos, err := parsePosition(nearest)
				if err != nil {
					return err
				}
				loc := projection.NewLocator(st.Points, visibleIn(st.View))
				p, idx, dist, ok := loc.Nearest(pos[0], pos[1], pos[2])
				if !ok {
					return fmt.Errorf("no visible point")
				}
				_, _ = fmt.Fprintf(stdout, "point %d: (%.4f, %.4f, %.4f) layer %d color %.4f bucket %d distance %.4f\n",
					idx, p.Pos[0], p.Pos[1], p.Pos[2], p.Depth, p.Color, p.Bucket, dist)
				return nil
			}

			if err := mkdirFor(out); err != nil {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := writePoints(f, visible); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			rt.logger.Info("points written", "visible", len(visible), "total", len(st.Points), "file", out)
			_, _ = fmt.Fprintf(stdout, "Wrote %s of %s points to %s\n",
				humanize.Comma(int64(len(visible))), humanize.Comma(int64(len(st.Points))), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "points.csv", "Output CSV file")
	cmd.Flags().IntVar(&instance, "instance", 0, "Instance number of the current layer")
	cmd.Flags().StringVar(&nearest, "nearest", "", "Print the visible point closest to x,y,z")
	return cmd
}

// visibleIn returns a predicate matching the points Filter keeps.
func visibleIn(view projection.ViewState) func(projection.Point) bool {
	return func(p projection.Point) bool {
		return len(projection.Filter([]projection.Point{p}, view)) == 1
	}
}

func parsePosition(s string) ([3]float64, error) {
	var pos [3]float64
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return pos, fmt.Errorf("position %q must be x,y,z", s)
	}
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return pos, fmt.Errorf("position %q: %w", s, err)
		}
		pos[i] = v
	}
	return pos, nil
}

func writePoints(w io.Writer, points []projection.RenderPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"x", "y", "z", "layer", "r", "g", "b", "a"}); err != nil {
		return err
	}
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	for _, p := range points {
		row := []string{
			format(p.Pos[0]), format(p.Pos[1]), format(p.Pos[2]),
			strconv.Itoa(p.Depth),
			format(p.R), format(p.G), format(p.B), format(p.A),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// mkdirFor creates the parent directory of path.
func mkdirFor(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
