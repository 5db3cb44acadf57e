// Package visualization exports planes of windowed volumes as images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"dicomvolume/internal/models"
	"dicomvolume/pkg/projection"
)

// Viewer extracts axis-aligned planes from a volume.
type Viewer struct {
	geom models.Geometry

	// pixel returns the color of the voxel at a volume index
	pixel func(idx int) color.Color
	gray  bool
}

// NewViewer creates a viewer over an 8-bit display volume. Planes are
// grayscale.
func NewViewer(vol *models.DisplayVolume) *Viewer {
	return &Viewer{
		geom: vol.Geometry,
		pixel: func(idx int) color.Color {
			return color.Gray{Y: vol.Data[idx]}
		},
		gray: true,
	}
}

// NewBucketViewer creates a viewer over a raw 16-bit volume. Each voxel is
// drawn with the palette color of its bucket; voxels outside the window are
// black.
func NewBucketViewer(vol *models.RawVolume, buckets int) (*Viewer, error) {
	if buckets < 1 {
		return nil, projection.ErrInvalidBuckets
	}
	palette := projection.Palette(buckets)
	black := color.NRGBA{A: 255}
	return &Viewer{
		geom: vol.Geometry,
		pixel: func(idx int) color.Color {
			_, b := projection.Bucket(float64(vol.Data[idx]), vol.WindowMin, vol.WindowMax, buckets)
			if b < 0 || b >= len(palette) {
				return black
			}
			return palette[b].Clamped()
		},
	}, nil
}

// Geometry returns the shape of the viewed volume.
func (v *Viewer) Geometry() models.Geometry { return v.geom }

// axisLen returns the number of planes along an axis.
func (v *Viewer) axisLen(axis string) (int, error) {
	switch strings.ToLower(axis) {
	case "x":
		return v.geom.Width, nil
	case "y":
		return v.geom.Height, nil
	case "z":
		return v.geom.Depth, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

func (v *Viewer) newImage(w, h int) canvas {
	if v.gray {
		img := image.NewGray(image.Rect(0, 0, w, h))
		return canvas{img, img.Set}
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	return canvas{img, img.Set}
}

type canvas struct {
	img image.Image
	set func(x, y int, c color.Color)
}

// ExtractSlice extracts one plane of the volume at a voxel position along
// axis. A z plane is a slice as acquired; x planes are depth wide and y
// planes are depth high.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	n, err := v.axisLen(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d is outside [0, %d) along %s", position, n, axis)
	}
	g := v.geom

	var d canvas
	switch strings.ToLower(axis) {
	case "x":
		// YZ plane
		d = v.newImage(g.Depth, g.Height)
		for y := 0; y < g.Height; y++ {
			for z := 0; z < g.Depth; z++ {
				d.set(z, y, v.pixel(g.Index(position, y, z)))
			}
		}
	case "y":
		// XZ plane
		d = v.newImage(g.Width, g.Depth)
		for z := 0; z < g.Depth; z++ {
			for x := 0; x < g.Width; x++ {
				d.set(x, z, v.pixel(g.Index(x, position, z)))
			}
		}
	default:
		// XY plane
		d = v.newImage(g.Width, g.Height)
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				d.set(x, y, v.pixel(g.Index(x, y, position)))
			}
		}
	}
	return d.img, nil
}

// ExtractScaledSlice extracts a plane and resizes it so that every pixel
// covers the same physical distance on both image axes.
func (v *Viewer) ExtractScaledSlice(axis string, position int) (image.Image, error) {
	img, err := v.ExtractSlice(axis, position)
	if err != nil {
		return nil, err
	}
	g := v.geom
	sz := g.SliceSpacing
	if !(sz > 0) {
		sz = math.Min(g.PixelWidth, g.PixelHeight)
	}
	unit := math.Min(math.Min(g.PixelWidth, g.PixelHeight), sz)
	if !(unit > 0) {
		return img, nil
	}

	var sx, sy float64
	switch strings.ToLower(axis) {
	case "x":
		sx, sy = sz, g.PixelHeight
	case "y":
		sx, sy = g.PixelWidth, sz
	default:
		sx, sy = g.PixelWidth, g.PixelHeight
	}
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * sx / unit))
	h := int(math.Round(float64(b.Dy()) * sy / unit))
	if w == b.Dx() && h == b.Dy() {
		return img, nil
	}
	return imaging.Resize(img, w, h, imaging.NearestNeighbor), nil
}

// SaveSlice saves an extracted slice. The format follows the file extension.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	return imaging.Save(img, filename, imaging.JPEGQuality(90))
}

// SaveSliceSequence extracts and saves every plane along the specified axis
// as slice_<axis>_<position>.<format> and returns the written paths.
func (v *Viewer) SaveSliceSequence(axis, outputDir, format string) ([]string, error) {
	n, err := v.axisLen(axis)
	if err != nil {
		return nil, err
	}
	if _, err := imaging.FormatFromExtension(format); err != nil {
		return nil, fmt.Errorf("image format %q: %w", format, err)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, n)
	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractScaledSlice(axis, pos)
		if err != nil {
			return paths, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.%s", strings.ToLower(axis), pos, format))
		if err := v.SaveSlice(img, filename); err != nil {
			return paths, fmt.Errorf("failed to save %s: %w", filename, err)
		}
		paths = append(paths, filename)
	}
	return paths, nil
}
