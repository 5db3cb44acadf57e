// Package projection turns windowed volumes into point sets for a renderer.
//
// Every voxel becomes a Point whose position is normalized so that the
// longest physical axis of the volume spans [-1, 1] and the volume is
// centered at the origin. Points carry their layer, a 0..1 color and, for raw
// 16-bit volumes, the bucket the value falls into. Visibility is not baked
// into the points: Filter applies a ViewState to them at render time.
package projection

import (
	"errors"
	"math"

	"dicomvolume/internal/models"
)

// Bucket sentinels.
const (
	// BucketExcluded marks a raw value outside the window; the point is not
	// drawn.
	BucketExcluded = -1

	// BucketNotApplicable marks points projected from an 8-bit volume.
	BucketNotApplicable = -2
)

// ErrDegenerateVolume is returned for volumes without physical extent.
var ErrDegenerateVolume = errors.New("volume has no physical extent")

// ErrInvalidBuckets is returned for a bucket count below 1.
var ErrInvalidBuckets = errors.New("bucket count must be at least 1")

// Point is one voxel ready for rendering.
type Point struct {
	Pos    [3]float64
	Depth  int
	Color  float64
	Bucket int
}

// Mode selects which volume is projected. It is either DisplayMode or
// RawMode.
type Mode interface {
	geometry() models.Geometry
	Bits() Bits
}

// DisplayMode projects an 8-bit display volume.
type DisplayMode struct {
	Volume *models.DisplayVolume
}

func (m DisplayMode) geometry() models.Geometry { return m.Volume.Geometry }

// Bits implements Mode.
func (DisplayMode) Bits() Bits { return Bits8 }

// RawMode projects a raw 16-bit volume into Buckets segments of its window.
type RawMode struct {
	Volume  *models.RawVolume
	Buckets int
}

func (m RawMode) geometry() models.Geometry { return m.Volume.Geometry }

// Bits implements Mode.
func (RawMode) Bits() Bits { return Bits16 }

// Factors returns the per-axis scale that maps voxel offsets to normalized
// coordinates. The longest physical axis spans exactly 2.
func Factors(g models.Geometry) (x, y, z float64, err error) {
	maxSize := math.Max(math.Max(g.PixelWidth*float64(g.Width), g.PixelHeight*float64(g.Height)),
		g.SliceSpacing*float64(g.Depth))
	if !(maxSize > 0) || math.IsInf(maxSize, 0) {
		return 0, 0, 0, ErrDegenerateVolume
	}
	global := 2.0 / maxSize
	return g.PixelWidth * global, g.PixelHeight * global, g.SliceSpacing * global, nil
}

// Project builds the full point sequence of a volume, ordered by layer, then
// row, then column. It is a pure function of its input.
func Project(mode Mode) ([]Point, error) {
	if mode == nil {
		return nil, errors.New("no volume to project")
	}
	var colorOf func(idx int) (float64, int)
	switch m := mode.(type) {
	case DisplayMode:
		if m.Volume == nil {
			return nil, errors.New("no display volume to project")
		}
		colorOf = func(idx int) (float64, int) {
			return float64(m.Volume.Data[idx]) / 255.0, BucketNotApplicable
		}
	case RawMode:
		if m.Volume == nil {
			return nil, errors.New("no raw volume to project")
		}
		if m.Buckets < 1 {
			return nil, ErrInvalidBuckets
		}
		colorOf = func(idx int) (float64, int) {
			return Bucket(float64(m.Volume.Data[idx]), m.Volume.WindowMin, m.Volume.WindowMax, m.Buckets)
		}
	default:
		return nil, errors.New("unknown projection mode")
	}

	g := mode.geometry()
	fx, fy, fz, err := Factors(g)
	if err != nil {
		return nil, err
	}

	// Half extents use integer division: volumes with even dimensions end
	// up shifted by half a voxel.
	halfW, halfH, halfD := g.Width/2, g.Height/2, g.Depth/2

	points := make([]Point, 0, g.Len())
	idx := 0
	for layer := 0; layer < g.Depth; layer++ {
		z := float64(layer-halfD) * fz
		for row := 0; row < g.Height; row++ {
			y := float64(row-halfH) * fy
			for col := 0; col < g.Width; col++ {
				c, bucket := colorOf(idx)
				points = append(points, Point{
					Pos:    [3]float64{float64(col-halfW) * fx, y, z},
					Depth:  layer,
					Color:  c,
					Bucket: bucket,
				})
				idx++
			}
		}
	}
	return points, nil
}

// Bucket classifies a raw value against shifted window bounds into one of k
// buckets. Values below the window are excluded; values above it are
// excluded too, except for a value exactly on the upper bound which goes to
// bucket k.
func Bucket(c, windowMin, windowMax float64, k int) (color float64, bucket int) {
	switch {
	case c < windowMin:
		return 0, BucketExcluded
	case c >= windowMax:
		if c == windowMax {
			return 1, k
		}
		return 1, BucketExcluded
	}
	color = (c - windowMin) / (windowMax - windowMin)
	return color, int(math.Floor(float64(k) * color))
}
