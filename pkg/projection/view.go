package projection

import "fmt"

// Bits is the voxel encoding the renderer draws from.
type Bits int

const (
	Bits8  Bits = 8
	Bits16 Bits = 16
)

// ParseBits converts a bit depth to Bits.
func ParseBits(n int) (Bits, error) {
	switch Bits(n) {
	case Bits8, Bits16:
		return Bits(n), nil
	}
	return 0, fmt.Errorf("unsupported bit depth %d (must be 8 or 16)", n)
}

// ProjectionType is the camera projection used by the renderer.
type ProjectionType int

const (
	Ortho ProjectionType = iota
	Frustum
)

func (p ProjectionType) String() string {
	if p == Frustum {
		return "frustum"
	}
	return "ortho"
}

// ParseProjection converts a projection name to a ProjectionType.
func ParseProjection(s string) (ProjectionType, error) {
	switch s {
	case "", "ortho":
		return Ortho, nil
	case "frustum":
		return Frustum, nil
	}
	return Ortho, fmt.Errorf("unknown projection %q (must be ortho or frustum)", s)
}

// ViewState is a snapshot of the renderer settings. Each change produces a
// new snapshot with a higher Version.
type ViewState struct {
	Version uint64

	// CurrentLayer is the depth index of the slice being inspected.
	CurrentLayer int

	Bits       Bits
	Buckets    int
	Alpha      float64
	Projection ProjectionType

	// HideEmpty hides points with a zero color.
	HideEmpty bool
	// HideAbove and HideBelow hide layers on either side of CurrentLayer.
	HideAbove bool
	HideBelow bool
	// Highlight draws CurrentLayer fully opaque.
	Highlight bool
}

// DefaultViewState returns the initial renderer settings.
func DefaultViewState() ViewState {
	return ViewState{
		Bits:    Bits8,
		Buckets: 6,
		Alpha:   0.05,
	}
}

// Validate checks the settings the projector depends on.
func (v ViewState) Validate() error {
	if _, err := ParseBits(int(v.Bits)); err != nil {
		return err
	}
	if v.Buckets < 1 {
		return ErrInvalidBuckets
	}
	if v.Alpha < 0 || v.Alpha > 1 {
		return fmt.Errorf("alpha %g is outside [0, 1]", v.Alpha)
	}
	return nil
}

// RenderPoint is a point with its final color.
type RenderPoint struct {
	Pos   [3]float64
	Depth int

	R, G, B, A float64
}

// Filter applies a view state to a point set and returns the points to draw.
// Points outside the raw window and points hidden by the view are dropped;
// the remaining ones are colored gray (8-bit) or by bucket (16-bit). The
// input is not modified.
func Filter(points []Point, view ViewState) []RenderPoint {
	palette := Palette(view.Buckets)
	out := make([]RenderPoint, 0, len(points))
	for _, p := range points {
		if p.Bucket == BucketExcluded {
			continue
		}
		if (view.HideEmpty && p.Color == 0) ||
			(view.HideAbove && p.Depth > view.CurrentLayer) ||
			(view.HideBelow && p.Depth < view.CurrentLayer) {
			continue
		}
		alpha := view.Alpha
		if view.Highlight && p.Depth == view.CurrentLayer {
			alpha = 1.0
		}

		rp := RenderPoint{Pos: p.Pos, Depth: p.Depth, A: alpha}
		if p.Bucket == BucketNotApplicable {
			rp.R, rp.G, rp.B = p.Color, p.Color, p.Color
		} else if p.Bucket < len(palette) {
			c := palette[p.Bucket]
			rp.R, rp.G, rp.B = c.R, c.G, c.B
		}
		out = append(out, rp)
	}
	return out
}
