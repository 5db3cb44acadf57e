package projection

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomvolume/internal/models"
)

func cube(width, height, depth int) models.Geometry {
	return models.Geometry{
		Width: width, Height: height, Depth: depth,
		PixelWidth: 1, PixelHeight: 1, SliceSpacing: 1,
	}
}

func ramp(g models.Geometry) *models.DisplayVolume {
	v := models.NewDisplayVolume(g)
	for i := range v.Data {
		v.Data[i] = uint8(i % 256)
	}
	return v
}

func TestFactors(t *testing.T) {
	fx, fy, fz, err := Factors(cube(10, 10, 20))
	require.NoError(t, err)

	assert.InDelta(t, 1.0, 10*fx, 1e-12)
	assert.InDelta(t, 1.0, 10*fy, 1e-12)
	assert.InDelta(t, 2.0, 20*fz, 1e-12)
}

func TestFactors_PhysicalSpacing(t *testing.T) {
	g := models.Geometry{Width: 100, Height: 50, Depth: 10, PixelWidth: 0.5, PixelHeight: 2, SliceSpacing: 3}
	fx, fy, fz, err := Factors(g)
	require.NoError(t, err)

	// 50 mm, 100 mm and 30 mm: the height is the longest axis
	assert.InDelta(t, 1.0, 100*fx, 1e-12)
	assert.InDelta(t, 2.0, 50*fy, 1e-12)
	assert.InDelta(t, 0.6, 10*fz, 1e-12)
}

func TestFactors_Degenerate(t *testing.T) {
	_, _, _, err := Factors(models.Geometry{Width: 4, Height: 4, Depth: 1})
	assert.ErrorIs(t, err, ErrDegenerateVolume)
}

func TestProject_Order(t *testing.T) {
	g := cube(3, 2, 2)
	points, err := Project(DisplayMode{Volume: ramp(g)})
	require.NoError(t, err)
	require.Len(t, points, g.Len())

	fx, fy, fz, err := Factors(g)
	require.NoError(t, err)

	i := 0
	for layer := 0; layer < 2; layer++ {
		for row := 0; row < 2; row++ {
			for col := 0; col < 3; col++ {
				p := points[i]
				assert.Equal(t, layer, p.Depth)
				assert.InDelta(t, float64(col-1)*fx, p.Pos[0], 1e-12, "point %d", i)
				assert.InDelta(t, float64(row-1)*fy, p.Pos[1], 1e-12, "point %d", i)
				assert.InDelta(t, float64(layer-1)*fz, p.Pos[2], 1e-12, "point %d", i)
				assert.Equal(t, float64(i)/255, p.Color)
				assert.Equal(t, BucketNotApplicable, p.Bucket)
				i++
			}
		}
	}
}

func TestProject_Centered(t *testing.T) {
	points, err := Project(DisplayMode{Volume: ramp(cube(5, 5, 5))})
	require.NoError(t, err)

	// The center voxel of an odd volume sits at the origin
	center := points[2*25+2*5+2]
	assert.Equal(t, [3]float64{0, 0, 0}, center.Pos)

	for _, p := range points {
		for axis := 0; axis < 3; axis++ {
			assert.LessOrEqual(t, math.Abs(p.Pos[axis]), 1.0)
		}
	}
}

func TestProject_Idempotent(t *testing.T) {
	raw := models.NewRawVolume(cube(4, 3, 2))
	for i := range raw.Data {
		raw.Data[i] = uint16(100 + i*5)
	}
	raw.WindowMin, raw.WindowMax = 110, 200
	before := append([]uint16(nil), raw.Data...)

	first, err := Project(RawMode{Volume: raw, Buckets: 6})
	require.NoError(t, err)
	second, err := Project(RawMode{Volume: raw, Buckets: 6})
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("projection changed between runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(before, raw.Data, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("volume was modified:\n%s", diff)
	}
}

func TestProject_RawBuckets(t *testing.T) {
	raw := models.NewRawVolume(cube(4, 1, 1))
	copy(raw.Data, []uint16{99, 100, 150, 200})
	raw.WindowMin, raw.WindowMax = 100, 200

	points, err := Project(RawMode{Volume: raw, Buckets: 4})
	require.NoError(t, err)

	got := make([]int, len(points))
	for i, p := range points {
		got[i] = p.Bucket
	}
	assert.Equal(t, []int{BucketExcluded, 0, 2, 4}, got)
}

func TestProject_Errors(t *testing.T) {
	_, err := Project(nil)
	assert.Error(t, err)

	_, err = Project(DisplayMode{})
	assert.Error(t, err)

	_, err = Project(RawMode{Volume: models.NewRawVolume(cube(2, 2, 2))})
	assert.ErrorIs(t, err, ErrInvalidBuckets)
}

func TestBucket(t *testing.T) {
	tests := []struct {
		name   string
		value  float64
		color  float64
		bucket int
	}{
		{name: "lower bound", value: 100, color: 0, bucket: 0},
		{name: "middle", value: 150, color: 0.5, bucket: 3},
		{name: "just below upper", value: 199.9, color: 0.999, bucket: 5},
		{name: "upper bound", value: 200, color: 1, bucket: 6},
		{name: "above window", value: 201, color: 1, bucket: BucketExcluded},
		{name: "below window", value: 99, color: 0, bucket: BucketExcluded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			color, bucket := Bucket(tt.value, 100, 200, 6)
			assert.InDelta(t, tt.color, color, 1e-9)
			assert.Equal(t, tt.bucket, bucket)
		})
	}
}
