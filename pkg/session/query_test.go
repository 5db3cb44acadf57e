package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomvolume/internal/models"
	"dicomvolume/internal/testutil"
	"dicomvolume/pkg/source"
)

func TestLimits_Clamp(t *testing.T) {
	l := Limits{CenterMin: -100, CenterMax: 100, WidthMin: 1, WidthMax: 200}

	tests := []struct {
		in, want models.Window
	}{
		{in: models.Window{Center: 0, Width: 50}, want: models.Window{Center: 0, Width: 50}},
		{in: models.Window{Center: -500, Width: 0}, want: models.Window{Center: -100, Width: 1}},
		{in: models.Window{Center: 500, Width: 1000}, want: models.Window{Center: 100, Width: 200}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.Clamp(tt.in))
	}
}

func TestLimits(t *testing.T) {
	s := newTestSession(t)
	load(t, s, testutil.Series(1, 2, 3))

	l, err := s.Limits()
	require.NoError(t, err)
	assert.Equal(t, Limits{CenterMin: 100, CenterMax: 315, WidthMin: 1, WidthMax: 215}, l)
}

func TestLimits_FlatCollection(t *testing.T) {
	s := newTestSession(t)
	flat := testutil.Slice(1, 2, 2, func(int) float64 { return 42 })
	st := load(t, s, []models.Frame{flat})

	l, err := s.Limits()
	require.NoError(t, err)
	assert.Equal(t, 1.0, l.WidthMax)
	assert.Equal(t, models.Window{Center: 42, Width: 1}, st.Window)
}

func TestDefaultWindow_FromHeader(t *testing.T) {
	frames := testutil.Series(1, 2, 3)
	first := frames[0].(*source.Memory)
	first.Meta.DefaultWindow = models.Window{Center: 150, Width: 80}
	first.Meta.HasDefaultWindow = true

	s := newTestSession(t)
	st := load(t, s, frames)
	assert.Equal(t, models.Window{Center: 150, Width: 80}, st.Window)

	w, err := s.DefaultWindow()
	require.NoError(t, err)
	assert.Equal(t, st.Window, w)
}

func TestDefaultWindow_ClampedToCollection(t *testing.T) {
	frames := testutil.Series(1, 2, 3)
	first := frames[0].(*source.Memory)
	first.Meta.DefaultWindow = models.Window{Center: 1000, Width: 5000}
	first.Meta.HasDefaultWindow = true

	st := load(t, newTestSession(t), frames)
	assert.Equal(t, models.Window{Center: 315, Width: 215}, st.Window)
}

func TestStats(t *testing.T) {
	s := newTestSession(t)
	load(t, s, testutil.Series(1, 2, 5))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, testutil.Patient, st.PatientID)
	assert.Equal(t, 3, st.Slices)
	assert.Equal(t, 5, st.Expected)
	assert.Equal(t, 1, st.MinInstance)
	assert.Equal(t, 5, st.MaxInstance)
	assert.Equal(t, 4, st.Width)
	assert.Equal(t, 4, st.Height)
	assert.Equal(t, models.PixelSpacing{Row: 0.5, Col: 0.5}, st.PixelSpacing)
	assert.InDelta(t, testutil.SliceGap, st.SliceSpacing, 1e-12)
	assert.Equal(t, models.ValueRange{Min: 100, Max: 515}, st.Values)
	require.Len(t, st.Warnings, 1)
	assert.Contains(t, st.Warnings[0], "5")
}

func TestFrame(t *testing.T) {
	s := newTestSession(t)
	load(t, s, testutil.Series(1, 2))

	info, err := s.Frame(2)
	require.NoError(t, err)
	assert.Equal(t, "slice-002", info.Source)
	assert.Equal(t, 2, info.InstanceNumber)
	assert.Equal(t, 4, info.Width)
	assert.Equal(t, 4, info.Height)
	assert.Equal(t, models.ValueRange{Min: 200, Max: 215}, info.Used)
	assert.InDelta(t, 207.5, info.Mean, 1e-9)
	assert.Greater(t, info.StdDev, 0.0)
	assert.False(t, info.HasWindow)

	_, err = s.Frame(9)
	assert.Error(t, err)
}
