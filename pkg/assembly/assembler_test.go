package assembly

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomvolume/internal/models"
	"dicomvolume/internal/testutil"
	"dicomvolume/pkg/source"
)

// at returns a fixture slice moved to z.
func at(instance int, z float64) *source.Memory {
	m := testutil.Slice(instance, 2, 2, func(i int) float64 { return float64(instance*10 + i) })
	m.Meta.Position.Z = z
	return m
}

func frames(ms ...*source.Memory) []models.Frame {
	out := make([]models.Frame, len(ms))
	for i, m := range ms {
		out[i] = m
	}
	return out
}

func newTestAssembler(t *testing.T) *Assembler {
	return NewAssembler(Options{Logger: testutil.NewTestLogger(t)})
}

func TestAssemble_ValidBatch(t *testing.T) {
	// Unordered on purpose
	batch := testutil.Series(3, 1, 2)

	c, err := newTestAssembler(t).Assemble(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, testutil.Patient, c.PatientID)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 1, c.MinInstance)
	assert.Equal(t, 3, c.MaxInstance)
	assert.Equal(t, 4, c.Width)
	assert.Equal(t, 4, c.Height)
	assert.Equal(t, 0.5, c.PixelWidth)
	assert.Equal(t, 0.5, c.PixelHeight)
	assert.InDelta(t, testutil.SliceGap, c.SliceSpacing, 1e-12)
	assert.InDelta(t, 0.0, c.SliceOffset, 1e-12)
	assert.Empty(t, c.Warnings())

	records := c.Records()
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, i+1, r.InstanceNumber(), "records are ordered by instance")
		assert.LessOrEqual(t, c.Min, r.Image.Used.Min)
		assert.GreaterOrEqual(t, c.Max, r.Image.Used.Max)
	}
	assert.Equal(t, 100.0, c.Min)
	assert.Equal(t, 315.0, c.Max)

	g := c.Geometry()
	assert.Equal(t, models.Geometry{Width: 4, Height: 4, Depth: 3, PixelWidth: 0.5, PixelHeight: 0.5, SliceSpacing: 2}, g)
}

func TestAssemble_CollectionRangeCoversEverySlice(t *testing.T) {
	batch := frames(
		testutil.Slice(1, 2, 2, func(i int) float64 { return []float64{-50, 0, 10, 20}[i] }),
		testutil.Slice(2, 2, 2, func(i int) float64 { return []float64{5, 6, 7, 900}[i] }),
		testutil.Slice(3, 2, 2, func(i int) float64 { return []float64{-2, -1, 0, 1}[i] }),
	)

	c, err := newTestAssembler(t).Assemble(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, -50.0, c.Min)
	assert.Equal(t, 900.0, c.Max)
	for _, r := range c.Records() {
		assert.LessOrEqual(t, c.Min, r.Image.Used.Min)
		assert.GreaterOrEqual(t, c.Max, r.Image.Used.Max)
	}
}

func TestAssemble_SingleSlice(t *testing.T) {
	c, err := newTestAssembler(t).Assemble(context.Background(), testutil.Series(7))
	require.NoError(t, err)

	assert.Equal(t, 0.0, c.SliceSpacing)
	assert.Equal(t, 7, c.MinInstance)
	assert.Equal(t, 7, c.MaxInstance)
	assert.Equal(t, 1, c.ExpectedCount())
	assert.Equal(t, 0, c.Layer(7))
}

func TestAssemble_Empty(t *testing.T) {
	_, err := newTestAssembler(t).Assemble(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestAssemble_MultiPatient(t *testing.T) {
	batch := testutil.Series(1, 2, 3)
	batch[2].(*source.Memory).Meta.PatientID = "OTHER"

	_, err := newTestAssembler(t).Assemble(context.Background(), batch)

	var mp *MultiPatientError
	require.ErrorAs(t, err, &mp)
	assert.Equal(t, testutil.Patient, mp.Expected)
	assert.Equal(t, "OTHER", mp.Found)
	assert.Contains(t, err.Error(), testutil.Patient)
	assert.Contains(t, err.Error(), "OTHER")
	assert.True(t, IsFatal(err))
}

func TestAssemble_DuplicateInstance(t *testing.T) {
	batch := frames(at(1, 2), at(2, 4), at(2, 4))

	_, err := newTestAssembler(t).Assemble(context.Background(), batch)

	var dup *DuplicateInstanceError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, 2, dup.Instance)
	assert.True(t, IsFatal(err))
}

func TestAssemble_DecodeFailure(t *testing.T) {
	cause := errors.New("corrupt pixel data")

	tests := []struct {
		name   string
		mutate func(m *source.Memory)
	}{
		{name: "decode", mutate: func(m *source.Memory) { m.DecodeErr = cause }},
		{name: "header", mutate: func(m *source.Memory) { m.HeaderErr = cause }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := at(2, 4)
			tt.mutate(bad)

			_, err := newTestAssembler(t).Assemble(context.Background(), frames(at(1, 2), bad, at(3, 6)))

			var de *ImageDecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, bad.ID, de.Source)
			assert.ErrorIs(t, err, cause)
		})
	}
}

func TestAssemble_InconsistentSpacing(t *testing.T) {
	odd := at(2, 4)
	odd.Meta.PixelSpacing = models.PixelSpacing{Row: 0.5, Col: 0.7}

	_, err := newTestAssembler(t).Assemble(context.Background(), frames(at(1, 2), odd))

	var is *InconsistentSpacingError
	require.ErrorAs(t, err, &is)
	assert.Equal(t, models.PixelSpacing{Row: 0.5, Col: 0.5}, is.Expected)
	assert.Equal(t, models.PixelSpacing{Row: 0.5, Col: 0.7}, is.Found)
	assert.Equal(t, 2, is.Instance)
}

func TestAssemble_InconsistentDimensions(t *testing.T) {
	big := testutil.Slice(2, 3, 3, func(int) float64 { return 0 })

	_, err := newTestAssembler(t).Assemble(context.Background(), frames(at(1, 2), big))

	var id *InconsistentDimensionsError
	require.ErrorAs(t, err, &id)
	assert.Equal(t, 2, id.Instance)
	assert.Equal(t, 3, id.Rows)
}

func TestAssemble_RegularSpacing(t *testing.T) {
	c, err := newTestAssembler(t).Assemble(context.Background(), frames(at(1, 0), at(2, 2), at(3, 4)))
	require.NoError(t, err)

	assert.Equal(t, 2.0, c.SliceSpacing)
	for _, r := range c.Records() {
		expected := c.SliceSpacing*float64(r.InstanceNumber()) + c.SliceOffset
		assert.Equal(t, expected, r.Z(), "instance %d", r.InstanceNumber())
	}
}

func TestAssemble_IrregularSpacing(t *testing.T) {
	_, err := newTestAssembler(t).Assemble(context.Background(), frames(at(1, 0), at(2, 2), at(3, 5)))

	// Spacing from the extremes is 2.5: instance 1 sits exactly, instance 2
	// is 0.5 mm off.
	var irr *IrregularSpacingError
	require.ErrorAs(t, err, &irr)
	assert.Equal(t, 2, irr.Instance)
	assert.InDelta(t, 0.5, irr.Deviation, 1e-9)
	assert.Equal(t, DefaultSpacingTolerance, irr.Tolerance)
}

func TestAssemble_IrregularSpacingCitesOffendingInstance(t *testing.T) {
	// Instances 1 and 4 define a 2 mm spacing; instance 3 is 1 mm off.
	_, err := newTestAssembler(t).Assemble(context.Background(), frames(at(1, 0), at(2, 2), at(4, 6), at(3, 5)))

	var irr *IrregularSpacingError
	require.ErrorAs(t, err, &irr)
	assert.Equal(t, 3, irr.Instance)
}

func TestAssemble_ToleranceOption(t *testing.T) {
	batch := frames(at(1, 0), at(2, 2.005), at(3, 4))

	_, err := newTestAssembler(t).Assemble(context.Background(), batch)
	assert.NoError(t, err, "5 µm is within the default tolerance")

	strict := NewAssembler(Options{SpacingTolerance: 0.001})
	_, err = strict.Assemble(context.Background(), batch)
	var irr *IrregularSpacingError
	assert.ErrorAs(t, err, &irr)
}

func TestAssemble_MissingInstances(t *testing.T) {
	c, err := newTestAssembler(t).Assemble(context.Background(), testutil.Series(1, 2, 5))
	require.NoError(t, err)

	warnings := c.Warnings()
	require.Len(t, warnings, 1)
	var miss *MissingInstancesWarning
	require.ErrorAs(t, warnings[0], &miss)
	assert.Equal(t, 5, miss.Expected)
	assert.Equal(t, 3, miss.Actual)
	assert.False(t, IsFatal(warnings[0]))

	assert.Equal(t, 5, c.Geometry().Depth)
	_, ok := c.Record(3)
	assert.False(t, ok)
}

func TestAssemble_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestAssembler(t).Assemble(ctx, testutil.Series(1, 2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssemble_ValidationOrder(t *testing.T) {
	// A frame that is both from another patient and undecodable reports the
	// patient first.
	bad := at(2, 4)
	bad.Meta.PatientID = "OTHER"
	bad.DecodeErr = errors.New("unreadable")

	_, err := newTestAssembler(t).Assemble(context.Background(), frames(at(1, 2), bad))
	var mp *MultiPatientError
	assert.ErrorAs(t, err, &mp)
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(&MissingInstancesWarning{Expected: 3, Actual: 2}))
	assert.True(t, IsFatal(&IrregularSpacingError{Instance: 3}))
	assert.True(t, IsFatal(ErrEmptyBatch))
}
