package testutil

import (
	"fmt"

	"dicomvolume/internal/models"
	"dicomvolume/pkg/source"
)

// Patient is the patient id used by the fixtures.
const Patient = "PAT-001"

// SliceGap is the distance in mm between consecutive fixture instances.
const SliceGap = 2.0

// Slice returns a rows x cols in-memory frame whose pixel i has value
// fill(i). It belongs to Patient, has a 0.5 mm square pixel spacing and sits
// at z = instance * SliceGap.
func Slice(instance, rows, cols int, fill func(i int) float64) *source.Memory {
	pixels := make([]float64, rows*cols)
	for i := range pixels {
		pixels[i] = fill(i)
	}
	return source.NewMemory(fmt.Sprintf("slice-%03d", instance), models.Header{
		PatientID:      Patient,
		InstanceNumber: instance,
		PixelSpacing:   models.PixelSpacing{Row: 0.5, Col: 0.5},
		Position:       models.Position{Z: float64(instance) * SliceGap},
		FrameCount:     1,
		RescaleSlope:   1,
	}, rows, cols, pixels)
}

// Series returns 4x4 slices for the given instance numbers. Pixel values
// are instance*100 + i so that every voxel of the series is distinct.
func Series(instances ...int) []models.Frame {
	frames := make([]models.Frame, 0, len(instances))
	for _, n := range instances {
		n := n
		frames = append(frames, Slice(n, 4, 4, func(i int) float64 { return float64(n*100 + i) }))
	}
	return frames
}
