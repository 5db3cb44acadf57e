// Package source provides image sources for the assembly pipeline: frames
// that can report slice metadata and decode pixel data at 8 or 16 bits.
//
// Three implementations are provided: Memory frames for callers that already
// hold decoded pixels, Stack for a directory of grayscale PNG or JPEG slices
// described by an optional YAML manifest, and DICOM for .dcm files.
package source

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"dicomvolume/internal/models"
)

// maxRaw is the largest value representable by a raw 16-bit voxel.
const maxRaw = math.MaxUint16

// ApplyWindow maps a modality value to a display byte using the linear VOI
// function of the DICOM standard (PS3.3 C.11.2.1.2.1).
func ApplyWindow(v float64, w models.Window) uint8 {
	c := w.Center - 0.5
	width := w.Width - 1
	if width <= 0 {
		if v <= c {
			return 0
		}
		return 255
	}
	lo := c - width/2
	hi := c + width/2
	switch {
	case v <= lo:
		return 0
	case v > hi:
		return 255
	}
	return uint8(math.Round(((v-c)/width + 0.5) * 255))
}

// Render8 applies a window to every pixel.
func Render8(pixels []float64, w models.Window) []uint8 {
	out := make([]uint8, len(pixels))
	for i, v := range pixels {
		out[i] = ApplyWindow(v, w)
	}
	return out
}

// Raw16 shifts every pixel and clamps it to the unsigned 16-bit range.
func Raw16(pixels []float64, shift float64) []uint16 {
	out := make([]uint16, len(pixels))
	for i, v := range pixels {
		s := math.Round(v + shift)
		switch {
		case s <= 0:
			out[i] = 0
		case s >= maxRaw:
			out[i] = maxRaw
		default:
			out[i] = uint16(s)
		}
	}
	return out
}

// UsedRange returns the extrema of the decoded values.
func UsedRange(pixels []float64) models.ValueRange {
	if len(pixels) == 0 {
		return models.ValueRange{}
	}
	return models.ValueRange{Min: floats.Min(pixels), Max: floats.Max(pixels)}
}

// AllowedRange returns the modality range an encoding of the given bit depth
// can represent once the rescale is applied.
func AllowedRange(bits int, signed bool, slope, intercept float64) models.ValueRange {
	lo, hi := 0.0, math.Exp2(float64(bits))-1
	if signed {
		lo = -math.Exp2(float64(bits - 1))
		hi = math.Exp2(float64(bits-1)) - 1
	}
	a, b := lo*slope+intercept, hi*slope+intercept
	if a > b {
		a, b = b, a
	}
	return models.ValueRange{Min: a, Max: b}
}
