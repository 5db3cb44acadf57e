package models

import (
	"errors"
	"fmt"
)

// PixelSpacing is the physical distance between pixel centers in mm,
// in the (row, column) order used by the Pixel Spacing attribute.
type PixelSpacing struct {
	Row float64
	Col float64
}

func (p PixelSpacing) String() string {
	return fmt.Sprintf("%g*%g", p.Col, p.Row)
}

// Position is the physical location in mm of a slice's first voxel.
type Position struct {
	X, Y, Z float64
}

// ValueRange is a closed interval of pixel values.
type ValueRange struct {
	Min float64
	Max float64
}

// Window is a VOI window expressed as center and width.
type Window struct {
	Center float64
	Width  float64
}

// ErrInvalidWindow is returned for windows narrower than one value.
var ErrInvalidWindow = errors.New("window width must be at least 1")

// Validate checks that the window can be applied.
func (w Window) Validate() error {
	if w.Width < 1 {
		return fmt.Errorf("%w (got %g)", ErrInvalidWindow, w.Width)
	}
	return nil
}

// Min returns the lower bound of the window.
func (w Window) Min() float64 { return w.Center - w.Width/2 }

// Max returns the upper bound of the window.
func (w Window) Max() float64 { return w.Center + w.Width/2 }

// Header holds the per-frame metadata read by an image source.
type Header struct {
	PatientID         string
	InstanceNumber    int
	AcquisitionNumber int
	PixelSpacing      PixelSpacing
	Position          Position

	// TransferSyntax is the human readable name of the original encoding.
	TransferSyntax string
	FrameCount     int

	// DefaultWindow is the window stored with the frame, if any.
	DefaultWindow    Window
	HasDefaultWindow bool

	RescaleSlope     float64
	RescaleIntercept float64
}

// Image is a decoded frame: modality values in row-major order.
type Image struct {
	Rows   int
	Cols   int
	Pixels []float64

	// Used is the range of values present in Pixels.
	Used ValueRange

	// Allowed is the range of values the encoding can represent.
	Allowed ValueRange
}

// Frame is one input item of an image source. Implementations know how to
// read metadata and decode pixel data; the assembly pipeline treats them as
// opaque.
type Frame interface {
	// Identifier names the frame in error messages, usually its path.
	Identifier() string

	// Header reads the frame metadata.
	Header() (Header, error)

	// Decode returns the modality values of the frame.
	Decode() (*Image, error)

	// Render8 returns one byte per pixel with the window applied.
	Render8(w Window) ([]uint8, error)

	// Raw16 returns unwindowed values shifted by shift and clamped to the
	// unsigned 16-bit range.
	Raw16(shift float64) ([]uint16, error)
}

// DecodeError reports a frame that an image source could not read.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SliceRecord is a validated, decoded slice owned by a collection.
type SliceRecord struct {
	// Frame is the source the record was decoded from. It is re-read when
	// the collection is windowed.
	Frame Frame

	Header Header
	Image  *Image
}

// InstanceNumber returns the ordering key of the record.
func (r *SliceRecord) InstanceNumber() int { return r.Header.InstanceNumber }

// Z returns the position of the slice along the stacking axis.
func (r *SliceRecord) Z() float64 { return r.Header.Position.Z }
