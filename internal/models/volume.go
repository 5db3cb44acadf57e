package models

import "fmt"

// Geometry is the shape and physical spacing shared by volume representations.
type Geometry struct {
	// Width, Height, Depth are the dimensions of the volume in voxels
	Width, Height, Depth int

	// PixelWidth and PixelHeight are the in-plane voxel sizes in mm
	PixelWidth  float64
	PixelHeight float64

	// SliceSpacing is the distance between layers in mm
	SliceSpacing float64
}

// Len returns the number of voxels in the volume.
func (g Geometry) Len() int { return g.Width * g.Height * g.Depth }

// LayerLen returns the number of voxels in one layer.
func (g Geometry) LayerLen() int { return g.Width * g.Height }

// Index returns the linear index of a voxel. The data is stored column by
// column, then row by row, then layer by layer.
func (g Geometry) Index(col, row, layer int) int {
	return col + row*g.Width + layer*g.Width*g.Height
}

// SameShape reports whether two geometries address the same buffer layout.
func (g Geometry) SameShape(o Geometry) bool {
	return g.Width == o.Width && g.Height == o.Height && g.Depth == o.Depth
}

func (g Geometry) checkLayer(layer, n int) error {
	if layer < 0 || layer >= g.Depth {
		return fmt.Errorf("layer %d is outside of volume (depth=%d)", layer, g.Depth)
	}
	if n != g.LayerLen() {
		return fmt.Errorf("layer %d has %d values, expected %d", layer, n, g.LayerLen())
	}
	return nil
}

// DisplayVolume holds 8-bit intensities normalized to a window.
type DisplayVolume struct {
	Geometry
	Data []uint8
}

// NewDisplayVolume allocates a zeroed display volume.
func NewDisplayVolume(g Geometry) *DisplayVolume {
	return &DisplayVolume{Geometry: g, Data: make([]uint8, g.Len())}
}

// At returns the value of a voxel.
func (v *DisplayVolume) At(col, row, layer int) uint8 {
	return v.Data[v.Index(col, row, layer)]
}

// Layer returns the slice of Data backing one layer.
func (v *DisplayVolume) Layer(layer int) []uint8 {
	off := layer * v.LayerLen()
	return v.Data[off : off+v.LayerLen()]
}

// SetLayer copies a full layer into the volume.
func (v *DisplayVolume) SetLayer(data []uint8, layer int) error {
	if err := v.checkLayer(layer, len(data)); err != nil {
		return err
	}
	copy(v.Layer(layer), data)
	return nil
}

// RawVolume holds unwindowed 16-bit values and the shifted window bounds
// used to bucket them.
type RawVolume struct {
	Geometry
	Data []uint16

	WindowMin float64
	WindowMax float64
}

// NewRawVolume allocates a zeroed raw volume.
func NewRawVolume(g Geometry) *RawVolume {
	return &RawVolume{Geometry: g, Data: make([]uint16, g.Len())}
}

// At returns the value of a voxel.
func (v *RawVolume) At(col, row, layer int) uint16 {
	return v.Data[v.Index(col, row, layer)]
}

// Layer returns the slice of Data backing one layer.
func (v *RawVolume) Layer(layer int) []uint16 {
	off := layer * v.LayerLen()
	return v.Data[off : off+v.LayerLen()]
}

// SetLayer copies a full layer into the volume.
func (v *RawVolume) SetLayer(data []uint16, layer int) error {
	if err := v.checkLayer(layer, len(data)); err != nil {
		return err
	}
	copy(v.Layer(layer), data)
	return nil
}
