package assembly

import "dicomvolume/internal/models"

// Collection is a validated set of slices forming one volume. It is built in
// one go by Assemble and never modified afterwards.
type Collection struct {
	// records are ordered by instance number
	records    []*models.SliceRecord
	byInstance map[int]*models.SliceRecord

	// PatientID is shared by every slice
	PatientID string

	// PixelWidth and PixelHeight are the in-plane pixel sizes in mm
	PixelWidth  float64
	PixelHeight float64

	// SliceSpacing is the distance in mm between consecutive instance
	// numbers, 0 for a single slice
	SliceSpacing float64

	// SliceOffset is the z position an instance number of 0 would have
	SliceOffset float64

	MinInstance int
	MaxInstance int

	// Min and Max are the extrema of the values used by all slices
	Min float64
	Max float64

	// Width and Height are the dimensions of every slice in pixels
	Width  int
	Height int

	warnings []error
}

// Len returns the number of slices.
func (c *Collection) Len() int { return len(c.records) }

// Records returns the slices ordered by instance number.
func (c *Collection) Records() []*models.SliceRecord {
	out := make([]*models.SliceRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Record returns the slice with the given instance number.
func (c *Collection) Record(instance int) (*models.SliceRecord, bool) {
	r, ok := c.byInstance[instance]
	return r, ok
}

// ExpectedCount is the number of slices the instance range calls for.
func (c *Collection) ExpectedCount() int {
	if len(c.records) == 0 {
		return 0
	}
	return c.MaxInstance - c.MinInstance + 1
}

// Layer returns the depth index of an instance in volumes built from the
// collection.
func (c *Collection) Layer(instance int) int { return instance - c.MinInstance }

// Geometry describes volumes built from the collection: one layer per
// instance number in [MinInstance, MaxInstance].
func (c *Collection) Geometry() models.Geometry {
	return models.Geometry{
		Width:        c.Width,
		Height:       c.Height,
		Depth:        c.ExpectedCount(),
		PixelWidth:   c.PixelWidth,
		PixelHeight:  c.PixelHeight,
		SliceSpacing: c.SliceSpacing,
	}
}

// Warnings returns the non-fatal issues found while assembling.
func (c *Collection) Warnings() []error {
	out := make([]error, len(c.warnings))
	copy(out, c.warnings)
	return out
}
