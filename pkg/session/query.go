package session

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"dicomvolume/internal/models"
	"dicomvolume/pkg/assembly"
)

// Limits bounds the windows a user can pick for a collection.
type Limits struct {
	CenterMin, CenterMax float64
	WidthMin, WidthMax   float64
}

func (Limits) of(c *assembly.Collection) Limits {
	widthMax := c.Max - c.Min
	if widthMax < 1 {
		widthMax = 1
	}
	return Limits{
		CenterMin: c.Min,
		CenterMax: c.Max,
		WidthMin:  1,
		WidthMax:  widthMax,
	}
}

// Clamp brings w inside the limits.
func (l Limits) Clamp(w models.Window) models.Window {
	return models.Window{
		Center: math.Min(math.Max(w.Center, l.CenterMin), l.CenterMax),
		Width:  math.Min(math.Max(w.Width, l.WidthMin), l.WidthMax),
	}
}

// defaultWindow is the window stored with the first slice, or one covering
// the whole value range of the collection.
func defaultWindow(c *assembly.Collection) models.Window {
	if first, ok := c.Record(c.MinInstance); ok && first.Header.HasDefaultWindow {
		if first.Header.DefaultWindow.Validate() == nil {
			return first.Header.DefaultWindow
		}
	}
	return models.Window{
		Center: (c.Min + c.Max) / 2,
		Width:  c.Max - c.Min,
	}
}

// Limits returns the window limits of the loaded collection.
func (s *Session) Limits() (Limits, error) {
	cur := s.state.Load()
	if cur == nil {
		return Limits{}, ErrNoCollection
	}
	return Limits{}.of(cur.Collection), nil
}

// DefaultWindow returns the window a fresh load of the current collection
// would start with.
func (s *Session) DefaultWindow() (models.Window, error) {
	cur := s.state.Load()
	if cur == nil {
		return models.Window{}, ErrNoCollection
	}
	return Limits{}.of(cur.Collection).Clamp(defaultWindow(cur.Collection)), nil
}

// Stats summarizes the loaded collection.
type Stats struct {
	PatientID string

	// Slices is the number of slices present, Expected the number the
	// instance range calls for.
	Slices   int
	Expected int

	MinInstance int
	MaxInstance int

	Width, Height int
	PixelSpacing  models.PixelSpacing
	SliceSpacing  float64

	Values models.ValueRange
	Window models.Window

	Warnings []string
}

// Stats returns a summary of the current state.
func (s *Session) Stats() (Stats, error) {
	cur := s.state.Load()
	if cur == nil {
		return Stats{}, ErrNoCollection
	}
	c := cur.Collection
	st := Stats{
		PatientID:    c.PatientID,
		Slices:       c.Len(),
		Expected:     c.ExpectedCount(),
		MinInstance:  c.MinInstance,
		MaxInstance:  c.MaxInstance,
		Width:        c.Width,
		Height:       c.Height,
		PixelSpacing: models.PixelSpacing{Row: c.PixelHeight, Col: c.PixelWidth},
		SliceSpacing: c.SliceSpacing,
		Values:       models.ValueRange{Min: c.Min, Max: c.Max},
		Window:       cur.Window,
	}
	for _, w := range c.Warnings() {
		st.Warnings = append(st.Warnings, w.Error())
	}
	return st, nil
}

// FrameInfo describes one slice of the loaded collection.
type FrameInfo struct {
	Source            string
	InstanceNumber    int
	AcquisitionNumber int
	TransferSyntax    string
	FrameCount        int
	Position          models.Position

	Width, Height int

	// Allowed is the range the encoding can represent, Used the range
	// actually present.
	Allowed models.ValueRange
	Used    models.ValueRange

	// Window is the window stored with the slice, if any.
	Window    models.Window
	HasWindow bool

	RescaleSlope     float64
	RescaleIntercept float64

	Mean   float64
	StdDev float64
}

// Frame returns the details of the slice with the given instance number.
func (s *Session) Frame(instance int) (FrameInfo, error) {
	cur := s.state.Load()
	if cur == nil {
		return FrameInfo{}, ErrNoCollection
	}
	rec, ok := cur.Collection.Record(instance)
	if !ok {
		return FrameInfo{}, fmt.Errorf("no slice with instance number %d", instance)
	}
	h, img := rec.Header, rec.Image
	mean, std := stat.MeanStdDev(img.Pixels, nil)
	return FrameInfo{
		Source:            rec.Frame.Identifier(),
		InstanceNumber:    h.InstanceNumber,
		AcquisitionNumber: h.AcquisitionNumber,
		TransferSyntax:    h.TransferSyntax,
		FrameCount:        h.FrameCount,
		Position:          h.Position,
		Width:             img.Cols,
		Height:            img.Rows,
		Allowed:           img.Allowed,
		Used:              img.Used,
		Window:            h.DefaultWindow,
		HasWindow:         h.HasDefaultWindow,
		RescaleSlope:      h.RescaleSlope,
		RescaleIntercept:  h.RescaleIntercept,
		Mean:              mean,
		StdDev:            std,
	}, nil
}
