// Package assembly validates batches of decoded slices and builds the volume
// collection they describe.
//
// A batch is checked slice by slice (single patient, unique instance number,
// decodable image, uniform pixel spacing and size) and then as a whole: the
// slice spacing is derived from the two extreme instances and every slice
// must sit where that spacing puts it. Nothing is returned unless every check
// passes, so a rejected batch can never leak into the caller's state.
package assembly

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"

	"github.com/dustin/go-humanize"

	"dicomvolume/internal/models"
)

// DefaultSpacingTolerance is the allowed distance in mm between a slice and
// its expected position.
const DefaultSpacingTolerance = 0.01

// Options configures an Assembler.
type Options struct {
	// SpacingTolerance overrides DefaultSpacingTolerance when positive.
	SpacingTolerance float64

	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Assembler turns batches of frames into collections.
type Assembler struct {
	tolerance float64
	logger    *slog.Logger
}

// NewAssembler creates an assembler.
func NewAssembler(opts Options) *Assembler {
	tol := opts.SpacingTolerance
	if tol <= 0 {
		tol = DefaultSpacingTolerance
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Assembler{tolerance: tol, logger: logger}
}

// Tolerance returns the slice position tolerance in mm.
func (a *Assembler) Tolerance() float64 { return a.tolerance }

// Assemble validates frames and builds a collection from them. The returned
// error is one of the typed errors of this package, ErrEmptyBatch, or the
// context error when ctx is cancelled between frames. Missing instances are
// not an error; they are reported by Collection.Warnings.
func (a *Assembler) Assemble(ctx context.Context, frames []models.Frame) (*Collection, error) {
	if len(frames) == 0 {
		return nil, ErrEmptyBatch
	}

	byInstance := make(map[int]*models.SliceRecord, len(frames))
	records := make([]*models.SliceRecord, 0, len(frames))
	var (
		patient   string
		spacing   models.PixelSpacing
		rows      int
		cols      int
		usedBytes uint64
	)
	collMin := math.MaxFloat64
	collMax := -math.MaxFloat64

	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		h, err := f.Header()
		if err != nil {
			return nil, decodeError(f, err)
		}

		// Checking patient
		if i == 0 {
			patient = h.PatientID
		} else if h.PatientID != patient {
			return nil, &MultiPatientError{Expected: patient, Found: h.PatientID}
		}

		// Checking that instance number is not duplicated
		if _, ok := byInstance[h.InstanceNumber]; ok {
			return nil, &DuplicateInstanceError{Instance: h.InstanceNumber, Source: f.Identifier()}
		}

		// All frames should contain loadable images
		img, err := f.Decode()
		if err != nil {
			return nil, decodeError(f, err)
		}

		if i == 0 {
			spacing = h.PixelSpacing
			rows, cols = img.Rows, img.Cols
		} else {
			if h.PixelSpacing != spacing {
				return nil, &InconsistentSpacingError{
					Instance: h.InstanceNumber,
					Expected: spacing,
					Found:    h.PixelSpacing,
				}
			}
			if img.Rows != rows || img.Cols != cols {
				return nil, &InconsistentDimensionsError{
					Instance:     h.InstanceNumber,
					ExpectedRows: rows,
					ExpectedCols: cols,
					Rows:         img.Rows,
					Cols:         img.Cols,
				}
			}
		}

		collMin = math.Min(collMin, img.Used.Min)
		collMax = math.Max(collMax, img.Used.Max)
		usedBytes += uint64(len(img.Pixels)) * 8

		rec := &models.SliceRecord{Frame: f, Header: h, Image: img}
		byInstance[h.InstanceNumber] = rec
		records = append(records, rec)

		a.logger.Debug("slice accepted", "source", f.Identifier(), "instance", h.InstanceNumber, "z", h.Position.Z)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].InstanceNumber() < records[j].InstanceNumber()
	})

	sliceSpacing, sliceOffset, err := a.checkRegularity(records)
	if err != nil {
		return nil, err
	}

	c := &Collection{
		records:      records,
		byInstance:   byInstance,
		PatientID:    patient,
		PixelWidth:   spacing.Col,
		PixelHeight:  spacing.Row,
		SliceSpacing: sliceSpacing,
		SliceOffset:  sliceOffset,
		MinInstance:  records[0].InstanceNumber(),
		MaxInstance:  records[len(records)-1].InstanceNumber(),
		Min:          collMin,
		Max:          collMax,
		Width:        cols,
		Height:       rows,
	}

	if expected := c.ExpectedCount(); expected != c.Len() {
		w := &MissingInstancesWarning{Expected: expected, Actual: c.Len()}
		c.warnings = append(c.warnings, w)
		a.logger.Warn("missing instances", "expected", expected, "received", c.Len())
	}

	a.logger.Info("collection assembled",
		"patient", c.PatientID,
		"slices", c.Len(),
		"size", humanize.Bytes(usedBytes),
		"slice_spacing", c.SliceSpacing,
		"min", c.Min,
		"max", c.Max)

	return c, nil
}

// checkRegularity derives the slice spacing and offset from the records with
// the lowest and highest instance numbers and checks every record against
// them. records must be sorted by instance number.
func (a *Assembler) checkRegularity(records []*models.SliceRecord) (spacing, offset float64, err error) {
	if len(records) <= 1 {
		return 0, 0, nil
	}
	first := records[0]
	last := records[len(records)-1]

	spacing = (last.Z() - first.Z()) / float64(last.InstanceNumber()-first.InstanceNumber())
	offset = first.Z() - float64(first.InstanceNumber())*spacing

	for _, r := range records {
		expected := spacing*float64(r.InstanceNumber()) + offset
		dev := math.Abs(expected - r.Z())
		if dev > a.tolerance {
			return 0, 0, &IrregularSpacingError{
				Instance:  r.InstanceNumber(),
				Deviation: dev,
				Tolerance: a.tolerance,
			}
		}
	}
	return spacing, offset, nil
}

func decodeError(f models.Frame, err error) error {
	var de *models.DecodeError
	if errors.As(err, &de) {
		err = de.Err
	}
	return &ImageDecodeError{Source: f.Identifier(), Err: err}
}
