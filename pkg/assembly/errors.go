package assembly

import (
	"errors"
	"fmt"

	"dicomvolume/internal/models"
)

// ErrEmptyBatch is returned when Assemble is called without frames.
var ErrEmptyBatch = errors.New("no slice provided")

// MultiPatientError reports a batch mixing slices of several patients.
type MultiPatientError struct {
	Expected string
	Found    string
}

func (e *MultiPatientError) Error() string {
	return fmt.Sprintf("at least 2 patients are present in the file collection: '%s' and '%s'", e.Expected, e.Found)
}

// DuplicateInstanceError reports an instance number seen twice in a batch.
type DuplicateInstanceError struct {
	Instance int
	Source   string
}

func (e *DuplicateInstanceError) Error() string {
	return fmt.Sprintf("instance %d is already loaded (duplicate in %s), cancelling load", e.Instance, e.Source)
}

// ImageDecodeError reports a slice the image source could not read.
type ImageDecodeError struct {
	Source string
	Err    error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("can't read image at %s: %v", e.Source, e.Err)
}

func (e *ImageDecodeError) Unwrap() error { return e.Err }

// InconsistentSpacingError reports slices with different pixel sizes.
type InconsistentSpacingError struct {
	Instance int
	Expected models.PixelSpacing
	Found    models.PixelSpacing
}

func (e *InconsistentSpacingError) Error() string {
	return fmt.Sprintf("multiple pixel sizes found: %s and %s (instance %d)", e.Expected, e.Found, e.Instance)
}

// InconsistentDimensionsError reports slices whose pixel grids differ.
type InconsistentDimensionsError struct {
	Instance     int
	ExpectedRows int
	ExpectedCols int
	Rows         int
	Cols         int
}

func (e *InconsistentDimensionsError) Error() string {
	return fmt.Sprintf("multiple slice sizes found: %dx%d and %dx%d (instance %d)",
		e.ExpectedCols, e.ExpectedRows, e.Cols, e.Rows, e.Instance)
}

// IrregularSpacingError reports a slice that is not where the spacing derived
// from the extreme slices puts it.
type IrregularSpacingError struct {
	Instance  int
	Deviation float64
	Tolerance float64
}

func (e *IrregularSpacingError) Error() string {
	return fmt.Sprintf("slices are not regularly spaced, error: %f mm at instance %d (tolerance %g mm)",
		e.Deviation, e.Instance, e.Tolerance)
}

// MissingInstancesWarning reports gaps in the instance numbering. The
// collection is still committed.
type MissingInstancesWarning struct {
	Expected int
	Actual   int
}

func (w *MissingInstancesWarning) Error() string {
	return fmt.Sprintf("expecting %d instances, received %d instances", w.Expected, w.Actual)
}

// IsFatal reports whether err aborts a load. Warnings and nil are not fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var w *MissingInstancesWarning
	return !errors.As(err, &w)
}
