package source

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicomvolume/internal/models"
)

// transferSyntaxNames maps the transfer syntaxes commonly found in
// single-frame series to their names.
var transferSyntaxNames = map[string]string{
	"1.2.840.10008.1.2":       "Little Endian Implicit",
	"1.2.840.10008.1.2.1":     "Little Endian Explicit",
	"1.2.840.10008.1.2.1.99":  "Deflated Explicit VR Little Endian",
	"1.2.840.10008.1.2.2":     "Big Endian Explicit",
	"1.2.840.10008.1.2.4.50":  "JPEG Baseline",
	"1.2.840.10008.1.2.4.51":  "JPEG Extended",
	"1.2.840.10008.1.2.4.57":  "JPEG Lossless, Non-hierarchical",
	"1.2.840.10008.1.2.4.70":  "JPEG Lossless, Non-hierarchical, First-Order Prediction",
	"1.2.840.10008.1.2.4.80":  "JPEG-LS Lossless",
	"1.2.840.10008.1.2.4.81":  "JPEG-LS Lossy",
	"1.2.840.10008.1.2.4.90":  "JPEG 2000 (Lossless only)",
	"1.2.840.10008.1.2.4.91":  "JPEG 2000",
	"1.2.840.10008.1.2.5":     "RLE Lossless",
	"1.2.840.10008.1.2.4.100": "MPEG2 Main Profile @ Main Level",
	"1.2.840.10008.1.2.4.102": "MPEG-4 AVC/H.264 High Profile",
	"1.2.840.10008.1.2.4.201": "High-Throughput JPEG 2000 (Lossless Only)",
	"1.2.840.10008.1.2.4.203": "High-Throughput JPEG 2000",
	"1.2.840.10008.1.2.4.202": "High-Throughput JPEG 2000 with RPCL Options (Lossless Only)",
	"1.2.840.10008.1.2.1.98":  "Encapsulated Uncompressed Explicit VR Little Endian",
}

var errEncapsulated = errors.New("encapsulated (compressed) pixel data is not supported")

// OpenDICOM returns one frame per file. Files are parsed lazily, on the first
// call to Header or Decode.
func OpenDICOM(paths []string) []models.Frame {
	frames := make([]models.Frame, len(paths))
	for i, p := range paths {
		frames[i] = &dicomFrame{path: p}
	}
	return frames
}

type dicomFrame struct {
	path string

	once sync.Once
	ds   dicom.Dataset
	err  error
}

func (f *dicomFrame) Identifier() string { return f.path }

func (f *dicomFrame) parse() error {
	f.once.Do(func() {
		ds, err := dicom.ParseFile(f.path, nil)
		if err != nil {
			f.err = &models.DecodeError{Source: f.path, Err: err}
			return
		}
		f.ds = ds
	})
	return f.err
}

func (f *dicomFrame) Header() (models.Header, error) {
	if err := f.parse(); err != nil {
		return models.Header{}, err
	}
	var h models.Header
	var err error
	if h.PatientID, err = f.str(tag.PatientID); err != nil {
		return h, f.fail(err)
	}
	if h.InstanceNumber, err = f.integer(tag.InstanceNumber); err != nil {
		return h, f.fail(err)
	}
	// Acquisition number is optional (type 3 in most IODs).
	h.AcquisitionNumber, _ = f.integer(tag.AcquisitionNumber)

	spacing, err := f.numbers(tag.PixelSpacing, 2)
	if err != nil {
		return h, f.fail(err)
	}
	h.PixelSpacing = models.PixelSpacing{Row: spacing[0], Col: spacing[1]}

	pos, err := f.numbers(tag.ImagePositionPatient, 3)
	if err != nil {
		return h, f.fail(err)
	}
	h.Position = models.Position{X: pos[0], Y: pos[1], Z: pos[2]}

	h.RescaleSlope = 1
	if v, err := f.numbers(tag.RescaleSlope, 1); err == nil {
		h.RescaleSlope = v[0]
	}
	if v, err := f.numbers(tag.RescaleIntercept, 1); err == nil {
		h.RescaleIntercept = v[0]
	}
	center, cerr := f.numbers(tag.WindowCenter, 1)
	width, werr := f.numbers(tag.WindowWidth, 1)
	if cerr == nil && werr == nil {
		h.DefaultWindow = models.Window{Center: center[0], Width: width[0]}
		h.HasDefaultWindow = true
	}

	h.FrameCount = 1
	if n, err := f.integer(tag.NumberOfFrames); err == nil && n > 0 {
		h.FrameCount = n
	}
	h.TransferSyntax = "unknown"
	if uid, err := f.str(tag.TransferSyntaxUID); err == nil {
		uid = strings.TrimRight(uid, "\x00 ")
		if name, ok := transferSyntaxNames[uid]; ok {
			h.TransferSyntax = name
		} else {
			h.TransferSyntax = uid
		}
	}
	return h, nil
}

func (f *dicomFrame) Decode() (*models.Image, error) {
	h, err := f.Header()
	if err != nil {
		return nil, err
	}
	elem, err := f.ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, f.fail(err)
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, f.fail(fmt.Errorf("unexpected pixel data value %T", elem.Value.GetValue()))
	}
	if info.IsEncapsulated {
		return nil, f.fail(errEncapsulated)
	}
	if len(info.Frames) == 0 {
		return nil, f.fail(errors.New("no frame in pixel data"))
	}
	native := info.Frames[0].NativeData

	bits := native.BitsPerSample
	if stored, err := f.integer(tag.BitsStored); err == nil && stored > 0 {
		bits = stored
	}
	signed := false
	if rep, err := f.integer(tag.PixelRepresentation); err == nil {
		signed = rep == 1
	}

	pixels := make([]float64, len(native.Data))
	for i, sample := range native.Data {
		if len(sample) == 0 {
			continue
		}
		v := sample[0]
		if signed && v >= 1<<(bits-1) {
			v -= 1 << bits
		}
		pixels[i] = float64(v)*h.RescaleSlope + h.RescaleIntercept
	}
	if len(pixels) != native.Rows*native.Cols {
		return nil, f.fail(fmt.Errorf("pixel data has %d samples for %dx%d", len(pixels), native.Cols, native.Rows))
	}
	return &models.Image{
		Rows:    native.Rows,
		Cols:    native.Cols,
		Pixels:  pixels,
		Used:    UsedRange(pixels),
		Allowed: AllowedRange(bits, signed, h.RescaleSlope, h.RescaleIntercept),
	}, nil
}

func (f *dicomFrame) Render8(w models.Window) ([]uint8, error) {
	img, err := f.Decode()
	if err != nil {
		return nil, err
	}
	return Render8(img.Pixels, w), nil
}

func (f *dicomFrame) Raw16(shift float64) ([]uint16, error) {
	img, err := f.Decode()
	if err != nil {
		return nil, err
	}
	return Raw16(img.Pixels, shift), nil
}

func (f *dicomFrame) fail(err error) error {
	return &models.DecodeError{Source: f.path, Err: err}
}

func (f *dicomFrame) values(t tag.Tag) ([]string, error) {
	elem, err := f.ds.FindElementByTag(t)
	if err != nil {
		return nil, fmt.Errorf("tag %v: %w", t, err)
	}
	switch v := elem.Value.GetValue().(type) {
	case []string:
		return v, nil
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out, nil
	case []float64:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.FormatFloat(n, 'g', -1, 64)
		}
		return out, nil
	}
	return nil, fmt.Errorf("tag %v: unsupported value type %T", t, elem.Value.GetValue())
}

func (f *dicomFrame) str(t tag.Tag) (string, error) {
	v, err := f.values(t)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Join(v, "\\")), nil
}

func (f *dicomFrame) numbers(t tag.Tag, n int) ([]float64, error) {
	v, err := f.values(t)
	if err != nil {
		return nil, err
	}
	// Multi-valued decimal strings may come back as a single backslash
	// separated string.
	if len(v) == 1 && strings.Contains(v[0], "\\") {
		v = strings.Split(v[0], "\\")
	}
	if len(v) < n {
		return nil, fmt.Errorf("tag %v: need %d values, got %d", t, n, len(v))
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		x, err := strconv.ParseFloat(strings.TrimSpace(v[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("tag %v: %w", t, err)
		}
		out[i] = x
	}
	return out, nil
}

func (f *dicomFrame) integer(t tag.Tag) (int, error) {
	v, err := f.numbers(t, 1)
	if err != nil {
		return 0, err
	}
	return int(v[0]), nil
}
