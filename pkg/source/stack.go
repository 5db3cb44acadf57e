package source

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"dicomvolume/internal/models"
)

// ManifestName is the file describing a slice stack directory.
const ManifestName = "manifest.yaml"

// Manifest describes the acquisition geometry of a directory of slice images.
// Per-slice entries override the stack-wide values.
type Manifest struct {
	PatientID        string    `yaml:"patientId"`
	PixelSpacing     []float64 `yaml:"pixelSpacing,omitempty"`
	RescaleSlope     float64   `yaml:"rescaleSlope,omitempty"`
	RescaleIntercept float64   `yaml:"rescaleIntercept,omitempty"`

	// Window is the default display window, as center and width.
	Window []float64 `yaml:"window,omitempty"`

	Slices []ManifestSlice `yaml:"slices"`
}

// ManifestSlice describes one image of the stack.
type ManifestSlice struct {
	File              string    `yaml:"file"`
	PatientID         string    `yaml:"patientId,omitempty"`
	InstanceNumber    int       `yaml:"instanceNumber"`
	AcquisitionNumber int       `yaml:"acquisitionNumber,omitempty"`
	Position          []float64 `yaml:"position,omitempty"`
	PixelSpacing      []float64 `yaml:"pixelSpacing,omitempty"`
}

// StackOptions controls how a directory without full metadata is read.
type StackOptions struct {
	// DefaultSliceGap positions slices at instance*gap along z when the
	// manifest gives no position.
	DefaultSliceGap float64

	// DefaultPixelSpacing is used when neither the manifest nor the slice
	// entry provides one.
	DefaultPixelSpacing models.PixelSpacing

	// Cache holds decoded images. A fresh cache is created when nil.
	Cache *ImageCache
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("error parsing manifest %s: %w", path, err)
	}
	return &m, nil
}

// SaveManifest writes a manifest file.
func SaveManifest(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("error marshaling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing manifest: %w", err)
	}
	return nil
}

// OpenStack lists the frames of a slice stack directory. When the directory
// holds a manifest, it is authoritative; otherwise every PNG or JPEG file is
// a slice whose instance number is the number found in its file name.
func OpenStack(dir string, opts StackOptions) ([]models.Frame, error) {
	if opts.Cache == nil {
		opts.Cache = NewImageCache()
	}
	if opts.DefaultPixelSpacing == (models.PixelSpacing{}) {
		opts.DefaultPixelSpacing = models.PixelSpacing{Row: 1, Col: 1}
	}

	manifestPath := filepath.Join(dir, ManifestName)
	if _, err := os.Stat(manifestPath); err == nil {
		m, err := LoadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		return framesFromManifest(dir, m, opts)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var imageFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".png" || ext == ".jpg" || ext == ".jpeg" {
			imageFiles = append(imageFiles, entry.Name())
		}
	}
	if len(imageFiles) == 0 {
		return nil, fmt.Errorf("no PNG or JPEG images found in %s", dir)
	}

	sort.Slice(imageFiles, func(i, j int) bool {
		return extractNumber(imageFiles[i]) < extractNumber(imageFiles[j])
	})

	frames := make([]models.Frame, 0, len(imageFiles))
	for _, name := range imageFiles {
		instance := extractNumber(name)
		frames = append(frames, &stackFrame{
			path:  filepath.Join(dir, name),
			cache: opts.Cache,
			header: models.Header{
				InstanceNumber: instance,
				PixelSpacing:   opts.DefaultPixelSpacing,
				Position:       models.Position{Z: float64(instance) * opts.DefaultSliceGap},
				TransferSyntax: formatName(name),
				FrameCount:     1,
				RescaleSlope:   1,
			},
		})
	}
	return frames, nil
}

func framesFromManifest(dir string, m *Manifest, opts StackOptions) ([]models.Frame, error) {
	if len(m.Slices) == 0 {
		return nil, fmt.Errorf("manifest in %s lists no slices", dir)
	}
	slope := m.RescaleSlope
	if slope == 0 {
		slope = 1
	}
	stackSpacing := opts.DefaultPixelSpacing
	if len(m.PixelSpacing) > 0 {
		ps, err := spacingFrom(m.PixelSpacing)
		if err != nil {
			return nil, fmt.Errorf("manifest pixelSpacing: %w", err)
		}
		stackSpacing = ps
	}

	frames := make([]models.Frame, 0, len(m.Slices))
	for i, s := range m.Slices {
		if s.File == "" {
			return nil, fmt.Errorf("manifest slice %d has no file", i)
		}
		h := models.Header{
			PatientID:         m.PatientID,
			InstanceNumber:    s.InstanceNumber,
			AcquisitionNumber: s.AcquisitionNumber,
			PixelSpacing:      stackSpacing,
			Position:          models.Position{Z: float64(s.InstanceNumber) * opts.DefaultSliceGap},
			TransferSyntax:    formatName(s.File),
			FrameCount:        1,
			RescaleSlope:      slope,
			RescaleIntercept:  m.RescaleIntercept,
		}
		if s.PatientID != "" {
			h.PatientID = s.PatientID
		}
		if len(s.PixelSpacing) > 0 {
			ps, err := spacingFrom(s.PixelSpacing)
			if err != nil {
				return nil, fmt.Errorf("slice %s pixelSpacing: %w", s.File, err)
			}
			h.PixelSpacing = ps
		}
		if len(s.Position) > 0 {
			if len(s.Position) != 3 {
				return nil, fmt.Errorf("slice %s position needs 3 values, got %d", s.File, len(s.Position))
			}
			h.Position = models.Position{X: s.Position[0], Y: s.Position[1], Z: s.Position[2]}
		}
		if len(m.Window) == 2 {
			h.DefaultWindow = models.Window{Center: m.Window[0], Width: m.Window[1]}
			h.HasDefaultWindow = true
		}
		frames = append(frames, &stackFrame{
			path:   filepath.Join(dir, s.File),
			cache:  opts.Cache,
			header: h,
		})
	}
	return frames, nil
}

func spacingFrom(v []float64) (models.PixelSpacing, error) {
	if len(v) != 2 {
		return models.PixelSpacing{}, fmt.Errorf("need 2 values, got %d", len(v))
	}
	return models.PixelSpacing{Row: v[0], Col: v[1]}, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}

func formatName(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".png":
		return "PNG"
	case ".jpg", ".jpeg":
		return "JPEG"
	}
	return "unknown"
}

// stackFrame is a single image file of a stack.
type stackFrame struct {
	path   string
	cache  *ImageCache
	header models.Header
}

func (f *stackFrame) Identifier() string { return f.path }

func (f *stackFrame) Header() (models.Header, error) { return f.header, nil }

func (f *stackFrame) Decode() (*models.Image, error) {
	img, err := f.cache.Load(f.path)
	if err != nil {
		return nil, &models.DecodeError{Source: f.path, Err: err}
	}
	rows, cols, stored, bits := grayValues(img)
	pixels := make([]float64, len(stored))
	for i, s := range stored {
		pixels[i] = s*f.header.RescaleSlope + f.header.RescaleIntercept
	}
	return &models.Image{
		Rows:    rows,
		Cols:    cols,
		Pixels:  pixels,
		Used:    UsedRange(pixels),
		Allowed: AllowedRange(bits, false, f.header.RescaleSlope, f.header.RescaleIntercept),
	}, nil
}

func (f *stackFrame) Render8(w models.Window) ([]uint8, error) {
	img, err := f.Decode()
	if err != nil {
		return nil, err
	}
	return Render8(img.Pixels, w), nil
}

func (f *stackFrame) Raw16(shift float64) ([]uint16, error) {
	img, err := f.Decode()
	if err != nil {
		return nil, err
	}
	return Raw16(img.Pixels, shift), nil
}

// grayValues returns the stored gray level of every pixel in row-major order
// along with the bit depth of the encoding.
func grayValues(img image.Image) (rows, cols int, stored []float64, bits int) {
	b := img.Bounds()
	rows, cols = b.Dy(), b.Dx()
	stored = make([]float64, 0, rows*cols)
	switch g := img.(type) {
	case *image.Gray16:
		bits = 16
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				stored = append(stored, float64(g.Gray16At(x, y).Y))
			}
		}
	case *image.Gray:
		bits = 8
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				stored = append(stored, float64(g.GrayAt(x, y).Y))
			}
		}
	default:
		bits = 16
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
				stored = append(stored, float64(c.Y))
			}
		}
	}
	return rows, cols, stored, bits
}
