package source

import (
	"fmt"

	"dicomvolume/internal/models"
)

// Memory is a frame whose pixels are already decoded.
type Memory struct {
	ID   string
	Meta models.Header

	Rows   int
	Cols   int
	Pixels []float64

	// Allowed defaults to the used range when left zero.
	Allowed models.ValueRange

	// HeaderErr and DecodeErr simulate unreadable frames.
	HeaderErr error
	DecodeErr error
}

// NewMemory builds a frame from a header and row-major pixels.
func NewMemory(id string, meta models.Header, rows, cols int, pixels []float64) *Memory {
	return &Memory{ID: id, Meta: meta, Rows: rows, Cols: cols, Pixels: pixels}
}

// Identifier implements models.Frame.
func (m *Memory) Identifier() string { return m.ID }

// Header implements models.Frame.
func (m *Memory) Header() (models.Header, error) {
	if m.HeaderErr != nil {
		return models.Header{}, &models.DecodeError{Source: m.ID, Err: m.HeaderErr}
	}
	return m.Meta, nil
}

// Decode implements models.Frame.
func (m *Memory) Decode() (*models.Image, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	used := UsedRange(m.Pixels)
	allowed := m.Allowed
	if allowed == (models.ValueRange{}) {
		allowed = used
	}
	return &models.Image{
		Rows:    m.Rows,
		Cols:    m.Cols,
		Pixels:  m.Pixels,
		Used:    used,
		Allowed: allowed,
	}, nil
}

// Render8 implements models.Frame.
func (m *Memory) Render8(w models.Window) ([]uint8, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	return Render8(m.Pixels, w), nil
}

// Raw16 implements models.Frame.
func (m *Memory) Raw16(shift float64) ([]uint16, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	return Raw16(m.Pixels, shift), nil
}

func (m *Memory) check() error {
	if m.DecodeErr != nil {
		return &models.DecodeError{Source: m.ID, Err: m.DecodeErr}
	}
	if len(m.Pixels) != m.Rows*m.Cols {
		return &models.DecodeError{
			Source: m.ID,
			Err:    fmt.Errorf("pixel buffer has %d values for %dx%d", len(m.Pixels), m.Cols, m.Rows),
		}
	}
	return nil
}
