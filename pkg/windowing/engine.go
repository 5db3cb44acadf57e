// Package windowing maps a volume collection into display representations
// for a given window: an 8-bit volume normalized by the image source, and a
// 16-bit raw volume whose window bounds are shifted into the unsigned domain
// so that voxels can be bucketed without renormalizing them.
package windowing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"dicomvolume/internal/models"
	"dicomvolume/pkg/assembly"
)

// rawMidpoint is the center of the unsigned 16-bit range.
const rawMidpoint = 1 << 15

// ErrEmptyCollection is returned when there is nothing to window.
var ErrEmptyCollection = errors.New("collection is empty")

// Offset returns the shift that recenters the collection value range into
// the unsigned 16-bit domain. It is truncated to a whole number so that
// shifted values and window bounds share the integer raw grid.
func Offset(collMin, collMax float64) float64 {
	return math.Trunc((collMax-collMin)/2 + (rawMidpoint - collMax))
}

// Bounds returns the window bounds in the shifted raw domain.
func Bounds(w models.Window, collMin, collMax float64) (lo, hi float64) {
	half := w.Width / 2
	off := Offset(collMin, collMax)
	return w.Center - half + off, w.Center + half + off
}

// LayerError records a layer that could not be refreshed. The layer keeps
// its previous content when the previous volume had the same shape, and is
// left empty otherwise.
type LayerError struct {
	Instance int
	Layer    int
	Source   string
	Err      error
}

func (e LayerError) Error() string {
	return fmt.Sprintf("layer %d (instance %d, %s): %v", e.Layer, e.Instance, e.Source, e.Err)
}

// Options configures an Engine.
type Options struct {
	// Workers bounds the number of layers decoded at once. Defaults to the
	// number of CPUs.
	Workers int

	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Engine builds windowed volumes.
type Engine struct {
	workers int
	logger  *slog.Logger
}

// NewEngine creates an engine.
func NewEngine(opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{workers: workers, logger: logger}
}

// Display renders every slice at 8 bits with the window applied and stacks
// them by instance number. Layer failures are reported, not fatal.
func (e *Engine) Display(ctx context.Context, coll *assembly.Collection, w models.Window, prev *models.DisplayVolume) (*models.DisplayVolume, []LayerError, error) {
	if err := check(coll, w); err != nil {
		return nil, nil, err
	}
	vol := models.NewDisplayVolume(coll.Geometry())
	stale := prev != nil && prev.SameShape(vol.Geometry)

	failed, err := e.forEachLayer(ctx, coll, func(rec *models.SliceRecord, layer int) error {
		data, err := rec.Frame.Render8(w)
		if err != nil {
			return err
		}
		return vol.SetLayer(data, layer)
	}, func(layer int) {
		if stale {
			copy(vol.Layer(layer), prev.Layer(layer))
		}
	})
	if err != nil {
		return nil, nil, err
	}

	e.logger.Debug("display volume built",
		"window_center", w.Center,
		"window_width", w.Width,
		"size", humanize.Bytes(uint64(len(vol.Data))),
		"failed_layers", len(failed))
	return vol, failed, nil
}

// Raw decodes every slice to raw 16-bit values without windowing and stores
// the shifted window bounds on the volume.
func (e *Engine) Raw(ctx context.Context, coll *assembly.Collection, w models.Window, prev *models.RawVolume) (*models.RawVolume, []LayerError, error) {
	if err := check(coll, w); err != nil {
		return nil, nil, err
	}
	vol := models.NewRawVolume(coll.Geometry())
	vol.WindowMin, vol.WindowMax = Bounds(w, coll.Min, coll.Max)
	stale := prev != nil && prev.SameShape(vol.Geometry)
	shift := Offset(coll.Min, coll.Max)

	failed, err := e.forEachLayer(ctx, coll, func(rec *models.SliceRecord, layer int) error {
		data, err := rec.Frame.Raw16(shift)
		if err != nil {
			return err
		}
		return vol.SetLayer(data, layer)
	}, func(layer int) {
		if stale {
			copy(vol.Layer(layer), prev.Layer(layer))
		}
	})
	if err != nil {
		return nil, nil, err
	}

	e.logger.Debug("raw volume built",
		"window_min", vol.WindowMin,
		"window_max", vol.WindowMax,
		"size", humanize.Bytes(uint64(len(vol.Data))*2),
		"failed_layers", len(failed))
	return vol, failed, nil
}

// forEachLayer runs fill for every record on a bounded pool. Each record owns
// a distinct layer so workers never write the same region. onFail is called
// for layers whose fill failed.
func (e *Engine) forEachLayer(ctx context.Context, coll *assembly.Collection,
	fill func(rec *models.SliceRecord, layer int) error, onFail func(layer int)) ([]LayerError, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	var mu sync.Mutex
	var failed []LayerError

	for _, rec := range coll.Records() {
		rec := rec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			layer := coll.Layer(rec.InstanceNumber())
			if err := fill(rec, layer); err != nil {
				onFail(layer)
				le := LayerError{
					Instance: rec.InstanceNumber(),
					Layer:    layer,
					Source:   rec.Frame.Identifier(),
					Err:      err,
				}
				e.logger.Warn("layer update failed", "layer", layer, "instance", le.Instance, "error", err)
				mu.Lock()
				failed = append(failed, le)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// A cancelled run may have skipped layers without reporting them.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].Layer < failed[j].Layer })
	return failed, nil
}

func check(coll *assembly.Collection, w models.Window) error {
	if coll == nil || coll.Len() == 0 {
		return ErrEmptyCollection
	}
	return w.Validate()
}
