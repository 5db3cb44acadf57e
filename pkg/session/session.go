// Package session owns the live state of a viewer: the loaded collection, the
// windowed volumes built from it and the projected point set.
//
// The state is an immutable value published through an atomic pointer.
// Every operation builds a complete new State and swaps it in, so readers
// never observe a partially updated volume. A new Load cancels the one in
// flight, and a load that fails validation leaves the previous state in place.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"dicomvolume/internal/models"
	"dicomvolume/pkg/assembly"
	"dicomvolume/pkg/projection"
	"dicomvolume/pkg/windowing"
)

var (
	// ErrNoCollection is returned by operations that need a loaded collection.
	ErrNoCollection = errors.New("no collection loaded")

	// ErrSuperseded is returned by a Load that a newer Load replaced.
	ErrSuperseded = errors.New("load superseded by a newer one")
)

// State is one consistent snapshot of the session. It is never modified
// after being published.
type State struct {
	// LoadID identifies the load that produced the collection.
	LoadID string

	Collection *assembly.Collection
	Window     models.Window
	View       projection.ViewState

	// Display and Raw are the windowed volumes. Only the one matching
	// View.Bits is guaranteed to be built for Window.
	Display *models.DisplayVolume
	Raw     *models.RawVolume

	// Points is the projection of the volume matching View.Bits.
	Points []projection.Point

	// LayerErrors lists the layers that failed in the last windowing pass.
	LayerErrors []windowing.LayerError

	displayWindow models.Window
	rawWindow     models.Window
	pointsBuckets int
}

// Warnings returns the non-fatal issues of the loaded collection.
func (st *State) Warnings() []error {
	if st == nil || st.Collection == nil {
		return nil
	}
	return st.Collection.Warnings()
}

// Options configures a Session.
type Options struct {
	Assembler *assembly.Assembler
	Engine    *windowing.Engine

	// View is the initial view state. DefaultViewState is used when zero.
	View projection.ViewState

	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Session serializes updates to a viewer state.
type Session struct {
	assembler *assembly.Assembler
	engine    *windowing.Engine
	logger    *slog.Logger
	initView  projection.ViewState

	state atomic.Pointer[State]

	// mu serializes state writers.
	mu sync.Mutex

	loadMu     sync.Mutex
	generation atomic.Uint64
	cancel     context.CancelFunc
}

// New creates an empty session.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	asm := opts.Assembler
	if asm == nil {
		asm = assembly.NewAssembler(assembly.Options{Logger: logger})
	}
	eng := opts.Engine
	if eng == nil {
		eng = windowing.NewEngine(windowing.Options{Logger: logger})
	}
	view := opts.View
	if view == (projection.ViewState{}) {
		view = projection.DefaultViewState()
	}
	return &Session{
		assembler: asm,
		engine:    eng,
		logger:    logger,
		initView:  view,
	}
}

// Current returns the live state, or nil before the first successful load.
func (s *Session) Current() *State { return s.state.Load() }

// Load assembles frames into a new collection, windows it with its default
// window and swaps it in. On any error the previous state is kept.
func (s *Session) Load(ctx context.Context, frames []models.Frame) (*State, error) {
	gen, ctx, done := s.beginLoad(ctx)
	defer done()

	loadID := uuid.NewString()
	logger := s.logger.With("load_id", loadID)
	logger.Info("loading collection", "frames", len(frames))

	coll, err := s.assembler.Assemble(ctx, frames)
	if err != nil {
		if s.generation.Load() != gen {
			return nil, ErrSuperseded
		}
		logger.Error("load rejected", "error", err)
		return nil, err
	}
	for _, w := range coll.Warnings() {
		logger.Warn("collection warning", "warning", w)
	}

	view := s.initView
	if cur := s.state.Load(); cur != nil {
		view = cur.View
	}
	view.Version++
	view.CurrentLayer = 0

	window := Limits{}.of(coll).Clamp(defaultWindow(coll))
	next, err := s.build(ctx, loadID, coll, window, view, nil)
	if err != nil {
		if s.generation.Load() != gen {
			return nil, ErrSuperseded
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation.Load() != gen {
		return nil, ErrSuperseded
	}
	s.state.Store(next)
	logger.Info("collection loaded",
		"patient", coll.PatientID,
		"slices", coll.Len(),
		"window_center", window.Center,
		"window_width", window.Width)
	return next, nil
}

// beginLoad cancels the load in flight, if any, and returns the generation
// and context of the new one.
func (s *Session) beginLoad(parent context.Context) (uint64, context.Context, func()) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	gen := s.generation.Add(1)
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	return gen, ctx, func() {
		cancel()
		s.loadMu.Lock()
		if s.generation.Load() == gen {
			s.cancel = nil
		}
		s.loadMu.Unlock()
	}
}

// SetWindow rebuilds the active volume and the point set for a new window.
func (s *Session) SetWindow(ctx context.Context, w models.Window) (*State, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	if cur == nil {
		return nil, ErrNoCollection
	}
	view := cur.View
	view.Version++
	next, err := s.build(ctx, cur.LoadID, cur.Collection, w, view, cur)
	if err != nil {
		return nil, err
	}
	s.state.Store(next)
	return next, nil
}

// UpdateView applies fn to a copy of the current view state and publishes
// the result with a new version. Changing the bit depth or the bucket count
// rebuilds what depends on it; visibility changes do not touch the points.
func (s *Session) UpdateView(ctx context.Context, fn func(v *projection.ViewState)) (*State, error) {
	return s.updateView(ctx, func(_ *State, v *projection.ViewState) error {
		fn(v)
		return nil
	})
}

// updateView is UpdateView with fn seeing the state it modifies. fn runs
// under the writer lock.
func (s *Session) updateView(ctx context.Context, fn func(cur *State, v *projection.ViewState) error) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	if cur == nil {
		return nil, ErrNoCollection
	}
	view := cur.View
	if err := fn(cur, &view); err != nil {
		return nil, err
	}
	if err := view.Validate(); err != nil {
		return nil, err
	}
	view.Version = cur.View.Version + 1

	next, err := s.build(ctx, cur.LoadID, cur.Collection, cur.Window, view, cur)
	if err != nil {
		return nil, err
	}
	s.state.Store(next)
	return next, nil
}

// SetCurrentInstance moves the inspected slice to an instance number.
func (s *Session) SetCurrentInstance(ctx context.Context, instance int) (*State, error) {
	return s.updateView(ctx, func(cur *State, v *projection.ViewState) error {
		coll := cur.Collection
		if instance < coll.MinInstance || instance > coll.MaxInstance {
			return fmt.Errorf("instance %d is outside [%d, %d]", instance, coll.MinInstance, coll.MaxInstance)
		}
		v.CurrentLayer = coll.Layer(instance)
		return nil
	})
}

// build produces the state for a collection, window and view, reusing what
// prev already computed for the same inputs.
func (s *Session) build(ctx context.Context, loadID string, coll *assembly.Collection,
	w models.Window, view projection.ViewState, prev *State) (*State, error) {
	if prev != nil && prev.Collection != coll {
		prev = nil
	}
	next := &State{
		LoadID:     loadID,
		Collection: coll,
		Window:     w,
		View:       view,
	}
	if prev != nil {
		next.Display, next.displayWindow = prev.Display, prev.displayWindow
		next.Raw, next.rawWindow = prev.Raw, prev.rawWindow
	}

	var mode projection.Mode
	rebuilt := false
	switch view.Bits {
	case projection.Bits16:
		if next.Raw == nil || next.rawWindow != w {
			vol, failed, err := s.engine.Raw(ctx, coll, w, next.Raw)
			if err != nil {
				return nil, err
			}
			next.Raw, next.rawWindow, next.LayerErrors = vol, w, failed
			rebuilt = true
		}
		mode = projection.RawMode{Volume: next.Raw, Buckets: view.Buckets}
	default:
		if next.Display == nil || next.displayWindow != w {
			vol, failed, err := s.engine.Display(ctx, coll, w, next.Display)
			if err != nil {
				return nil, err
			}
			next.Display, next.displayWindow, next.LayerErrors = vol, w, failed
			rebuilt = true
		}
		mode = projection.DisplayMode{Volume: next.Display}
	}

	reusePoints := prev != nil && !rebuilt &&
		prev.View.Bits == view.Bits &&
		(view.Bits != projection.Bits16 || prev.pointsBuckets == view.Buckets)
	if reusePoints {
		next.Points, next.LayerErrors = prev.Points, prev.LayerErrors
		next.pointsBuckets = prev.pointsBuckets
		return next, nil
	}

	points, err := projection.Project(mode)
	if err != nil {
		return nil, err
	}
	next.Points = points
	next.pointsBuckets = view.Buckets
	return next, nil
}
