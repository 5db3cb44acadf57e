package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomvolume/internal/models"
	"dicomvolume/internal/testutil"
	"dicomvolume/pkg/assembly"
	"dicomvolume/pkg/projection"
	"dicomvolume/pkg/source"
)

func newTestSession(t *testing.T) *Session {
	return New(Options{Logger: testutil.NewTestLogger(t)})
}

func load(t *testing.T, s *Session, frames []models.Frame) *State {
	t.Helper()
	st, err := s.Load(context.Background(), frames)
	require.NoError(t, err)
	return st
}

// gatedFrame blocks in Header until released.
type gatedFrame struct {
	*source.Memory
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedFrame) Header() (models.Header, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Memory.Header()
}

func TestSession_Empty(t *testing.T) {
	s := newTestSession(t)
	assert.Nil(t, s.Current())

	_, err := s.SetWindow(context.Background(), models.Window{Center: 0, Width: 10})
	assert.ErrorIs(t, err, ErrNoCollection)
	_, err = s.UpdateView(context.Background(), func(v *projection.ViewState) {})
	assert.ErrorIs(t, err, ErrNoCollection)
	_, err = s.Stats()
	assert.ErrorIs(t, err, ErrNoCollection)
	_, err = s.Limits()
	assert.ErrorIs(t, err, ErrNoCollection)
}

func TestSession_Load(t *testing.T) {
	s := newTestSession(t)
	st := load(t, s, testutil.Series(1, 2, 3))

	assert.Same(t, st, s.Current())
	assert.NotEmpty(t, st.LoadID)
	assert.Equal(t, 3, st.Collection.Len())
	assert.Equal(t, models.Window{Center: 207.5, Width: 215}, st.Window)
	assert.Equal(t, projection.Bits8, st.View.Bits)

	require.NotNil(t, st.Display)
	assert.Equal(t, 3*16, len(st.Display.Data))
	assert.Len(t, st.Points, 3*16)
	assert.Empty(t, st.LayerErrors)
	assert.Empty(t, st.Warnings())
}

func TestSession_FailedLoadKeepsState(t *testing.T) {
	s := newTestSession(t)
	st := load(t, s, testutil.Series(1, 2))

	bad := testutil.Series(1, 2)
	bad[1].(*source.Memory).Meta.PatientID = "OTHER"
	_, err := s.Load(context.Background(), bad)

	var mp *assembly.MultiPatientError
	assert.ErrorAs(t, err, &mp)
	assert.Same(t, st, s.Current())
}

func TestSession_ReloadResetsLayer(t *testing.T) {
	s := newTestSession(t)
	load(t, s, testutil.Series(1, 2, 3))
	moved, err := s.SetCurrentInstance(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, moved.View.CurrentLayer)

	st := load(t, s, testutil.Series(4, 5))
	assert.Equal(t, 0, st.View.CurrentLayer)
	assert.Greater(t, st.View.Version, moved.View.Version)
	assert.NotEqual(t, moved.LoadID, st.LoadID)
}

func TestSession_SupersededLoad(t *testing.T) {
	s := newTestSession(t)

	gate := &gatedFrame{
		Memory:  testutil.Slice(1, 4, 4, func(i int) float64 { return float64(i) }),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	first := append([]models.Frame{gate}, testutil.Series(2, 3)...)

	var firstErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, firstErr = s.Load(context.Background(), first)
	}()

	<-gate.entered
	second := load(t, s, testutil.Series(7, 8))
	close(gate.release)
	<-done

	assert.ErrorIs(t, firstErr, ErrSuperseded)
	assert.Same(t, second, s.Current())
}

func TestSession_CancelledLoad(t *testing.T) {
	s := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Load(ctx, testutil.Series(1, 2))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, s.Current())
}

func TestSession_SetWindow(t *testing.T) {
	s := newTestSession(t)
	st := load(t, s, testutil.Series(1, 2, 3))

	w := models.Window{Center: 200, Width: 20}
	next, err := s.SetWindow(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, w, next.Window)
	assert.Greater(t, next.View.Version, st.View.Version)
	assert.NotSame(t, st.Display, next.Display)
	assert.NotEqual(t, st.Display.Data, next.Display.Data)
	assert.Same(t, next, s.Current())

	// The previous snapshot is untouched
	assert.Equal(t, models.Window{Center: 207.5, Width: 215}, st.Window)

	_, err = s.SetWindow(context.Background(), models.Window{Center: 200, Width: 0})
	assert.ErrorIs(t, err, models.ErrInvalidWindow)
	assert.Same(t, next, s.Current())
}

func TestSession_UpdateViewBits(t *testing.T) {
	s := newTestSession(t)
	st := load(t, s, testutil.Series(1, 2, 3))
	require.Nil(t, st.Raw)

	raw, err := s.UpdateView(context.Background(), func(v *projection.ViewState) { v.Bits = projection.Bits16 })
	require.NoError(t, err)
	require.NotNil(t, raw.Raw)
	assert.Same(t, st.Display, raw.Display, "the 8-bit volume is kept")
	assert.Equal(t, st.View.Version+1, raw.View.Version)
	for _, p := range raw.Points {
		assert.NotEqual(t, projection.BucketNotApplicable, p.Bucket)
	}

	buckets, err := s.UpdateView(context.Background(), func(v *projection.ViewState) { v.Buckets = 3 })
	require.NoError(t, err)
	assert.Same(t, raw.Raw, buckets.Raw, "same window, same raw volume")
	for _, p := range buckets.Points {
		assert.LessOrEqual(t, p.Bucket, 3)
	}

	back, err := s.UpdateView(context.Background(), func(v *projection.ViewState) { v.Bits = projection.Bits8 })
	require.NoError(t, err)
	assert.Same(t, st.Display, back.Display)
	assert.Equal(t, projection.BucketNotApplicable, back.Points[0].Bucket)

	_, err = s.UpdateView(context.Background(), func(v *projection.ViewState) { v.Buckets = 0 })
	assert.ErrorIs(t, err, projection.ErrInvalidBuckets)
	assert.Same(t, back, s.Current())
}

func TestSession_VisibilityKeepsPoints(t *testing.T) {
	s := newTestSession(t)
	st := load(t, s, testutil.Series(1, 2))

	next, err := s.UpdateView(context.Background(), func(v *projection.ViewState) {
		v.HideEmpty = true
		v.Highlight = true
	})
	require.NoError(t, err)
	assert.True(t, next.View.HideEmpty)
	require.NotEmpty(t, next.Points)
	assert.True(t, &st.Points[0] == &next.Points[0], "points are not re-projected")
}

func TestSession_SetCurrentInstance(t *testing.T) {
	s := newTestSession(t)
	load(t, s, testutil.Series(3, 4, 5))

	st, err := s.SetCurrentInstance(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 1, st.View.CurrentLayer)

	_, err = s.SetCurrentInstance(context.Background(), 6)
	assert.Error(t, err)
	assert.Same(t, st, s.Current())
}

func TestSession_SetCurrentInstanceDuringLoad(t *testing.T) {
	s := newTestSession(t)

	for i := 0; i < 50; i++ {
		load(t, s, testutil.Series(10, 11, 12))
		next := testutil.Series(1, 2, 3)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			// Either applies to the old collection or is rejected by the new one
			_, _ = s.SetCurrentInstance(context.Background(), 12)
		}()
		go func() {
			defer wg.Done()
			_, err := s.Load(context.Background(), next)
			assert.NoError(t, err)
		}()
		wg.Wait()

		cur := s.Current()
		require.Equal(t, 1, cur.Collection.MinInstance)
		assert.Equal(t, 0, cur.View.CurrentLayer, "iteration %d", i)
	}
}

func TestSession_Versions(t *testing.T) {
	s := newTestSession(t)
	st := load(t, s, testutil.Series(1, 2))
	last := st.View.Version

	ops := []func() (*State, error){
		func() (*State, error) { return s.SetWindow(context.Background(), models.Window{Center: 150, Width: 100}) },
		func() (*State, error) {
			return s.UpdateView(context.Background(), func(v *projection.ViewState) { v.Alpha = 0.5 })
		},
		func() (*State, error) { return s.SetCurrentInstance(context.Background(), 2) },
		func() (*State, error) { return s.Load(context.Background(), testutil.Series(1, 2)) },
	}
	for i, op := range ops {
		st, err := op()
		require.NoError(t, err, "op %d", i)
		assert.Greater(t, st.View.Version, last, "op %d", i)
		last = st.View.Version
	}
}
