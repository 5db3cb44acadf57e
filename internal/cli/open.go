package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dicomvolume/internal/models"
	"dicomvolume/pkg/assembly"
	"dicomvolume/pkg/config"
	"dicomvolume/pkg/session"
	"dicomvolume/pkg/source"
	"dicomvolume/pkg/windowing"
)

func isDICOM(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".dcm" || ext == ".dicom"
}

// openFrames resolves command arguments into frames. Files are read as
// DICOM. A directory contributes its DICOM files, or is read as an image
// stack when it has none.
func openFrames(args []string, cfg *config.Config) ([]models.Frame, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no input given")
	}

	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && isDICOM(e.Name()) {
				found = append(found, filepath.Join(arg, e.Name()))
			}
		}
		if len(found) > 0 {
			sort.Strings(found)
			paths = append(paths, found...)
			continue
		}

		if len(args) > 1 {
			return nil, fmt.Errorf("%s has no DICOM files; image stacks must be given alone", arg)
		}
		return source.OpenStack(arg, source.StackOptions{
			DefaultSliceGap: cfg.Processing.DefaultSliceGap,
		})
	}
	return source.OpenDICOM(paths), nil
}

// loadSession assembles the inputs and applies the configured window and
// view to the result.
func loadSession(ctx context.Context, rt *runEnv, args []string) (*session.Session, *session.State, error) {
	cfg := rt.cfg
	view, err := cfg.ViewState()
	if err != nil {
		return nil, nil, err
	}
	frames, err := openFrames(args, cfg)
	if err != nil {
		return nil, nil, err
	}

	s := session.New(session.Options{
		Assembler: assembly.NewAssembler(assembly.Options{
			SpacingTolerance: cfg.Processing.SpacingTolerance,
			Logger:           rt.logger,
		}),
		Engine: windowing.NewEngine(windowing.Options{
			Workers: cfg.Processing.NumWorkers,
			Logger:  rt.logger,
		}),
		View:   view,
		Logger: rt.logger,
	})

	st, err := s.Load(ctx, frames)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Window.UseDefault {
		w := models.Window{Center: cfg.Window.Center, Width: cfg.Window.Width}
		if w.Width == 0 {
			w.Width = st.Window.Width
		}
		if st, err = s.SetWindow(ctx, w); err != nil {
			return nil, nil, err
		}
	}
	return s, st, nil
}
