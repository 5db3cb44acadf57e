// Package logging builds the structured logger shared by dicomvolume
// components.
package logging

import (
	"io"
	"log/slog"

	"github.com/natefinch/lumberjack"
)

// Options selects where and how much to log.
type Options struct {
	Verbose bool

	// File sends logs to a rotating file instead of Stderr.
	File    string
	MaxSize int // megabytes
	MaxAge  int // days

	Stderr io.Writer
}

// New returns a text logger and a function that releases its output.
func New(opts Options) (*slog.Logger, func() error) {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = opts.Stderr
	closer := func() error { return nil }
	if opts.File != "" {
		l := &lumberjack.Logger{
			Filename: opts.File,
			MaxSize:  opts.MaxSize,
			MaxAge:   opts.MaxAge,
		}
		out, closer = l, l.Close
		// File logs keep everything from Info up.
		if !opts.Verbose {
			level = slog.LevelInfo
		}
	}
	if out == nil {
		return slog.New(slog.DiscardHandler), closer
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closer
}
