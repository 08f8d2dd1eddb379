// Package logx owns the process logger. Services take a component logger
// from For and never configure output themselves.
package logx

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var root atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	root.Store(&l)
}

// Setup replaces the root logger. pretty selects the human console writer.
func Setup(w io.Writer, level zerolog.Level, pretty bool) {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	l := zerolog.New(w).Level(level).With().Timestamp().Logger()
	root.Store(&l)
}

// ParseLevel accepts zerolog level names; unknown names fall back to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// For returns a logger tagged with the component name.
func For(component string) zerolog.Logger {
	return root.Load().With().Str("component", component).Logger()
}

// Nop is handy for tests and for callers that opt out of logging.
func Nop() zerolog.Logger { return zerolog.Nop() }
