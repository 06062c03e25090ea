// Package log configures a zerolog.Logger for the daemon. There is no
// package-level global logger: New returns a value that callers thread
// through their own constructors, following the teacher's constructor-
// injection style for every other shared dependency.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a logger at the given level ("debug", "info", "warn", "error").
// An unrecognized level falls back to "info". Output is a pretty console
// writer when stderr is a terminal, JSON lines otherwise.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	if isTerminal(os.Stderr) {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
