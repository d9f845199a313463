// Package logtest provides loggers for tests. It is imported from _test.go files only.
package logtest

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// New returns a debug-level logger that writes through t.Log.
func New(t testing.TB) zerolog.Logger {
	writer := zerolog.ConsoleWriter{
		Out:        zerolog.TestWriter{T: t, Frame: 6},
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}

	return zerolog.New(writer).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}
