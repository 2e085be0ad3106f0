package monitoring

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Logf is the process-level logger used by the CLI and batch runner. It
// defaults to log.Printf but may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Streams are the writers handed to each canopy package's SetLogWriters.
// A nil writer disables that stream.
type Streams struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// StreamsForLevel enables the ops stream at "ops", adds diag at "diag" and
// everything at "trace". "off" silences all three.
func StreamsForLevel(level string, w io.Writer) (Streams, error) {
	switch strings.ToLower(level) {
	case "off", "none":
		return Streams{}, nil
	case "", "ops":
		return Streams{Ops: w}, nil
	case "diag":
		return Streams{Ops: w, Diag: w}, nil
	case "trace":
		return Streams{Ops: w, Diag: w, Trace: w}, nil
	}
	return Streams{}, fmt.Errorf("unknown log level %q (want off, ops, diag or trace)", level)
}
