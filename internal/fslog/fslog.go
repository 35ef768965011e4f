// Package fslog provides the flag-gated debug loggers used throughout the
// file-system packages, grounded on jacobsa/fuse's debug.go: a single flag
// turns on verbose per-component logging to stderr, otherwise everything is
// discarded.
package fslog

import (
	"flag"
	"io"
	"log"
	"os"
	"sync"
)

var enableDebug = flag.Bool(
	"fs.debug",
	false,
	"Write file-system debugging messages to stderr.")

var once sync.Once
var writer io.Writer

func resolveWriter() {
	if *enableDebug {
		writer = os.Stderr
	} else {
		writer = io.Discard
	}
}

// lazyWriter resolves the underlying writer on its first Write rather than
// when a logger is constructed, since package-level loggers are built
// before main has parsed flags.
type lazyWriter struct{}

func (lazyWriter) Write(p []byte) (int, error) {
	once.Do(resolveWriter)
	return writer.Write(p)
}

// New returns a logger prefixed with the given component name. The
// underlying writer is resolved lazily, after flags have been parsed.
func New(component string) *log.Logger {
	return log.New(lazyWriter{}, component+": ", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
}
