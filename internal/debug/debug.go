// Package debug provides process-wide diagnostic logging for the ctxhook
// interceptor binaries. It never writes to stdout — stdout is reserved for
// the single JSON decision object each interceptor emits — and it never
// causes a non-zero exit; logging failures are themselves swallowed.
package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.Mutex
	logger  *log.Logger
	enabled = os.Getenv("RAII_DEBUG") != ""
)

// Init points the logger at <storeDir>/hooks.log with rotation. Safe to
// call multiple times; the last call wins. A failure to open the log file
// degrades to a discarding logger rather than erroring — interceptors must
// never fail because logging failed.
func Init(storeDir string) {
	mu.Lock()
	defer mu.Unlock()

	var w io.Writer = io.Discard
	if storeDir != "" {
		w = &lumberjack.Logger{
			Filename:   filepath.Join(storeDir, "hooks.log"),
			MaxSize:    5, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	logger = log.New(w, "", log.LstdFlags|log.Lmicroseconds)
}

// Enabled reports whether verbose debug logging is requested via RAII_DEBUG.
func Enabled() bool {
	return enabled
}

// Logf writes a line to the rotating log file, tagged with component.
// It is always written (info level); verbose-only detail should be gated
// by callers checking Enabled() first.
func Logf(component, format string, args ...any) {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l == nil {
		return
	}
	l.Printf("[%s] %s", component, fmt.Sprintf(format, args...))
}

// Verbosef writes a line only when RAII_DEBUG is set.
func Verbosef(component, format string, args ...any) {
	if !enabled {
		return
	}
	Logf(component, format, args...)
}
