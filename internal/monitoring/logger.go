// Package monitoring holds the diagnostic logger shared by the sync engine,
// the replay runner and the report store.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger so tests or embedding programs can redirect or
// mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var debugEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug toggles Debugf output.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether Debugf currently logs.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// Debugf logs through Logf only when debug output is enabled.
func Debugf(format string, v ...interface{}) {
	if debugEnabled.Load() {
		Logf(format, v...)
	}
}
