package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SessionLogf logs through Logf with the owning session id prefixed, so lines
// from concurrent sessions can be told apart in a shared log stream.
func SessionLogf(sessionID string, format string, v ...interface{}) {
	args := make([]interface{}, 0, len(v)+1)
	args = append(args, sessionID)
	args = append(args, v...)
	Logf("session %s: "+format, args...)
}
