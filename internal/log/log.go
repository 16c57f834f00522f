// Package log defines the logger used across digwatch components.
package log

// Kv is a set of structured key-value fields attached to a logger.
type Kv = map[string]any

// Logger is the logging interface components depend on.
type Logger interface {
	Infof(format string, args ...any)
	Warningf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
	WithValues(values Kv) Logger
}

type noop struct{}

func (noop) Infof(string, ...any)    {}
func (noop) Warningf(string, ...any) {}
func (noop) Errorf(string, ...any)   {}
func (noop) Debugf(string, ...any)   {}
func (n noop) WithValues(Kv) Logger  { return n }

// Noop discards everything.
var Noop Logger = noop{}
