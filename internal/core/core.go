/*
Core holds the runtime context every component receives at construction.

# Module
  - clock: wall clock in production, settable simulated clock in tests and replays
  - logger: component scoped handle over the process logger
  - tls: client TLS configuration shared by all venue connections

# Ownership
  - built once in main, passed down by value
  - no package level state; components never reach for globals
*/
package core

import (
	"crypto/tls"
)

// Context is the explicit runtime environment of a component.
type Context struct {
	Clock Clock
	Log   Logger
	TLS   *tls.Config
}

// New builds a context with a wall clock, the process logger and default TLS settings.
func New() Context {
	return Context{
		Clock: WallClock{},
		Log:   NewLogger(""),
		TLS:   &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

// Named returns a copy whose logger prefixes messages with the component name.
func (c Context) Named(name string) Context {
	c = c.withDefaults()
	c.Log = c.Log.Named(name)
	return c
}

// withDefaults fills any nil member so a zero Context is usable.
func (c Context) withDefaults() Context {
	if c.Clock == nil {
		c.Clock = WallClock{}
	}
	if c.Log == nil {
		c.Log = NopLogger()
	}
	if c.TLS == nil {
		c.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return c
}

// Resolve returns c with defaults applied. Constructors call it on the context they receive.
func Resolve(c Context) Context {
	return c.withDefaults()
}
