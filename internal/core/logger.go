package core

import (
	"github.com/yanun0323/logs"
)

// Logger is the logging handle passed to components.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Named(name string) Logger
}

type logger struct {
	prefix string
}

// NewLogger returns a logger backed by the process logger.
func NewLogger(name string) Logger {
	l := logger{}
	if name != "" {
		l.prefix = "[" + name + "] "
	}
	return l
}

func (l logger) Debugf(format string, args ...any) { logs.Debugf(l.prefix+format, args...) }
func (l logger) Infof(format string, args ...any)  { logs.Infof(l.prefix+format, args...) }
func (l logger) Warnf(format string, args ...any)  { logs.Warnf(l.prefix+format, args...) }
func (l logger) Errorf(format string, args ...any) { logs.Errorf(l.prefix+format, args...) }

func (l logger) Named(name string) Logger {
	if name == "" {
		return l
	}
	if l.prefix == "" {
		return NewLogger(name)
	}
	return logger{prefix: l.prefix[:len(l.prefix)-2] + "." + name + "] "}
}

type nopLogger struct{}

// NopLogger discards everything.
func NopLogger() Logger { return nopLogger{} }

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
func (n nopLogger) Named(string) Logger { return n }
