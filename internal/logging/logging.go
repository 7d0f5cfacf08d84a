// Package logging provides the structured logger used throughout the
// bonding transport. It wraps apex/log so every component logs through
// the same small interface and tests can inject a discarding logger.
package logging

import (
	"io"

	alog "github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/memory"
)

// Fields is a structured set of key-value pairs attached to a log line.
type Fields = alog.Fields

// Logger is the logging surface every component depends on. It mirrors
// apex/log's Interface so callers can pass alog.Log directly, or any
// entry derived from it via WithFields.
type Logger interface {
	Debug(msg string)
	Debugf(format string, v ...interface{})
	Info(msg string)
	Infof(format string, v ...interface{})
	Warn(msg string)
	Warnf(format string, v ...interface{})
	Error(msg string)
	Errorf(format string, v ...interface{})
	WithFields(fields Fields) *alog.Entry
	WithField(key string, value interface{}) *alog.Entry
}

// NewCLI returns a Logger that writes human-readable lines to w, suitable
// for the standalone receiver binary's stderr.
func NewCLI(w io.Writer, level alog.Level) Logger {
	l := &alog.Logger{
		Handler: cli.New(w),
		Level:   level,
	}
	return l
}

// NewJSON returns a Logger emitting one JSON object per line, suitable for
// production deployments behind a log shipper.
func NewJSON(w io.Writer, level alog.Level) Logger {
	l := &alog.Logger{
		Handler: json.New(w),
		Level:   level,
	}
	return l
}

// NewMemory returns a Logger that buffers entries in memory, and the
// handler used to inspect them. Used by tests that assert on log content.
func NewMemory() (Logger, *memory.Handler) {
	h := memory.New()
	l := &alog.Logger{Handler: h, Level: alog.DebugLevel}
	return l, h
}

// Discard is a Logger that drops everything; the default for components
// that receive no explicit logger.
var Discard Logger = &alog.Logger{Handler: discardHandler{}, Level: alog.ErrorLevel + 1}

type discardHandler struct{}

func (discardHandler) HandleLog(*alog.Entry) error { return nil }
