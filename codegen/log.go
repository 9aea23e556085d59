package codegen

import (
	"io"
	"log"
)

// Logger is the injectable tracing surface used through lowering,
// allocation and encoding. It generalizes compile/compiler.go's
// package-level DebugDumpSSA/DebugPrintAst boolean switches into an
// interface so call sites read as structured statements instead of
// conditionally-executed fmt.Printf calls.
type Logger interface {
	Debugf(format string, args ...interface{})
	Tracef(format string, args ...interface{})
}

// NopLogger discards everything; it is used when CompileFunction or
// NewLoweringContext is given a nil Logger.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...interface{}) {}
func (NopLogger) Tracef(string, ...interface{}) {}

// StdLogger wraps a standard library *log.Logger. Tracef is routed through
// the same logger as Debugf: this back end does not distinguish verbosity
// tiers beyond "on" or "off" at construction time.
type StdLogger struct {
	l *log.Logger
}

func NewStdLogger(w io.Writer) *StdLogger {
	return &StdLogger{l: log.New(w, "codegen: ", log.LstdFlags)}
}

func (s *StdLogger) Debugf(format string, args ...interface{}) { s.l.Printf(format, args...) }
func (s *StdLogger) Tracef(format string, args ...interface{}) { s.l.Printf(format, args...) }
