package rcluster

import (
	"log"
	"os"
)

// Logger is the structured-logging seam the Cluster's Logger option
// plugs into. The client only ever calls Warnf and Debugf, never
// panics or exits from within them, so any of zap's, logrus', or
// hclog's thin wrappers satisfy it directly.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// stdLogger is the default Logger, backed by the standard log package.
type stdLogger struct {
	l *log.Logger
}

func newStdLogger() *stdLogger {
	return &stdLogger{l: log.New(os.Stderr, "rcluster: ", log.LstdFlags)}
}

func (s *stdLogger) Debugf(format string, args ...interface{}) { s.l.Printf(format, args...) }
func (s *stdLogger) Warnf(format string, args ...interface{})  { s.l.Printf(format, args...) }

// nopLogger discards everything. Options.withDefaults never picks it (a
// nil Logger becomes the stderr logger); the package's tests use it.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}
