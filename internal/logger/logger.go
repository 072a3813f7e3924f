// Package logger is a small leveled wrapper around the standard log package.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// Level is the logging level.
type Level int32

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes leveled, component-prefixed lines.
type Logger struct {
	prefix string
}

var (
	level  atomic.Int32
	output atomic.Pointer[log.Logger]
)

func init() {
	level.Store(int32(Info))
	output.Store(log.New(os.Stderr, "", log.LstdFlags))
}

// Init configures the global level and destinations. An empty file with
// console=false still logs to stderr.
func Init(levelStr, logFile string, console bool) error {
	var writers []io.Writer

	if logFile != "" {
		dir := filepath.Dir(logFile)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
	}

	if console || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	SetLevel(ParseLevel(levelStr))
	output.Store(log.New(io.MultiWriter(writers...), "", log.LstdFlags))
	return nil
}

// SetOutput redirects all loggers to w.
func SetOutput(w io.Writer) {
	output.Store(log.New(w, "", log.LstdFlags))
}

// SetLevel sets the global minimum level.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// ParseLevel converts a level name to a Level, defaulting to Info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// WithPrefix returns a logger that tags every line with [component].
func WithPrefix(component string) *Logger {
	return &Logger{prefix: "[" + component + "] "}
}

func (l *Logger) logf(lv Level, format string, args ...interface{}) {
	if Level(level.Load()) > lv {
		return
	}
	prefix := ""
	if l != nil {
		prefix = l.prefix
	}
	output.Load().Printf("%-5s %s%s", lv, prefix, fmt.Sprintf(format, args...))
}

// Debugf logs a debug message.
func (l *Logger) Debugf(format string, args ...interface{}) { l.logf(Debug, format, args...) }

// Infof logs an info message.
func (l *Logger) Infof(format string, args ...interface{}) { l.logf(Info, format, args...) }

// Warnf logs a warning.
func (l *Logger) Warnf(format string, args ...interface{}) { l.logf(Warn, format, args...) }

// Errorf logs an error message.
func (l *Logger) Errorf(format string, args ...interface{}) { l.logf(Error, format, args...) }

// StdLogger adapts l for APIs that take a *log.Logger, such as
// http.Server.ErrorLog. Lines are logged at Warn.
func (l *Logger) StdLogger() *log.Logger {
	return log.New(warnWriter{l}, "", 0)
}

type warnWriter struct{ l *Logger }

func (w warnWriter) Write(p []byte) (int, error) {
	w.l.Warnf("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

var std = &Logger{}

// Debugf logs a debug message without a component prefix.
func Debugf(format string, args ...interface{}) { std.logf(Debug, format, args...) }

// Infof logs an info message without a component prefix.
func Infof(format string, args ...interface{}) { std.logf(Info, format, args...) }

// Warnf logs a warning without a component prefix.
func Warnf(format string, args ...interface{}) { std.logf(Warn, format, args...) }

// Errorf logs an error without a component prefix.
func Errorf(format string, args ...interface{}) { std.logf(Error, format, args...) }
