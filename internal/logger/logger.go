// Package logger provides leveled logging for aurora components.
//
// Every line has the form
//
//	2006-01-02T15:04:05.000Z LEVEL component: message
//
// Output goes to stderr by default and can additionally be teed to a file.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a log level.
type Level int

const (
	// LevelDebug is the most verbose log level.
	LevelDebug Level = iota
	// LevelInfo is the default log level.
	LevelInfo
	// LevelWarn is for recoverable problems.
	LevelWarn
	// LevelError is for failed operations.
	LevelError
)

// String returns the string representation of a log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// sink is the shared destination of every component logger.
type sink struct {
	mu     sync.Mutex
	level  Level
	output io.Writer
	file   *os.File
	now    func() time.Time
}

var std = &sink{
	level:  LevelInfo,
	output: os.Stderr,
	now:    time.Now,
}

// SetLevel sets the minimum level written.
func SetLevel(level Level) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.level = level
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.level
}

// SetOutput replaces the primary writer. Tests use it to capture output.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.output = w
}

// SetLogFile tees every accepted line into the file at path (appending).
// A previously configured file is closed first.
func SetLogFile(path string) error {
	std.mu.Lock()
	defer std.mu.Unlock()

	if std.file != nil {
		std.file.Close()
		std.file = nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	std.file = f
	return nil
}

// Close closes the log file if one is open.
func Close() {
	std.mu.Lock()
	defer std.mu.Unlock()

	if std.file != nil {
		std.file.Close()
		std.file = nil
	}
}

func (s *sink) write(level Level, component, format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if level < s.level {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if component != "" {
		msg = component + ": " + msg
	}
	line := fmt.Sprintf("%s %s %s\n", s.now().UTC().Format("2006-01-02T15:04:05.000Z"), level.String(), msg)

	io.WriteString(s.output, line)
	if s.file != nil {
		io.WriteString(s.file, line)
	}
}

// Debug logs at debug level without a component prefix.
func Debug(format string, args ...interface{}) { std.write(LevelDebug, "", format, args...) }

// Info logs at info level without a component prefix.
func Info(format string, args ...interface{}) { std.write(LevelInfo, "", format, args...) }

// Warn logs at warn level without a component prefix.
func Warn(format string, args ...interface{}) { std.write(LevelWarn, "", format, args...) }

// Error logs at error level without a component prefix.
func Error(format string, args ...interface{}) { std.write(LevelError, "", format, args...) }

// Logger writes lines prefixed with a component name.
type Logger struct {
	component string
}

// Named returns a logger whose lines are prefixed with "component: ".
func Named(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	std.write(LevelDebug, l.component, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	std.write(LevelInfo, l.component, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	std.write(LevelWarn, l.component, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	std.write(LevelError, l.component, format, args...)
}

// ParseLevel converts a string to a Level.
// Accepts: debug, info, warn, warning, error (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q: valid levels are debug, info, warn, error", s)
	}
}

// Redact reduces a secret to something safe to print: its length and first
// four characters.
func Redact(secret string) string {
	if secret == "" {
		return "<empty>"
	}
	if len(secret) <= 8 {
		return fmt.Sprintf("<%d chars>", len(secret))
	}
	return fmt.Sprintf("%s…<%d chars>", secret[:4], len(secret))
}
