// Package logging provides structured leveled logging for the engine.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// Level represents the severity of a log message
type Level string

const (
	// DebugLevel for debug messages
	DebugLevel Level = "debug"
	// InfoLevel for informational messages
	InfoLevel Level = "info"
	// WarnLevel for warning messages
	WarnLevel Level = "warn"
	// ErrorLevel for error messages
	ErrorLevel Level = "error"
)

var levelPriority = map[Level]int{
	DebugLevel: 0,
	InfoLevel:  1,
	WarnLevel:  2,
	ErrorLevel: 3,
}

// Format represents the output format for logs
type Format string

const (
	// JSONFormat outputs logs as JSON
	JSONFormat Format = "json"
	// HumanFormat outputs logs in human-readable format
	HumanFormat Format = "human"
)

// Config holds logger configuration
type Config struct {
	Format Format
	Level  Level
	Output io.Writer // Optional, defaults to stderr
}

// Logger provides structured logging. Loggers are safe for concurrent use.
type Logger struct {
	config    Config
	writer    io.Writer
	component string
	mu        *sync.Mutex
}

// New creates a new logger with the given configuration
func New(config Config) *Logger {
	writer := config.Output
	if writer == nil {
		writer = os.Stderr
	}
	return &Logger{
		config: config,
		writer: writer,
		mu:     &sync.Mutex{},
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return New(Config{Format: JSONFormat, Level: ErrorLevel, Output: io.Discard})
}

// With returns a child logger tagged with a component name.
// The child shares the parent's writer and level.
func (l *Logger) With(component string) *Logger {
	child := *l
	child.component = component
	return &child
}

type entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (l *Logger) shouldLog(level Level) bool {
	return levelPriority[level] >= levelPriority[l.config.Level]
}

func (l *Logger) log(level Level, message string, fields map[string]interface{}) {
	if !l.shouldLog(level) {
		return
	}

	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     string(level),
		Component: l.component,
		Message:   message,
		Fields:    fields,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.config.Format == HumanFormat {
		l.writeHuman(e)
	} else {
		l.writeJSON(e)
	}
}

func (l *Logger) writeJSON(e entry) {
	data, err := json.Marshal(e)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to marshal log entry: %v\n", err)
		return
	}
	_, _ = fmt.Fprintln(l.writer, string(data))
}

func (l *Logger) writeHuman(e entry) {
	_, _ = fmt.Fprintf(l.writer, "%s [%s]", e.Timestamp, e.Level)
	if e.Component != "" {
		_, _ = fmt.Fprintf(l.writer, " (%s)", e.Component)
	}
	_, _ = fmt.Fprintf(l.writer, " %s", e.Message)

	if len(e.Fields) > 0 {
		// Stable key order so test output and grep behave predictably.
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		_, _ = fmt.Fprint(l.writer, " |")
		for _, k := range keys {
			_, _ = fmt.Fprintf(l.writer, " %s=%v", k, e.Fields[k])
		}
	}
	_, _ = fmt.Fprintln(l.writer)
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.log(DebugLevel, message, fields)
}

// Info logs an info message
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.log(InfoLevel, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.log(WarnLevel, message, fields)
}

// Error logs an error message
func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.log(ErrorLevel, message, fields)
}
