package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Level represents the severity level of a log message.
type Level int

// Log levels.
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name (case-insensitive) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// Field is a single structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// Fields is a map of field names to values.
type Fields map[string]interface{}

// Entry represents a single log entry handed to formatters and outputs.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Component string
	Timestamp time.Time
}

// Logger is the logging interface engine components receive.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger carrying additional base fields.
	With(fields ...Field) Logger
	// WithComponent tags entries with a component name.
	WithComponent(component string) Logger

	SetLevel(level Level)
}

// Formatter renders an Entry to bytes.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output receives formatted entries.
type Output interface {
	Write(entry *Entry, formatted []byte) error
}

// Option configures a logger.
type Option func(*BaseLogger)

// BaseLogger implements Logger over a formatter/output pipeline.
type BaseLogger struct {
	mu        *sync.Mutex
	level     *Level
	base      Fields
	component string
	formatter Formatter
	outputs   []Output
}

// NewLogger creates a logger with the given options. Defaults to InfoLevel,
// JSON formatting, and console output.
func NewLogger(options ...Option) Logger {
	level := InfoLevel
	l := &BaseLogger{
		mu:        &sync.Mutex{},
		level:     &level,
		base:      Fields{},
		formatter: &JSONFormatter{},
	}
	for _, option := range options {
		option(l)
	}
	if len(l.outputs) == 0 {
		l.outputs = []Output{NewConsoleOutput()}
	}
	return l
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() Logger {
	return NewLogger(WithOutput(NewWriterOutput(io.Discard)))
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) Option {
	return func(l *BaseLogger) { *l.level = level }
}

// WithFormatter sets the log formatter.
func WithFormatter(formatter Formatter) Option {
	return func(l *BaseLogger) { l.formatter = formatter }
}

// WithOutput adds an output to the logger.
func WithOutput(output Output) Option {
	return func(l *BaseLogger) { l.outputs = append(l.outputs, output) }
}

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

// With returns a child logger carrying additional base fields. The child
// shares the parent's level, formatter, and outputs.
func (l *BaseLogger) With(fields ...Field) Logger {
	child := *l
	child.base = make(Fields, len(l.base)+len(fields))
	for k, v := range l.base {
		child.base[k] = v
	}
	for _, f := range fields {
		child.base[f.Key] = f.Value
	}
	return &child
}

// WithComponent tags entries with a component name.
func (l *BaseLogger) WithComponent(component string) Logger {
	child := *l
	child.component = component
	return &child
}

// SetLevel sets the minimum log level for this logger and its children.
func (l *BaseLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.level = level
}

func (l *BaseLogger) log(level Level, msg string, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < *l.level {
		return
	}

	merged := make(Fields, len(l.base)+len(fields))
	for k, v := range l.base {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}

	entry := &Entry{
		Level:     level,
		Message:   msg,
		Fields:    merged,
		Component: l.component,
		Timestamp: time.Now().UTC(),
	}
	formatted, err := l.formatter.Format(entry)
	if err != nil {
		return
	}
	for _, out := range l.outputs {
		_ = out.Write(entry, formatted)
	}
}

// Str creates a string field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Bool creates a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration creates a duration field rendered as a string.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Err creates an error field. A nil error renders as an empty string.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}
