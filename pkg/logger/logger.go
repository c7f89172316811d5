// Package logger provides structured, colored logging for the arm.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger interface for abstracted logging
type Logger interface {
	Info(message string, fields ...Field)
	Error(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Debug(message string, fields ...Field)
	WithComponent(component string) Logger
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value any
}

// WithField creates a new field
func WithField(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// WithError creates an error field
func WithError(err error) Field {
	return Field{Key: "error", Value: err}
}

type componentLogger struct {
	logger    *logrus.Logger
	component string
}

// Formatter renders one line per entry: time, level, [component], message, fields.
type Formatter struct {
	TimestampFormat string
	DisableColors   bool
}

var levelColors = map[logrus.Level]*color.Color{
	logrus.ErrorLevel: color.New(color.FgRed, color.Bold),
	logrus.WarnLevel:  color.New(color.FgYellow, color.Bold),
	logrus.InfoLevel:  color.New(color.FgCyan),
	logrus.DebugLevel: color.New(color.FgWhite, color.Faint),
}

// Format implements logrus.Formatter
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	levelText := strings.ToUpper(entry.Level.String())
	if c, ok := levelColors[entry.Level]; ok && !f.DisableColors {
		levelText = c.Sprint(levelText)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s: ", entry.Time.Format(f.TimestampFormat), levelText)

	if component, ok := entry.Data["component"]; ok {
		if f.DisableColors {
			fmt.Fprintf(&sb, "[%s] ", component)
		} else {
			fmt.Fprintf(&sb, "[%s] ", color.New(color.FgBlue).Sprint(component))
		}
	}
	sb.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != "component" {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, entry.Data[k])
		}
		fields := " {" + strings.Join(parts, ", ") + "}"
		if !f.DisableColors {
			fields = color.New(color.FgWhite, color.Faint).Sprint(fields)
		}
		sb.WriteString(fields)
	}

	sb.WriteByte('\n')
	return []byte(sb.String()), nil
}

// CreateLogger creates a logger writing to stderr and, if logFile is set, appending to it.
func CreateLogger(logFile string, logLevel string) Logger {
	var out io.Writer = os.Stderr
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			out = io.MultiWriter(os.Stderr, file)
		}
	}
	return newLogger(out, logLevel, false)
}

// CreateLoggerWithOutput creates an uncolored logger with custom output (for testing)
func CreateLoggerWithOutput(logLevel string, output io.Writer) Logger {
	return newLogger(output, logLevel, true)
}

// Discard returns a logger that drops everything.
func Discard() Logger {
	return newLogger(io.Discard, "error", true)
}

func newLogger(out io.Writer, logLevel string, noColor bool) Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&Formatter{
		TimestampFormat: "15:04:05.000",
		DisableColors:   noColor,
	})
	log.SetOutput(out)

	return &componentLogger{logger: log}
}

// WithComponent returns a logger tagging every entry with component.
func (l *componentLogger) WithComponent(component string) Logger {
	return &componentLogger{
		logger:    l.logger,
		component: component,
	}
}

func (l *componentLogger) entry(fields []Field) *logrus.Entry {
	data := make(logrus.Fields, len(fields)+1)
	if l.component != "" {
		data["component"] = l.component
	}
	for _, f := range fields {
		data[f.Key] = f.Value
	}
	return l.logger.WithFields(data)
}

// Info logs an info message
func (l *componentLogger) Info(message string, fields ...Field) {
	l.entry(fields).Info(message)
}

// Error logs an error message
func (l *componentLogger) Error(message string, fields ...Field) {
	l.entry(fields).Error(message)
}

// Warn logs a warning message
func (l *componentLogger) Warn(message string, fields ...Field) {
	l.entry(fields).Warn(message)
}

// Debug logs a debug message
func (l *componentLogger) Debug(message string, fields ...Field) {
	l.entry(fields).Debug(message)
}
