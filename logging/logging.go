// Package logging provides real-time console output for the supervisor and
// its participants, including the output lines of supervised children.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a case-insensitive level name. Unknown names yield
// LevelInfo and false.
func ParseLevel(s string) (Level, bool) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[l]; ok {
		return l, true
	}
	return LevelInfo, false
}

// Stream identifies which output of a child process a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// sink is shared by a logger and every logger derived from it, so that
// SetOutput and SetLevel apply to the whole family.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
}

// Logger provides leveled, component-tagged logging to stdout.
type Logger struct {
	sink      *sink
	component string
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		sink: &sink{output: os.Stdout, minLevel: LevelInfo},
	}
}

// Discard returns a logger that writes nothing. Useful in tests.
func Discard() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.minLevel = level
	l.sink.mu.Unlock()
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// Line logs one line of child process output under the child's role tag.
// Stdout lines are logged at INFO and stderr lines at WARN. Surrounding
// whitespace is trimmed and blank lines are dropped.
func (l *Logger) Line(role string, stream Stream, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	child := l.WithComponent(role)
	if stream == Stderr {
		child.log(LevelWarn, text, map[string]interface{}{"stream": string(stream)})
		return
	}
	child.log(LevelInfo, text)
}

// formatFields formats a map of fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry in traditional format: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if levelPriority[level] < levelPriority[l.sink.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.sink.output.Write([]byte(line))
}

// Transition logs a supervisor state change.
func (l *Logger) Transition(from, to string) {
	l.Info("state", map[string]interface{}{
		"from": from,
		"to":   to,
	})
}

// ChildExit logs the exit of a supervised child.
func (l *Logger) ChildExit(role string, pid, code int, signal string) {
	fields := map[string]interface{}{
		"pid":  pid,
		"code": code,
	}
	if signal != "" {
		fields["signal"] = signal
	}
	if code != 0 || signal != "" {
		l.WithComponent(role).Warn("exited", fields)
		return
	}
	l.WithComponent(role).Info("exited", fields)
}

// ShutdownStep logs the completion of one shutdown target.
func (l *Logger) ShutdownStep(name string, duration time.Duration, forced bool, err error) {
	fields := map[string]interface{}{
		"duration": duration.Round(time.Millisecond).String(),
		"forced":   forced,
	}
	if err != nil {
		fields["error"] = err.Error()
		l.WithComponent(name).Error("stop_failed", fields)
		return
	}
	l.WithComponent(name).Info("stopped", fields)
}
