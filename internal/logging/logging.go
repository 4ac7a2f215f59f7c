package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Level represents log severity level.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

// Format selects how entries are rendered. The names follow the
// --log.format values of the service the entrypoint launches.
type Format string

const (
	FormatJSON   Format = "json"
	FormatLogfmt Format = "logfmt"
)

// severityNumbers maps OTEL severity text to OTEL severity number.
// See https://opentelemetry.io/docs/specs/otel/logs/data-model/#severity-fields
var severityNumbers = map[Level]int{
	LevelDebug: 5,  // DEBUG
	LevelInfo:  9,  // INFO
	LevelWarn:  13, // WARN
	LevelError: 17, // ERROR
	LevelFatal: 21, // FATAL
}

var logMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "thanos_entrypoint_log_messages_total",
	Help: "Log messages emitted by the entrypoint, by level (counted even when filtered)",
}, []string{"level"})

func init() {
	prometheus.MustRegister(logMessagesTotal)
}

// SeverityNumber returns the OTEL severity number for a level.
func SeverityNumber(level Level) int {
	return severityNumbers[level]
}

// ParseLevel maps a case-insensitive level name to a Level. Unknown
// names fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// ParseFormat maps a format name to a Format. Unknown names fall back to JSON.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatLogfmt)) {
		return FormatLogfmt
	}
	return FormatJSON
}

// LogHook is called for every log entry, allowing secondary log sinks
// (e.g., OTLP log export) without the logging package importing them.
type LogHook func(level Level, msg string, attrs map[string]interface{})

// Logger provides structured logging in OTEL-compatible format.
type Logger struct {
	mu       sync.Mutex
	output   io.Writer
	resource map[string]string
	hook     LogHook
	minLevel Level
	format   Format
}

// LogEntry represents a single log entry in OTEL-compatible JSON format.
type LogEntry struct {
	Timestamp      string                 `json:"Timestamp"`
	SeverityText   string                 `json:"SeverityText"`
	SeverityNumber int                    `json:"SeverityNumber"`
	Body           string                 `json:"Body"`
	Attributes     map[string]interface{} `json:"Attributes,omitempty"`
	Resource       map[string]string      `json:"Resource,omitempty"`
}

var defaultLogger = &Logger{output: os.Stderr, minLevel: LevelInfo, format: FormatJSON}

// SetOutput sets the output writer for the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.output = w
}

// SetResource sets the OTEL resource attributes (service.name, service.version, etc.)
// for the default logger. Should be called once at startup.
func SetResource(resource map[string]string) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.resource = resource
}

// SetHook registers a hook that is called for every log entry.
// Used by the telemetry package to forward logs via OTLP.
func SetHook(hook LogHook) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.hook = hook
}

// SetLevel sets the minimum level written by the default logger.
func SetLevel(level Level) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.minLevel = level
}

// GetLevel returns the minimum level of the default logger.
func GetLevel() Level {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	if defaultLogger.minLevel == "" {
		return LevelInfo
	}
	return defaultLogger.minLevel
}

// SetFormat sets the output format of the default logger.
func SetFormat(format Format) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.format = format
}

func (l *Logger) enabled(level Level) bool {
	min := l.minLevel
	if min == "" {
		min = LevelInfo
	}
	return severityNumbers[level] >= severityNumbers[min]
}

// log writes a structured log entry. Entries below the minimum level are
// counted but neither written nor passed to the hook.
func (l *Logger) log(level Level, msg string, attrs map[string]interface{}) {
	logMessagesTotal.WithLabelValues(string(level)).Inc()

	entry := LogEntry{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		SeverityText:   string(level),
		SeverityNumber: severityNumbers[level],
		Body:           msg,
		Attributes:     attrs,
	}

	l.mu.Lock()
	if !l.enabled(level) {
		l.mu.Unlock()
		return
	}
	if l.resource != nil {
		entry.Resource = l.resource
	}
	hook := l.hook
	var data []byte
	if l.format == FormatLogfmt {
		data = entry.logfmt()
	} else {
		data, _ = json.Marshal(entry)
	}
	_, _ = l.output.Write(data)
	_, _ = l.output.Write([]byte("\n"))
	l.mu.Unlock()

	// Call hook outside the lock to avoid deadlocks
	if hook != nil {
		hook(level, msg, attrs)
	}
}

// logfmt renders the entry as key=value pairs with attributes in key order.
func (e LogEntry) logfmt() []byte {
	var b strings.Builder
	b.WriteString("ts=")
	b.WriteString(e.Timestamp)
	b.WriteString(" level=")
	b.WriteString(strings.ToLower(e.SeverityText))
	b.WriteString(" msg=")
	b.WriteString(logfmtValue(e.Body))

	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(logfmtValue(fmt.Sprint(e.Attributes[k])))
	}
	return []byte(b.String())
}

func logfmtValue(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

func fields(f []map[string]interface{}) map[string]interface{} {
	if len(f) > 0 {
		return f[0]
	}
	return nil
}

// Debug logs a debug level message.
func Debug(msg string, f ...map[string]interface{}) {
	defaultLogger.log(LevelDebug, msg, fields(f))
}

// Info logs an info level message.
func Info(msg string, f ...map[string]interface{}) {
	defaultLogger.log(LevelInfo, msg, fields(f))
}

// Warn logs a warning level message.
func Warn(msg string, f ...map[string]interface{}) {
	defaultLogger.log(LevelWarn, msg, fields(f))
}

// Error logs an error level message.
func Error(msg string, f ...map[string]interface{}) {
	defaultLogger.log(LevelError, msg, fields(f))
}

// Fatal logs a fatal level message and exits.
func Fatal(msg string, f ...map[string]interface{}) {
	defaultLogger.log(LevelFatal, msg, fields(f))
	os.Exit(1)
}

// F is a helper to create fields map.
func F(keyvals ...interface{}) map[string]interface{} {
	fields := make(map[string]interface{})
	for i := 0; i < len(keyvals)-1; i += 2 {
		if key, ok := keyvals[i].(string); ok {
			fields[key] = keyvals[i+1]
		}
	}
	return fields
}
