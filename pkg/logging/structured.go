package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogFormat selects how a Logger renders entries onto its output.
type LogFormat int

const (
	FormatText LogFormat = iota
	FormatJSON
)

// Field is a single structured logging key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

// Entry is a complete, renderable log record.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
	Stack     string                 `json:"stack,omitempty"`
}

// Logger is a structured logger with a global level, per-component level
// overrides, and optional file rotation. Every long-lived component in the
// fabric (kernel, balancer, orchestrator, recovery manager, cache) holds one,
// scoped to its own name via WithComponent.
type Logger struct {
	mu              sync.RWMutex
	level           LogLevel
	output          io.Writer
	format          LogFormat
	contextFields   map[string]interface{}
	includeCaller   bool
	includeStack    bool // only for ERROR and FATAL
	componentLevels map[string]LogLevel
	rotator         *Rotator
}

// Config configures a new Logger.
type Config struct {
	Level         LogLevel
	Output        io.Writer
	Format        LogFormat
	IncludeCaller bool
	IncludeStack  bool
	Rotation      *RotationConfig
}

// DefaultConfig returns the logger configuration the fabric starts with when
// no explicit logging section is present in its JSON config.
func DefaultConfig() *Config {
	return &Config{
		Level:         INFO,
		Output:        os.Stdout,
		Format:        FormatText,
		IncludeCaller: true,
		IncludeStack:  false,
	}
}

// New creates a Logger from cfg, defaulting to DefaultConfig when cfg is nil.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	logger := &Logger{
		level:           cfg.Level,
		output:          cfg.Output,
		format:          cfg.Format,
		contextFields:   make(map[string]interface{}),
		includeCaller:   cfg.IncludeCaller,
		includeStack:    cfg.IncludeStack,
		componentLevels: make(map[string]LogLevel),
	}

	if cfg.Rotation != nil {
		rotator, err := NewRotator(cfg.Rotation)
		if err != nil {
			return nil, fmt.Errorf("failed to create log rotator: %w", err)
		}
		logger.rotator = rotator
		logger.output = rotator
	}

	return logger, nil
}

// WithField returns a derived Logger carrying one additional context field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	fields := make(map[string]interface{}, len(l.contextFields)+1)
	for k, v := range l.contextFields {
		fields[k] = v
	}
	fields[key] = value

	return &Logger{
		level:           l.level,
		output:          l.output,
		format:          l.format,
		contextFields:   fields,
		includeCaller:   l.includeCaller,
		includeStack:    l.includeStack,
		componentLevels: l.componentLevels,
		rotator:         l.rotator,
	}
}

// WithFields returns a derived Logger carrying additional context fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make(map[string]interface{}, len(l.contextFields)+len(fields))
	for k, v := range l.contextFields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return &Logger{
		level:           l.level,
		output:          l.output,
		format:          l.format,
		contextFields:   merged,
		includeCaller:   l.includeCaller,
		includeStack:    l.includeStack,
		componentLevels: l.componentLevels,
		rotator:         l.rotator,
	}
}

// WithComponent is shorthand for WithField("component", name); the component
// name also selects a per-component level override when one is set.
func (l *Logger) WithComponent(name string) *Logger {
	return l.WithField("component", name)
}

// SetComponentLevel overrides the effective level for entries tagged with
// the given component name, regardless of the logger's global level.
func (l *Logger) SetComponentLevel(component string, level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.componentLevels[component] = level
}

// SetLevel sets the global log level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level returns the current global log level.
func (l *Logger) Level() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *Logger) isEnabled(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if component, ok := l.contextFields["component"]; ok {
		if compStr, ok := component.(string); ok {
			if compLevel, exists := l.componentLevels[compStr]; exists {
				return level >= compLevel
			}
		}
	}
	return level >= l.level
}

func (l *Logger) log(level LogLevel, message string, fields map[string]interface{}) {
	if !l.isEnabled(level) {
		return
	}

	entry := Entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    make(map[string]interface{}),
	}

	l.mu.RLock()
	for k, v := range l.contextFields {
		entry.Fields[k] = v
	}
	l.mu.RUnlock()

	for k, v := range fields {
		entry.Fields[k] = v
	}

	if l.includeCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			entry.Caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
		}
	}

	if l.includeStack && (level == ERROR || level == FATAL) {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		entry.Stack = string(buf[:n])
	}

	var rendered string
	if l.format == FormatJSON {
		jsonBytes, err := json.Marshal(entry)
		if err != nil {
			rendered = l.formatText(entry)
		} else {
			rendered = string(jsonBytes) + "\n"
		}
	} else {
		rendered = l.formatText(entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.output.Write([]byte(rendered))
}

func (l *Logger) formatText(entry Entry) string {
	var sb strings.Builder

	sb.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(entry.Level)
	sb.WriteString("] ")

	if entry.Caller != "" {
		sb.WriteString("[")
		sb.WriteString(entry.Caller)
		sb.WriteString("] ")
	}

	sb.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range entry.Fields {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(fmt.Sprintf("%v", v))
		}
		sb.WriteString("}")
	}

	sb.WriteString("\n")

	if entry.Stack != "" {
		sb.WriteString("Stack trace:\n")
		sb.WriteString(entry.Stack)
		sb.WriteString("\n")
	}

	return sb.String()
}

func (l *Logger) Trace(message string, fields ...map[string]interface{}) { l.logWithFields(TRACE, message, fields...) }
func (l *Logger) Debug(message string, fields ...map[string]interface{}) { l.logWithFields(DEBUG, message, fields...) }
func (l *Logger) Info(message string, fields ...map[string]interface{})  { l.logWithFields(INFO, message, fields...) }
func (l *Logger) Warn(message string, fields ...map[string]interface{})  { l.logWithFields(WARN, message, fields...) }
func (l *Logger) Error(message string, fields ...map[string]interface{}) { l.logWithFields(ERROR, message, fields...) }

// Fatal logs at FATAL and terminates the process.
func (l *Logger) Fatal(message string, fields ...map[string]interface{}) {
	l.logWithFields(FATAL, message, fields...)
	os.Exit(1)
}

func (l *Logger) logWithFields(level LogLevel, message string, fieldMaps ...map[string]interface{}) {
	var fields map[string]interface{}
	if len(fieldMaps) > 0 && fieldMaps[0] != nil {
		fields = fieldMaps[0]
	}
	l.log(level, message, fields)
}

func (l *Logger) Tracef(format string, args ...interface{}) { l.log(TRACE, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(DEBUG, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(INFO, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(WARN, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(ERROR, fmt.Sprintf(format, args...), nil) }

// Fatalf logs a formatted FATAL message and terminates the process.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(FATAL, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// Close releases the logger's rotator, if any.
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Sync flushes any buffered output.
func (l *Logger) Sync() error {
	if l.rotator != nil {
		return l.rotator.Sync()
	}
	return nil
}
