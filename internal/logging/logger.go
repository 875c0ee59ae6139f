// Package logging provides simple structured logging for the engine.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Logger wraps stdlib log with level support and accumulated key/value context.
type Logger struct {
	logger  *log.Logger
	level   LogLevel
	format  string // "text" or "json"
	noColor bool
	mu      *sync.Mutex
	fields  []field
}

type field struct {
	key string
	val any
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logging configuration.
type Config struct {
	Level   LogLevel
	Format  string // "text" (default) or "json"
	Output  io.Writer
	Sync    bool // force synchronous writes (always true today; kept for API parity)
	NoColor bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// NewLogger creates a new logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}
	return &Logger{
		logger:  log.New(output, "", log.LstdFlags),
		level:   config.Level,
		format:  format,
		noColor: config.NoColor,
		mu:      &sync.Mutex{},
	}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithDevice returns a child logger that tags every record with the device id.
// devID of -1 is rendered as "cpu".
func (l *Logger) WithDevice(devID int) *Logger {
	if devID < 0 {
		return l.with("device_id", "cpu")
	}
	return l.with("device_id", devID)
}

// WithPool returns a child logger tagging every record with the worker-pool kind.
func (l *Logger) WithPool(kind string) *Logger {
	return l.with("pool", kind)
}

// WithQueue tags a numeric queue/pool index.
func (l *Logger) WithQueue(id int) *Logger {
	return l.with("queue_id", id)
}

// WithOperator returns a child logger tagging a specific operator id and property.
func (l *Logger) WithOperator(id uint64, property string) *Logger {
	return l.with("opr_id", id).with("property", property)
}

// WithRequest tags a tag/op pair (kept for symmetry with per-operation logging).
func (l *Logger) WithRequest(tag int, op string) *Logger {
	return l.with("tag", tag).with("op", op)
}

// WithError returns a child logger that will append the error on every record.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

func (l *Logger) with(key string, val any) *Logger {
	next := make([]field, len(l.fields), len(l.fields)+1)
	copy(next, l.fields)
	next = append(next, field{key: key, val: val})
	return &Logger{
		logger:  l.logger,
		level:   l.level,
		format:  l.format,
		noColor: l.noColor,
		mu:      l.mu,
		fields:  next,
	}
}

// formatArgs converts key-value pairs (plus accumulated context fields) to a string.
func (l *Logger) formatArgs(args []any) string {
	var parts []string
	for _, f := range l.fields {
		parts = append(parts, fmt.Sprintf("%s=%v", f.key, f.val))
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			parts = append(parts, fmt.Sprintf("%v=%v", args[i], args[i+1]))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	if l.format == "json" {
		return " {" + strings.Join(parts, ",") + "}"
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level LogLevel, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("%s %s%s", prefix, msg, l.formatArgs(args))
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, "[DEBUG]", msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, "[INFO]", msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, "[WARN]", msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, "[ERROR]", msg, args...) }

// Printf-style logging.
func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...))
}
func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, "[INFO]", fmt.Sprintf(format, args...))
}
func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, "[WARN]", fmt.Sprintf(format, args...))
}
func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, "[ERROR]", fmt.Sprintf(format, args...))
}

// Printf for compatibility with callers expecting a *log.Logger-like interface.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// Global convenience functions operating on the package default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
