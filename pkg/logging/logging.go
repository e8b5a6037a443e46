package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
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

func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo // Default to INFO for unknown
	}
}

// ParseLevel converts a textual level ("debug", "info", "warn", "error")
// into a LogLevel. Unknown values fall back to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
)

func initcommon(handler slog.Handler) {
	logger := slog.New(handler)

	mu.Lock()
	defaultLogger = logger
	mu.Unlock()

	slog.SetDefault(logger) // Set for any global slog calls if necessary
}

// InitForCLI initializes text logging for CLI mode.
// This should be called once at application startup.
func InitForCLI(filterLevel LogLevel, output io.Writer) {
	initcommon(slog.NewTextHandler(output, &slog.HandlerOptions{Level: filterLevel.SlogLevel()}))
}

// InitForJSON initializes JSON logging, used by long-running commands whose
// output is collected by a log shipper.
func InitForJSON(filterLevel LogLevel, output io.Writer) {
	initcommon(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: filterLevel.SlogLevel()}))
}

// Logger returns a slog.Logger pre-tagged with the given subsystem.
func Logger(subsystem string) *slog.Logger {
	mu.RLock()
	logger := defaultLogger
	mu.RUnlock()
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("subsystem", subsystem))
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	mu.RLock()
	logger := defaultLogger
	mu.RUnlock()

	if logger == nil {
		// Not initialized yet (library use, tests): only surface warnings and errors.
		if level < LevelWarn {
			return
		}
		fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", level, subsystem, fmt.Sprintf(messageFmt, args...))
		return
	}

	if !logger.Enabled(context.Background(), level.SlogLevel()) {
		return
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	attrs := []slog.Attr{slog.String("subsystem", subsystem)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	logger.LogAttrs(context.Background(), level.SlogLevel(), msg, attrs...)
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}

// Audit emits a SECURITY_AUDIT record at info level. Callers must never pass
// credential values as attributes, only identifiers and outcomes.
func Audit(subsystem, event string, attrs ...any) {
	Logger(subsystem).Info("SECURITY_AUDIT: "+event, append([]any{"event", event}, attrs...)...)
}
