package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/s-anzie/reorder/internal/protocol"
)

// LogLevel represents the logging level
type LogLevel int32

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelSilent
)

// Logger interface for transport and buffer logging
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	SetLevel(level LogLevel)
	Level() LogLevel

	DebugWithContext(ctx context.Context, msg string, keysAndValues ...interface{})
	ErrorWithContext(ctx context.Context, msg string, keysAndValues ...interface{})

	// Error-specific logging
	LogError(err error, msg string, keysAndValues ...interface{})
	LogProtocolError(err *protocol.Error, msg string, keysAndValues ...interface{})

	// Component-specific logging
	WithComponent(component string) Logger
	WithSession(sessionID string) Logger
	WithPath(pathID protocol.PathID) Logger
	WithStream(streamID protocol.StreamID) Logger

	LogPerformance(operation string, duration time.Duration, keysAndValues ...interface{})
}

// TraceIDKey is the context key read by the *WithContext methods.
type TraceIDKey struct{}

// loggerImpl is a basic implementation of the Logger interface.
// Derived loggers share the level of their parent.
type loggerImpl struct {
	level     *int32
	logger    *log.Logger
	component string
	sessionID string
	pathID    protocol.PathID
	streamID  protocol.StreamID
}

// NewLogger creates a new logger with the specified level writing to stdout
func NewLogger(level LogLevel) Logger {
	return NewLoggerWithOutput(level, os.Stdout)
}

// NewLoggerWithOutput creates a logger writing to w.
func NewLoggerWithOutput(level LogLevel, w io.Writer) Logger {
	lv := int32(level)
	return &loggerImpl{
		level:  &lv,
		logger: log.New(w, "[REORDER] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// ParseLevel maps a configuration string to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "silent", "off", "none":
		return LogLevelSilent, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelSilent:
		return "SILENT"
	default:
		return "UNKNOWN"
	}
}

func (l *loggerImpl) enabled(level LogLevel) bool {
	current := LogLevel(atomic.LoadInt32(l.level))
	return current != LogLevelSilent && current <= level
}

func (l *loggerImpl) Debug(msg string, keysAndValues ...interface{}) {
	if l.enabled(LogLevelDebug) {
		l.logWithLevel("DEBUG", msg, keysAndValues...)
	}
}

func (l *loggerImpl) Info(msg string, keysAndValues ...interface{}) {
	if l.enabled(LogLevelInfo) {
		l.logWithLevel("INFO", msg, keysAndValues...)
	}
}

func (l *loggerImpl) Warn(msg string, keysAndValues ...interface{}) {
	if l.enabled(LogLevelWarn) {
		l.logWithLevel("WARN", msg, keysAndValues...)
	}
}

func (l *loggerImpl) Error(msg string, keysAndValues ...interface{}) {
	if l.enabled(LogLevelError) {
		l.logWithLevel("ERROR", msg, keysAndValues...)
	}
}

// SetLevel sets the logging level for this logger and every logger derived from it
func (l *loggerImpl) SetLevel(level LogLevel) {
	atomic.StoreInt32(l.level, int32(level))
}

func (l *loggerImpl) Level() LogLevel {
	return LogLevel(atomic.LoadInt32(l.level))
}

func (l *loggerImpl) DebugWithContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if l.enabled(LogLevelDebug) {
		l.logWithLevel("DEBUG", msg, withTrace(ctx, keysAndValues)...)
	}
}

func (l *loggerImpl) ErrorWithContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if l.enabled(LogLevelError) {
		l.logWithLevel("ERROR", msg, withTrace(ctx, keysAndValues)...)
	}
}

func (l *loggerImpl) LogError(err error, msg string, keysAndValues ...interface{}) {
	if l.enabled(LogLevelError) {
		kvs := append(keysAndValues, "error", err)
		l.logWithLevel("ERROR", msg, kvs...)
	}
}

func (l *loggerImpl) LogProtocolError(err *protocol.Error, msg string, keysAndValues ...interface{}) {
	if l.enabled(LogLevelError) {
		kvs := append(keysAndValues,
			"errorCode", err.Code,
			"errorMessage", err.Message)
		if err.Cause != nil {
			kvs = append(kvs, "cause", err.Cause.Error())
		}
		l.logWithLevel("ERROR", msg, kvs...)
	}
}

func (l *loggerImpl) derive() *loggerImpl {
	cp := *l
	return &cp
}

func (l *loggerImpl) WithComponent(component string) Logger {
	n := l.derive()
	n.component = component
	return n
}

func (l *loggerImpl) WithSession(sessionID string) Logger {
	n := l.derive()
	n.sessionID = sessionID
	return n
}

func (l *loggerImpl) WithPath(pathID protocol.PathID) Logger {
	n := l.derive()
	n.pathID = pathID
	return n
}

func (l *loggerImpl) WithStream(streamID protocol.StreamID) Logger {
	n := l.derive()
	n.streamID = streamID
	return n
}

func (l *loggerImpl) LogPerformance(operation string, duration time.Duration, keysAndValues ...interface{}) {
	if l.enabled(LogLevelInfo) {
		kvs := append(keysAndValues,
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
			"duration_us", duration.Microseconds())
		l.logWithLevel("PERF", "Performance measurement", kvs...)
	}
}

func withTrace(ctx context.Context, keysAndValues []interface{}) []interface{} {
	if ctx == nil {
		return keysAndValues
	}
	if traceID := ctx.Value(TraceIDKey{}); traceID != nil {
		return append([]interface{}{"traceID", traceID}, keysAndValues...)
	}
	return keysAndValues
}

func (l *loggerImpl) logWithLevel(level, msg string, keysAndValues ...interface{}) {
	var contextParts []string
	if l.component != "" {
		contextParts = append(contextParts, "comp="+l.component)
	}
	if l.sessionID != "" {
		contextParts = append(contextParts, "session="+l.sessionID)
	}
	if l.pathID != 0 {
		contextParts = append(contextParts, fmt.Sprintf("path=%d", l.pathID))
	}
	if l.streamID != 0 {
		contextParts = append(contextParts, fmt.Sprintf("stream=%d", l.streamID))
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level)
	b.WriteString("] ")
	if len(contextParts) > 0 {
		b.WriteString("[")
		b.WriteString(strings.Join(contextParts, ","))
		b.WriteString("] ")
	}
	b.WriteString(msg)

	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
		} else {
			fmt.Fprintf(&b, " %v=<missing_value>", keysAndValues[i])
		}
	}

	// caller information for debug and error lines
	if level == "DEBUG" || level == "ERROR" {
		if pc, file, line, ok := runtime.Caller(2); ok {
			funcName := runtime.FuncForPC(pc).Name()
			if idx := strings.LastIndex(funcName, "."); idx != -1 {
				funcName = funcName[idx+1:]
			}
			if idx := strings.LastIndex(file, "/"); idx != -1 {
				file = file[idx+1:]
			}
			fmt.Fprintf(&b, " [%s:%d:%s]", file, line, funcName)
		}
	}

	l.logger.Print(b.String())
}
