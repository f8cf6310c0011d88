// Package log is a leveled printf logger with a process-wide default.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

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
	case LevelFatal:
		return "FATAL"
	}
	return "UNKNOWN"
}

// ParseLevel maps a LOG_LEVEL value to a LogLevel. Unknown values fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	}
	return LevelInfo
}

const timeLayout = "2006-01-02 15:04:05.000"

// callerDepth skips write() and the exported level method.
const callerDepth = 2

type Logger struct {
	mu    sync.Mutex
	level LogLevel
	out   io.Writer
	files []*os.File
}

func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithWriter(level, os.Stdout)
}

func NewLoggerWithWriter(level LogLevel, w io.Writer) *Logger {
	return &Logger{level: level, out: w}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) Level() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Tee appends every later entry to path as well, creating parent
// directories. Close the returned closer to detach and close the file.
func (l *Logger) Tee(path string) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l.mu.Lock()
	l.files = append(l.files, f)
	l.mu.Unlock()
	return closerFunc(func() error { return l.detach(f) }), nil
}

func (l *Logger) detach(f *os.File) error {
	l.mu.Lock()
	for i, cur := range l.files {
		if cur == f {
			l.files = append(l.files[:i], l.files[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
	return f.Close()
}

func (l *Logger) Debug(format string, args ...any) { l.write(LevelDebug, format, args) }
func (l *Logger) Info(format string, args ...any)  { l.write(LevelInfo, format, args) }
func (l *Logger) Warn(format string, args ...any)  { l.write(LevelWarn, format, args) }
func (l *Logger) Error(format string, args ...any) { l.write(LevelError, format, args) }

// Fatal logs the entry and exits the process.
func (l *Logger) Fatal(format string, args ...any) {
	l.write(LevelFatal, format, args)
	os.Exit(1)
}

func (l *Logger) write(level LogLevel, format string, args []any) {
	if level < l.Level() {
		return
	}

	caller := "unknown:0"
	if _, file, line, ok := runtime.Caller(callerDepth); ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	entry := fmt.Sprintf("[%s] [%s] [%s] %s\n",
		time.Now().Format(timeLayout), level, caller, fmt.Sprintf(format, args...))

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, entry)
	for _, f := range l.files {
		_, _ = f.WriteString(entry)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

func InitLogger(level LogLevel) {
	SetLogger(NewLogger(level))
}

// SetLogger replaces the global logger.
func SetLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

func GetLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogger(LevelInfo)
	}
	return globalLogger
}

// The package-level functions log through the global logger. They call write
// directly so the reported caller is the function's caller.

func Debug(format string, args ...any) { GetLogger().write(LevelDebug, format, args) }
func Info(format string, args ...any)  { GetLogger().write(LevelInfo, format, args) }
func Warn(format string, args ...any)  { GetLogger().write(LevelWarn, format, args) }
func Error(format string, args ...any) { GetLogger().write(LevelError, format, args) }

func Fatal(format string, args ...any) {
	GetLogger().write(LevelFatal, format, args)
	os.Exit(1)
}
