package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"droneaid/internal/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level files kept under the log directory.
var logFiles = map[string]string{
	"info":    "info.log",
	"warning": "warning.log",
	"error":   "error.log",
}

// Logger provides leveled logging (debug/info/warning/error) to rotated files and stdout/stderr.
type Logger struct {
	debugLog   *log.Logger
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	debug      bool
	logDir     string
	files      map[string]*lumberjack.Logger
	mu         sync.Mutex
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(cfg *config.Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{
		logDir: cfg.LogDirectory,
		debug:  os.Getenv("DEBUG") != "",
		files:  make(map[string]*lumberjack.Logger, len(logFiles)),
	}
	for level, name := range logFiles {
		l.files[level] = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDirectory, name),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     7, // days
		}
	}

	l.setupLoggers(
		io.MultiWriter(os.Stdout, l.files["info"]),
		io.MultiWriter(os.Stdout, l.files["warning"]),
		io.MultiWriter(os.Stderr, l.files["error"]),
	)
	return l, nil
}

// NewWriterLogger sends every level to w. Used by tests and the mock drone.
func NewWriterLogger(w io.Writer) *Logger {
	l := &Logger{debug: true}
	l.setupLoggers(w, w, w)
	return l
}

// Nop discards everything.
func Nop() *Logger {
	return NewWriterLogger(io.Discard)
}

func (l *Logger) setupLoggers(info, warning, errw io.Writer) {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	l.debugLog = log.New(info, "DEBUG   ", flags)
	l.infoLog = log.New(info, "INFO    ", flags)
	l.warningLog = log.New(warning, "WARNING ", flags)
	l.errorLog = log.New(errw, "ERROR   ", flags)
}

// Debug writes a formatted debug-level entry when DEBUG is set.
func (l *Logger) Debug(format string, v ...interface{}) {
	if !l.debug {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugLog.Printf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Printf(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Printf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Printf(format, v...)
}

// FilePath returns the file backing a level, or false for unknown levels
// and writer-only loggers.
func (l *Logger) FilePath(level string) (string, bool) {
	name, ok := logFiles[level]
	if !ok || l.logDir == "" {
		return "", false
	}
	return filepath.Join(l.logDir, name), true
}

// CleanLogs truncates the file of the given level.
func (l *Logger) CleanLogs(level string) error {
	path, ok := l.FilePath(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}

	l.mu.Lock()
	err := os.Truncate(path, 0)
	l.mu.Unlock()
	if err != nil && !os.IsNotExist(err) {
		l.Error("Error clearing %s: %v", path, err)
		return err
	}

	l.Info("Log %s has been cleared", level)
	return nil
}

// Close flushes and closes the rotated files.
func (l *Logger) Close() error {
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
