package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

var (
	mu       sync.Mutex
	output   io.WriteCloser
	instance *log.Logger
	debug    bool
)

// InitLogging sets up file-backed logging. Debug messages are dropped
// unless debugEnabled is set.
func InitLogging(debugEnabled bool, logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	output = f
	instance = log.New(f, "", log.LstdFlags|log.Lmicroseconds)
	debug = debugEnabled

	return nil
}

// Close closes the underlying log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if output != nil {
		output.Close()
		output = nil
		instance = nil
	}
}

func logf(level, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		return
	}
	instance.Printf("["+level+"] "+format, args...)
}

// Debugf logs a debug message; no-op unless debug logging is enabled.
func Debugf(format string, args ...any) {
	if !debug {
		return
	}
	logf("DEBUG", format, args...)
}

// Infof logs an informational message.
func Infof(format string, args ...any) {
	logf("INFO", format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...any) {
	logf("WARN", format, args...)
}

// Errorf logs an error.
func Errorf(format string, args ...any) {
	logf("ERROR", format, args...)
}
