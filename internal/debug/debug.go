// Package debug provides debug logging infrastructure for mounterctl.
// Logging is only enabled when --debug is passed or debug: true is configured.
// Logs are written to ~/.mounterctl/debug.log, rotated on each launch.
package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// LogFileName is the name of the debug log file.
	LogFileName = "debug.log"
	// LogDirName is the name of the directory containing the log file.
	LogDirName = ".mounterctl"

	defaultMaxSizeMB  = 5
	defaultMaxBackups = 2
)

var (
	mu      sync.RWMutex
	enabled bool
	logger  *log.Logger
	logFile *lumberjack.Logger

	// getLogPath is a function variable to allow overriding in tests.
	getLogPath = defaultGetLogPath
)

type settings struct {
	maxSizeMB  int
	maxBackups int
}

// Option tunes log rotation.
type Option func(*settings)

// WithMaxSizeMB sets the size at which the log file is rotated.
func WithMaxSizeMB(mb int) Option {
	return func(s *settings) {
		if mb > 0 {
			s.maxSizeMB = mb
		}
	}
}

// WithMaxBackups sets how many rotated log files are retained.
func WithMaxBackups(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.maxBackups = n
		}
	}
}

// Init initializes the debug logging system.
// If enable is false, all logging operations become no-ops.
// If enable is true, the previous log is rotated away and a fresh
// ~/.mounterctl/debug.log is started.
func Init(enable bool, opts ...Option) error {
	mu.Lock()
	defer mu.Unlock()

	enabled = enable
	if !enable {
		logger = log.New(io.Discard, "", 0)
		return nil
	}

	cfg := settings{maxSizeMB: defaultMaxSizeMB, maxBackups: defaultMaxBackups}
	for _, opt := range opts {
		opt(&cfg)
	}

	logPath, err := getLogPath()
	if err != nil {
		return fmt.Errorf("determine log path: %w", err)
	}

	dir := filepath.Dir(logPath)
	//nolint:gosec // G301: User config directory needs standard permissions
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    cfg.maxSizeMB,
		MaxBackups: cfg.maxBackups,
	}
	if err := logFile.Rotate(); err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	logger = log.New(logFile, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	logger.Printf("=== mounterctl debug log started at %s ===", time.Now().Format(time.RFC3339))

	return nil
}

// Close closes the debug log file if open.
// Safe to call even if logging is disabled.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	if enabled {
		logger = log.New(io.Discard, "", 0)
	}
}

// Log writes a debug message if debug logging is enabled.
// Arguments are handled in the manner of fmt.Print.
func Log(v ...any) {
	mu.RLock()
	defer mu.RUnlock()

	if !enabled || logger == nil {
		return
	}
	logger.Print(v...)
}

// Logf writes a formatted debug message if debug logging is enabled.
// Arguments are handled in the manner of fmt.Printf.
func Logf(format string, v ...any) {
	mu.RLock()
	defer mu.RUnlock()

	if !enabled || logger == nil {
		return
	}
	logger.Printf(format, v...)
}

// Enabled returns whether debug logging is currently enabled.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// defaultGetLogPath returns the path to the debug log file.
func defaultGetLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, LogDirName, LogFileName), nil
}

// GetLogPath returns the path to the debug log file.
func GetLogPath() (string, error) {
	return getLogPath()
}
