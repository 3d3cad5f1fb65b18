// Package debug builds the structured logger shared by every component.
// Normally logs go to stderr at the configured level. With debug enabled
// everything down to debug level goes to {dataDir}/debug.log instead,
// truncated on each launch.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// LogFileName is the name of the debug log file.
const LogFileName = "debug.log"

// getLogPath is a function variable to allow overriding in tests.
var getLogPath = defaultGetLogPath

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means warn.
	Level string
	// Debug redirects logging to the debug log file at debug level.
	Debug bool
	// DataDir is the absolute data directory holding the debug log.
	DataDir string
	// Output receives non-debug logs. Nil means os.Stderr.
	Output io.Writer
}

// Logger wraps the configured logger and the debug log file, if any.
type Logger struct {
	*log.Logger
	file *os.File
	path string
}

// New creates the logger described by opts.
func New(opts Options) (*Logger, error) {
	level := log.WarnLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	if !opts.Debug {
		out := opts.Output
		if out == nil {
			out = os.Stderr
		}
		return &Logger{Logger: log.NewWithOptions(out, log.Options{
			Level:  level,
			Prefix: "toaupdate",
		})}, nil
	}

	logPath, err := getLogPath(opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("determine log path: %w", err)
	}
	//nolint:gosec // G301: data directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	//nolint:gosec // G304: log path is derived from the configured data directory
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	_, _ = fmt.Fprintf(f, "=== toaupdate debug log started at %s ===\n", time.Now().Format(time.RFC3339))

	return &Logger{
		Logger: log.NewWithOptions(f, log.Options{
			Level:           log.DebugLevel,
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.000000",
		}),
		file: f,
		path: logPath,
	}, nil
}

// Path returns the debug log path, or "" when debug logging is off.
func (l *Logger) Path() string {
	return l.path
}

// Enabled reports whether the debug log file is in use.
func (l *Logger) Enabled() bool {
	return l.file != nil
}

// Close closes the debug log file if open. Safe to call when disabled.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func defaultGetLogPath(dataDir string) (string, error) {
	if dataDir == "" {
		return "", fmt.Errorf("no data directory for the debug log")
	}
	return filepath.Join(dataDir, LogFileName), nil
}
