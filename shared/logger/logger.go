package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DefaultIdentifier names the log file when no identifier is configured
	DefaultIdentifier = "taskworker"
	// DefaultDir is the directory rotated log files are written to
	DefaultDir = "LOGS"
	// DefaultMaxBytes is the size a log file may reach before it is rotated (10MB)
	DefaultMaxBytes = 10 * 1024 * 1024
	// DefaultBackupCount is the number of rotated files kept
	DefaultBackupCount = 5
)

// Config holds logger configuration
type Config struct {
	Level        string // debug, info, warn, error
	Format       string // json, console
	Output       string // stdout, stderr, file, both
	EnableSource bool   // Enable source code location
	TimeFormat   string // Time format for console output

	// Debug forces debug level and source locations
	Debug bool

	// File output settings, used when Output is "file" or "both"
	Identifier  string
	Dir         string
	MaxBytes    int64
	BackupCount int

	writer io.Writer
}

// Logger wraps slog.Logger
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New creates a new logger instance
func New(config *Config) (*Logger, error) {
	level := parseLevel(config.Level)
	addSource := config.EnableSource
	if config.Debug {
		level = slog.LevelDebug
		addSource = true
	}

	writer, closer, toFile, err := openWriter(config)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
	}

	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	case "console", "":
		// Use tint for colorful console output
		timeFormat := config.TimeFormat
		if timeFormat == "" {
			timeFormat = time.RFC3339
		}

		handler = tint.NewHandler(writer, &tint.Options{
			Level:      level,
			AddSource:  addSource,
			TimeFormat: timeFormat,
			NoColor:    toFile,
		})
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	logger := slog.New(handler)
	if config.Identifier != "" {
		logger = logger.With(slog.String("logger", config.Identifier))
	}

	return &Logger{Logger: logger, closer: closer}, nil
}

// openWriter resolves the configured output. toFile reports whether a
// rotated file is part of the output, which disables ANSI colors.
func openWriter(config *Config) (io.Writer, io.Closer, bool, error) {
	if config.writer != nil {
		return config.writer, nil, false, nil
	}

	switch config.Output {
	case "stderr":
		return os.Stderr, nil, false, nil
	case "stdout", "":
		return os.Stdout, nil, false, nil
	case "file", "both":
		rotator, err := newRotator(config)
		if err != nil {
			return nil, nil, false, err
		}
		if config.Output == "both" {
			return io.MultiWriter(os.Stdout, rotator), rotator, true, nil
		}
		return rotator, rotator, true, nil
	default:
		return nil, nil, false, fmt.Errorf("unsupported log output: %q", config.Output)
	}
}

// newRotator builds a size-based rotating file writer at <dir>/<identifier>.log
func newRotator(config *Config) (*lumberjack.Logger, error) {
	identifier := config.Identifier
	if identifier == "" {
		identifier = DefaultIdentifier
	}

	dir := config.Dir
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	maxBytes := config.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	backups := config.BackupCount
	if backups <= 0 {
		backups = DefaultBackupCount
	}

	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, identifier+".log"),
		MaxSize:    maxSizeMB(maxBytes),
		MaxBackups: backups,
	}, nil
}

// maxSizeMB converts a byte threshold to lumberjack's megabyte unit, rounding up
func maxSizeMB(maxBytes int64) int {
	const mb = 1024 * 1024
	size := int((maxBytes + mb - 1) / mb)
	if size < 1 {
		size = 1
	}
	return size
}

// NewDefault creates a logger with default settings (console format, info level)
func NewDefault() *Logger {
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
		NoColor:    false,
	})

	return &Logger{Logger: slog.New(handler)}
}

// NewDiscard creates a logger that drops every record, for tests and tools
func NewDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Close flushes and closes the rotated log file, if any
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// parseLevel converts string level to slog.Level
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithGroup creates a new logger with a group namespace
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{Logger: l.Logger.WithGroup(name), closer: l.closer}
}

// WithAttrs creates a new logger with additional attributes
func (l *Logger) WithAttrs(attrs ...slog.Attr) *Logger {
	return &Logger{Logger: l.Logger.With(attrsToAny(attrs)...), closer: l.closer}
}

// With creates a new logger with additional key-value pairs
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), closer: l.closer}
}

// attrsToAny converts []slog.Attr to []any
func attrsToAny(attrs []slog.Attr) []any {
	result := make([]any, len(attrs))
	for i, attr := range attrs {
		result[i] = attr
	}
	return result
}
