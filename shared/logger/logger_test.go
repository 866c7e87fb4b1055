package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		checkFunc func(t *testing.T, logger *Logger, output *bytes.Buffer)
	}{
		{
			name:   "json format with debug level",
			config: Config{Level: "debug", Format: "json"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Debug("test debug message", slog.String("key", "value"))

				entries := decodeLines(t, output)
				require.Len(t, entries, 1)
				assert.Equal(t, "DEBUG", entries[0]["level"])
				assert.Equal(t, "test debug message", entries[0]["msg"])
				assert.Equal(t, "value", entries[0]["key"])
			},
		},
		{
			name:   "info level filters debug",
			config: Config{Level: "info", Format: "json"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Debug("debug message")
				logger.Info("info message", slog.String("type", "test"))

				entries := decodeLines(t, output)
				require.Len(t, entries, 1)
				assert.Equal(t, "INFO", entries[0]["level"])
				assert.Equal(t, "test", entries[0]["type"])
			},
		},
		{
			name:   "critical maps to error level",
			config: Config{Level: "critical", Format: "json"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Warn("warn message")
				logger.Error("error message")

				entries := decodeLines(t, output)
				require.Len(t, entries, 1)
				assert.Equal(t, "ERROR", entries[0]["level"])
			},
		},
		{
			name:   "debug flag forces debug level and source",
			config: Config{Level: "error", Format: "json", Debug: true},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Debug("verbose")

				entries := decodeLines(t, output)
				require.Len(t, entries, 1)
				assert.Equal(t, "DEBUG", entries[0]["level"])
				assert.Contains(t, entries[0], "source")
			},
		},
		{
			name:   "identifier is attached to every record",
			config: Config{Level: "info", Format: "json", Identifier: "my_worker"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("started")

				entries := decodeLines(t, output)
				require.Len(t, entries, 1)
				assert.Equal(t, "my_worker", entries[0]["logger"])
			},
		},
		{
			name:   "console format",
			config: Config{Level: "info", Format: "console", TimeFormat: time.RFC3339},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("console test")

				// tint uses "INF" rather than "INFO"
				assert.Contains(t, output.String(), "INF")
				assert.Contains(t, output.String(), "console test")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			cfg := tt.config
			cfg.writer = output

			logger, err := New(&cfg)
			require.NoError(t, err)
			require.NotNil(t, logger)

			tt.checkFunc(t, logger, output)
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "LOGS")

	logger, err := New(&Config{
		Level:       "info",
		Format:      "json",
		Output:      "file",
		Identifier:  "my_celery_app",
		Dir:         dir,
		MaxBytes:    1024,
		BackupCount: 2,
	})
	require.NoError(t, err)

	logger.Info("written to file", slog.String("queue", "queue1"))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(dir, "my_celery_app.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), "queue1")
}

func TestNew_UnsupportedOutput(t *testing.T) {
	logger, err := New(&Config{Output: "syslog"})
	require.Error(t, err)
	assert.Nil(t, logger)
	assert.Contains(t, err.Error(), "unsupported log output")
}

func TestMaxSizeMB(t *testing.T) {
	assert.Equal(t, 1, maxSizeMB(1))
	assert.Equal(t, 1, maxSizeMB(1024*1024))
	assert.Equal(t, 2, maxSizeMB(1024*1024+1))
	assert.Equal(t, 10, maxSizeMB(10485760))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelInfo}, // case-sensitive, defaults to info
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_WithGroup(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "json", writer: output})
	require.NoError(t, err)

	logger.WithGroup("mygroup").Info("test message", slog.String("key", "value"))

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	group := entries[0]["mygroup"].(map[string]interface{})
	assert.Equal(t, "value", group["key"])
}

func TestLogger_WithAttrs(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "json", writer: output})
	require.NoError(t, err)

	logger.WithAttrs(slog.String("task_id", "12345")).With("queue", "queue1").Info("test message")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "12345", entries[0]["task_id"])
	assert.Equal(t, "queue1", entries[0]["queue"])
}
