package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/high-horse/fingerprint-server/internal/config"
)

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, out, err := newLogger(config.LogConfig{Level: "info"}, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("reader opened", zap.String("device", "HAMSTER"))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "reader opened", entry["msg"])
	assert.Equal(t, "HAMSTER", entry["device"])
	assert.Contains(t, entry, "timestamp")

	_, err = out.Write([]byte("access\n"))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "access")
}

func TestNewLoggerTeesToRotatingFile(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger, _, err := newLogger(config.LogConfig{
		Level:        "debug",
		File:         filepath.Join(dir, "fingerprint.%Y%m%d.log"),
		MaxAge:       24 * time.Hour,
		RotationTime: time.Hour,
	}, &buf)
	require.NoError(t, err)

	logger.Debug("capture started")
	_ = logger.Sync()

	matches, err := filepath.Glob(filepath.Join(dir, "fingerprint.*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "capture started")
	assert.Contains(t, buf.String(), "capture started")
}

func TestNewLoggerRejectsLevel(t *testing.T) {
	_, _, err := NewLogger(config.LogConfig{Level: "chatty"})
	assert.Error(t, err)
}

func TestWithOperation(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	WithOperation(zap.New(core), "capture", "req-1").Info("done")
	WithOperation(zap.New(core), "match", "").Info("done")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]any{"operation": "capture", "request_id": "req-1"}, entries[0].ContextMap())
	assert.Equal(t, map[string]any{"operation": "match"}, entries[1].ContextMap())
}
