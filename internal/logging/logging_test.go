package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"example.com/roulette/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_JSONLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log, err := newWithWriter(config.Log{Format: "json", Level: "info"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("room hosted", zap.String("room", "r1"))
	require.NoError(t, log.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "room hosted", entry["msg"])
	assert.Equal(t, "r1", entry["room"])
	assert.Equal(t, "info", entry["level"])
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	log, err := New(config.Log{Format: "text", Level: "debug", File: path})
	require.NoError(t, err)

	log.Debug("to file")
	require.NoError(t, log.Sync())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "to file")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(config.Log{Format: "text", Level: "loud"})
	require.Error(t, err)
}
