package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vpoller-module/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zap.AtomicLevel{
		"debug":   zap.NewAtomicLevelAt(zap.DebugLevel),
		"":        zap.NewAtomicLevelAt(zap.InfoLevel),
		"INFO":    zap.NewAtomicLevelAt(zap.InfoLevel),
		"warning": zap.NewAtomicLevelAt(zap.WarnLevel),
		"error":   zap.NewAtomicLevelAt(zap.ErrorLevel),
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want.Level(), got, in)
	}

	_, err := ParseLevel("chatty")
	assert.Error(t, err)
}

func TestFileOutputJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "vpoller_module.log")

	logger, err := New(config.LogConfig{
		Level:   "debug",
		Format:  "json",
		Outputs: []string{path},
	})
	require.NoError(t, err)

	logger.Debug("dispatch", zap.String("endpoint", "tcp://localhost:10123"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "dispatch", entry["msg"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "tcp://localhost:10123", entry["endpoint"])
}

func TestLevelFiltersEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vpoller_module.log")

	logger, err := New(config.LogConfig{Level: "warn", Outputs: []string{path}})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestRotatedOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotated.log")

	logger, err := New(config.LogConfig{
		Level:   "info",
		Outputs: []string{path},
		Rotation: config.RotationConfig{
			Enable:     true,
			MaxSizeMB:  1,
			MaxBackups: 2,
		},
	})
	require.NoError(t, err)

	logger.Info("rotated entry")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rotated entry")
}

func TestBadLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
