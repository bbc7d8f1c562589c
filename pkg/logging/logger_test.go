package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerDefaults(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("hello")
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	_, err := NewLogger(&LogConfig{Level: "verbose"})
	assert.Error(t, err)
}

func TestLoggerWritesJSONToFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "node.log")

	logger, err := NewLogger(&LogConfig{
		Level:             InfoLevel,
		OutputPath:        file,
		DisableStacktrace: true,
	})
	require.NoError(t, err)

	logger.Chain().Info("Block added",
		zap.Uint64("height", 5),
		zap.Int("transactions", 2))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(file)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "Block added", entry["msg"])
	assert.Equal(t, "chain", entry["logger"])
	assert.Equal(t, float64(5), entry["height"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	file := filepath.Join(t.TempDir(), "node.log")

	logger, err := NewLogger(&LogConfig{
		Level:             WarnLevel,
		OutputPath:        file,
		DisableStacktrace: true,
	})
	require.NoError(t, err)

	logger.Info("filtered")
	logger.Warn("kept")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "filtered")
	assert.Contains(t, string(data), "kept")
}

func TestComponentNaming(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)

	assert.NotNil(t, logger.Chain().Zap())
	assert.NotNil(t, logger.Storage().Zap())
	assert.NotNil(t, logger.API().Zap())
	assert.NotNil(t, logger.Component("sync"))
}
