package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("file sink with redaction", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "nexus.log")

		l, err := New(Config{Level: "debug", File: logFile, Redaction: true, MaxSize: 1})
		require.NoError(t, err)

		zl := l.GetZerolog()
		zl.Info().Str("key", "sk-ant-REDACTED").Msg("Planner configured")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "Planner configured")
		assert.Contains(t, string(data), "[REDACTED]")
		assert.NotContains(t, string(data), "abcdefghijklmnopqrstuvwxyz")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		l, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		assert.Equal(t, "info", l.GetZerolog().GetLevel().String())
	})

	t.Run("component field", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "c.log")
		l, err := New(Config{Level: "info", File: logFile})
		require.NoError(t, err)

		c := l.Component("eventhub")
		c.Info().Msg("Ready")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"component":"eventhub"`)
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
}

func TestSetLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	logFile := filepath.Join(t.TempDir(), "lvl.log")
	l, err := New(Config{Level: "debug", File: logFile})
	require.NoError(t, err)

	l.Debug().Msg("before")
	require.NoError(t, l.SetLevel("warn"))
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	require.NoError(t, l.Close())

	assert.Error(t, l.SetLevel("loud"))

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "before")
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}
