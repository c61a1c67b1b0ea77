package toolexecutor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tools:
  echo:
    timeout: 250ms
    retryable: true
`), 0o644))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Contains(t, cat.Tools, "echo")
	assert.Equal(t, 250*time.Millisecond, *cat.Tools["echo"].Timeout)

	r := NewRegistry()
	require.NoError(t, r.Register(echoContract("echo")))
	require.NoError(t, cat.Apply(r))

	c, err := r.Resolve("echo")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, c.Timeout)
	assert.True(t, c.Retryable)
}

func TestParseCatalog(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		cat, err := ParseCatalog(nil)
		require.NoError(t, err)
		assert.Empty(t, cat.Tools)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := ParseCatalog([]byte("tools:\n  echo:\n    retries: 3\n"))
		assert.Error(t, err)
	})

	t.Run("partial override keeps timeout", func(t *testing.T) {
		cat, err := ParseCatalog([]byte("tools:\n  echo:\n    retryable: true\n"))
		require.NoError(t, err)

		r := NewRegistry()
		require.NoError(t, r.Register(echoContract("echo")))
		require.NoError(t, cat.Apply(r))

		c, _ := r.Resolve("echo")
		assert.Equal(t, time.Second, c.Timeout)
	})

	t.Run("unknown tool", func(t *testing.T) {
		cat, err := ParseCatalog([]byte("tools:\n  missing:\n    retryable: false\n"))
		require.NoError(t, err)
		assert.ErrorIs(t, cat.Apply(NewRegistry()), ErrUnknownTool)
	})
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
