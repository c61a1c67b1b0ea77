package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/harun/nexus/internal/config"
	"github.com/harun/nexus/internal/daemon"
	"github.com/harun/nexus/internal/logger"
	"github.com/harun/nexus/pkg/coretools"
	"github.com/harun/nexus/pkg/gateway"
	"github.com/harun/nexus/pkg/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startDaemon runs a scripted daemon on a free loopback port and returns its
// base URL and data directory.
func startDaemon(t *testing.T) (string, string) {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Server.RateLimit.RequestsPerSecond = 0
	cfg.Engine.Backoff.Initial = time.Millisecond

	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	d, err := daemon.New(cfg, log)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.Stop() })

	return "http://" + d.Status().Addr, tmpDir
}

func runBlocking(t *testing.T, server string) string {
	t.Helper()
	resp, err := newAPIClient(server, 10*time.Second).run(context.Background(), runRequest(planner.DemoQuery))
	require.NoError(t, err)
	require.Equal(t, "completed", string(resp.Status))
	return resp.SessionID
}

func runRequest(query string) gateway.RunRequest {
	return gateway.RunRequest{Query: query}
}

func sessionIDOf(t *testing.T, out string) string {
	t.Helper()
	var resp gateway.RunResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func TestRunCommand(t *testing.T) {
	server, _ := startDaemon(t)

	t.Run("streaming", func(t *testing.T) {
		out, err := executeCommand(t, "run", "--server", server, planner.DemoQuery)
		require.NoError(t, err)

		assert.Contains(t, out, "started")
		assert.Contains(t, out, "[1] ")
		assert.Contains(t, out, "-> "+coretools.ToolFinancialData)
		assert.Contains(t, out, "-> "+coretools.ToolRisks)
		assert.Contains(t, out, "-> "+coretools.ToolTextOutput)
		assert.Contains(t, out, "Completed")
		assert.Contains(t, out, "Q3 2024 Investment Analysis")
	})

	t.Run("blocking", func(t *testing.T) {
		out, err := executeCommand(t, "run", "--server", server, "--stream=false", planner.DemoQuery)
		require.NoError(t, err)

		assert.Contains(t, out, "Status: completed")
		assert.Contains(t, out, "[5] ")
		assert.Contains(t, out, "Result:")
	})

	t.Run("json", func(t *testing.T) {
		out, err := executeCommand(t, "run", "--server", server, "--stream=false", "--json", planner.DemoQuery)
		require.NoError(t, err)

		assert.Contains(t, out, `"status": "completed"`)
		assert.Contains(t, out, `"session_id"`)
	})

	t.Run("idempotency key reuses session", func(t *testing.T) {
		first, err := executeCommand(t, "run", "--server", server, "--stream=false", "--json", "--idempotency-key", "k-1", planner.DemoQuery)
		require.NoError(t, err)
		second, err := executeCommand(t, "run", "--server", server, "--stream=false", "--json", "--idempotency-key", "k-1", planner.DemoQuery)
		require.NoError(t, err)
		assert.Equal(t, sessionIDOf(t, first), sessionIDOf(t, second))
	})

	t.Run("query required", func(t *testing.T) {
		_, err := executeCommand(t, "run", "--server", server)
		assert.Error(t, err)
	})

	t.Run("unreachable server", func(t *testing.T) {
		_, err := executeCommand(t, "run", "--server", "http://127.0.0.1:1", "--stream=false", "hello")
		assert.Error(t, err)
	})
}

func TestWatchCommand(t *testing.T) {
	server, _ := startDaemon(t)
	id := runBlocking(t, server)

	t.Run("replays finished session", func(t *testing.T) {
		out, err := executeCommand(t, "watch", "--server", server, id)
		require.NoError(t, err)
		assert.Contains(t, out, "Session "+id+" started")
		assert.Contains(t, out, "Completed")
	})

	t.Run("resumes after sequence", func(t *testing.T) {
		out, err := executeCommand(t, "watch", "--server", server, "--after", "11", id)
		require.NoError(t, err)
		assert.NotContains(t, out, "Session "+id+" started")
		assert.Contains(t, out, "Completed")
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := executeCommand(t, "watch", "--server", server, "missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})
}

func TestToolsCommand(t *testing.T) {
	server, _ := startDaemon(t)

	out, err := executeCommand(t, "tools", "--server", server)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, coretools.ToolFinancialData)
	assert.Contains(t, out, coretools.ToolRisks)
	assert.Contains(t, out, coretools.ToolTextOutput)

	out, err = executeCommand(t, "tools", "--server", server, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"input_schema"`)
}

func TestStatusCommand(t *testing.T) {
	server, dataDir := startDaemon(t)
	id := runBlocking(t, server)

	t.Run("session", func(t *testing.T) {
		out, err := executeCommand(t, "status", "--server", server, id)
		require.NoError(t, err)
		assert.Contains(t, out, "Session: "+id)
		assert.Contains(t, out, "Status: completed")
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := executeCommand(t, "status", "--server", server, "missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "session not found")
	})

	t.Run("daemon running", func(t *testing.T) {
		cfgPath := filepath.Join(dataDir, "nexus.json")
		out, err := executeCommand(t, "status", "--server", server, "--config", cfgPath)
		require.NoError(t, err)
		assert.Contains(t, out, "Status: running")
		assert.Contains(t, out, "PID: "+strconv.Itoa(os.Getpid()))
		assert.Contains(t, out, "Gateway: ok")
	})

	t.Run("daemon stopped", func(t *testing.T) {
		cfgPath := filepath.Join(t.TempDir(), "nexus.json")
		out, err := executeCommand(t, "status", "--config", cfgPath)
		require.NoError(t, err)
		assert.Contains(t, out, "Status: stopped")
	})
}

func TestCancelCommand(t *testing.T) {
	server, _ := startDaemon(t)
	id := runBlocking(t, server)

	_, err := executeCommand(t, "cancel", "--server", server, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = executeCommand(t, "cancel", "--server", server, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session already finished")
}

func TestStopCommand(t *testing.T) {
	t.Run("not running", func(t *testing.T) {
		cfgPath := filepath.Join(t.TempDir(), "nexus.json")
		_, err := executeCommand(t, "stop", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")
	})

	t.Run("stale PID file", func(t *testing.T) {
		dir := t.TempDir()
		pidFile := daemon.PIDFile(dir)
		require.NoError(t, os.WriteFile(pidFile, []byte("999999999"), 0644))

		_, err := executeCommand(t, "stop", "--config", filepath.Join(dir, "nexus.json"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stale")
		assert.NoFileExists(t, pidFile)
	})
}

func TestConfigureCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "conf", "nexus.json")

	// Accept every default.
	out, err := executeCommandWithInput(t, "\n\n\n", "configure", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration saved to: "+cfgPath)
	assert.FileExists(t, cfgPath)

	cfg, err := config.NewLoader(cfgPath).Load()
	require.NoError(t, err)
	assert.Equal(t, "scripted", cfg.Planner.Kind)
	assert.Equal(t, "fixture", cfg.Tools.Provider)
	require.NoError(t, cfg.Validate())
}
