package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/nexus/internal/config"
	"github.com/harun/nexus/internal/logger"
	"github.com/harun/nexus/pkg/agent"
	"github.com/harun/nexus/pkg/eventhub"
	"github.com/harun/nexus/pkg/planner"
	"github.com/harun/nexus/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestDaemon creates a daemon on a free loopback port.
func createTestDaemon(t *testing.T, mutate func(*config.Config)) (*Daemon, *logger.Logger) {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Engine.Backoff.Initial = time.Millisecond
	cfg.Sessions.Archive.Dir = filepath.Join(tmpDir, "archive")
	if mutate != nil {
		mutate(cfg)
	}

	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	daemon, err := New(cfg, log)
	require.NoError(t, err)
	return daemon, log
}

func runDemo(t *testing.T, d *Daemon) map[string]interface{} {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"query": planner.DemoQuery, "streaming": false})
	require.NoError(t, err)

	resp, err := http.Post("http://"+d.GetGatewayServer().Addr()+"/api/agent/run", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestNew(t *testing.T) {
	daemon, _ := createTestDaemon(t, nil)

	assert.NotNil(t, daemon.GetQueue())
	assert.NotNil(t, daemon.GetStore())
	assert.NotNil(t, daemon.GetEngine())
	assert.NotNil(t, daemon.GetGatewayServer())
	assert.NotNil(t, daemon.GetCleanup())
	assert.NotNil(t, daemon.eventLoop)
	assert.NotNil(t, daemon.lifecycle)
	assert.Nil(t, daemon.archiver)
	assert.Equal(t, "demo", daemon.planner.Name())
	assert.Len(t, daemon.registry.Names(), 3)
	assert.Equal(t, 32, daemon.GetQueue().Capacity())
	assert.Equal(t, daemon.config, daemon.GetConfig())
	assert.NotNil(t, daemon.GetLogger())
}

func TestNew_InvalidComponents(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown tool provider", func(c *config.Config) { c.Tools.Provider = "ftp" }},
		{"missing catalog", func(c *config.Config) { c.Tools.CatalogFile = "/nonexistent/catalog.yaml" }},
		{"unknown planner", func(c *config.Config) { c.Planner.Kind = "oracle" }},
		{"unknown archive backend", func(c *config.Config) { c.Sessions.Archive.Backend = "tape" }},
		{"bad redis url", func(c *config.Config) {
			c.Sessions.Archive.Backend = "redis"
			c.Sessions.Archive.RedisURL = "not a url"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.DataDir = t.TempDir()
			tc.mutate(cfg)

			log, err := logger.New(logger.Config{Level: "error"})
			require.NoError(t, err)
			_, err = New(cfg, log)
			assert.Error(t, err)
		})
	}
}

func TestNew_CatalogOverrides(t *testing.T) {
	catalog := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte("tools:\n  get_financial_data:\n    timeout: 3s\n"), 0644))

	daemon, _ := createTestDaemon(t, func(c *config.Config) { c.Tools.CatalogFile = catalog })

	c, err := daemon.registry.Resolve("get_financial_data")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, c.Timeout)
}

func TestBuildPlanner(t *testing.T) {
	p, err := buildPlanner(config.PlannerConfig{Kind: "scripted"}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name())

	p, err = buildPlanner(config.PlannerConfig{Kind: "anthropic", APIKey: "sk-ant-test", Model: "claude"}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	_, err = buildPlanner(config.PlannerConfig{Kind: "oracle"}, nil, zerolog.Nop())
	assert.ErrorIs(t, err, planner.ErrUnsupportedProvider)
}

func TestDaemonStartStop(t *testing.T) {
	daemon, _ := createTestDaemon(t, nil)

	require.NoError(t, daemon.Start())
	assert.Error(t, daemon.Start())

	status := daemon.Status()
	assert.True(t, status.Running)
	assert.NotEmpty(t, status.Addr)
	assert.FileExists(t, PIDFile(daemon.config.DataDir))

	out := runDemo(t, daemon)
	assert.Equal(t, "completed", out["status"])
	assert.Len(t, out["steps"], 5)

	require.NoError(t, daemon.Stop())
	status = daemon.Status()
	assert.False(t, status.Running)
	assert.Equal(t, time.Duration(0), status.Uptime)
	assert.NoFileExists(t, PIDFile(daemon.config.DataDir))

	assert.Error(t, daemon.Stop())
}

func TestDaemonStop_CancelsRunningSessions(t *testing.T) {
	daemon, _ := createTestDaemon(t, nil)
	release := make(chan struct{})
	defer close(release)

	// Swap in a planner that never finishes on its own.
	engine, err := agent.NewEngine(agent.Config{
		Store:    daemon.store,
		Registry: daemon.registry,
		Hub:      daemon.hub,
		Queue:    daemon.queue,
		Logger:   zerolog.Nop(),
		Planner: planner.Func(func(ctx context.Context, query string, history []session.Step) (planner.Decision, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return planner.Decision{}, ctx.Err()
		}),
	})
	require.NoError(t, err)
	daemon.engine = engine

	require.NoError(t, daemon.Start())
	id, err := engine.Start(context.Background(), agent.Request{Query: "hold"})
	require.NoError(t, err)

	require.NoError(t, daemon.Stop())

	snap, err := daemon.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, session.StateCancelled, snap.State)
}

func TestDaemon_EvictionArchivesAndRemovesStream(t *testing.T) {
	daemon, _ := createTestDaemon(t, func(c *config.Config) {
		c.Sessions.Archive.Backend = "file"
		c.Sessions.Retention = time.Nanosecond
	})
	require.NotNil(t, daemon.archiver)
	assert.Equal(t, "file", daemon.archiver.Name())

	require.NoError(t, daemon.Start())
	defer daemon.Stop()

	out := runDemo(t, daemon)
	id := out["session_id"].(string)

	evicted, err := daemon.GetCleanup().CleanupNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)

	_, err = daemon.store.Get(id)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	_, err = daemon.hub.Subscribe(id)
	assert.ErrorIs(t, err, eventhub.ErrUnknownSession)

	resp, err := http.Get("http://" + daemon.GetGatewayServer().Addr() + "/api/agent/status/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "completed", status["status"])
}

func TestApplyConfig(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)
	daemon, _ := createTestDaemon(t, nil)

	next := *daemon.config
	next.Logging.Level = "warn"
	next.Server.RateLimit.RequestsPerSecond = 0.001
	next.Server.RateLimit.Burst = 1
	daemon.ApplyConfig(&next)

	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	assert.Equal(t, "warn", daemon.config.Logging.Level)

	limiter := daemon.GetGatewayServer().Limiter()
	assert.True(t, limiter.Allow("c"))
	assert.False(t, limiter.Allow("c"))

	bad := *daemon.config
	bad.Logging.Level = "loud"
	daemon.ApplyConfig(&bad)
	assert.Equal(t, "warn", daemon.config.Logging.Level)
}
