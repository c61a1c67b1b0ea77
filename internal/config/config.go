package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/nexus/internal/logger"
)

// Config represents the main Nexus configuration
type Config struct {
	// Data directory for logs, archives and the audit trail
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Engine   EngineConfig   `json:"engine" mapstructure:"engine"`
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`
	Tools    ToolsConfig    `json:"tools" mapstructure:"tools"`
	Planner  PlannerConfig  `json:"planner" mapstructure:"planner"`
	Logging  logger.Config  `json:"logging" mapstructure:"logging"`
	Tracing  TracingConfig  `json:"tracing" mapstructure:"tracing"`

	// AuditFile receives one JSON line per tool dispatch and session transition.
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// ServerConfig holds HTTP gateway configuration
type ServerConfig struct {
	Host            string          `json:"host" mapstructure:"host"`
	Port            int             `json:"port" mapstructure:"port"`
	ReadTimeout     time.Duration   `json:"read_timeout" mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration   `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig is a per-client token bucket. Zero RequestsPerSecond disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `json:"burst" mapstructure:"burst"`
}

// EngineConfig bounds the ReAct loop.
type EngineConfig struct {
	MaxSteps              int           `json:"max_steps" mapstructure:"max_steps"`
	RetryBudget           int           `json:"retry_budget" mapstructure:"retry_budget"` // total attempts per step
	MaxConcurrentSessions int           `json:"max_concurrent_sessions" mapstructure:"max_concurrent_sessions"`
	SessionTimeout        time.Duration `json:"session_timeout" mapstructure:"session_timeout"`
	StepTimeout           time.Duration `json:"step_timeout" mapstructure:"step_timeout"` // 0 uses the contract timeout
	EventBuffer           int           `json:"event_buffer" mapstructure:"event_buffer"`
	Backoff               BackoffConfig `json:"backoff" mapstructure:"backoff"`
}

// BackoffConfig is the exponential delay between attempts of one step.
type BackoffConfig struct {
	Initial    time.Duration `json:"initial" mapstructure:"initial"`
	Max        time.Duration `json:"max" mapstructure:"max"`
	Multiplier float64       `json:"multiplier" mapstructure:"multiplier"`
}

// SessionsConfig controls retention of finished sessions.
type SessionsConfig struct {
	Retention       time.Duration `json:"retention" mapstructure:"retention"`
	CleanupSchedule string        `json:"cleanup_schedule" mapstructure:"cleanup_schedule"` // cron spec, e.g. "@every 1m"
	Archive         ArchiveConfig `json:"archive" mapstructure:"archive"`
}

// ArchiveConfig selects where terminal sessions are written before eviction.
type ArchiveConfig struct {
	Backend   string        `json:"backend" mapstructure:"backend"` // none, file, redis
	Dir       string        `json:"dir" mapstructure:"dir"`
	RedisURL  string        `json:"redis_url" mapstructure:"redis_url"`
	KeyPrefix string        `json:"key_prefix" mapstructure:"key_prefix"`
	TTL       time.Duration `json:"ttl" mapstructure:"ttl"`
}

// ToolsConfig selects the provider behind the financial tools.
type ToolsConfig struct {
	Provider      string        `json:"provider" mapstructure:"provider"` // fixture, remote
	RemoteURL     string        `json:"remote_url" mapstructure:"remote_url"`
	RemoteTimeout time.Duration `json:"remote_timeout" mapstructure:"remote_timeout"`
	CatalogFile   string        `json:"catalog_file" mapstructure:"catalog_file"`
}

// PlannerConfig selects the decision source for the loop.
type PlannerConfig struct {
	Kind         string  `json:"kind" mapstructure:"kind"` // scripted, anthropic, openai, gemini
	Model        string  `json:"model" mapstructure:"model"`
	APIKey       string  `json:"api_key" mapstructure:"api_key"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 5,
				Burst:             10,
			},
		},
		Engine: EngineConfig{
			MaxSteps:              8,
			RetryBudget:           2,
			MaxConcurrentSessions: 32,
			SessionTimeout:        5 * time.Minute,
			EventBuffer:           256,
			Backoff: BackoffConfig{
				Initial:    500 * time.Millisecond,
				Max:        5 * time.Second,
				Multiplier: 2,
			},
		},
		Sessions: SessionsConfig{
			Retention:       30 * time.Minute,
			CleanupSchedule: "@every 1m",
			Archive: ArchiveConfig{
				Backend:   "none",
				KeyPrefix: "nexus:session:",
				TTL:       24 * time.Hour,
			},
		},
		Tools: ToolsConfig{
			Provider:      "fixture",
			RemoteTimeout: 20 * time.Second,
		},
		Planner: PlannerConfig{
			Kind:        "scripted",
			MaxTokens:   1024,
			Temperature: 0.2,
		},
		Logging: logger.DefaultConfig(),
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "nexus",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config with the API key masked.
func (c *Config) String() string {
	masked := *c
	if masked.Planner.APIKey != "" {
		masked.Planner.APIKey = "********"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks the invariants the daemon relies on at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Engine.MaxSteps < 1 {
		return fmt.Errorf("engine.max_steps must be >= 1, got %d", c.Engine.MaxSteps)
	}
	if c.Engine.RetryBudget < 1 {
		return fmt.Errorf("engine.retry_budget must be >= 1, got %d", c.Engine.RetryBudget)
	}
	if c.Engine.MaxConcurrentSessions < 1 {
		return fmt.Errorf("engine.max_concurrent_sessions must be >= 1, got %d", c.Engine.MaxConcurrentSessions)
	}
	if c.Engine.EventBuffer < 1 {
		return fmt.Errorf("engine.event_buffer must be >= 1, got %d", c.Engine.EventBuffer)
	}
	if c.Engine.SessionTimeout < 0 || c.Engine.StepTimeout < 0 {
		return fmt.Errorf("engine timeouts must not be negative")
	}

	switch c.Planner.Kind {
	case "scripted":
	case "anthropic", "openai", "gemini":
		if c.Planner.APIKey == "" {
			return fmt.Errorf("planner %s: api_key is required", c.Planner.Kind)
		}
		if c.Planner.Model == "" {
			return fmt.Errorf("planner %s: model is required", c.Planner.Kind)
		}
	default:
		return fmt.Errorf("invalid planner kind %q (must be: scripted, anthropic, openai, gemini)", c.Planner.Kind)
	}

	switch c.Tools.Provider {
	case "fixture":
	case "remote":
		if c.Tools.RemoteURL == "" {
			return fmt.Errorf("tools.remote_url is required for the remote provider")
		}
	default:
		return fmt.Errorf("invalid tools provider %q (must be: fixture, remote)", c.Tools.Provider)
	}

	switch c.Sessions.Archive.Backend {
	case "", "none", "file":
	case "redis":
		if c.Sessions.Archive.RedisURL == "" {
			return fmt.Errorf("sessions.archive.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid archive backend %q (must be: none, file, redis)", c.Sessions.Archive.Backend)
	}

	return nil
}
