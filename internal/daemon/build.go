package daemon

import (
	"fmt"

	"github.com/harun/nexus/internal/config"
	"github.com/harun/nexus/pkg/commandqueue"
	"github.com/harun/nexus/pkg/coretools"
	"github.com/harun/nexus/pkg/planner"
	"github.com/harun/nexus/pkg/session"
	"github.com/harun/nexus/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// buildRegistry registers the financial tools behind the configured
// provider, applies the catalog overrides and seals the registry.
func buildRegistry(cfg config.ToolsConfig, logger zerolog.Logger) (*toolexecutor.Registry, error) {
	var provider coretools.Provider
	switch cfg.Provider {
	case "", "fixture":
		provider = coretools.NewFixtureProvider()
	case "remote":
		provider = coretools.NewRemoteProvider(cfg.RemoteURL, cfg.RemoteTimeout)
	default:
		return nil, fmt.Errorf("unknown tool provider %q", cfg.Provider)
	}

	registry := toolexecutor.NewRegistry(logger)
	if err := coretools.Register(registry, provider); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	if cfg.CatalogFile != "" {
		catalog, err := toolexecutor.LoadCatalog(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		if err := catalog.Apply(registry); err != nil {
			return nil, fmt.Errorf("failed to apply tool catalog: %w", err)
		}
		logger.Info().Str("path", cfg.CatalogFile).Int("overrides", len(catalog.Tools)).Msg("Tool catalog applied")
	}

	registry.Seal()
	return registry, nil
}

// buildPlanner returns the scripted demo planner or an LLM planner for the
// configured provider.
func buildPlanner(cfg config.PlannerConfig, tools []toolexecutor.Contract, logger zerolog.Logger) (planner.Planner, error) {
	if cfg.Kind == "" || cfg.Kind == "scripted" {
		return planner.NewDemo(), nil
	}

	completer, err := planner.NewCompleter(cfg.Kind, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	return planner.NewLLM(completer, tools, planner.LLMOptions{
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		Logger:       &logger,
	}), nil
}

// buildArchiver returns nil when archiving is disabled.
func buildArchiver(cfg config.ArchiveConfig) (session.Archiver, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "file":
		a, err := session.NewFileArchiver(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to create file archiver: %w", err)
		}
		return a, nil
	case "redis":
		a, err := session.NewRedisArchiver(cfg.RedisURL, cfg.KeyPrefix, cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis archiver: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

// bindQueueHooks logs admission decisions.
func (d *Daemon) bindQueueHooks() {
	logger := d.logger.Component("queue")
	d.queue.On(commandqueue.EventRejected, func(ev commandqueue.Event) {
		logger.Warn().
			Str("lane", ev.Lane).
			Interface("reason", ev.Data["reason"]).
			Msg("Session rejected at admission")
	})
	d.queue.On(commandqueue.EventCompleted, func(ev commandqueue.Event) {
		logger.Debug().
			Str("lane", ev.Lane).
			Str("task_id", ev.TaskID).
			Interface("duration", ev.Data["duration"]).
			Msg("Session lane released")
	})
}

// ApplyConfig applies the settings that can change without a restart: the
// log level and the gateway rate limit. Other changes are logged and ignored.
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	if cfg.Logging.Level != d.config.Logging.Level {
		if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
			d.logger.Warn().Err(err).Str("level", cfg.Logging.Level).Msg("Ignoring invalid log level")
		} else {
			d.logger.Warn().Str("level", cfg.Logging.Level).Msg("Log level changed")
			d.config.Logging.Level = cfg.Logging.Level
		}
	}

	if cfg.Server.RateLimit != d.config.Server.RateLimit {
		rl := cfg.Server.RateLimit
		d.gatewayServer.Limiter().UpdateLimits(rl.RequestsPerSecond, rl.Burst)
		d.config.Server.RateLimit = rl
		d.logger.Info().
			Float64("requests_per_second", rl.RequestsPerSecond).
			Int("burst", rl.Burst).
			Msg("Rate limit updated")
	}

	if cfg.Engine != d.config.Engine || cfg.Planner != d.config.Planner || cfg.Tools != d.config.Tools {
		d.logger.Warn().Msg("Engine, planner and tool settings change on restart only")
	}
}
