package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// Validator performs field-level checks that Config.Validate leaves out.
// It collects every problem instead of stopping at the first.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule accepts standard five-field cron specs and descriptors such as "@every 1m".
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateRedisURL validates a redis:// or rediss:// URL.
func (v *Validator) ValidateRedisURL(raw string) error {
	if _, err := redis.ParseURL(raw); err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	return nil
}

// ValidateRemoteURL validates the base URL of the remote tool provider.
func (v *Validator) ValidateRemoteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("remote url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("remote url must include a host")
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	switch cfg.Planner.Kind {
	case "anthropic", "openai", "gemini":
		if err := v.ValidateAPIKey(cfg.Planner.APIKey, cfg.Planner.Kind); err != nil {
			errs = append(errs, fmt.Errorf("planner: %w", err))
		}
		if err := v.ValidateTemperature(cfg.Planner.Temperature); err != nil {
			errs = append(errs, fmt.Errorf("planner: %w", err))
		}
		if err := v.ValidateMaxTokens(cfg.Planner.MaxTokens); err != nil {
			errs = append(errs, fmt.Errorf("planner: %w", err))
		}
	}

	if cfg.Tools.Provider == "remote" && cfg.Tools.RemoteURL != "" {
		if err := v.ValidateRemoteURL(cfg.Tools.RemoteURL); err != nil {
			errs = append(errs, fmt.Errorf("tools: %w", err))
		}
	}

	if cfg.Sessions.Archive.Backend == "redis" && cfg.Sessions.Archive.RedisURL != "" {
		if err := v.ValidateRedisURL(cfg.Sessions.Archive.RedisURL); err != nil {
			errs = append(errs, fmt.Errorf("sessions.archive: %w", err))
		}
	}

	if err := v.ValidateSchedule(cfg.Sessions.CleanupSchedule); err != nil {
		errs = append(errs, fmt.Errorf("sessions: %w", err))
	}
	if cfg.Sessions.Retention < 0 {
		errs = append(errs, fmt.Errorf("sessions.retention must be >= 0"))
	}

	if cfg.Engine.Backoff.Initial < 0 || cfg.Engine.Backoff.Max < 0 {
		errs = append(errs, fmt.Errorf("engine.backoff durations must be >= 0"))
	}
	if cfg.Engine.Backoff.Multiplier != 0 && cfg.Engine.Backoff.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("engine.backoff.multiplier must be >= 1"))
	}

	if cfg.Server.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit.requests_per_second must be >= 0"))
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
