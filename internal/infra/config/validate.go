package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLLM(cfg, ve)
	validateSupervisor(cfg, ve)
	validateConversation(cfg, ve)
	validateGateway(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validProviderTypes = map[string]bool{
	"openai":     true,
	"anthropic":  true,
	"gemini":     true,
	"ollama":     true,
	"openrouter": true,
	"bedrock":    true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Type == "" {
			ve.Add("llm.providers[%d].type must not be empty", i)
			continue
		}
		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, anthropic, gemini, ollama, openrouter, bedrock)", i, p.Type)
		}
		if seen[p.Type] {
			ve.Add("llm.providers[%d]: duplicate provider type %q", i, p.Type)
		}
		seen[p.Type] = true

		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
	}

	cb := cfg.LLM.CircuitBreaker
	if cb.Enabled && cb.MaxFailures == 0 {
		ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
	}
	rl := cfg.LLM.RateLimit
	if rl.Enabled && (rl.RequestsPerSecond <= 0 || rl.Burst <= 0) {
		ve.Add("llm.rate_limit requires requests_per_second > 0 and burst > 0 when enabled")
	}
}

func validateSupervisor(cfg *Config, ve *ValidationError) {
	s := cfg.Supervisor
	if s.Provider != "" && !validProviderTypes[s.Provider] {
		ve.Add("supervisor.provider %q is invalid", s.Provider)
	}
	for i, fb := range s.Fallbacks {
		if !validProviderTypes[fb.Provider] {
			ve.Add("supervisor.fallbacks[%d].provider %q is invalid", i, fb.Provider)
		}
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		ve.Add("supervisor.temperature must be within [0, 2]")
	}
}

func validateConversation(cfg *Config, ve *ValidationError) {
	c := cfg.Conversation
	if c.MaxTurns <= 0 {
		ve.Add("conversation.max_turns must be > 0")
	}
	if c.Retry.MaxRetries < 0 {
		ve.Add("conversation.retry.max_retries must be >= 0")
	}
	if c.Retry.InitialDelay < 0 {
		ve.Add("conversation.retry.initial_delay must be >= 0")
	}
	if c.Retry.Multiplier < 1 {
		ve.Add("conversation.retry.multiplier must be >= 1")
	}
	if c.ContextThreshold <= 0 {
		ve.Add("conversation.context_threshold must be > 0")
	}
	if c.KeepRecent <= 0 || c.KeepRecent > c.ContextThreshold {
		ve.Add("conversation.keep_recent must be in (0, context_threshold]")
	}
	if c.TerminationWindow <= 0 {
		ve.Add("conversation.termination_window must be > 0")
	}
	if c.Filler == "" {
		ve.Add("conversation.filler must not be empty")
	}
	for i, p := range c.UserRoleNudgeProviders {
		if !validProviderTypes[p] {
			ve.Add("conversation.user_role_nudge_providers[%d] %q is invalid", i, p)
		}
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if cfg.Gateway.Addr == "" {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	if cfg.Gateway.Auth.Type == "static" && len(cfg.Gateway.Auth.Tokens) == 0 {
		ve.Add("gateway.auth.tokens must not be empty when auth type is static")
	}
	if rl := cfg.Gateway.RateLimit; rl.Enabled && (rl.RequestsPerMinute <= 0 || rl.Burst <= 0) {
		ve.Add("gateway.rate_limit requires requests_per_minute > 0 and burst > 0 when enabled")
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}
