package main

import (
	"log/slog"

	"chorus/internal/adapter/llm"
	"chorus/internal/domain"
	"chorus/internal/infra/config"
)

// llmComponents holds the model resolver for agents and the supervisor client.
type llmComponents struct {
	Factory    *llm.Factory
	Supervisor domain.ModelClient
}

func initLLM(cfg *config.Config, log *slog.Logger) (*llmComponents, error) {
	factory := llm.NewFactory(cfg.LLM, log, providerOptions()...)

	configured := factory.Configured()
	if len(configured) == 0 {
		return nil, domain.NewDomainError("initLLM", domain.ErrProviderUnconfigured, "no llm provider has credentials")
	}

	cb := cfg.LLM.CircuitBreaker
	if cb.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cb.MaxFailures,
			"timeout", cb.Timeout,
			"interval", cb.Interval,
		)
	}
	if rl := cfg.LLM.RateLimit; rl.Enabled {
		log.Info("llm rate limit enabled", "rps", rl.RequestsPerSecond, "burst", rl.Burst)
	}

	supervisor, err := factory.SupervisorClient(cfg.Supervisor)
	if err != nil {
		return nil, err
	}
	log.Info("llm providers ready", "providers", configured, "supervisor", cfg.Supervisor.Provider)

	return &llmComponents{Factory: factory, Supervisor: supervisor}, nil
}
