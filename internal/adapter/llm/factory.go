package llm

import (
	"fmt"
	"log/slog"
	"sync"

	"chorus/internal/domain"
	"chorus/internal/infra/config"
)

var _ domain.ModelResolver = (*Factory)(nil)

// Constructor builds a provider from its resolved configuration.
type Constructor func(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error)

// DefaultConstructors returns the HTTP-backed providers. Bedrock needs the
// AWS SDK and is added by the binary behind the bedrock build tag.
func DefaultConstructors() map[domain.ProviderType]Constructor {
	return map[domain.ProviderType]Constructor{
		domain.ProviderOpenAI: func(cfg config.ProviderConfig, l *slog.Logger) (domain.LLMProvider, error) {
			return NewOpenAIProvider(cfg, l), nil
		},
		domain.ProviderAnthropic: func(cfg config.ProviderConfig, l *slog.Logger) (domain.LLMProvider, error) {
			return NewAnthropicProvider(cfg, l), nil
		},
		domain.ProviderGemini: func(cfg config.ProviderConfig, l *slog.Logger) (domain.LLMProvider, error) {
			return NewGeminiProvider(cfg, l), nil
		},
		domain.ProviderOllama: func(cfg config.ProviderConfig, l *slog.Logger) (domain.LLMProvider, error) {
			return NewOllamaProvider(cfg, l), nil
		},
		domain.ProviderOpenRouter: func(cfg config.ProviderConfig, l *slog.Logger) (domain.LLMProvider, error) {
			return NewOpenRouterProvider(cfg, l), nil
		},
	}
}

// defaultModels is used when neither the agent nor the provider config names a model.
var defaultModels = map[domain.ProviderType]string{
	domain.ProviderOpenAI:     "gpt-4o-mini",
	domain.ProviderAnthropic:  "claude-3-5-haiku-latest",
	domain.ProviderGemini:     "gemini-2.0-flash",
	domain.ProviderOllama:     "llama3.1",
	domain.ProviderOpenRouter: "openai/gpt-4o-mini",
	domain.ProviderBedrock:    "anthropic.claude-3-5-haiku-20241022-v1:0",
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithConstructor registers or replaces the constructor for one provider type.
func WithConstructor(t domain.ProviderType, c Constructor) FactoryOption {
	return func(f *Factory) { f.constructors[t] = c }
}

// Factory resolves (provider, model) pairs to model clients. Credentials are
// read once from config; one provider instance per type is shared by every
// client that does not override its endpoint or key.
type Factory struct {
	mu           sync.Mutex
	cfg          config.LLMConfig
	credentials  map[domain.ProviderType]config.ProviderConfig
	constructors map[domain.ProviderType]Constructor
	shared       map[domain.ProviderType]domain.LLMProvider
	logger       *slog.Logger
}

// NewFactory indexes the configured providers by type. Entries with unknown
// types are skipped with a warning; config validation reports them first.
func NewFactory(cfg config.LLMConfig, logger *slog.Logger, opts ...FactoryOption) *Factory {
	f := &Factory{
		cfg:          cfg,
		credentials:  make(map[domain.ProviderType]config.ProviderConfig),
		constructors: DefaultConstructors(),
		shared:       make(map[domain.ProviderType]domain.LLMProvider),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(f)
	}

	for _, p := range cfg.Providers {
		t, err := domain.ParseProviderType(p.Type)
		if err != nil {
			logger.Warn("skipping provider", "name", p.Name, "error", err)
			continue
		}
		if p.Name == "" {
			p.Name = p.Type
		}
		f.credentials[t] = p
	}
	return f
}

// Configured lists provider types that have usable credentials, in the
// canonical order.
func (f *Factory) Configured() []domain.ProviderType {
	var out []domain.ProviderType
	for _, t := range domain.ProviderTypes {
		if pc, ok := f.credentials[t]; ok && hasCredentials(t, pc) && f.constructors[t] != nil {
			out = append(out, t)
		}
	}
	return out
}

// Resolve implements domain.ModelResolver.
func (f *Factory) Resolve(mc domain.ModelConfiguration) (domain.ModelClient, error) {
	const op = "llm.Factory.Resolve"

	ctor, ok := f.constructors[mc.Provider]
	if !ok {
		return nil, domain.NewDomainError(op, domain.ErrProviderUnsupported, string(mc.Provider))
	}

	pc, listed := f.credentials[mc.Provider]
	if !listed {
		pc = config.ProviderConfig{Name: string(mc.Provider), Type: string(mc.Provider)}
	}
	dedicated := mc.APIKey != "" || mc.BaseURL != ""
	if mc.APIKey != "" {
		pc.APIKey = mc.APIKey
	}
	if mc.BaseURL != "" {
		pc.BaseURL = mc.BaseURL
	}
	if !hasCredentials(mc.Provider, pc) {
		return nil, domain.NewDomainError(op, domain.ErrProviderUnconfigured, string(mc.Provider))
	}

	model := mc.ModelName
	if model == "" {
		model = pc.Model
	}
	if model == "" {
		model = defaultModels[mc.Provider]
	}

	var (
		provider domain.LLMProvider
		err      error
	)
	if dedicated {
		provider, err = f.build(ctor, pc)
	} else {
		provider, err = f.sharedProvider(mc.Provider, ctor, pc)
	}
	if err != nil {
		return nil, domain.NewDomainError(op, fmt.Errorf("%w: %v", domain.ErrConfiguration, err), string(mc.Provider))
	}

	return NewClient(provider, mc.Provider, model, mc.Temperature, mc.MaxTokens, f.logger), nil
}

// SupervisorClient resolves the supervisor model and its fallbacks. An empty
// provider picks the first configured one. Fallbacks that cannot be resolved
// are skipped.
func (f *Factory) SupervisorClient(sc config.SupervisorConfig) (domain.ModelClient, error) {
	primaryType := domain.ProviderType(sc.Provider)
	if sc.Provider == "" {
		configured := f.Configured()
		if len(configured) == 0 {
			return nil, domain.NewDomainError("llm.Factory.SupervisorClient", domain.ErrProviderUnconfigured, "no provider has credentials")
		}
		primaryType = configured[0]
	}

	primary, err := f.Resolve(domain.ModelConfiguration{
		Provider:    primaryType,
		ModelName:   sc.Model,
		Temperature: sc.Temperature,
		MaxTokens:   sc.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	if len(sc.Fallbacks) == 0 {
		return primary, nil
	}

	fallbacks := make([]domain.ModelClient, 0, len(sc.Fallbacks))
	for _, ref := range sc.Fallbacks {
		c, err := f.Resolve(domain.ModelConfiguration{
			Provider:    domain.ProviderType(ref.Provider),
			ModelName:   ref.Model,
			Temperature: sc.Temperature,
			MaxTokens:   sc.MaxTokens,
		})
		if err != nil {
			f.logger.Warn("skipping supervisor fallback", "provider", ref.Provider, "model", ref.Model, "error", err)
			continue
		}
		fallbacks = append(fallbacks, c)
	}
	return NewFailoverClient(primary, fallbacks, f.logger), nil
}

func (f *Factory) sharedProvider(t domain.ProviderType, ctor Constructor, pc config.ProviderConfig) (domain.LLMProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.shared[t]; ok {
		return p, nil
	}
	p, err := f.build(ctor, pc)
	if err != nil {
		return nil, err
	}
	f.shared[t] = p
	return p, nil
}

// build constructs a provider and wraps it with the configured resilience
// layers: rate limiting inside, circuit breaking outside.
func (f *Factory) build(ctor Constructor, pc config.ProviderConfig) (domain.LLMProvider, error) {
	p, err := ctor(pc, f.logger)
	if err != nil {
		return nil, err
	}
	if f.cfg.RateLimit.Enabled {
		p = NewRateLimitedProvider(p, f.cfg.RateLimit)
	}
	if f.cfg.CircuitBreaker.Enabled {
		p = NewCircuitBreakerProvider(p, f.cfg.CircuitBreaker, f.logger)
	}
	return p, nil
}

// hasCredentials reports whether pc is enough to reach provider t. Ollama is
// local and keyless; bedrock uses the AWS credential chain and needs a region.
func hasCredentials(t domain.ProviderType, pc config.ProviderConfig) bool {
	switch t {
	case domain.ProviderOllama:
		return true
	case domain.ProviderBedrock:
		return pc.Region != ""
	default:
		return pc.APIKey != ""
	}
}
