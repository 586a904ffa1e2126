package multiagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"chorus/internal/domain"
)

func testLogger() *slog.Logger { return slog.Default() }

type stubClient struct{ model string }

func (c *stubClient) Invoke(context.Context, []domain.Message, string, domain.InvokeOptions) (string, error) {
	return c.model, nil
}

func (c *stubClient) InvokeStructured(context.Context, []domain.Message, string, json.RawMessage, any, domain.InvokeOptions) error {
	return nil
}

// stubResolver fails for providers listed in missing.
type stubResolver struct {
	missing map[domain.ProviderType]bool
}

func (r stubResolver) Resolve(cfg domain.ModelConfiguration) (domain.ModelClient, error) {
	if r.missing[cfg.Provider] {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderUnconfigured, cfg.Provider)
	}
	return &stubClient{model: cfg.ModelName}, nil
}

func makePersona(id, name string, provider domain.ProviderType) domain.AgentPersona {
	return domain.AgentPersona{
		AgentID: id,
		Name:    name,
		Model:   domain.ModelConfiguration{Provider: provider, ModelName: "test-" + id},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(stubResolver{}, testLogger())
	if err := r.Register(makePersona("coach", "Coach", domain.ProviderOpenAI)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := r.Get("coach")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Persona.Name != "Coach" {
		t.Errorf("Name = %q, want %q", got.Persona.Name, "Coach")
	}
	if got.Client == nil {
		t.Fatal("expected a bound client")
	}
	if out, _ := got.Client.Invoke(context.Background(), nil, "", domain.InvokeOptions{}); out != "test-coach" {
		t.Errorf("client bound to %q, want test-coach", out)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry(stubResolver{}, testLogger())
	p := makePersona("coach", "Coach", domain.ProviderOpenAI)
	if err := r.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := r.Register(p)
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	if domain.ErrorCodeOf(err) != domain.CodeAgentDuplicate {
		t.Errorf("code = %s, want %s", domain.ErrorCodeOf(err), domain.CodeAgentDuplicate)
	}
}

func TestRegistryUnconfiguredProvider(t *testing.T) {
	r := NewRegistry(stubResolver{missing: map[domain.ProviderType]bool{domain.ProviderGemini: true}}, testLogger())

	err := r.Register(makePersona("coach", "Coach", domain.ProviderGemini))
	if !domain.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after failed register, want 0", r.Len())
	}
}

func TestRegistryToolCallingMode(t *testing.T) {
	r := NewRegistry(stubResolver{}, testLogger(), WithToolCalling())

	if err := r.Register(makePersona("a", "A", domain.ProviderAnthropic)); err != nil {
		t.Fatalf("anthropic should be accepted: %v", err)
	}
	err := r.Register(makePersona("b", "B", domain.ProviderOllama))
	if !errors.Is(err, domain.ErrProviderUnsupported) {
		t.Fatalf("expected ErrProviderUnsupported, got %v", err)
	}
	if !domain.IsConfigurationError(err) {
		t.Error("unsupported provider should be a configuration error")
	}
}

func TestRegistryGetNotFound(t *testing.T) {
	r := NewRegistry(stubResolver{}, testLogger())
	_, err := r.Get("ghost")
	if !errors.Is(err, domain.ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestRegistryUnregisterRemovesBoth(t *testing.T) {
	r := NewRegistry(stubResolver{}, testLogger())
	for _, p := range []domain.AgentPersona{
		makePersona("a", "A", domain.ProviderOpenAI),
		makePersona("b", "B", domain.ProviderOpenAI),
		makePersona("c", "C", domain.ProviderOpenAI),
	} {
		if err := r.Register(p); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	if err := r.Unregister("b"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, err := r.Get("b"); !errors.Is(err, domain.ErrAgentNotFound) {
		t.Errorf("Get after Unregister: %v", err)
	}
	roster := r.Roster()
	if len(roster) != 2 || roster[0].ID != "a" || roster[1].ID != "c" {
		t.Errorf("Roster = %+v, want [a c]", roster)
	}
	if err := r.Unregister("b"); !errors.Is(err, domain.ErrAgentNotFound) {
		t.Errorf("second Unregister: %v", err)
	}
}

func TestRegistryRosterOrder(t *testing.T) {
	r := NewRegistry(stubResolver{}, testLogger())
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(makePersona(id, id, domain.ProviderOpenAI)); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	roster := r.Roster()
	for i, want := range []string{"zeta", "alpha", "mid"} {
		if roster[i].ID != want {
			t.Errorf("roster[%d] = %q, want %q", i, roster[i].ID, want)
		}
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(stubResolver{}, testLogger())
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("agent-%d", n)
			_ = r.Register(makePersona(id, id, domain.ProviderOpenAI))
			_, _ = r.Get(id)
			_ = r.Roster()
		}(i)
	}
	wg.Wait()
	if r.Len() != 20 {
		t.Errorf("Len = %d, want 20", r.Len())
	}
}
