package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"chorus/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(n int) *int { return &n }

// fakeSupervisor scripts the supervisor's structured and free-form calls.
// Each script entry is either a value to decode into the caller's target or
// an error; the last entry repeats once the script runs out.
type fakeSupervisor struct {
	mu         sync.Mutex
	selections []any
	decisions  []any
	summary    string
	summaryErr error

	selectCalls  int
	decideCalls  int
	summaryCalls int
	prompts      []string
}

func (f *fakeSupervisor) Invoke(ctx context.Context, _ []domain.Message, _ string, _ domain.InvokeOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaryCalls++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.summary, f.summaryErr
}

func (f *fakeSupervisor) InvokeStructured(ctx context.Context, msgs []domain.Message, system string, _ json.RawMessage, out any, _ domain.InvokeOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msgs) > 0 {
		f.prompts = append(f.prompts, msgs[len(msgs)-1].Content)
	}

	switch system {
	case selectorInstruction:
		f.selectCalls++
		return decodeScript(f.selections, f.selectCalls, out)
	case terminationInstruction:
		f.decideCalls++
		return decodeScript(f.decisions, f.decideCalls, out)
	default:
		return errors.New("unexpected system prompt")
	}
}

func decodeScript(script []any, call int, out any) error {
	if len(script) == 0 {
		return domain.ErrServerError
	}
	v := script[min(call, len(script))-1]
	if err, ok := v.(error); ok {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakeSupervisor) counts() (selects, decides, summaries int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selectCalls, f.decideCalls, f.summaryCalls
}

// fakeAgent replays replies in order; the last reply repeats.
type fakeAgent struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	seen    [][]domain.Message
	opts    []domain.InvokeOptions
	systems []string
	block   bool
	// panicOn makes the given call (1-based) panic with panicMsg.
	panicOn  int
	panicMsg string
}

func (a *fakeAgent) Invoke(ctx context.Context, msgs []domain.Message, system string, opts domain.InvokeOptions) (string, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.seen = append(a.seen, append([]domain.Message(nil), msgs...))
	a.opts = append(a.opts, opts)
	a.systems = append(a.systems, system)
	block := a.block
	a.mu.Unlock()

	if a.panicOn != 0 && call == a.panicOn {
		panic(a.panicMsg)
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if call <= len(a.errs) && a.errs[call-1] != nil {
		return "", a.errs[call-1]
	}
	if len(a.replies) == 0 {
		return "", nil
	}
	return a.replies[min(call, len(a.replies))-1], nil
}

func (a *fakeAgent) InvokeStructured(context.Context, []domain.Message, string, json.RawMessage, any, domain.InvokeOptions) error {
	return errors.New("agents do not produce structured output")
}

func (a *fakeAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// fakeResolver binds personas by model name.
type fakeResolver struct {
	mu      sync.Mutex
	clients map[string]*fakeAgent
	errs    map[string]error
}

func (r *fakeResolver) Resolve(mc domain.ModelConfiguration) (domain.ModelClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errs[mc.ModelName]; err != nil {
		return nil, err
	}
	c, ok := r.clients[mc.ModelName]
	if !ok {
		return nil, domain.ErrProviderUnconfigured
	}
	return c, nil
}

func persona(id, name string) domain.AgentPersona {
	return domain.AgentPersona{
		AgentID:         id,
		Name:            name,
		Prompt:          "Help the user.",
		Characteristics: name + " characteristics",
		Model:           domain.ModelConfiguration{Provider: domain.ProviderOpenAI, ModelName: id + "-model"},
	}
}

func roster(entries ...domain.AgentPersona) []domain.RosterEntry {
	out := make([]domain.RosterEntry, len(entries))
	for i, p := range entries {
		out[i] = p.RosterEntry()
	}
	return out
}

func userMsg(content string) domain.Message {
	return domain.Message{Role: domain.RoleUser, Content: content, Speaker: "User"}
}

func agentMsg(id, name, content string) domain.Message {
	return domain.Message{Role: domain.RoleAssistant, Content: content, AgentID: id, Speaker: name}
}

// fastRetry retries without waiting.
var fastRetry = RetryPolicy{MaxRetries: 2, InitialDelay: 0, Multiplier: 2}
