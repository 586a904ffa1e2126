package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"chorus/internal/domain"
)

// InvokeStructured implements domain.ModelClient. The model is asked for a
// JSON object; the reply is unwrapped, validated against schema and decoded
// into out. Any mismatch is reported as domain.ErrStructuredOutput.
func (c *Client) InvokeStructured(ctx context.Context, messages []domain.Message, systemPrompt string, schema json.RawMessage, out any, opts domain.InvokeOptions) error {
	compiled, err := c.schemas.get(schema)
	if err != nil {
		return err
	}

	prompt := joinNonEmpty(systemPrompt,
		"Respond with a single JSON object that matches this JSON Schema:\n"+string(schema))
	format := &domain.ResponseFormat{Type: "json_object", Schema: schema}

	resp, err := c.provider.Chat(ctx, c.request(messages, prompt, opts, format))
	if err != nil {
		return err
	}

	raw := extractJSONObject(resp.Message.Content)
	if raw == "" {
		return fmt.Errorf("%w: %w", domain.ErrStructuredOutput, domain.ErrEmptyResponse)
	}

	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v (raw: %s)", domain.ErrStructuredOutput, err, truncate(raw, 200))
	}
	if result := compiled.Validate(parsed); !result.IsValid() {
		return fmt.Errorf("%w: %s", domain.ErrStructuredOutput, result.Error())
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: decode: %v", domain.ErrStructuredOutput, err)
	}
	return nil
}

// schemaCache compiles each distinct schema once.
type schemaCache struct {
	mu       sync.Mutex
	compiler *jsonschema.Compiler
	compiled map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{
		compiler: jsonschema.NewCompiler(),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

func (s *schemaCache) get(schema json.RawMessage) (*jsonschema.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(schema)
	if compiled, ok := s.compiled[key]; ok {
		return compiled, nil
	}
	compiled, err := s.compiler.Compile(schema)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid schema: %v", domain.ErrInvalidInput, err)
	}
	s.compiled[key] = compiled
	return compiled, nil
}

// codeFenceRe matches markdown code fences wrapping JSON.
var codeFenceRe = regexp.MustCompile(`(?si)^` + "```" + `(?:json)?\s*(.*?)\s*` + "```" + `$`)

// stripCodeFences removes markdown code fences if the model wrapped its output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// extractJSONObject trims fences and any prose around the outermost object.
func extractJSONObject(s string) string {
	s = stripCodeFences(s)
	if strings.HasPrefix(s, "{") {
		return s
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
