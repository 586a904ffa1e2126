package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"chorus/internal/domain"
)

var _ domain.ModelClient = (*FailoverClient)(nil)

// FailoverClient tries a primary model client and then each fallback in
// order. It backs the supervisor, where every fallback may be a different
// provider and model.
type FailoverClient struct {
	primary   domain.ModelClient
	fallbacks []domain.ModelClient
	logger    *slog.Logger
}

// NewFailoverClient creates a failover-capable client.
func NewFailoverClient(primary domain.ModelClient, fallbacks []domain.ModelClient, logger *slog.Logger) *FailoverClient {
	return &FailoverClient{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger,
	}
}

// Invoke implements domain.ModelClient.
func (f *FailoverClient) Invoke(ctx context.Context, messages []domain.Message, systemPrompt string, opts domain.InvokeOptions) (string, error) {
	var out string
	err := f.each(ctx, func(c domain.ModelClient) error {
		var err error
		out, err = c.Invoke(ctx, messages, systemPrompt, opts)
		return err
	})
	return out, err
}

// InvokeStructured implements domain.ModelClient.
func (f *FailoverClient) InvokeStructured(ctx context.Context, messages []domain.Message, systemPrompt string, schema json.RawMessage, out any, opts domain.InvokeOptions) error {
	return f.each(ctx, func(c domain.ModelClient) error {
		return c.InvokeStructured(ctx, messages, systemPrompt, schema, out, opts)
	})
}

// each runs call against the primary and then the fallbacks until one
// succeeds. The joined error keeps every sentinel visible to errors.Is.
func (f *FailoverClient) each(ctx context.Context, call func(domain.ModelClient) error) error {
	err := call(f.primary)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || len(f.fallbacks) == 0 {
		return err
	}
	f.logger.Warn("primary model failed, trying fallbacks", "error", err)

	errs := []error{fmt.Errorf("primary: %w", err)}
	for i, fb := range f.fallbacks {
		err = call(fb)
		if err == nil {
			f.logger.Info("failover succeeded", "fallback", i)
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		f.logger.Warn("fallback model failed", "fallback", i, "error", err)
		errs = append(errs, fmt.Errorf("fallback %d: %w", i, err))
	}
	return fmt.Errorf("all models failed: %w", errors.Join(errs...))
}
