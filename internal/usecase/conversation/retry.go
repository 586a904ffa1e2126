package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"chorus/internal/domain"
	"chorus/internal/infra/config"
)

// maxRetryInterval caps a single backoff wait.
const maxRetryInterval = time.Minute

// RetryPolicy is the bounded exponential backoff applied to supervisor calls.
// MaxRetries counts retries after the first attempt.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
}

// RetryPolicyFromConfig converts the config section, defaulting the multiplier to 2.
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	p := RetryPolicy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialDelay,
		Multiplier:   cfg.Multiplier,
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	return p
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         maxRetryInterval,
	}
}

// Delays returns the wait before each retry, in order.
func (p RetryPolicy) Delays() []time.Duration {
	b := p.backOff()
	b.Reset()
	out := make([]time.Duration, p.MaxRetries)
	for i := range out {
		out[i] = b.NextBackOff()
	}
	return out
}

// retryStructured runs call under p. Schema failures and transport failures
// are logged separately; errors that cannot succeed on a retry stop early.
func retryStructured[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, op string, call func(context.Context) (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := call(ctx)
		if err == nil {
			return v, nil
		}

		if errors.Is(err, domain.ErrStructuredOutput) {
			logger.Warn("supervisor returned unusable output",
				"op", op, "attempt", attempt, "error", err)
		} else {
			logger.Warn("supervisor call failed",
				"op", op, "attempt", attempt, "error", err, "code", domain.ErrorCodeOf(err))
		}

		if permanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
	)
}

// permanent reports errors that another attempt cannot fix.
func permanent(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, domain.ErrAuthInvalid) ||
		errors.Is(err, domain.ErrContextOverflow) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		domain.IsConfigurationError(err)
}
