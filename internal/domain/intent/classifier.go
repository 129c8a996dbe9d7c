package intent

import (
	"context"

	"go.uber.org/zap"

	"github.com/Johnsonbros/Zeke-sub000/internal/domain/resilience"
)

// Hints carries the extra context the LLM classifier is given beyond the
// raw utterance: who sent it, and a short recent-conversation summary.
type Hints struct {
	SenderID      string
	RecentSummary string
}

// Provider is the LLM-backed classification contract. The request entry
// point only invokes it when the fast router's NeedsLLMFallback is true.
type Provider interface {
	Classify(ctx context.Context, utterance string, hints Hints) (ClassifiedIntent, error)
}

// Classifier wraps a Provider with the circuit breaker + retry layer and
// the "tolerate provider failure" fallback contract: if the provider call
// ultimately fails, the fast router's original classification is returned
// unchanged rather than propagating the error.
type Classifier struct {
	provider Provider
	breakers *resilience.Registry
	retry    resilience.RetryConfig
	logger   *zap.Logger
}

const circuitBreakerService = "intent_llm_classifier"

// NewClassifier wires provider behind the shared circuit breaker registry.
// Zero-valued retry config fields use resilience defaults; a nil logger is replaced
// with a no-op one.
func NewClassifier(provider Provider, breakers *resilience.Registry, retry resilience.RetryConfig, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{provider: provider, breakers: breakers, retry: retry, logger: logger}
}

// Refine invokes the LLM provider and returns its classification. On any
// failure — provider error, open circuit, retries exhausted — it falls
// back to fastResult untouched and logs the reason at Warn.
func (c *Classifier) Refine(ctx context.Context, utterance string, hints Hints, fastResult ClassifiedIntent) ClassifiedIntent {
	if c.provider == nil {
		return fastResult
	}

	var refined ClassifiedIntent
	err := resilience.WithRetry(ctx, c.breakers, circuitBreakerService, c.retry, func(ctx context.Context) error {
		result, callErr := c.provider.Classify(ctx, utterance, hints)
		if callErr != nil {
			return callErr
		}
		refined = result
		return nil
	})
	if err != nil {
		c.logger.Warn("intent llm fallback failed, using fast router result",
			zap.Error(err),
			zap.String("fast_category", string(fastResult.Category)),
			zap.String("fast_type", string(fastResult.Type)),
		)
		return fastResult
	}
	return refined
}
