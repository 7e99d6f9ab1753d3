package llm

import (
	"context"
	"time"

	"letterdesk/internal/observability"
)

// TracedGenerator wraps a Generator and reports each call to PostHog.
type TracedGenerator struct {
	next    Generator
	model   string
	posthog *observability.PostHogClient
}

// NewTracedGenerator wraps next. A nil or disabled PostHog client makes
// the wrapper transparent.
func NewTracedGenerator(next Generator, model string, posthog *observability.PostHogClient) *TracedGenerator {
	return &TracedGenerator{next: next, model: model, posthog: posthog}
}

// GenerateNewsletter calls the wrapped generator and tracks latency.
func (tg *TracedGenerator) GenerateNewsletter(ctx context.Context, req Request) (map[string]any, error) {
	if !tg.posthog.IsEnabled() {
		return tg.next.GenerateNewsletter(ctx, req)
	}

	startTime := time.Now()
	result, err := tg.next.GenerateNewsletter(ctx, req)
	latencyMs := time.Since(startTime).Milliseconds()

	_ = tg.posthog.TrackLLMCall(ctx, tg.model, "newsletter_generation", estimateTokens(req.SystemPrompt+req.UserPrompt), latencyMs, err != nil)

	return result, err
}

// estimateTokens approximates prompt size at four characters per token.
func estimateTokens(prompt string) int {
	return len(prompt) / 4
}
