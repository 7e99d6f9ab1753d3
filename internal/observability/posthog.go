// Package observability wraps the PostHog SDK for product analytics.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/posthog/posthog-go"

	"letterdesk/internal/config"
	"letterdesk/internal/logger"
)

// PostHogClient wraps the PostHog SDK for product analytics
type PostHogClient struct {
	client  posthog.Client
	enabled bool
	log     *slog.Logger
}

// EventProperties contains properties for an event
type EventProperties map[string]interface{}

// NewPostHogClient creates a PostHog client. An empty API key yields a
// disabled client whose methods are no-ops.
func NewPostHogClient(cfg config.PostHog) (*PostHogClient, error) {
	if cfg.APIKey == "" {
		return Disabled(), nil
	}

	client, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{
		Endpoint: cfg.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create PostHog client: %w", err)
	}

	return &PostHogClient{
		client:  client,
		enabled: true,
		log:     logger.Get(),
	}, nil
}

// Disabled returns a client that records nothing.
func Disabled() *PostHogClient {
	return &PostHogClient{log: logger.Get()}
}

// IsEnabled returns whether PostHog tracking is enabled
func (p *PostHogClient) IsEnabled() bool {
	return p != nil && p.enabled
}

// Capture sends an event to PostHog
func (p *PostHogClient) Capture(ctx context.Context, distinctID string, event string, properties EventProperties) error {
	if !p.IsEnabled() {
		return nil
	}

	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}

	return p.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: props,
	})
}

// TrackActivity mirrors an activity record as a product event.
func (p *PostHogClient) TrackActivity(ctx context.Context, sequenceID, event, status string, metadata map[string]any) error {
	props := EventProperties{"status": status}
	if sequenceID != "" {
		props["sequence_id"] = sequenceID
	}
	for k, v := range metadata {
		props[k] = v
	}
	return p.Capture(ctx, "system", event, props)
}

// TrackLinkClick tracks a short link or redirect traversal.
func (p *PostHogClient) TrackLinkClick(ctx context.Context, code, target string) error {
	return p.Capture(ctx, "system", "link_clicked", EventProperties{
		"short_code": code,
		"target":     target,
	})
}

// TrackLLMCall tracks LLM API calls for cost and performance monitoring
func (p *PostHogClient) TrackLLMCall(ctx context.Context, model string, operation string, tokens int, latencyMs int64, failed bool) error {
	return p.Capture(ctx, "system", "llm_call", EventProperties{
		"model":      model,
		"operation":  operation,
		"tokens":     tokens,
		"latency_ms": latencyMs,
		"failed":     failed,
	})
}

// Shutdown flushes pending events and closes the client.
func (p *PostHogClient) Shutdown(ctx context.Context) error {
	if !p.IsEnabled() {
		return nil
	}

	if err := p.client.Close(); err != nil {
		p.log.Warn("Failed to flush PostHog events", "error", err)
		return err
	}
	return nil
}
