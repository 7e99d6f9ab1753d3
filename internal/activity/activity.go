// Package activity records distribution and ingestion events.
package activity

import (
	"context"
	"log/slog"

	"letterdesk/internal/core"
	"letterdesk/internal/logger"
	"letterdesk/internal/observability"
	"letterdesk/internal/persistence"
)

// Distribution events.
const (
	DistributionStarted   = "distribution_started"
	ArticlesFetched       = "articles_fetched"
	DistributionSkipped   = "distribution_skipped"
	ContentGenerated      = "content_generated"
	Sending               = "sending"
	DistributionCompleted = "distribution_completed"
	DistributionFailed    = "distribution_failed"
)

// Ingestion events.
const (
	IngestionStarted   = "ingestion_started"
	IngestionCompleted = "ingestion_completed"
	IngestionFailed    = "ingestion_failed"
)

// Recorder writes each event to the activity table, the structured log and,
// when enabled, PostHog.
type Recorder struct {
	repo    persistence.ActivityRepository
	posthog *observability.PostHogClient
	log     *slog.Logger
}

// NewRecorder creates a recorder. repo and posthog may be nil.
func NewRecorder(repo persistence.ActivityRepository, posthog *observability.PostHogClient) *Recorder {
	return &Recorder{repo: repo, posthog: posthog, log: logger.Get()}
}

// Record stores one event. Storage failures are logged, never returned:
// losing an activity row must not abort the run that produced it.
func (r *Recorder) Record(ctx context.Context, sequenceID, event, status, message string, metadata map[string]any) {
	if r == nil {
		return
	}

	attrs := []any{"event", event, "status", status}
	if sequenceID != "" {
		attrs = append(attrs, "sequence_id", sequenceID)
	}
	for k, v := range metadata {
		attrs = append(attrs, k, v)
	}
	switch status {
	case core.StatusError:
		r.log.Error(message, attrs...)
	case core.StatusWarning:
		r.log.Warn(message, attrs...)
	default:
		r.log.Info(message, attrs...)
	}

	if r.repo != nil {
		entry := &core.ActivityLog{
			SequenceID: core.StringPtr(sequenceID),
			Event:      event,
			Status:     status,
			Message:    message,
			Metadata:   metadata,
		}
		if err := r.repo.Create(ctx, entry); err != nil {
			r.log.Error("Failed to store activity", "event", event, "error", err.Error())
		}
	}

	if err := r.posthog.TrackActivity(ctx, sequenceID, event, status, metadata); err != nil {
		r.log.Warn("Failed to track activity", "event", event, "error", err.Error())
	}
}
