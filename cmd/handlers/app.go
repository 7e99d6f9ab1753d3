package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"letterdesk/internal/activity"
	"letterdesk/internal/airtable"
	"letterdesk/internal/config"
	"letterdesk/internal/distribution"
	"letterdesk/internal/ingest"
	"letterdesk/internal/links"
	"letterdesk/internal/llm"
	"letterdesk/internal/logger"
	"letterdesk/internal/messaging"
	"letterdesk/internal/observability"
	"letterdesk/internal/persistence"
	"letterdesk/internal/resend"
	"letterdesk/internal/secrets"
)

// app holds the collaborators shared by the commands.
type app struct {
	cfg      *config.Config
	db       *persistence.GormDB
	box      *secrets.Box
	posthog  *observability.PostHogClient
	recorder *activity.Recorder
	links    *links.Service
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return newApp(ctx, cfg)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := persistence.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w\n\n"+
			"Make sure the database is reachable and run 'letterdesk migrate up' to initialize the schema.", err)
	}

	box, err := secrets.NewBox(cfg.Secrets.Key)
	if err != nil {
		db.Close()
		return nil, err
	}

	posthog, err := observability.NewPostHogClient(cfg.PostHog)
	if err != nil {
		logger.Warn("PostHog disabled", "error", err.Error())
		posthog = observability.Disabled()
	}

	return &app{
		cfg:      cfg,
		db:       db,
		box:      box,
		posthog:  posthog,
		recorder: activity.NewRecorder(db.Activity(), posthog),
		links:    links.NewService(db.ShortLinks(), cfg.Links.ShortBaseURL),
	}, nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.posthog.Shutdown(ctx); err != nil {
		logger.Warn("Failed to flush PostHog", "error", err.Error())
	}
	a.db.Close()
}

// credential prefers the configured value and falls back to a stored
// setting, opening it when it was sealed.
func (a *app) credential(ctx context.Context, configured, settingKey string) string {
	if configured != "" {
		return configured
	}
	s, err := a.db.Settings().Get(ctx, settingKey)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			logger.Warn("Failed to read credential setting", "key", settingKey, "error", err.Error())
		}
		return ""
	}
	value, err := a.box.Open(s.Value)
	if err != nil {
		logger.Warn("Failed to open credential setting", "key", settingKey, "error", err.Error())
		return ""
	}
	return value
}

func (a *app) mailer(ctx context.Context) (*resend.Client, error) {
	cfg := a.cfg.Resend
	cfg.APIKey = a.credential(ctx, cfg.APIKey, "resend_api_key")
	return resend.NewClient(cfg)
}

func (a *app) generator(ctx context.Context) (llm.Generator, error) {
	cfg := a.cfg.AI.Gemini
	cfg.APIKey = a.credential(ctx, cfg.APIKey, "gemini_api_key")
	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return llm.NewTracedGenerator(client, client.ModelName(), a.posthog), nil
}

// airtableStore returns nil when Airtable is not configured.
func (a *app) airtableStore(ctx context.Context) (*airtable.ArticleStore, error) {
	cfg := a.cfg.Airtable
	cfg.APIKey = a.credential(ctx, cfg.APIKey, "airtable_api_key")
	if !cfg.Enabled() {
		return nil, nil
	}
	client, err := airtable.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	cache := airtable.NewFieldCacheFor(client, config.Duration(cfg.CacheTTL, 15*time.Minute))
	return airtable.NewArticleStore(client, cache, cfg.Table), nil
}

// orchestrator builds the distribution orchestrator. Missing providers are
// logged and surface as errors when a run needs them.
func (a *app) orchestrator(ctx context.Context) (*distribution.Orchestrator, *resend.Client) {
	deps := distribution.Deps{
		DB:       a.db,
		Articles: distribution.LocalArticles{Repo: a.db.Articles()},
		Links:    a.links,
		Recorder: a.recorder,
		Notifier: messaging.NewMessagingClient(a.cfg.Messaging),
	}

	if store, err := a.airtableStore(ctx); err != nil {
		logger.Warn("Airtable unavailable, reading local articles", "error", err.Error())
	} else if store != nil {
		deps.Articles = distribution.FallbackSource{Primary: store, Secondary: deps.Articles}
	}

	if gen, err := a.generator(ctx); err != nil {
		logger.Warn("AI generation unavailable", "error", err.Error())
	} else {
		deps.Generator = gen
	}

	mailer, err := a.mailer(ctx)
	if err != nil {
		logger.Warn("Email delivery unavailable", "error", err.Error())
	} else {
		deps.Mailer = mailer
	}

	return distribution.New(deps, distribution.OptionsFromConfig(a.cfg.Distribution, a.cfg.App.BaseURL)), mailer
}

// ingester builds the feed ingestion runner, writing to Airtable first when
// configured.
func (a *app) ingester(ctx context.Context) *ingest.Runner {
	var store ingest.ArticleStore = ingest.LocalStore{Repo: a.db.Articles()}
	if at, err := a.airtableStore(ctx); err != nil {
		logger.Warn("Airtable unavailable, storing articles locally", "error", err.Error())
	} else if at != nil {
		store = ingest.FallbackStore{Primary: at, Secondary: store}
	}
	return ingest.NewHTTPRunner(a.db, store, a.recorder, a.cfg.Ingestion)
}
