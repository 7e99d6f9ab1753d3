// Package ingest polls RSS/Atom feeds and stores new articles.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"letterdesk/internal/activity"
	"letterdesk/internal/config"
	"letterdesk/internal/core"
	"letterdesk/internal/links"
	"letterdesk/internal/logger"
	"letterdesk/internal/persistence"
)

// ArticleStore is where ingested articles are written.
type ArticleStore interface {
	ExistsByLink(ctx context.Context, canonical string) (bool, error)
	Save(ctx context.Context, articles []core.Article) ([]core.Article, error)
}

// Fetcher loads a feed.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) (string, []FeedItem, error)
}

// PageEnricher completes an article from its web page.
type PageEnricher interface {
	Enrich(ctx context.Context, article *core.Article) error
}

// Options tunes a Runner.
type Options struct {
	SeedFeeds       []string
	MaxAge          time.Duration
	MaxItemsPerFeed int
	Concurrency     int
	Enrich          bool
}

// OptionsFromConfig maps the ingestion config section onto Options.
func OptionsFromConfig(cfg config.Ingestion) Options {
	return Options{
		SeedFeeds:       cfg.Feeds,
		MaxAge:          config.Duration(cfg.MaxAge, 7*24*time.Hour),
		MaxItemsPerFeed: cfg.MaxItemsPerFeed,
		Concurrency:     cfg.Concurrency,
		Enrich:          cfg.Enrich,
	}
}

// Report summarizes one ingestion run.
type Report struct {
	Feeds      int `json:"feeds"`
	FeedErrors int `json:"feed_errors"`
	Items      int `json:"items"`
	Old        int `json:"old"`
	Duplicates int `json:"duplicates"`
	Saved      int `json:"saved"`
}

// Runner performs ingestion runs.
type Runner struct {
	db       persistence.Database
	store    ArticleStore
	fetcher  Fetcher
	enricher PageEnricher
	recorder *activity.Recorder
	opts     Options
	log      *slog.Logger
	now      func() time.Time
}

// NewRunner creates a runner. A nil store writes to the local article
// table; a nil enricher disables page enrichment.
func NewRunner(db persistence.Database, store ArticleStore, fetcher Fetcher, enricher PageEnricher, recorder *activity.Recorder, opts Options) *Runner {
	if store == nil {
		store = LocalStore{Repo: db.Articles()}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Runner{
		db:       db,
		store:    store,
		fetcher:  fetcher,
		enricher: enricher,
		recorder: recorder,
		opts:     opts,
		log:      logger.Get().With("component", "ingest"),
		now:      time.Now,
	}
}

// NewHTTPRunner wires a runner with the HTTP feed fetcher and enricher.
func NewHTTPRunner(db persistence.Database, store ArticleStore, recorder *activity.Recorder, cfg config.Ingestion) *Runner {
	client := &http.Client{Timeout: config.Duration(cfg.Timeout, 30*time.Second)}
	var enricher PageEnricher
	if cfg.Enrich {
		enricher = NewEnricher(client, cfg.UserAgent)
	}
	return NewRunner(db, store, NewFeedFetcher(client, cfg.UserAgent), enricher, recorder, OptionsFromConfig(cfg))
}

type fetched struct {
	feed core.Feed
	item FeedItem
}

// Run fetches every active feed and stores articles that are new.
func (r *Runner) Run(ctx context.Context) (report *Report, err error) {
	report = &Report{}
	r.recorder.Record(ctx, "", activity.IngestionStarted, core.StatusInfo, "Ingestion started", nil)
	defer func() {
		if err != nil {
			r.recorder.Record(ctx, "", activity.IngestionFailed, core.StatusError, "Ingestion failed",
				map[string]any{"error": err.Error()})
		}
	}()

	if err = r.seedFeeds(ctx); err != nil {
		return report, err
	}
	feeds, err := r.db.Feeds().ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list feeds: %w", err)
	}
	report.Feeds = len(feeds)

	items := r.fetchAll(ctx, feeds, report)
	if report.Feeds > 0 && report.FeedErrors == report.Feeds {
		return report, fmt.Errorf("all %d feeds failed", report.Feeds)
	}

	candidates, err := r.selectNew(ctx, items, report)
	if err != nil {
		return report, err
	}
	if r.opts.Enrich && r.enricher != nil {
		r.enrichAll(ctx, candidates)
	}

	if len(candidates) > 0 {
		saved, serr := r.store.Save(ctx, candidates)
		if serr != nil {
			return report, fmt.Errorf("failed to save articles: %w", serr)
		}
		report.Saved = len(saved)
	}

	r.recorder.Record(ctx, "", activity.IngestionCompleted, core.StatusSuccess,
		fmt.Sprintf("Ingested %d new articles", report.Saved), map[string]any{
			"feeds":       report.Feeds,
			"feed_errors": report.FeedErrors,
			"items":       report.Items,
			"duplicates":  report.Duplicates,
			"old":         report.Old,
			"saved":       report.Saved,
		})
	return report, nil
}

// seedFeeds makes sure every configured feed URL has a row.
func (r *Runner) seedFeeds(ctx context.Context) error {
	for _, u := range r.opts.SeedFeeds {
		if u == "" {
			continue
		}
		_, err := r.db.Feeds().GetByURL(ctx, u)
		if err == nil {
			continue
		}
		if !errors.Is(err, persistence.ErrNotFound) {
			return fmt.Errorf("failed to look up feed %s: %w", u, err)
		}
		if err := r.db.Feeds().Create(ctx, &core.Feed{URL: u, Active: true}); err != nil && !errors.Is(err, persistence.ErrDuplicate) {
			return fmt.Errorf("failed to add feed %s: %w", u, err)
		}
	}
	return nil
}

// fetchAll polls feeds concurrently. A failing feed is recorded on its row
// and does not stop the others.
func (r *Runner) fetchAll(ctx context.Context, feeds []core.Feed, report *Report) []fetched {
	var (
		mu  sync.Mutex
		out []fetched
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for _, feed := range feeds {
		feed := feed
		g.Go(func() error {
			title, items, err := r.fetcher.Fetch(gctx, feed.URL)

			mu.Lock()
			defer mu.Unlock()
			if err == nil && feed.Title == "" && title != "" {
				feed.Title = title
				if uerr := r.db.Feeds().Update(gctx, &feed); uerr != nil {
					r.log.Warn("Failed to store feed title", "feed", feed.URL, "error", uerr.Error())
				}
			}
			if rerr := r.db.Feeds().RecordFetch(gctx, feed.ID, r.now(), err); rerr != nil {
				r.log.Warn("Failed to record feed fetch", "feed", feed.URL, "error", rerr.Error())
			}
			if err != nil {
				report.FeedErrors++
				r.log.Warn("Feed fetch failed", "feed", feed.URL, "error", err.Error())
				return nil
			}
			if r.opts.MaxItemsPerFeed > 0 && len(items) > r.opts.MaxItemsPerFeed {
				items = items[:r.opts.MaxItemsPerFeed]
			}
			for _, it := range items {
				out = append(out, fetched{feed: feed, item: it})
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Items = len(out)
	return out
}

// selectNew drops old items and items whose canonical link is already
// stored or repeated within this run.
func (r *Runner) selectNew(ctx context.Context, items []fetched, report *Report) ([]core.Article, error) {
	cutoff := time.Time{}
	if r.opts.MaxAge > 0 {
		cutoff = r.now().Add(-r.opts.MaxAge)
	}

	seen := make(map[string]bool, len(items))
	var out []core.Article
	for _, f := range items {
		published := f.item.Published
		if published.IsZero() {
			published = r.now().UTC()
		}
		if !cutoff.IsZero() && published.Before(cutoff) {
			report.Old++
			continue
		}

		canonical := links.CanonicalLink(f.item.Link)
		if seen[canonical] {
			report.Duplicates++
			continue
		}
		seen[canonical] = true

		exists, err := r.store.ExistsByLink(ctx, canonical)
		if err != nil {
			return nil, fmt.Errorf("failed to check for duplicate %s: %w", canonical, err)
		}
		if exists {
			report.Duplicates++
			continue
		}

		out = append(out, core.Article{
			ID:            uuid.NewString(),
			Title:         f.item.Title,
			Summary:       f.item.Summary,
			Link:          f.item.Link,
			CanonicalLink: canonical,
			ImageURL:      f.item.ImageURL,
			Category:      f.feed.Category,
			Creator:       firstNonEmpty(f.item.Creator, f.feed.Title),
			FeedID:        f.feed.ID,
			PublishedDate: published,
		})
	}
	return out, nil
}

func (r *Runner) enrichAll(ctx context.Context, articles []core.Article) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i := range articles {
		a := &articles[i]
		if a.Summary != "" && a.ImageURL != "" {
			continue
		}
		g.Go(func() error {
			if err := r.enricher.Enrich(gctx, a); err != nil {
				r.log.Debug("Article enrichment failed", "url", a.Link, "error", err.Error())
			}
			return nil
		})
	}
	_ = g.Wait()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
