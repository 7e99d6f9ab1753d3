package distribution

import (
	"context"
	"time"

	"letterdesk/internal/core"
	"letterdesk/internal/logger"
	"letterdesk/internal/persistence"
)

// ArticleSource lists articles published since a point in time.
type ArticleSource interface {
	Recent(ctx context.Context, since time.Time, limit int) ([]core.Article, error)
}

// LocalArticles reads articles from the relational store.
type LocalArticles struct {
	Repo persistence.ArticleRepository
}

// Recent returns locally stored articles, newest first.
func (l LocalArticles) Recent(ctx context.Context, since time.Time, limit int) ([]core.Article, error) {
	return l.Repo.GetRecent(ctx, since, limit)
}

// FallbackSource reads from Primary and switches to Secondary when the
// primary fails.
type FallbackSource struct {
	Primary   ArticleSource
	Secondary ArticleSource
}

// Recent implements ArticleSource.
func (f FallbackSource) Recent(ctx context.Context, since time.Time, limit int) ([]core.Article, error) {
	articles, err := f.Primary.Recent(ctx, since, limit)
	if err == nil || f.Secondary == nil {
		return articles, err
	}
	logger.Warn("Primary article source failed, using fallback", "error", err.Error())
	return f.Secondary.Recent(ctx, since, limit)
}
