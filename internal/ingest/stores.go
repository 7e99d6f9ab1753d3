package ingest

import (
	"context"
	"errors"

	"letterdesk/internal/core"
	"letterdesk/internal/logger"
	"letterdesk/internal/persistence"
)

// LocalStore writes articles to the relational article table.
type LocalStore struct {
	Repo persistence.ArticleRepository
}

// ExistsByLink implements ArticleStore.
func (s LocalStore) ExistsByLink(ctx context.Context, canonical string) (bool, error) {
	_, err := s.Repo.GetByCanonicalLink(ctx, canonical)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, persistence.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Save inserts each article, skipping ones that already exist.
func (s LocalStore) Save(ctx context.Context, articles []core.Article) ([]core.Article, error) {
	saved := make([]core.Article, 0, len(articles))
	for i := range articles {
		a := articles[i]
		if err := s.Repo.Create(ctx, &a); err != nil {
			if errors.Is(err, persistence.ErrDuplicate) {
				continue
			}
			return saved, err
		}
		saved = append(saved, a)
	}
	return saved, nil
}

// FallbackStore writes to Primary and falls back to Secondary when the
// primary write fails. Duplicate checks consult both.
type FallbackStore struct {
	Primary   ArticleStore
	Secondary ArticleStore
}

// ExistsByLink implements ArticleStore.
func (s FallbackStore) ExistsByLink(ctx context.Context, canonical string) (bool, error) {
	exists, err := s.Primary.ExistsByLink(ctx, canonical)
	if err != nil {
		logger.Warn("Primary duplicate check failed, using fallback", "error", err.Error())
	} else if exists {
		return true, nil
	}
	return s.Secondary.ExistsByLink(ctx, canonical)
}

// Save implements ArticleStore.
func (s FallbackStore) Save(ctx context.Context, articles []core.Article) ([]core.Article, error) {
	saved, err := s.Primary.Save(ctx, articles)
	if err == nil {
		return saved, nil
	}
	logger.Warn("Primary article store failed, writing locally", "error", err.Error(), "articles", len(articles))

	// Records the primary already accepted are not written twice.
	done := make(map[string]bool, len(saved))
	for _, a := range saved {
		done[a.CanonicalLink] = true
	}
	rest := make([]core.Article, 0, len(articles)-len(saved))
	for _, a := range articles {
		if !done[a.CanonicalLink] {
			rest = append(rest, a)
		}
	}
	more, serr := s.Secondary.Save(ctx, rest)
	return append(saved, more...), serr
}
