// Package persistence provides database abstraction interfaces for articles,
// short links, sequences, templates, activity and settings.
package persistence

import (
	"context"
	"errors"
	"time"

	"letterdesk/internal/core"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write violates a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// ArticleRepository handles locally stored articles
type ArticleRepository interface {
	// Create inserts a new article, assigning an ID when empty
	Create(ctx context.Context, article *core.Article) error

	// Get retrieves an article by ID
	Get(ctx context.Context, id string) (*core.Article, error)

	// GetByCanonicalLink retrieves an article by its dedup key
	GetByCanonicalLink(ctx context.Context, canonical string) (*core.Article, error)

	// List retrieves articles with pagination
	List(ctx context.Context, opts ListOptions) ([]core.Article, error)

	// GetRecent retrieves articles published at or after since, newest first
	GetRecent(ctx context.Context, since time.Time, limit int) ([]core.Article, error)

	// Delete removes an article by ID
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored articles
	Count(ctx context.Context) (int64, error)
}

// ShortLinkRepository handles short link persistence
type ShortLinkRepository interface {
	// FindByTarget finds the link for an exact (target, article, sequence) triple.
	// A nil pointer matches only a NULL column.
	FindByTarget(ctx context.Context, targetURL string, articleID, sequenceID *string) (*core.ShortLink, error)

	// GetByCode retrieves a link by its short code
	GetByCode(ctx context.Context, code string) (*core.ShortLink, error)

	// Create inserts a new link; ErrDuplicate on code collision
	Create(ctx context.Context, link *core.ShortLink) error

	// IncrementClicks adds one click to the link with the given code
	IncrementClicks(ctx context.Context, code string) error

	// List retrieves links with pagination
	List(ctx context.Context, opts ListOptions) ([]core.ShortLink, error)

	// Stats returns aggregate link counters
	Stats(ctx context.Context) (LinkStats, error)
}

// SequenceRepository handles newsletter sequences
type SequenceRepository interface {
	Create(ctx context.Context, seq *core.Sequence) error
	Get(ctx context.Context, id string) (*core.Sequence, error)
	List(ctx context.Context, opts ListOptions) ([]core.Sequence, error)
	ListActive(ctx context.Context) ([]core.Sequence, error)
	Update(ctx context.Context, seq *core.Sequence) error
	Delete(ctx context.Context, id string) error

	// MarkSent records a successful distribution time
	MarkSent(ctx context.Context, id string, at time.Time) error
}

// TemplateRepository handles newsletter templates.
// At most one template is flagged default; writes that set the flag clear it
// on every other row inside the same transaction.
type TemplateRepository interface {
	Create(ctx context.Context, tpl *core.NewsletterTemplate) error
	Get(ctx context.Context, id string) (*core.NewsletterTemplate, error)
	List(ctx context.Context) ([]core.NewsletterTemplate, error)
	Update(ctx context.Context, tpl *core.NewsletterTemplate) error
	Delete(ctx context.Context, id string) error

	// GetDefault returns the default template or ErrNotFound
	GetDefault(ctx context.Context) (*core.NewsletterTemplate, error)

	// SetDefault makes id the only default template
	SetDefault(ctx context.Context, id string) error
}

// ActivityRepository stores the distribution and ingestion event log
type ActivityRepository interface {
	Create(ctx context.Context, entry *core.ActivityLog) error
	List(ctx context.Context, filter ActivityFilter) ([]core.ActivityLog, error)

	// CountByEvent counts entries per event since the given time
	CountByEvent(ctx context.Context, since time.Time) (map[string]int64, error)
}

// SettingsRepository stores global key/value settings
type SettingsRepository interface {
	Get(ctx context.Context, key string) (*core.Setting, error)
	Set(ctx context.Context, setting *core.Setting) error
	List(ctx context.Context) ([]core.Setting, error)
	Delete(ctx context.Context, key string) error
}

// SubscriberRepository stores local newsletter recipients
type SubscriberRepository interface {
	// Upsert inserts a subscriber or updates the one with the same email
	Upsert(ctx context.Context, sub *core.Subscriber) error
	List(ctx context.Context, opts ListOptions) ([]core.Subscriber, error)

	// ListSubscribed returns every subscriber that has not opted out
	ListSubscribed(ctx context.Context) ([]core.Subscriber, error)
	Unsubscribe(ctx context.Context, email string) error
}

// FeedRepository handles RSS/Atom feed sources
type FeedRepository interface {
	Create(ctx context.Context, feed *core.Feed) error
	Get(ctx context.Context, id string) (*core.Feed, error)
	GetByURL(ctx context.Context, url string) (*core.Feed, error)
	ListActive(ctx context.Context) ([]core.Feed, error)
	List(ctx context.Context, opts ListOptions) ([]core.Feed, error)
	Update(ctx context.Context, feed *core.Feed) error
	Delete(ctx context.Context, id string) error

	// RecordFetch updates fetch bookkeeping; a nil fetchErr resets the error count
	RecordFetch(ctx context.Context, id string, at time.Time, fetchErr error) error
}

// ListOptions provides common pagination options
type ListOptions struct {
	Limit  int    // Maximum number of results (0 for no limit)
	Offset int    // Number of results to skip
	SortBy string // Field to sort by; unknown fields fall back to created_at
	Order  string // "asc" or "desc"
	Status string // Optional status filter where the entity has one
}

// ActivityFilter narrows activity listings
type ActivityFilter struct {
	SequenceID string
	Event      string
	Limit      int
}

// LinkStats aggregates short link counters
type LinkStats struct {
	TotalLinks  int64            `json:"total_links"`
	TotalClicks int64            `json:"total_clicks"`
	TopLinks    []core.ShortLink `json:"top_links"`
}

// Database represents the main database interface that aggregates all repositories
type Database interface {
	Articles() ArticleRepository
	ShortLinks() ShortLinkRepository
	Sequences() SequenceRepository
	Templates() TemplateRepository
	Activity() ActivityRepository
	Settings() SettingsRepository
	Subscribers() SubscriberRepository
	Feeds() FeedRepository

	// Transaction runs fn against repositories bound to one transaction.
	// Returning an error from fn rolls the transaction back.
	Transaction(ctx context.Context, fn func(tx Database) error) error

	// Ping verifies the database connection
	Ping(ctx context.Context) error

	// Close closes the database connection
	Close() error
}
