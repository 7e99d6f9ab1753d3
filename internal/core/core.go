package core

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// SequenceStatus is the lifecycle state of a newsletter sequence.
type SequenceStatus string

const (
	SequenceDraft  SequenceStatus = "draft"
	SequenceActive SequenceStatus = "active"
	SequencePaused SequenceStatus = "paused"
)

// Special audience identifiers that switch distribution into batch mode.
const (
	AudienceAll      = "all"       // every contact of every provider audience
	AudienceLocalAll = "local-all" // every locally stored subscriber
)

// Activity statuses.
const (
	StatusInfo    = "info"
	StatusSuccess = "success"
	StatusWarning = "warning"
	StatusError   = "error"
)

// Article is a curated news item, sourced from Airtable or the local store.
type Article struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`                // Unique identifier (Airtable record id or uuid)
	Title         string    `gorm:"not null" json:"title"`                       // Article headline
	Summary       string    `gorm:"type:text" json:"summary"`                    // Short summary
	Link          string    `gorm:"type:text;not null" json:"source_link"`       // Original URL as published
	CanonicalLink string    `gorm:"size:2048;uniqueIndex" json:"canonical_link"` // Link without tracking params, dedup key
	ImageURL      string    `gorm:"type:text" json:"image_link"`                 // Lead image
	Category      string    `gorm:"size:128;index" json:"category"`              // Editorial category
	Creator       string    `gorm:"size:255" json:"creator"`                     // Author or publisher
	WhyItMatters  string    `gorm:"type:text" json:"why_it_matters"`             // Editorial note
	BusinessValue string    `gorm:"type:text" json:"business_value"`             // Editorial note
	FeedID        string    `gorm:"size:64;index" json:"feed_id,omitempty"`      // Feed the article came from
	PublishedDate time.Time `gorm:"index" json:"published_date"`                 // Publication timestamp
	CreatedAt     time.Time `json:"created_at"`                                  // When the article was stored
}

// ShortLink maps a short code to a tracked target URL.
type ShortLink struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ShortCode  string    `gorm:"size:16;uniqueIndex;not null" json:"short_code"` // Random code used in /r/{code}
	TargetURL  string    `gorm:"type:text;not null" json:"target_url"`           // Redirect destination
	ArticleID  *string   `gorm:"size:64;index" json:"article_id"`                // Article the link points at, if any
	SequenceID *string   `gorm:"size:64;index" json:"sequence_id"`               // Sequence that issued the link, if any
	Clicks     int64     `gorm:"not null;default:0" json:"clicks"`               // Redirect traversals
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Sequence is a scheduled newsletter configuration.
type Sequence struct {
	ID           string                   `gorm:"primaryKey;size:64" json:"id"`
	Name         string                   `gorm:"size:255;not null" json:"name"`
	Status       SequenceStatus           `gorm:"size:16;not null;index" json:"status"`
	AudienceID   string                   `gorm:"size:128" json:"audience_id"` // Resend audience, "all" or "local-all"
	DaysOfWeek   datatypes.JSONSlice[int] `json:"day_of_week"`                 // 0 = Sunday ... 6 = Saturday
	SendTime     string                   `gorm:"size:5" json:"time"`          // HH:MM in Timezone
	Timezone     string                   `gorm:"size:64" json:"timezone"`
	Subject      string                   `gorm:"size:255" json:"subject"`     // Optional subject override
	SystemPrompt string                   `gorm:"type:text" json:"system_prompt"`
	UserPrompt   string                   `gorm:"type:text" json:"user_prompt"`
	TemplateID   *string                  `gorm:"size:64" json:"template_id"`
	LastSent     *time.Time               `json:"last_sent"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// IsActive reports whether the sequence may be distributed.
func (s *Sequence) IsActive() bool {
	return s != nil && s.Status == SequenceActive
}

// Location returns the sequence's time zone, falling back to UTC.
func (s *Sequence) Location() *time.Location {
	if s == nil || strings.TrimSpace(s.Timezone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NewsletterTemplate is an admin-authored HTML template.
type NewsletterTemplate struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	HTML          string    `gorm:"type:text;not null" json:"html"`
	IsDefault     bool      `gorm:"not null;default:false;index" json:"is_default"` // At most one row may be true
	IncludeFooter bool      `gorm:"not null" json:"include_footer"`                 // Append the unsubscribe footer
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ActivityLog is one structured event emitted by ingestion or distribution.
type ActivityLog struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	SequenceID *string           `gorm:"size:64;index" json:"sequence_id"`
	Event      string            `gorm:"size:64;not null;index" json:"event"`
	Status     string            `gorm:"size:16;not null" json:"status"`
	Message    string            `gorm:"type:text" json:"message"`
	Metadata   datatypes.JSONMap `json:"metadata"`
	CreatedAt  time.Time         `gorm:"index" json:"created_at"`
}

// Setting is a global key/value configuration entry editable from the admin API.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	Encrypted bool      `gorm:"not null;default:false" json:"encrypted"` // Value is sealed with the secrets key
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscriber is a locally stored newsletter recipient.
type Subscriber struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"size:320;uniqueIndex;not null" json:"email"`
	FirstName    string    `gorm:"size:128" json:"first_name"`
	LastName     string    `gorm:"size:128" json:"last_name"`
	Unsubscribed bool      `gorm:"not null;default:false" json:"unsubscribed"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Feed represents an RSS/Atom feed source.
type Feed struct {
	ID          string     `gorm:"primaryKey;size:64" json:"id"`              // Unique identifier for the feed
	URL         string     `gorm:"size:2048;uniqueIndex;not null" json:"url"` // Feed URL
	Title       string     `gorm:"size:255" json:"title"`                     // Feed title
	Category    string     `gorm:"size:128" json:"category"`                  // Default category for its articles
	Active      bool       `gorm:"not null" json:"active"`                    // Whether the feed is polled
	LastFetched *time.Time `json:"last_fetched"`                              // Last successful fetch
	ErrorCount  int        `gorm:"not null;default:0" json:"error_count"`     // Consecutive errors
	LastError   string     `gorm:"type:text" json:"last_error"`               // Last error encountered
	CreatedAt   time.Time  `json:"created_at"`                                // When the feed was added
}

// Contact is an email provider recipient.
type Contact struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Unsubscribed bool   `json:"unsubscribed"`
}

// Audience is an email provider's named recipient segment.
type Audience struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
