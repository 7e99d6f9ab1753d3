package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// FeedItem is one entry of a fetched feed.
type FeedItem struct {
	Title     string
	Link      string
	Summary   string
	ImageURL  string
	Creator   string
	Published time.Time
}

// FeedFetcher downloads and parses RSS/Atom/JSON feeds.
type FeedFetcher struct {
	client    *http.Client
	userAgent string
}

// NewFeedFetcher creates a fetcher sending userAgent with every request.
func NewFeedFetcher(client *http.Client, userAgent string) *FeedFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FeedFetcher{client: client, userAgent: userAgent}
}

// Fetch returns the feed title and its items.
func (f *FeedFetcher) Fetch(ctx context.Context, feedURL string) (string, []FeedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	items := make([]FeedItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil || strings.TrimSpace(it.Link) == "" {
			continue
		}
		items = append(items, toFeedItem(it))
	}
	return feed.Title, items, nil
}

func toFeedItem(it *gofeed.Item) FeedItem {
	item := FeedItem{
		Title:   strings.TrimSpace(it.Title),
		Link:    strings.TrimSpace(it.Link),
		Summary: cleanSummary(it.Description),
	}
	if item.Summary == "" {
		item.Summary = cleanSummary(it.Content)
	}

	switch {
	case it.PublishedParsed != nil:
		item.Published = it.PublishedParsed.UTC()
	case it.UpdatedParsed != nil:
		item.Published = it.UpdatedParsed.UTC()
	}

	if it.Image != nil {
		item.ImageURL = it.Image.URL
	}
	if item.ImageURL == "" {
		for _, enc := range it.Enclosures {
			if enc != nil && strings.HasPrefix(enc.Type, "image/") {
				item.ImageURL = enc.URL
				break
			}
		}
	}

	if len(it.Authors) > 0 && it.Authors[0] != nil {
		item.Creator = it.Authors[0].Name
	}
	return item
}

// cleanSummary strips markup from a feed description and bounds its length.
func cleanSummary(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return truncate(strings.Join(strings.Fields(b.String()), " "), maxSummaryLen)
}

const maxSummaryLen = 500

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
