package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"letterdesk/internal/core"
)

// maxPageBytes bounds how much of an article page is read.
const maxPageBytes = 5 << 20

// Enricher fills missing summaries and images from the article page.
type Enricher struct {
	client    *http.Client
	userAgent string
}

// NewEnricher creates an enricher.
func NewEnricher(client *http.Client, userAgent string) *Enricher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Enricher{client: client, userAgent: userAgent}
}

// Enrich fetches the article page once when its summary or image is
// missing. The readable text becomes the summary; og:image or
// twitter:image becomes the image.
func (e *Enricher) Enrich(ctx context.Context, article *core.Article) error {
	if article.Summary != "" && article.ImageURL != "" {
		return nil
	}

	pageURL, err := url.Parse(article.Link)
	if err != nil {
		return fmt.Errorf("invalid article url: %w", err)
	}
	body, err := e.fetch(ctx, pageURL.String())
	if err != nil {
		return err
	}

	if article.ImageURL == "" {
		article.ImageURL = leadImage(body, pageURL)
	}
	if article.Summary == "" || article.Title == "" {
		parsed, err := readability.FromReader(bytes.NewReader(body), pageURL)
		if err != nil {
			return fmt.Errorf("failed to extract article: %w", err)
		}
		if article.Title == "" {
			article.Title = strings.TrimSpace(parsed.Title)
		}
		if article.Summary == "" {
			article.Summary = truncate(strings.Join(strings.Fields(parsed.TextContent), " "), maxSummaryLen)
		}
	}
	return nil
}

func (e *Enricher) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: status code %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from %s: %w", pageURL, err)
	}
	return body, nil
}

// leadImage returns the page's social preview image resolved against base.
func leadImage(page []byte, base *url.URL) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ""
	}

	selectors := []string{
		"meta[property='og:image']",
		"meta[property='og:image:url']",
		"meta[name='twitter:image']",
		"meta[name='twitter:image:src']",
	}
	for _, sel := range selectors {
		content, ok := doc.Find(sel).First().Attr("content")
		content = strings.TrimSpace(content)
		if !ok || content == "" {
			continue
		}
		ref, err := url.Parse(content)
		if err != nil {
			continue
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		return ref.String()
	}
	return ""
}
