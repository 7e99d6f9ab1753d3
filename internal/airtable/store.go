package airtable

import (
	"context"
	"fmt"
	"strings"
	"time"

	"letterdesk/internal/core"
	"letterdesk/internal/logger"
)

// Logical article fields and the column names they may appear under.
var fieldCandidates = map[string][]string{
	"title":          {"Title", "Headline", "Name"},
	"summary":        {"Summary", "Description", "Excerpt"},
	"source_link":    {"Source Link", "Link", "URL", "Url"},
	"canonical_link": {"Canonical Link", "Canonical URL"},
	"image_link":     {"Image Link", "Image", "Image URL", "Thumbnail"},
	"category":       {"Category", "Topic", "Section"},
	"creator":        {"Creator", "Author", "Source"},
	"why_it_matters": {"Why It Matters", "Why it matters"},
	"business_value": {"Business Value"},
	"published_date": {"Published Date", "Published", "Date", "Publish Date"},
}

// ArticleStore maps Airtable rows to articles.
type ArticleStore struct {
	client *Client
	cache  *FieldCache
	table  string
}

// NewArticleStore creates a store for table, resolving columns through cache.
func NewArticleStore(client *Client, cache *FieldCache, table string) *ArticleStore {
	if table == "" {
		table = "Articles"
	}
	return &ArticleStore{client: client, cache: cache, table: table}
}

// NewFieldCacheFor returns a FieldCache that loads schemas with client.
func NewFieldCacheFor(client *Client, ttl time.Duration) *FieldCache {
	return NewFieldCache(ttl, func(ctx context.Context, baseID, table string) (map[string]Field, error) {
		return client.TableFields(ctx, table)
	})
}

// Resolved maps logical names to the actual table fields.
type Resolved map[string]Field

// ResolveFields matches each logical field to a column: exact candidate
// name first, then a case and punctuation insensitive comparison.
func ResolveFields(fields map[string]Field) Resolved {
	byLoose := make(map[string]Field, len(fields))
	for name, f := range fields {
		byLoose[looseName(name)] = f
	}

	out := Resolved{}
	for logical, candidates := range fieldCandidates {
		for _, c := range candidates {
			if f, ok := fields[c]; ok {
				out[logical] = f
				break
			}
		}
		if _, ok := out[logical]; ok {
			continue
		}
		for _, c := range append([]string{logical}, candidates...) {
			if f, ok := byLoose[looseName(c)]; ok {
				out[logical] = f
				break
			}
		}
	}
	return out
}

func looseName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *ArticleStore) fields(ctx context.Context) (Resolved, error) {
	fields, err := s.cache.Get(ctx, s.client.BaseID(), s.table)
	if err != nil {
		return nil, fmt.Errorf("failed to load airtable schema: %w", err)
	}
	r := ResolveFields(fields)
	if _, ok := r["title"]; !ok {
		return nil, fmt.Errorf("airtable table %q has no title column", s.table)
	}
	return r, nil
}

// Recent returns articles published at or after since, newest first.
func (s *ArticleStore) Recent(ctx context.Context, since time.Time, limit int) ([]core.Article, error) {
	r, err := s.fields(ctx)
	if err != nil {
		return nil, err
	}

	q := ListQuery{MaxRecords: limit, PageSize: 100}
	if f, ok := r["published_date"]; ok {
		q.Filter = fmt.Sprintf("IS_AFTER({%s}, '%s')", f.Name, since.UTC().Add(-time.Second).Format(time.RFC3339))
		q.SortField = f.Name
		q.SortDesc = true
	} else {
		q.Filter = fmt.Sprintf("IS_AFTER(CREATED_TIME(), '%s')", since.UTC().Add(-time.Second).Format(time.RFC3339))
	}

	records, err := s.client.ListRecords(ctx, s.table, q)
	if err != nil {
		s.cache.Invalidate(s.client.BaseID(), s.table)
		return nil, err
	}

	articles := make([]core.Article, 0, len(records))
	for _, rec := range records {
		articles = append(articles, recordToArticle(rec, r))
	}
	return articles, nil
}

// ExistsByLink reports whether an article with the canonical link is stored.
func (s *ArticleStore) ExistsByLink(ctx context.Context, canonical string) (bool, error) {
	r, err := s.fields(ctx)
	if err != nil {
		return false, err
	}

	f, ok := r["canonical_link"]
	if !ok {
		f, ok = r["source_link"]
	}
	if !ok {
		return false, nil
	}

	records, err := s.client.ListRecords(ctx, s.table, ListQuery{
		Filter:     fmt.Sprintf("{%s} = '%s'", f.Name, escapeFormula(canonical)),
		MaxRecords: 1,
	})
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// Save writes articles, skipping logical fields the table lacks.
func (s *ArticleStore) Save(ctx context.Context, articles []core.Article) ([]core.Article, error) {
	if len(articles) == 0 {
		return nil, nil
	}
	r, err := s.fields(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0, len(articles))
	for _, a := range articles {
		rows = append(rows, articleToFields(a, r))
	}

	created, err := s.client.CreateRecords(ctx, s.table, rows)
	if err != nil {
		// Schema drift is the usual cause; reload on next use.
		s.cache.Invalidate(s.client.BaseID(), s.table)
		return nil, err
	}

	out := make([]core.Article, 0, len(created))
	for _, rec := range created {
		out = append(out, recordToArticle(rec, r))
	}
	logger.Info("Saved articles to Airtable", "count", len(out), "table", s.table)
	return out, nil
}

func recordToArticle(rec Record, r Resolved) core.Article {
	get := func(logical string) any {
		f, ok := r[logical]
		if !ok {
			return nil
		}
		return rec.Fields[f.Name]
	}

	a := core.Article{
		ID:            rec.ID,
		Title:         text(get("title")),
		Summary:       text(get("summary")),
		Link:          text(get("source_link")),
		CanonicalLink: text(get("canonical_link")),
		ImageURL:      text(get("image_link")),
		Category:      text(get("category")),
		Creator:       text(get("creator")),
		WhyItMatters:  text(get("why_it_matters")),
		BusinessValue: text(get("business_value")),
	}
	if t, ok := parseTime(text(get("published_date"))); ok {
		a.PublishedDate = t
	} else if t, ok := parseTime(rec.CreatedTime); ok {
		a.PublishedDate = t
	}
	return a
}

func articleToFields(a core.Article, r Resolved) map[string]any {
	values := map[string]string{
		"title":          a.Title,
		"summary":        a.Summary,
		"source_link":    a.Link,
		"canonical_link": a.CanonicalLink,
		"image_link":     a.ImageURL,
		"category":       a.Category,
		"creator":        a.Creator,
		"why_it_matters": a.WhyItMatters,
		"business_value": a.BusinessValue,
	}

	out := map[string]any{}
	for logical, v := range values {
		f, ok := r[logical]
		if !ok || v == "" {
			continue
		}
		if f.Type == "multipleAttachments" {
			out[f.Name] = []map[string]string{{"url": v}}
			continue
		}
		out[f.Name] = v
	}

	if f, ok := r["published_date"]; ok && !a.PublishedDate.IsZero() {
		if f.Type == "date" {
			out[f.Name] = a.PublishedDate.UTC().Format("2006-01-02")
		} else {
			out[f.Name] = a.PublishedDate.UTC().Format(time.RFC3339)
		}
	}
	return out
}

// text flattens the value shapes Airtable returns for text-like columns:
// strings, attachment lists, linked-record and multi-select arrays.
func text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case []any:
		if len(val) == 0 {
			return ""
		}
		if m, ok := val[0].(map[string]any); ok {
			if u, ok := m["url"].(string); ok {
				return u
			}
			if n, ok := m["name"].(string); ok {
				return n
			}
			return ""
		}
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := text(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		if u, ok := val["url"].(string); ok {
			return u
		}
		if n, ok := val["name"].(string); ok {
			return n
		}
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func escapeFormula(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
