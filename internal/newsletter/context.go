package newsletter

import (
	"encoding/json"
	"strings"
	"time"

	"letterdesk/internal/core"
	"letterdesk/internal/links"
)

// ArticleView is an article as templates see it. Links are already
// routed through the redirect tracker; OriginalLink keeps the raw URL.
type ArticleView struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Summary       string `json:"summary"`
	SourceLink    string `json:"source_link"`
	Link          string `json:"link"`
	ImageLink     string `json:"image_link"`
	ImageURL      string `json:"image_url"`
	Category      string `json:"category"`
	Creator       string `json:"creator"`
	WhyItMatters  string `json:"why_it_matters"`
	BusinessValue string `json:"business_value"`
	PublishedDate string `json:"published_date"`
	OriginalLink  string `json:"original_link"`
}

// StoryView is a story merged with the article it resolved to. Every
// field is always present, empty when unknown.
type StoryView struct {
	ID         string `json:"id"`
	ArticleID  string `json:"article_id"`
	Title      string `json:"title"`
	Headline   string `json:"headline"`
	Summary    string `json:"summary"`
	WhyReadIt  string `json:"why_read_it"`
	Link       string `json:"link"`
	SourceLink string `json:"source_link"`
	ImageLink  string `json:"image_link"`
	ImageURL   string `json:"image_url"`
	Category   string `json:"category"`
	Creator    string `json:"creator"`
}

// NewsletterView carries the top-level copy of an issue.
type NewsletterView struct {
	Subject   string         `json:"subject"`
	Preheader string         `json:"preheader"`
	Intro     string         `json:"intro"`
	Closing   string         `json:"closing"`
	Extra     map[string]any `json:"-"`
}

// ContextInput holds everything BuildContext needs.
type ContextInput struct {
	Content        *Content
	Articles       []core.Article
	Origin         string // Public base URL used for redirect wrapping
	UnsubscribeURL string
	BannerURL      string
	Now            time.Time
}

// Context is the data handed to a newsletter template.
type Context struct {
	Newsletter     NewsletterView
	Articles       []ArticleView
	Featured       StoryView
	TopStories     []StoryView
	UnsubscribeURL string
	BannerURL      string
	CurrentDate    string

	reconciler *Reconciler
}

// BuildContext merges AI content with the source articles. Article and
// story links are wrapped for click tracking and every story is resolved
// against the article list.
func BuildContext(in ContextInput) *Context {
	content := in.Content
	if content == nil {
		content = &Content{}
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	articles := make([]ArticleView, 0, len(in.Articles))
	for _, a := range in.Articles {
		articles = append(articles, articleView(a, in.Origin))
	}
	rec := NewReconciler(articles)

	ctx := &Context{
		Newsletter: NewsletterView{
			Subject:   content.Subject,
			Preheader: content.Preheader,
			Intro:     content.Intro,
			Closing:   content.Closing,
			Extra:     content.Extra,
		},
		Articles:       articles,
		TopStories:     make([]StoryView, 0, len(content.TopStories)),
		UnsubscribeURL: in.UnsubscribeURL,
		BannerURL:      in.BannerURL,
		CurrentDate:    FormatDate(now),
		reconciler:     rec,
	}

	if content.Featured != nil {
		ctx.Featured = storyView(*content.Featured, rec.FindArticleForStory(*content.Featured, nil), in.Origin)
	}
	for i, story := range content.TopStories {
		idx := i
		ctx.TopStories = append(ctx.TopStories, storyView(story, rec.FindArticleForStory(story, &idx), in.Origin))
	}

	return ctx
}

func articleView(a core.Article, origin string) ArticleView {
	wrapped := links.Wrap(a.Link, origin)
	image := links.Wrap(a.ImageURL, origin)
	published := ""
	if !a.PublishedDate.IsZero() {
		published = a.PublishedDate.UTC().Format(time.RFC3339)
	}
	return ArticleView{
		ID:            a.ID,
		Title:         a.Title,
		Summary:       a.Summary,
		SourceLink:    wrapped,
		Link:          wrapped,
		ImageLink:     image,
		ImageURL:      image,
		Category:      a.Category,
		Creator:       a.Creator,
		WhyItMatters:  a.WhyItMatters,
		BusinessValue: a.BusinessValue,
		PublishedDate: published,
		OriginalLink:  a.Link,
	}
}

func storyView(s Story, a *ArticleView, origin string) StoryView {
	var art ArticleView
	if a != nil {
		art = *a
	}

	link := s.TargetLink()
	if link == "" {
		link = art.OriginalLink
	}
	link = links.Wrap(link, origin)

	title := firstNonEmpty(s.Headline, art.Title)
	why := firstNonEmpty(s.Summary, art.WhyItMatters, art.Summary)
	image := firstNonEmpty(links.Wrap(s.ImageURL, origin), art.ImageLink)

	return StoryView{
		ID:         firstNonEmpty(s.ID, art.ID),
		ArticleID:  art.ID,
		Title:      title,
		Headline:   title,
		Summary:    why,
		WhyReadIt:  why,
		Link:       link,
		SourceLink: link,
		ImageLink:  image,
		ImageURL:   image,
		Category:   firstNonEmpty(s.Category, art.Category),
		Creator:    firstNonEmpty(s.Creator, art.Creator),
	}
}

// FindArticle resolves a reference (id, link or title) to an article.
func (c *Context) FindArticle(ref any) *ArticleView {
	if c.reconciler == nil {
		c.reconciler = NewReconciler(c.Articles)
	}
	return c.reconciler.FindArticle(stringify(ref))
}

// Data flattens the context into the map templates evaluate against.
// Keys are exposed in both snake_case and camelCase where the two differ.
func (c *Context) Data() map[string]any {
	newsletter := make(map[string]any, len(c.Newsletter.Extra)+4)
	for k, v := range c.Newsletter.Extra {
		newsletter[k] = v
	}
	newsletter["subject"] = c.Newsletter.Subject
	newsletter["preheader"] = c.Newsletter.Preheader
	newsletter["intro"] = c.Newsletter.Intro
	newsletter["closing"] = c.Newsletter.Closing

	articles := make([]any, 0, len(c.Articles))
	for _, a := range c.Articles {
		articles = append(articles, toMap(a))
	}
	top := make([]any, 0, len(c.TopStories))
	for _, s := range c.TopStories {
		top = append(top, toMap(s))
	}
	featured := toMap(c.Featured)

	return map[string]any{
		"newsletter":      newsletter,
		"articles":        articles,
		"featured":        featured,
		"featured_story":  featured,
		"featuredStory":   featured,
		"top_stories":     top,
		"topStories":      top,
		"unsubscribe_url": c.UnsubscribeURL,
		"unsubscribeUrl":  c.UnsubscribeURL,
		"banner_url":      c.BannerURL,
		"bannerUrl":       c.BannerURL,
		"current_date":    c.CurrentDate,
		"currentDate":     c.CurrentDate,
		"formatDate":      FormatDate,
		"findArticle": func(ref any) map[string]any {
			if a := c.FindArticle(ref); a != nil {
				return toMap(*a)
			}
			return nil
		},
		"markdown": func(s any) string { return MarkdownToHTML(stringify(s)) },
	}
}

// FormatDate renders a time or date string as "January 2, 2006".
// Unparseable input is returned unchanged.
func FormatDate(v any) string {
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return ""
		}
		return val.Format("January 2, 2006")
	case *time.Time:
		if val == nil {
			return ""
		}
		return FormatDate(*val)
	}

	s := stringify(v)
	if s == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("January 2, 2006")
		}
	}
	return s
}

func toMap(v any) map[string]any {
	out := map[string]any{}
	data, err := json.Marshal(v)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
