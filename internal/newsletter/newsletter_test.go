package newsletter

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letterdesk/internal/core"
)

func sampleArticles() []core.Article {
	return []core.Article{
		{ID: "1", Title: "Alpha launches", Link: "https://a.example.com/alpha", Summary: "alpha summary", Category: "AI"},
		{ID: "5", Title: "Foo Bar!", Link: "https://b.example.com/foo", WhyItMatters: "it matters"},
		{ID: "9", Title: "Gamma", Link: "https://c.example.com/gamma"},
	}
}

func TestNormalizeContentFoldsVariants(t *testing.T) {
	raw := map[string]any{
		"subjectLine": "Weekly",
		"featuredStory": map[string]any{
			"id":             float64(5),
			"title":          "Big news",
			"url":            "https://b.example.com/foo",
			"whyThisMatters": "because",
		},
		"stories": []any{
			map[string]any{"headline": "One", "source_link": "https://a.example.com/alpha"},
			"ignored",
		},
		"customNote": "hello",
	}

	c := NormalizeContent(raw)

	assert.Equal(t, "Weekly", c.Subject)
	require.NotNil(t, c.Featured)
	assert.Equal(t, "5", c.Featured.ID)
	assert.Equal(t, "Big news", c.Featured.Headline)
	assert.Equal(t, "https://b.example.com/foo", c.Featured.Link)
	assert.Equal(t, "because", c.Featured.Summary)
	require.Len(t, c.TopStories, 1)
	assert.Equal(t, "One", c.TopStories[0].Headline)
	assert.Equal(t, "https://a.example.com/alpha", c.TopStories[0].TargetLink())
	assert.Equal(t, "hello", c.Extra["custom_note"])
}

func TestNormalizeContentPrefersSnakeCaseOnCollision(t *testing.T) {
	raw := map[string]any{
		"featuredStory":  map[string]any{"headline": "A"},
		"featured_story": map[string]any{"headline": "B"},
	}
	for i := 0; i < 50; i++ {
		c := NormalizeContent(raw)
		require.NotNil(t, c.Featured)
		assert.Equal(t, "B", c.Featured.Headline)
	}
}

func TestNormalizeContentAcronymKeys(t *testing.T) {
	c := NormalizeContent(map[string]any{
		"featuredStory": map[string]any{
			"headline":  "Acronyms",
			"imageURL":  "https://img.example.com/a.png",
			"sourceURL": "https://a.example.com/alpha",
		},
	})
	require.NotNil(t, c.Featured)
	assert.Equal(t, "https://img.example.com/a.png", c.Featured.ImageURL)
	assert.Equal(t, "https://a.example.com/alpha", c.Featured.SourceLink)
}

func TestNormalizeContentEmpty(t *testing.T) {
	c := NormalizeContent(nil)
	assert.Nil(t, c.Featured)
	assert.Empty(t, c.TopStories)
	assert.Equal(t, "", c.Subject)
}

func TestFindArticleForStory(t *testing.T) {
	ctx := BuildContext(ContextInput{Articles: sampleArticles()})
	rec := NewReconciler(ctx.Articles)
	idx := func(i int) *int { return &i }

	tests := []struct {
		name   string
		story  Story
		index  *int
		wantID string
	}{
		{"id wins over position", Story{ID: "5"}, idx(0), "5"},
		{"link match", Story{Link: "https://c.example.com/gamma"}, nil, "9"},
		{"wrapped link match", Story{Link: "https://news.example.com/api/redirect?url=https%3A%2F%2Fc.example.com%2Fgamma"}, nil, "9"},
		{"exact title", Story{Headline: "Alpha launches"}, nil, "1"},
		{"normalized title", Story{Headline: "foo bar"}, nil, "5"},
		{"positional fallback", Story{Headline: "Unknown"}, idx(2), "9"},
		{"no match", Story{Headline: "Unknown"}, nil, ""},
		{"index out of range", Story{Headline: "Unknown"}, idx(7), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rec.FindArticleForStory(tt.story, tt.index)
			if tt.wantID == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "foo bar", NormalizeTitle("Foo Bar!"))
	assert.Equal(t, "dont panic", NormalizeTitle("Don’t  Panic"))
	assert.Equal(t, "a b c", NormalizeTitle("  A-b_c  "))
	assert.Equal(t, "", NormalizeTitle("!!!"))
}

func TestBuildContextWrapsAndMerges(t *testing.T) {
	content := &Content{
		Subject:  "Test",
		Featured: &Story{Link: "https://a.example.com/alpha"},
		TopStories: []Story{
			{Headline: "foo bar"},
			{Headline: "Nothing matches", Summary: "own summary"},
		},
	}

	ctx := BuildContext(ContextInput{
		Content:  content,
		Articles: sampleArticles(),
		Origin:   "https://news.example.com/",
		Now:      time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	})

	require.Len(t, ctx.Articles, 3)
	assert.Equal(t, "https://news.example.com/api/redirect?url=https%3A%2F%2Fa.example.com%2Falpha", ctx.Articles[0].SourceLink)
	assert.Equal(t, "https://a.example.com/alpha", ctx.Articles[0].OriginalLink)

	assert.Equal(t, "Alpha launches", ctx.Featured.Title)
	assert.Equal(t, "1", ctx.Featured.ArticleID)
	assert.Equal(t, "alpha summary", ctx.Featured.Summary)
	assert.Equal(t, ctx.Articles[0].SourceLink, ctx.Featured.Link)

	require.Len(t, ctx.TopStories, 2)
	assert.Equal(t, "5", ctx.TopStories[0].ArticleID)
	assert.Equal(t, "it matters", ctx.TopStories[0].WhyReadIt)
	// Second story falls back to the article at its position.
	assert.Equal(t, "5", ctx.TopStories[1].ArticleID)
	assert.Equal(t, "own summary", ctx.TopStories[1].Summary)

	assert.Equal(t, "March 5, 2024", ctx.CurrentDate)

	found := ctx.FindArticle("Gamma")
	require.NotNil(t, found)
	assert.Equal(t, "9", found.ID)
}

func TestBuildContextWithoutFeatured(t *testing.T) {
	ctx := BuildContext(ContextInput{Content: &Content{}})
	data := ctx.Data()

	featured, ok := data["featured"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "", featured["title"])
	assert.Equal(t, "", featured["link"])
	assert.Empty(t, data["top_stories"])
}

func TestRenderLiteral(t *testing.T) {
	ctx := BuildContext(ContextInput{
		Content: &Content{
			Subject:    "Test",
			Featured:   &Story{Headline: "Hi"},
			TopStories: []Story{{Headline: "One"}, {Headline: "Two"}},
		},
	})

	tests := []struct {
		name string
		tpl  string
		want string
	}{
		{"member access", "<h1>${featured.title}</h1>", "<h1>Hi</h1>"},
		{"undefined name", "[${missing}]", "[]"},
		{"builtin", "${len(top_stories)} stories", "2 stories"},
		{"index access", "${top_stories[1].title}", "Two"},
		{"function with quoted brace", `${formatDate("2024-03-05")} {ok}`, "March 5, 2024 {ok}"},
		{"ternary", `${newsletter.preheader != "" ? newsletter.preheader : newsletter.subject}`, "Test"},
		{"escaped", `\${featured.title}`, "${featured.title}"},
		{"fallback", `${missing ?? "Untitled"}`, "Untitled"},
		{"plain text", "no placeholders", "no placeholders"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.tpl, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderHandlebars(t *testing.T) {
	ctx := BuildContext(ContextInput{
		Content: &Content{
			Subject:    "Test",
			Intro:      "**bold**",
			TopStories: []Story{{Headline: "One"}, {Headline: "Two"}},
		},
	})

	tests := []struct {
		name string
		tpl  string
		want string
	}{
		{"path", "{{newsletter.subject}}", "Test"},
		{"each with math", "{{#each top_stories}}{{math @index \"+\" 1}}.{{title}} {{/each}}", "1.One 2.Two "},
		{"or helper", `{{or newsletter.preheader "none"}}`, "none"},
		{"markdown helper", "{{markdown newsletter.intro}}", "<p><strong>bold</strong></p>"},
		{"format date helper", `{{formatDate "2024-03-05"}}`, "March 5, 2024"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.tpl, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderErrors(t *testing.T) {
	ctx := BuildContext(ContextInput{Content: &Content{}})

	for _, tpl := range []string{"{{#if newsletter.subject}}unclosed", "${featured.title", "${featured.title +}"} {
		_, err := Render(tpl, ctx)
		require.Error(t, err, tpl)
		assert.True(t, errors.Is(err, ErrRender), tpl)
		assert.True(t, strings.HasPrefix(err.Error(), "Failed to render newsletter template"))
	}
}

func TestRenderSuggestsFallbackOperator(t *testing.T) {
	ctx := BuildContext(ContextInput{Content: &Content{Featured: &Story{Headline: "Hi"}}})

	_, err := Render(`${featured.title || "Untitled"}`, ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRender))
	assert.Contains(t, err.Error(), "use ?? for fallback values")
}

func TestIsHandlebars(t *testing.T) {
	assert.True(t, IsHandlebars("{{a}}"))
	assert.False(t, IsHandlebars("{{a}} ${b}"))
	assert.False(t, IsHandlebars("${b}"))
	assert.False(t, IsHandlebars("plain"))
}

func TestRenderPlainText(t *testing.T) {
	ctx := BuildContext(ContextInput{
		Content: &Content{
			Subject:    "Weekly & more",
			Intro:      "Hello",
			Featured:   &Story{Headline: "Lead", Summary: "lead summary", Link: "https://x.example.com"},
			TopStories: []Story{{Headline: "First", Link: "https://y.example.com"}},
		},
		UnsubscribeURL: "https://u.example.com",
	})

	out, err := RenderPlainText(ctx)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "Weekly & more"))
	assert.Contains(t, out, "FEATURED: Lead")
	assert.Contains(t, out, "TOP STORIES")
	assert.Contains(t, out, "1. First")
	assert.Contains(t, out, "https://y.example.com")
	assert.Contains(t, out, "Unsubscribe: https://u.example.com")
	assert.NotContains(t, out, "\n\n\n")
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "January 2, 2006", FormatDate(time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)))
	assert.Equal(t, "March 5, 2024", FormatDate("2024-03-05T10:00:00Z"))
	assert.Equal(t, "not a date", FormatDate("not a date"))
	assert.Equal(t, "", FormatDate(nil))
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "Hi & bye", StripHTML("<p>Hi &amp; <b>bye</b></p>"))
}
