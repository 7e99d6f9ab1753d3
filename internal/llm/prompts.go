package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Global prompt setting keys.
const (
	SettingSystemPrompt = "system_prompt"
	SettingUserPrompt   = "user_prompt"
)

// DefaultSystemPrompt is used when neither the sequence nor the global
// settings define one.
const DefaultSystemPrompt = `You are the editor of a concise, insightful technology newsletter.
Select the most important stories from the articles you are given and write engaging copy.
Always reply with a single JSON object and nothing else, using exactly this shape:
{
  "subject": "email subject line",
  "preheader": "one sentence preview text",
  "intro": "short opening paragraph (Markdown allowed)",
  "featured_story": {"id": "article id", "headline": "...", "why_read_it": "...", "source_link": "article url"},
  "top_stories": [{"id": "article id", "headline": "...", "why_read_it": "...", "source_link": "article url"}],
  "closing": "short sign-off (Markdown allowed)"
}
Only reference articles from the provided list and copy their id and source_link exactly.`

// DefaultUserPrompt is used when neither the sequence nor the global
// settings define one.
const DefaultUserPrompt = `Write the "{{ $json.sequence_name }}" newsletter covering {{ $json.day_start }} to {{ $json.day_end }}.
There are {{ $json.article_count }} candidate articles:

{{ $json.articles }}

Pick one featured story and up to five top stories.`

var placeholderRe = regexp.MustCompile(`\{\{\s*\$json\.([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// ResolvePrompt returns the first non-empty prompt in precedence order:
// sequence override, global setting, built-in default.
func ResolvePrompt(sequenceValue, settingValue, fallback string) string {
	for _, v := range []string{sequenceValue, settingValue} {
		if v != "" {
			return v
		}
	}
	return fallback
}

type promptArticle struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Summary       string `json:"summary,omitempty"`
	SourceLink    string `json:"source_link"`
	Category      string `json:"category,omitempty"`
	Creator       string `json:"creator,omitempty"`
	WhyItMatters  string `json:"why_it_matters,omitempty"`
	BusinessValue string `json:"business_value,omitempty"`
	PublishedDate string `json:"published_date,omitempty"`
}

// PromptVars builds the values available to {{ $json.<name> }} placeholders.
func PromptVars(req Request) (map[string]string, error) {
	items := make([]promptArticle, 0, len(req.Articles))
	for _, a := range req.Articles {
		item := promptArticle{
			ID:            a.ID,
			Title:         a.Title,
			Summary:       a.Summary,
			SourceLink:    a.Link,
			Category:      a.Category,
			Creator:       a.Creator,
			WhyItMatters:  a.WhyItMatters,
			BusinessValue: a.BusinessValue,
		}
		if !a.PublishedDate.IsZero() {
			item.PublishedDate = a.PublishedDate.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}

	articles, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode articles for prompt: %w", err)
	}

	return map[string]string{
		"articles":      string(articles),
		"day_start":     formatDay(req.DayStart),
		"day_end":       formatDay(req.DayEnd),
		"article_count": strconv.Itoa(len(req.Articles)),
		"sequence_name": req.SequenceName,
	}, nil
}

// Substitute replaces known {{ $json.<name> }} placeholders in prompt.
// Unknown names are left untouched.
func Substitute(prompt string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(prompt, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
