// Package newsletter turns AI-generated newsletter content and source
// articles into rendered HTML and plain text.
package newsletter

import (
	"encoding/json"
	"strconv"
	"strings"

	"letterdesk/internal/casing"
)

// Story is the canonical form of an AI-generated story reference.
// Every casing and naming variant the model produces is folded into this
// shape by NormalizeContent before anything else sees it.
type Story struct {
	ID         string `json:"id"`
	Headline   string `json:"headline"`
	Link       string `json:"link"`
	SourceLink string `json:"source_link"`
	Summary    string `json:"summary"`
	ImageURL   string `json:"image_url"`
	Category   string `json:"category"`
	Creator    string `json:"creator"`
}

// TargetLink returns the story's outbound link, preferring Link.
func (s Story) TargetLink() string {
	if s.Link != "" {
		return s.Link
	}
	return s.SourceLink
}

// Content is the canonical form of the AI newsletter payload.
type Content struct {
	Subject    string         `json:"subject"`
	Preheader  string         `json:"preheader"`
	Intro      string         `json:"intro"`
	Closing    string         `json:"closing"`
	Featured   *Story         `json:"featured_story,omitempty"`
	TopStories []Story        `json:"top_stories"`
	Extra      map[string]any `json:"-"` // Unrecognized top-level keys, exposed to templates
}

var (
	subjectKeys   = []string{"subject", "subject_line", "title"}
	preheaderKeys = []string{"preheader", "preview_text", "preview"}
	introKeys     = []string{"intro", "introduction", "opening"}
	closingKeys   = []string{"closing", "outro", "sign_off", "conclusion"}
	featuredKeys  = []string{"featured_story", "featured", "main_story"}
	topKeys       = []string{"top_stories", "stories", "other_stories"}

	storyIDKeys       = []string{"id", "article_id", "record_id"}
	storyHeadlineKeys = []string{"headline", "title"}
	storyLinkKeys     = []string{"link", "url"}
	storySourceKeys   = []string{"source_link", "source_url", "source_u_r_l", "original_link", "original_u_r_l"}
	storySummaryKeys  = []string{"why_read_it", "why_this_matters", "why_it_matters", "summary", "description"}
	storyImageKeys    = []string{"image_url", "image_u_r_l", "image_link", "image"}
	storyCategoryKeys = []string{"category", "topic"}
	storyCreatorKeys  = []string{"creator", "author", "source"}
)

// NormalizeContent folds a loosely typed AI payload into Content.
// Keys are matched after camelCase to snake_case conversion, so
// "featuredStory" and "featured_story" are treated alike.
func NormalizeContent(raw map[string]any) *Content {
	data := casing.ToSnakeCaseDeep(raw)
	c := &Content{
		Subject:    firstString(data, subjectKeys),
		Preheader:  firstString(data, preheaderKeys),
		Intro:      firstString(data, introKeys),
		Closing:    firstString(data, closingKeys),
		TopStories: []Story{},
		Extra:      map[string]any{},
	}

	if v, ok := firstValue(data, featuredKeys); ok {
		if m, ok := v.(map[string]any); ok {
			story := normalizeStory(m)
			c.Featured = &story
		}
	}

	if v, ok := firstValue(data, topKeys); ok {
		if items, ok := v.([]any); ok {
			for _, item := range items {
				if m, ok := item.(map[string]any); ok {
					c.TopStories = append(c.TopStories, normalizeStory(m))
				}
			}
		}
	}

	known := make(map[string]bool)
	for _, group := range [][]string{subjectKeys, preheaderKeys, introKeys, closingKeys, featuredKeys, topKeys} {
		for _, k := range group {
			known[k] = true
		}
	}
	for k, v := range data {
		if !known[k] {
			c.Extra[k] = v
		}
	}

	return c
}

func normalizeStory(m map[string]any) Story {
	return Story{
		ID:         firstString(m, storyIDKeys),
		Headline:   firstString(m, storyHeadlineKeys),
		Link:       firstString(m, storyLinkKeys),
		SourceLink: firstString(m, storySourceKeys),
		Summary:    firstString(m, storySummaryKeys),
		ImageURL:   firstString(m, storyImageKeys),
		Category:   firstString(m, storyCategoryKeys),
		Creator:    firstString(m, storyCreatorKeys),
	}
}

func firstValue(m map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s := stringify(m[k]); s != "" {
			return s
		}
	}
	return ""
}

// stringify renders scalar JSON values as strings; numbers lose no precision
// and integral floats print without a fraction, so an id of 5 becomes "5".
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}
