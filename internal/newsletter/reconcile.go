package newsletter

import (
	"strings"
	"unicode"

	"letterdesk/internal/core"
	"letterdesk/internal/links"
	"letterdesk/internal/logger"
)

// Reconciler resolves AI story references back to source articles.
type Reconciler struct {
	articles []ArticleView
}

// NewReconciler creates a reconciler over an already normalized article list.
func NewReconciler(articles []ArticleView) *Reconciler {
	return &Reconciler{articles: articles}
}

// ReconcilerFor builds a reconciler over raw articles with unwrapped links.
func ReconcilerFor(articles []core.Article) *Reconciler {
	views := make([]ArticleView, 0, len(articles))
	for _, a := range articles {
		views = append(views, articleView(a, ""))
	}
	return NewReconciler(views)
}

// FindArticleForStory returns the article a story refers to, or nil.
// Matching tries, in order: id, link, exact title, normalized title and
// finally the story's position when index is given. The first match wins.
func (r *Reconciler) FindArticleForStory(story Story, index *int) *ArticleView {
	if story.ID != "" {
		for i := range r.articles {
			if r.articles[i].ID == story.ID {
				return &r.articles[i]
			}
		}
	}

	candidates := storyLinks(story)
	if len(candidates) > 0 {
		for i := range r.articles {
			if matchesLink(&r.articles[i], candidates) {
				return &r.articles[i]
			}
		}
	}

	if story.Headline != "" {
		for i := range r.articles {
			if r.articles[i].Title == story.Headline {
				return &r.articles[i]
			}
		}

		normalized := NormalizeTitle(story.Headline)
		if normalized != "" {
			for i := range r.articles {
				if NormalizeTitle(r.articles[i].Title) == normalized {
					return &r.articles[i]
				}
			}
		}
	}

	if index != nil && *index >= 0 && *index < len(r.articles) {
		logger.Debug("Story matched by position", "index", *index, "headline", story.Headline)
		return &r.articles[*index]
	}

	return nil
}

// FindArticle looks an article up by id, link or title.
func (r *Reconciler) FindArticle(ref string) *ArticleView {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	return r.FindArticleForStory(Story{ID: ref, Link: ref, Headline: ref}, nil)
}

func storyLinks(story Story) []string {
	var out []string
	for _, l := range []string{story.Link, story.SourceLink} {
		if l == "" {
			continue
		}
		out = append(out, l)
		if unwrapped := links.Unwrap(l); unwrapped != l {
			out = append(out, unwrapped)
		}
	}
	return out
}

func matchesLink(a *ArticleView, candidates []string) bool {
	for _, c := range candidates {
		if c == a.OriginalLink || c == a.SourceLink {
			return true
		}
	}
	return false
}

// NormalizeTitle lowercases s, drops apostrophes, turns every other
// non-alphanumeric rune into a space and collapses whitespace.
func NormalizeTitle(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '\'' || r == '’' || r == '‘' || r == '`':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
