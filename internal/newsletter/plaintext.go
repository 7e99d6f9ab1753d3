package newsletter

import (
	"regexp"
	"strings"

	"github.com/aymerick/raymond"
)

const plainTextTemplate = `{{{newsletter.subject}}}
{{#if newsletter.intro}}

{{{newsletter.intro}}}
{{/if}}
{{#if featured.title}}

FEATURED: {{{featured.title}}}
{{#if featured.summary}}{{{featured.summary}}}
{{/if}}{{#if featured.link}}{{{featured.link}}}
{{/if}}{{/if}}
{{#if top_stories}}

TOP STORIES
{{#each top_stories}}
{{math @index "+" 1}}. {{{title}}}
{{#if summary}}   {{{summary}}}
{{/if}}{{#if link}}   {{{link}}}
{{/if}}{{/each}}{{/if}}
{{#if newsletter.closing}}

{{{newsletter.closing}}}
{{/if}}
{{#if unsubscribe_url}}

Unsubscribe: {{{unsubscribe_url}}}
{{/if}}`

var (
	plainText    = raymond.MustParse(plainTextTemplate)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
	htmlTags     = regexp.MustCompile(`<[^>]*>`)
	htmlEntities = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&nbsp;", " ")
)

// RenderPlainText renders the text/plain alternative of an issue.
func RenderPlainText(ctx *Context) (string, error) {
	if ctx == nil {
		ctx = &Context{}
	}
	out, err := plainText.Exec(ctx.Data())
	if err != nil {
		return "", err
	}
	out = blankRuns.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out) + "\n", nil
}

// StripHTML reduces an HTML fragment to its visible text.
func StripHTML(s string) string {
	s = htmlTags.ReplaceAllString(s, "")
	return strings.TrimSpace(htmlEntities.Replace(s))
}
