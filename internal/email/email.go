// Package email holds the stock newsletter layout: themes, the seeded
// Handlebars template and the unsubscribe footer.
package email

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
)

// Theme is the colour and typography palette of the stock layout.
type Theme struct {
	Name            string
	HeaderColor     string
	BackgroundColor string
	TextColor       string
	LinkColor       string
	BorderColor     string
	MutedColor      string
	MaxWidth        string
	FontFamily      string
}

// DefaultTheme returns the modern, responsive palette.
func DefaultTheme() *Theme {
	return &Theme{
		Name:            "default",
		HeaderColor:     "#2563eb", // Blue-600
		BackgroundColor: "#f8fafc", // Slate-50
		TextColor:       "#1e293b", // Slate-800
		LinkColor:       "#3b82f6", // Blue-500
		BorderColor:     "#e2e8f0", // Slate-200
		MutedColor:      "#64748b", // Slate-500
		MaxWidth:        "600px",
		FontFamily:      "system-ui, -apple-system, 'Segoe UI', Roboto, sans-serif",
	}
}

// NewsletterTheme returns a serif, green palette.
func NewsletterTheme() *Theme {
	return &Theme{
		Name:            "newsletter",
		HeaderColor:     "#059669", // Emerald-600
		BackgroundColor: "#f0fdf4", // Green-50
		TextColor:       "#064e3b", // Emerald-900
		LinkColor:       "#10b981", // Emerald-500
		BorderColor:     "#d1fae5", // Emerald-100
		MutedColor:      "#047857",
		MaxWidth:        "700px",
		FontFamily:      "Georgia, 'Times New Roman', serif",
	}
}

// GetTheme looks a theme up by name, falling back to the default.
func GetTheme(name string) *Theme {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "newsletter":
		return NewsletterTheme()
	default:
		return DefaultTheme()
	}
}

// Stylesheet returns the inline <style> block for a theme.
func Stylesheet(t *Theme) string {
	return fmt.Sprintf(`<style type="text/css">
  body, table, td, p, a, li { -webkit-text-size-adjust: 100%%; -ms-text-size-adjust: 100%%; }
  img { border: 0; height: auto; max-width: 100%%; outline: none; text-decoration: none; }
  body { margin: 0 !important; padding: 0 !important; background-color: %s; font-family: %s; color: %s; line-height: 1.6; }
  .container { max-width: %s; margin: 0 auto; background-color: #ffffff; border: 1px solid %s; border-radius: 8px; overflow: hidden; }
  .header { background-color: %s; color: #ffffff; padding: 24px; text-align: center; }
  .header h1 { margin: 0; font-size: 24px; font-weight: 600; }
  .header .date { margin: 8px 0 0 0; font-size: 14px; opacity: 0.9; }
  .content { padding: 24px; }
  h2 { font-size: 20px; font-weight: 600; margin: 32px 0 16px 0; border-bottom: 2px solid %s; padding-bottom: 8px; }
  h3 { font-size: 18px; font-weight: 600; margin: 24px 0 8px 0; }
  p { margin: 0 0 16px 0; font-size: 16px; }
  a { color: %s; text-decoration: none; }
  .story { margin-bottom: 24px; }
  .category { color: %s; font-size: 12px; text-transform: uppercase; letter-spacing: 0.05em; }
  .footer { color: %s; font-size: 12px; text-align: center; padding: 16px 24px; border-top: 1px solid %s; }
</style>`,
		t.BackgroundColor, t.FontFamily, t.TextColor,
		t.MaxWidth, t.BorderColor,
		t.HeaderColor,
		t.BorderColor,
		t.LinkColor,
		t.MutedColor,
		t.MutedColor, t.BorderColor,
	)
}

const layout = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{newsletter.subject}}</title>
%s
</head>
<body>
<span style="display:none;max-height:0;overflow:hidden;">{{newsletter.preheader}}</span>
<table role="presentation" cellspacing="0" cellpadding="0" border="0" width="100%%">
<tr><td align="center">
<div class="container">
  {{#if banner_url}}<img src="{{banner_url}}" alt="" width="100%%">{{/if}}
  <div class="header">
    <h1>{{newsletter.subject}}</h1>
    <p class="date">{{current_date}}</p>
  </div>
  <div class="content">
    {{#if newsletter.intro}}{{markdown newsletter.intro}}{{/if}}

    {{#if featured.title}}
    <div class="story featured">
      {{#if featured.image_link}}<img src="{{featured.image_link}}" alt="{{featured.title}}">{{/if}}
      {{#if featured.category}}<p class="category">{{featured.category}}</p>{{/if}}
      <h2><a href="{{featured.link}}">{{featured.title}}</a></h2>
      <p>{{featured.why_read_it}}</p>
    </div>
    {{/if}}

    {{#if top_stories}}
    <h2>Top Stories</h2>
    {{#each top_stories}}
    <div class="story">
      {{#if category}}<p class="category">{{category}}</p>{{/if}}
      <h3>{{math @index "+" 1}}. <a href="{{link}}">{{title}}</a></h3>
      <p>{{why_read_it}}</p>
    </div>
    {{/each}}
    {{/if}}

    {{#if newsletter.closing}}{{markdown newsletter.closing}}{{/if}}
  </div>
</div>
</td></tr>
</table>
</body>
</html>
`

// DefaultTemplateHTML returns the stock Handlebars newsletter template
// styled with t.
func DefaultTemplateHTML(t *Theme) string {
	if t == nil {
		t = DefaultTheme()
	}
	return fmt.Sprintf(layout, Stylesheet(t))
}

// Footer returns the unsubscribe footer block for unsubscribeURL.
func Footer(unsubscribeURL string) string {
	if unsubscribeURL == "" {
		return ""
	}
	// The URL may be a provider merge tag, so only attribute-escape quotes.
	href := strings.ReplaceAll(unsubscribeURL, `"`, "&quot;")
	return fmt.Sprintf(`<div class="footer" style="font-size:12px;text-align:center;padding:16px 24px;">`+
		`<p>You are receiving this email because you subscribed to this newsletter.</p>`+
		`<p><a href="%s">Unsubscribe</a></p></div>`, href)
}

// WithFooter inserts the unsubscribe footer before </body>, or appends it
// when the document has no body tag.
func WithFooter(doc, unsubscribeURL string) string {
	footer := Footer(unsubscribeURL)
	if footer == "" {
		return doc
	}
	idx := strings.LastIndex(strings.ToLower(doc), "</body>")
	if idx < 0 {
		return doc + "\n" + footer
	}
	return doc[:idx] + footer + "\n" + doc[idx:]
}

// ErrorPage renders a minimal standalone HTML message page.
func ErrorPage(title, message string) string {
	return fmt.Sprintf(`<!DOCTYPE html><html lang="en"><head><meta charset="UTF-8"><title>%s</title>%s</head>`+
		`<body><div class="container"><div class="content"><h2>%s</h2><p>%s</p></div></div></body></html>`,
		html.EscapeString(title), Stylesheet(DefaultTheme()), html.EscapeString(title), html.EscapeString(message))
}

// WriteHTMLEmail writes rendered HTML to outputDir/filename and returns the path.
func WriteHTMLEmail(content, outputDir, filename string) (string, error) {
	if !strings.HasSuffix(filename, ".html") {
		filename = strings.TrimSuffix(filename, filepath.Ext(filename)) + ".html"
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(outputDir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write HTML email: %w", err)
	}
	return path, nil
}
