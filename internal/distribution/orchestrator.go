// Package distribution turns a sequence into a sent newsletter issue:
// fetch articles, generate content, short-link stories, render and send.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"letterdesk/internal/activity"
	"letterdesk/internal/config"
	"letterdesk/internal/core"
	"letterdesk/internal/email"
	"letterdesk/internal/links"
	"letterdesk/internal/llm"
	"letterdesk/internal/logger"
	"letterdesk/internal/messaging"
	"letterdesk/internal/newsletter"
	"letterdesk/internal/persistence"
	"letterdesk/internal/resend"
)

var (
	// ErrSequenceInactive is returned for unknown, draft or paused sequences.
	ErrSequenceInactive = errors.New("Sequence not found or not active")
	// ErrNoAudience is returned when a sequence has no audience configured.
	ErrNoAudience = errors.New("Sequence has no audience configured")
	// ErrNoGenerator is returned when no AI provider is configured.
	ErrNoGenerator = errors.New("AI generator is not configured")
	// ErrNoMailer is returned when no email provider is configured.
	ErrNoMailer = errors.New("email provider is not configured")
)

// Notifier receives the outcome of each run.
type Notifier interface {
	Notify(ctx context.Context, n messaging.Notification) error
}

// Options tunes sending and rendering.
type Options struct {
	Origin              string // Public base URL for redirects and the unsubscribe page
	BannerURL           string
	UnsubscribeURL      string // Overrides the generated unsubscribe link
	BatchSize           int
	MaxAttempts         int
	RetryBackoff        time.Duration // Multiplied by the attempt number
	BatchPause          time.Duration
	MaxArticles         int
	DefaultLookbackDays int
	ShortLinks          bool
}

// OptionsFromConfig maps the distribution config section onto Options.
func OptionsFromConfig(cfg config.Distribution, origin string) Options {
	return Options{
		Origin:              origin,
		BannerURL:           cfg.BannerURL,
		UnsubscribeURL:      cfg.UnsubscribeURL,
		BatchSize:           cfg.BatchSize,
		MaxAttempts:         cfg.MaxAttempts,
		RetryBackoff:        config.Duration(cfg.RetryBackoff, time.Second),
		BatchPause:          config.Duration(cfg.BatchPause, 600*time.Millisecond),
		MaxArticles:         cfg.MaxArticles,
		DefaultLookbackDays: cfg.DefaultLookbackDays,
		ShortLinks:          cfg.ShortLinks,
	}
}

// Deps are the collaborators of an Orchestrator. Articles defaults to the
// local article table; Links, Recorder and Notifier are optional.
type Deps struct {
	DB        persistence.Database
	Articles  ArticleSource
	Generator llm.Generator
	Mailer    Mailer
	Links     *links.Service
	Recorder  *activity.Recorder
	Notifier  Notifier
}

// RunOptions alters a single run.
type RunOptions struct {
	SkipArticleCheck bool // Generate and send even when no articles were found
}

// Result summarizes a run.
type Result struct {
	SequenceID  string `json:"sequence_id"`
	Subject     string `json:"subject,omitempty"`
	Articles    int    `json:"articles"`
	Skipped     bool   `json:"skipped"`
	Recipients  int    `json:"recipients"`
	Sent        int    `json:"sent"`
	Failed      int    `json:"failed"`
	BroadcastID string `json:"broadcast_id,omitempty"`
}

// Preview is a rendered issue that was not sent.
type Preview struct {
	Subject  string `json:"subject"`
	HTML     string `json:"html"`
	Text     string `json:"text"`
	Articles int    `json:"articles"`
}

// Orchestrator runs sequence distributions.
type Orchestrator struct {
	db        persistence.Database
	articles  ArticleSource
	generator llm.Generator
	mailer    Mailer
	links     *links.Service
	recorder  *activity.Recorder
	notifier  Notifier
	opts      Options
	log       *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	articles := deps.Articles
	if articles == nil && deps.DB != nil {
		articles = LocalArticles{Repo: deps.DB.Articles()}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Orchestrator{
		db:        deps.DB,
		articles:  articles,
		generator: deps.Generator,
		mailer:    deps.Mailer,
		links:     deps.Links,
		recorder:  deps.Recorder,
		notifier:  deps.Notifier,
		opts:      opts,
		log:       logger.Get().With("component", "distribution"),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Run distributes one issue of the sequence. Every failure is recorded as
// a distribution_failed activity and returned.
func (o *Orchestrator) Run(ctx context.Context, sequenceID string, ro RunOptions) (res *Result, err error) {
	res = &Result{SequenceID: sequenceID}
	var seq *core.Sequence

	defer func() {
		if err == nil {
			return
		}
		o.recorder.Record(ctx, sequenceID, activity.DistributionFailed, core.StatusError,
			"Distribution failed", map[string]any{"error": err.Error()})
		o.notify(ctx, seq, res, core.StatusError, err.Error())
	}()

	o.recorder.Record(ctx, sequenceID, activity.DistributionStarted, core.StatusInfo, "Starting distribution", nil)

	seq, err = o.loadSequence(ctx, sequenceID, false)
	if err != nil {
		return res, err
	}
	if strings.TrimSpace(seq.AudienceID) == "" {
		return res, ErrNoAudience
	}
	if o.generator == nil {
		return res, ErrNoGenerator
	}
	if o.mailer == nil {
		return res, ErrNoMailer
	}

	now := o.now().In(seq.Location())
	articles, since, err := o.fetchArticles(ctx, seq, now)
	if err != nil {
		return res, err
	}
	res.Articles = len(articles)
	o.recorder.Record(ctx, seq.ID, activity.ArticlesFetched, core.StatusInfo,
		fmt.Sprintf("Fetched %d articles", len(articles)),
		map[string]any{"count": len(articles), "since": since.Format(time.RFC3339)})

	if len(articles) == 0 && !ro.SkipArticleCheck {
		res.Skipped = true
		msg := "No articles found for the lookback window, skipping distribution"
		o.recorder.Record(ctx, seq.ID, activity.DistributionSkipped, core.StatusWarning, msg,
			map[string]any{"since": since.Format(time.RFC3339)})
		o.notify(ctx, seq, res, core.StatusWarning, msg)
		return res, nil
	}

	unsubscribeURL := o.unsubscribeURL(seq.AudienceID)
	msg, err := o.compose(ctx, seq, articles, since, now, unsubscribeURL, true)
	if err != nil {
		return res, err
	}
	res.Subject = msg.Subject
	o.recorder.Record(ctx, seq.ID, activity.ContentGenerated, core.StatusInfo, "Newsletter content generated",
		map[string]any{"subject": msg.Subject})

	if err = o.send(ctx, seq, msg, unsubscribeURL, res); err != nil {
		return res, err
	}
	if res.Skipped {
		return res, nil
	}

	if merr := o.db.Sequences().MarkSent(ctx, seq.ID, o.now()); merr != nil {
		o.log.Error("Failed to update last sent", "sequence_id", seq.ID, "error", merr.Error())
	}

	status := core.StatusSuccess
	summary := fmt.Sprintf("Sent %d of %d emails", res.Sent, res.Recipients)
	if res.BroadcastID != "" {
		summary = "Broadcast sent"
	}
	if res.Failed > 0 {
		status = core.StatusWarning
	}
	o.recorder.Record(ctx, seq.ID, activity.DistributionCompleted, status, summary, map[string]any{
		"recipients":   res.Recipients,
		"sent":         res.Sent,
		"failed":       res.Failed,
		"broadcast_id": res.BroadcastID,
	})
	o.notify(ctx, seq, res, status, summary)
	return res, nil
}

// Preview renders the next issue of a sequence without sending it or
// writing short links. Draft and paused sequences can be previewed.
func (o *Orchestrator) Preview(ctx context.Context, sequenceID string) (*Preview, error) {
	seq, err := o.loadSequence(ctx, sequenceID, true)
	if err != nil {
		return nil, err
	}
	if o.generator == nil {
		return nil, ErrNoGenerator
	}

	now := o.now().In(seq.Location())
	articles, since, err := o.fetchArticles(ctx, seq, now)
	if err != nil {
		return nil, err
	}

	unsubscribeURL := o.unsubscribeURL(seq.AudienceID)
	msg, err := o.compose(ctx, seq, articles, since, now, unsubscribeURL, false)
	if err != nil {
		return nil, err
	}
	return &Preview{Subject: msg.Subject, HTML: msg.HTML, Text: msg.Text, Articles: len(articles)}, nil
}

func (o *Orchestrator) loadSequence(ctx context.Context, id string, allowInactive bool) (*core.Sequence, error) {
	seq, err := o.db.Sequences().Get(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrSequenceInactive
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sequence: %w", err)
	}
	if !allowInactive && !seq.IsActive() {
		return nil, ErrSequenceInactive
	}
	return seq, nil
}

func (o *Orchestrator) fetchArticles(ctx context.Context, seq *core.Sequence, now time.Time) ([]core.Article, time.Time, error) {
	days := LookbackDays(seq.DaysOfWeek, now, o.opts.DefaultLookbackDays)
	since := now.AddDate(0, 0, -days)
	articles, err := o.articles.Recent(ctx, since, o.opts.MaxArticles)
	if err != nil {
		return nil, since, fmt.Errorf("failed to fetch articles: %w", err)
	}
	return articles, since, nil
}

// compose generates the content and renders it. With persist set, story
// links are replaced by stored short links.
func (o *Orchestrator) compose(ctx context.Context, seq *core.Sequence, articles []core.Article, since, now time.Time, unsubscribeURL string, persist bool) (Message, error) {
	req := llm.Request{
		SystemPrompt: llm.ResolvePrompt(seq.SystemPrompt, o.setting(ctx, llm.SettingSystemPrompt), llm.DefaultSystemPrompt),
		UserPrompt:   llm.ResolvePrompt(seq.UserPrompt, o.setting(ctx, llm.SettingUserPrompt), llm.DefaultUserPrompt),
		Articles:     articles,
		DayStart:     since,
		DayEnd:       now,
		SequenceName: seq.Name,
	}
	raw, err := o.generator.GenerateNewsletter(ctx, req)
	if err != nil {
		return Message{}, err
	}
	content := newsletter.NormalizeContent(raw)

	if persist && o.opts.ShortLinks && o.links != nil {
		if err := o.shortenStories(ctx, seq.ID, content, articles); err != nil {
			return Message{}, err
		}
	}

	nctx := newsletter.BuildContext(newsletter.ContextInput{
		Content:        content,
		Articles:       articles,
		Origin:         o.opts.Origin,
		UnsubscribeURL: unsubscribeURL,
		BannerURL:      o.opts.BannerURL,
		Now:            now,
	})

	tpl, footer, err := o.template(ctx, seq)
	if err != nil {
		return Message{}, err
	}
	html, err := newsletter.Render(tpl, nctx)
	if err != nil {
		return Message{}, err
	}
	if footer {
		html = email.WithFooter(html, unsubscribeURL)
	}
	text, err := newsletter.RenderPlainText(nctx)
	if err != nil {
		return Message{}, err
	}

	subject := strings.TrimSpace(seq.Subject)
	if subject == "" {
		subject = strings.TrimSpace(content.Subject)
	}
	if subject == "" {
		subject = seq.Name
	}
	return Message{Subject: subject, HTML: html, Text: text}, nil
}

func (o *Orchestrator) setting(ctx context.Context, key string) string {
	s, err := o.db.Settings().Get(ctx, key)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			o.log.Warn("Failed to read setting", "key", key, "error", err.Error())
		}
		return ""
	}
	return s.Value
}

// shortenStories points every story at a stored short link. The featured
// story is matched without a position fallback.
func (o *Orchestrator) shortenStories(ctx context.Context, sequenceID string, content *newsletter.Content, articles []core.Article) error {
	rec := newsletter.ReconcilerFor(articles)
	seqID := core.StringPtr(sequenceID)

	shorten := func(story *newsletter.Story, index *int) error {
		article := rec.FindArticleForStory(*story, index)
		target := story.TargetLink()
		var articleID *string
		if article != nil {
			articleID = core.StringPtr(article.ID)
			if story.ID == "" {
				story.ID = article.ID
			}
			if target == "" {
				target = article.OriginalLink
			}
		}
		if target == "" {
			return nil
		}
		short, err := o.links.CreateShortLink(ctx, links.Unwrap(target), articleID, seqID)
		if err != nil {
			return fmt.Errorf("failed to create short link: %w", err)
		}
		story.Link = short
		return nil
	}

	if content.Featured != nil {
		if err := shorten(content.Featured, nil); err != nil {
			return err
		}
	}
	for i := range content.TopStories {
		idx := i
		if err := shorten(&content.TopStories[i], &idx); err != nil {
			return err
		}
	}
	return nil
}

// template picks the sequence's template, then the default template, then
// the built-in layout. It reports whether the unsubscribe footer is added.
func (o *Orchestrator) template(ctx context.Context, seq *core.Sequence) (string, bool, error) {
	if id := core.Deref(seq.TemplateID); id != "" {
		tpl, err := o.db.Templates().Get(ctx, id)
		switch {
		case err == nil:
			return tpl.HTML, tpl.IncludeFooter, nil
		case errors.Is(err, persistence.ErrNotFound):
			o.log.Warn("Sequence template not found, using default", "sequence_id", seq.ID, "template_id", id)
		default:
			return "", false, fmt.Errorf("failed to load template: %w", err)
		}
	}

	tpl, err := o.db.Templates().GetDefault(ctx)
	switch {
	case err == nil:
		return tpl.HTML, tpl.IncludeFooter, nil
	case errors.Is(err, persistence.ErrNotFound):
		return email.DefaultTemplateHTML(nil), true, nil
	default:
		return "", false, fmt.Errorf("failed to load default template: %w", err)
	}
}

func isBatchAudience(audienceID string) bool {
	return audienceID == core.AudienceAll || audienceID == core.AudienceLocalAll
}

// unsubscribeURL returns the link rendered into the issue. Broadcasts use
// the provider merge tag; batch sends carry a per-recipient token.
func (o *Orchestrator) unsubscribeURL(audienceID string) string {
	if !isBatchAudience(audienceID) {
		if o.opts.UnsubscribeURL != "" {
			return o.opts.UnsubscribeURL
		}
		return resend.UnsubscribeMergeTag
	}
	base := o.opts.UnsubscribeURL
	if base == "" {
		if o.opts.Origin == "" {
			return ""
		}
		base = strings.TrimRight(o.opts.Origin, "/") + "/unsubscribe"
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "email=" + recipientToken
}

func (o *Orchestrator) send(ctx context.Context, seq *core.Sequence, msg Message, unsubscribeURL string, res *Result) error {
	if !isBatchAudience(seq.AudienceID) {
		o.recorder.Record(ctx, seq.ID, activity.Sending, core.StatusInfo, "Sending broadcast",
			map[string]any{"audience_id": seq.AudienceID})
		id, err := o.mailer.SendBroadcast(ctx, resend.Broadcast{
			AudienceID: seq.AudienceID,
			Name:       fmt.Sprintf("%s - %s", seq.Name, o.now().Format("2006-01-02")),
			Subject:    msg.Subject,
			HTML:       msg.HTML,
			Text:       msg.Text,
		})
		if err != nil {
			return fmt.Errorf("failed to send broadcast: %w", err)
		}
		res.BroadcastID = id
		return nil
	}

	var recipients []string
	if seq.AudienceID == core.AudienceAll {
		var err error
		if recipients, err = providerRecipients(ctx, o.mailer); err != nil {
			return err
		}
	} else {
		subs, err := o.db.Subscribers().ListSubscribed(ctx)
		if err != nil {
			return fmt.Errorf("failed to list subscribers: %w", err)
		}
		recipients = localRecipients(subs)
	}

	res.Recipients = len(recipients)
	if len(recipients) == 0 {
		res.Skipped = true
		note := "No subscribed recipients, skipping distribution"
		o.recorder.Record(ctx, seq.ID, activity.DistributionSkipped, core.StatusWarning, note,
			map[string]any{"audience_id": seq.AudienceID})
		o.notify(ctx, seq, res, core.StatusWarning, note)
		return nil
	}

	o.recorder.Record(ctx, seq.ID, activity.Sending, core.StatusInfo,
		fmt.Sprintf("Sending to %d recipients", len(recipients)),
		map[string]any{"audience_id": seq.AudienceID, "recipients": len(recipients)})

	report, err := o.sendBatches(ctx, recipients, msg, unsubscribeURL)
	res.Sent, res.Failed = report.Sent, report.Failed
	if err != nil {
		return err
	}
	if report.Sent == 0 {
		return fmt.Errorf("all %d recipients failed in %d batches", report.Failed, report.Batches)
	}
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, seq *core.Sequence, res *Result, status, message string) {
	if o.notifier == nil {
		return
	}
	n := messaging.Notification{
		Status:    status,
		Message:   message,
		Sent:      res.Sent,
		Failed:    res.Failed,
		Subject:   res.Subject,
		Timestamp: o.now(),
	}
	if seq != nil {
		n.SequenceName = seq.Name
		n.Audience = seq.AudienceID
	} else {
		n.SequenceName = res.SequenceID
	}
	if err := o.notifier.Notify(ctx, n); err != nil {
		o.log.Warn("Failed to send notification", "sequence_id", res.SequenceID, "error", err.Error())
	}
}
