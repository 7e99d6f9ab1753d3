package distribution

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letterdesk/internal/activity"
	"letterdesk/internal/core"
	"letterdesk/internal/links"
	"letterdesk/internal/llm"
	"letterdesk/internal/messaging"
	"letterdesk/internal/persistence"
	"letterdesk/internal/resend"
)

const origin = "https://news.example.com"

// Thursday
var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type fakeGenerator struct {
	GenerateFunc func(ctx context.Context, req llm.Request) (map[string]any, error)
	calls        int
	last         llm.Request
}

func (f *fakeGenerator) GenerateNewsletter(ctx context.Context, req llm.Request) (map[string]any, error) {
	f.calls++
	f.last = req
	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, req)
	}
	return sampleContent(), nil
}

type fakeMailer struct {
	ListAudiencesFunc func(ctx context.Context) ([]core.Audience, error)
	ListContactsFunc  func(ctx context.Context, audienceID string) ([]core.Contact, error)
	SendBatchFunc     func(ctx context.Context, emails []resend.Email) error
	SendBroadcastFunc func(ctx context.Context, b resend.Broadcast) (string, error)

	batches    [][]resend.Email
	broadcasts []resend.Broadcast
}

func (f *fakeMailer) ListAudiences(ctx context.Context) ([]core.Audience, error) {
	if f.ListAudiencesFunc != nil {
		return f.ListAudiencesFunc(ctx)
	}
	return nil, nil
}

func (f *fakeMailer) ListContacts(ctx context.Context, audienceID string) ([]core.Contact, error) {
	if f.ListContactsFunc != nil {
		return f.ListContactsFunc(ctx, audienceID)
	}
	return nil, nil
}

func (f *fakeMailer) SendBatch(ctx context.Context, emails []resend.Email) error {
	f.batches = append(f.batches, emails)
	if f.SendBatchFunc != nil {
		return f.SendBatchFunc(ctx, emails)
	}
	return nil
}

func (f *fakeMailer) SendBroadcast(ctx context.Context, b resend.Broadcast) (string, error) {
	f.broadcasts = append(f.broadcasts, b)
	if f.SendBroadcastFunc != nil {
		return f.SendBroadcastFunc(ctx, b)
	}
	return "bc_123", nil
}

type recordingNotifier struct {
	notes []messaging.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n messaging.Notification) error {
	r.notes = append(r.notes, n)
	return nil
}

func sampleContent() map[string]any {
	return map[string]any{
		"subject": "Weekly AI",
		"intro":   "Hello **there**",
		"featured_story": map[string]any{
			"headline":    "Alpha launches",
			"source_link": "https://alpha.example.com/post",
			"why_read_it": "Big news",
		},
		"top_stories": []any{
			map[string]any{"id": "art-2", "headline": "Beta ships"},
		},
	}
}

type harness struct {
	db       *persistence.GormDB
	orch     *Orchestrator
	gen      *fakeGenerator
	mailer   *fakeMailer
	notifier *recordingNotifier
	sleeps   []time.Duration
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	db, err := persistence.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, persistence.NewMigrationManager(db).Migrate(context.Background()))

	if opts.Origin == "" {
		opts.Origin = origin
	}
	h := &harness{
		db:       db,
		gen:      &fakeGenerator{},
		mailer:   &fakeMailer{},
		notifier: &recordingNotifier{},
	}
	h.orch = New(Deps{
		DB:        db,
		Generator: h.gen,
		Mailer:    h.mailer,
		Links:     links.NewService(db.ShortLinks(), origin),
		Recorder:  activity.NewRecorder(db.Activity(), nil),
		Notifier:  h.notifier,
	}, opts)
	h.orch.now = func() time.Time { return fixedNow }
	h.orch.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func (h *harness) seedArticles(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, a := range []core.Article{
		{ID: "art-1", Title: "Alpha launches", Link: "https://alpha.example.com/post", CanonicalLink: "https://alpha.example.com/post", PublishedDate: fixedNow.Add(-24 * time.Hour)},
		{ID: "art-2", Title: "Beta ships", Link: "https://beta.example.com/x", CanonicalLink: "https://beta.example.com/x", WhyItMatters: "Faster builds", PublishedDate: fixedNow.Add(-48 * time.Hour)},
	} {
		a := a
		require.NoError(t, h.db.Articles().Create(ctx, &a))
	}
}

func (h *harness) seedSequence(t *testing.T, seq core.Sequence) string {
	t.Helper()
	require.NoError(t, h.db.Sequences().Create(context.Background(), &seq))
	return seq.ID
}

func (h *harness) events(t *testing.T, seqID string) []string {
	t.Helper()
	entries, err := h.db.Activity().List(context.Background(), persistence.ActivityFilter{SequenceID: seqID})
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Event)
	}
	return out
}

func TestRunRejectsInactiveSequence(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.seedSequence(t, core.Sequence{Name: "Draft", Status: core.SequenceDraft, AudienceID: "aud"})

	_, err := h.orch.Run(context.Background(), id, RunOptions{})
	require.ErrorIs(t, err, ErrSequenceInactive)
	assert.Equal(t, "Sequence not found or not active", err.Error())

	assert.Contains(t, h.events(t, id), activity.DistributionFailed)
	assert.Zero(t, h.gen.calls)
	assert.Empty(t, h.mailer.broadcasts)
	assert.Empty(t, h.mailer.batches)
	require.Len(t, h.notifier.notes, 1)
	assert.Equal(t, core.StatusError, h.notifier.notes[0].Status)
}

func TestRunUnknownSequence(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.orch.Run(context.Background(), "missing", RunOptions{})
	assert.ErrorIs(t, err, ErrSequenceInactive)
}

func TestRunRequiresAudience(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.seedSequence(t, core.Sequence{Name: "No audience", Status: core.SequenceActive})

	_, err := h.orch.Run(context.Background(), id, RunOptions{})
	require.ErrorIs(t, err, ErrNoAudience)
	assert.Equal(t, "Sequence has no audience configured", err.Error())
}

func TestRunSkipsWithoutArticles(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.seedSequence(t, core.Sequence{Name: "Weekly", Status: core.SequenceActive, AudienceID: "aud"})

	res, err := h.orch.Run(context.Background(), id, RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, h.gen.calls)
	assert.Empty(t, h.mailer.broadcasts)
	assert.Contains(t, h.events(t, id), activity.DistributionSkipped)

	seq, err := h.db.Sequences().Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, seq.LastSent)
}

func TestRunSkipArticleCheckGeneratesAnyway(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.seedSequence(t, core.Sequence{Name: "Weekly", Status: core.SequenceActive, AudienceID: "aud"})

	res, err := h.orch.Run(context.Background(), id, RunOptions{SkipArticleCheck: true})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, h.gen.calls)
	assert.Len(t, h.mailer.broadcasts, 1)
}

func TestRunBroadcastToNamedAudience(t *testing.T) {
	h := newHarness(t, Options{ShortLinks: true})
	h.seedArticles(t)
	id := h.seedSequence(t, core.Sequence{Name: "Weekly", Status: core.SequenceActive, AudienceID: "aud_1"})
	ctx := context.Background()

	res, err := h.orch.Run(ctx, id, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "bc_123", res.BroadcastID)
	assert.Equal(t, "Weekly AI", res.Subject)
	assert.Equal(t, 2, res.Articles)

	require.Len(t, h.mailer.broadcasts, 1)
	b := h.mailer.broadcasts[0]
	assert.Equal(t, "aud_1", b.AudienceID)
	assert.Equal(t, "Weekly AI", b.Subject)
	assert.Contains(t, b.HTML, origin+"/r/")
	assert.Contains(t, b.HTML, resend.UnsubscribeMergeTag)
	assert.Contains(t, b.Text, "Alpha launches")

	alpha, err := h.db.ShortLinks().FindByTarget(ctx, "https://alpha.example.com/post", core.StringPtr("art-1"), core.StringPtr(id))
	require.NoError(t, err)
	assert.Contains(t, b.HTML, alpha.ShortCode)
	_, err = h.db.ShortLinks().FindByTarget(ctx, "https://beta.example.com/x", core.StringPtr("art-2"), core.StringPtr(id))
	require.NoError(t, err)

	assert.Equal(t, []string{
		activity.DistributionStarted,
		activity.ArticlesFetched,
		activity.ContentGenerated,
		activity.Sending,
		activity.DistributionCompleted,
	}, reverse(h.events(t, id)))

	seq, err := h.db.Sequences().Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, seq.LastSent)
	assert.True(t, seq.LastSent.Equal(fixedNow))

	require.Len(t, h.notifier.notes, 1)
	assert.Equal(t, core.StatusSuccess, h.notifier.notes[0].Status)
}

func TestRunBroadcastFailureIsFatal(t *testing.T) {
	h := newHarness(t, Options{})
	h.seedArticles(t)
	id := h.seedSequence(t, core.Sequence{Name: "Weekly", Status: core.SequenceActive, AudienceID: "aud_1"})
	h.mailer.SendBroadcastFunc = func(context.Context, resend.Broadcast) (string, error) {
		return "", &resend.APIError{Status: 422, Message: "invalid audience"}
	}

	_, err := h.orch.Run(context.Background(), id, RunOptions{})
	require.Error(t, err)
	var apiErr *resend.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Contains(t, h.events(t, id), activity.DistributionFailed)

	seq, err := h.db.Sequences().Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, seq.LastSent)
}

func TestRunGeneratorErrorIsRecorded(t *testing.T) {
	h := newHarness(t, Options{})
	h.seedArticles(t)
	id := h.seedSequence(t, core.Sequence{Name: "Weekly", Status: core.SequenceActive, AudienceID: "aud_1"})
	h.gen.GenerateFunc = func(context.Context, llm.Request) (map[string]any, error) {
		return nil, llm.ErrNoJSON
	}

	_, err := h.orch.Run(context.Background(), id, RunOptions{})
	require.ErrorIs(t, err, llm.ErrNoJSON)
	assert.Contains(t, h.events(t, id), activity.DistributionFailed)
	assert.Empty(t, h.mailer.broadcasts)
}

func TestRunLocalAudienceRetriesBatches(t *testing.T) {
	h := newHarness(t, Options{BatchSize: 2, MaxAttempts: 3, RetryBackoff: time.Second, BatchPause: 600 * time.Millisecond})
	h.seedArticles(t)
	ctx := context.Background()
	for _, s := range []core.Subscriber{
		{Email: "a@example.com"},
		{Email: "b@example.com"},
		{Email: "gone@example.com", Unsubscribed: true},
		{Email: "c@example.com"},
	} {
		s := s
		require.NoError(t, h.db.Subscribers().Upsert(ctx, &s))
	}
	id := h.seedSequence(t, core.Sequence{Name: "Local", Status: core.SequenceActive, AudienceID: core.AudienceLocalAll, Subject: "Fixed subject"})

	failures := 1
	h.mailer.SendBatchFunc = func(context.Context, []resend.Email) error {
		if failures > 0 {
			failures--
			return errors.New("rate limited")
		}
		return nil
	}

	res, err := h.orch.Run(ctx, id, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Recipients)
	assert.Equal(t, 3, res.Sent)
	assert.Zero(t, res.Failed)
	assert.Equal(t, "Fixed subject", res.Subject)

	// first batch twice (one retry), then the second batch
	require.Len(t, h.mailer.batches, 3)
	assert.Len(t, h.mailer.batches[0], 2)
	assert.Len(t, h.mailer.batches[2], 1)
	assert.Equal(t, []time.Duration{time.Second, 600 * time.Millisecond}, h.sleeps)

	first := h.mailer.batches[1][0]
	assert.Equal(t, "a@example.com", first.To)
	assert.Equal(t, "Fixed subject", first.Subject)
	assert.Contains(t, first.HTML, origin+"/unsubscribe?email=a%40example.com")
	assert.NotContains(t, first.HTML, recipientToken)
	assert.Equal(t, "<"+origin+"/unsubscribe?email=a%40example.com>", first.Headers["List-Unsubscribe"])

	seq, err := h.db.Sequences().Get(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, seq.LastSent)
}

func TestRunExhaustedBatchesFail(t *testing.T) {
	h := newHarness(t, Options{BatchSize: 100, MaxAttempts: 3, RetryBackoff: time.Second})
	h.seedArticles(t)
	ctx := context.Background()
	require.NoError(t, h.db.Subscribers().Upsert(ctx, &core.Subscriber{Email: "a@example.com"}))
	id := h.seedSequence(t, core.Sequence{Name: "Local", Status: core.SequenceActive, AudienceID: core.AudienceLocalAll})
	h.mailer.SendBatchFunc = func(context.Context, []resend.Email) error { return errors.New("down") }

	res, err := h.orch.Run(ctx, id, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, h.mailer.batches, 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.sleeps)

	seq, err := h.db.Sequences().Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, seq.LastSent)
	assert.Contains(t, h.events(t, id), activity.DistributionFailed)
}

func TestRunAllAudiencesDeduplicates(t *testing.T) {
	h := newHarness(t, Options{})
	h.seedArticles(t)
	id := h.seedSequence(t, core.Sequence{Name: "All", Status: core.SequenceActive, AudienceID: core.AudienceAll})
	h.mailer.ListAudiencesFunc = func(context.Context) ([]core.Audience, error) {
		return []core.Audience{{ID: "a1"}, {ID: "a2"}}, nil
	}
	h.mailer.ListContactsFunc = func(_ context.Context, audienceID string) ([]core.Contact, error) {
		if audienceID == "a1" {
			return []core.Contact{{Email: "One@example.com"}, {Email: "two@example.com"}}, nil
		}
		return []core.Contact{{Email: "one@example.com"}, {Email: "two@example.com", Unsubscribed: true}, {Email: "three@example.com"}}, nil
	}

	res, err := h.orch.Run(context.Background(), id, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	require.Len(t, h.mailer.batches, 1)
	var to []string
	for _, e := range h.mailer.batches[0] {
		to = append(to, e.To)
	}
	assert.Equal(t, []string{"one@example.com", "three@example.com"}, to)
}

func TestRunUsesStoredDefaultTemplate(t *testing.T) {
	h := newHarness(t, Options{})
	h.seedArticles(t)
	ctx := context.Background()
	require.NoError(t, h.db.Templates().Create(ctx, &core.NewsletterTemplate{
		Name:      "Plain",
		HTML:      "<h1>${newsletter.subject}</h1><p>${featured.title}</p>",
		IsDefault: true,
	}))
	id := h.seedSequence(t, core.Sequence{Name: "Weekly", Status: core.SequenceActive, AudienceID: "aud_1"})

	_, err := h.orch.Run(ctx, id, RunOptions{})
	require.NoError(t, err)
	require.Len(t, h.mailer.broadcasts, 1)
	assert.Equal(t, "<h1>Weekly AI</h1><p>Alpha launches</p>", h.mailer.broadcasts[0].HTML)
}

func TestRunPromptPrecedence(t *testing.T) {
	h := newHarness(t, Options{})
	h.seedArticles(t)
	ctx := context.Background()
	require.NoError(t, h.db.Settings().Set(ctx, &core.Setting{Key: llm.SettingSystemPrompt, Value: "global system"}))
	require.NoError(t, h.db.Settings().Set(ctx, &core.Setting{Key: llm.SettingUserPrompt, Value: "global user"}))
	id := h.seedSequence(t, core.Sequence{Name: "Weekly", Status: core.SequenceActive, AudienceID: "aud_1", UserPrompt: "sequence user"})

	_, err := h.orch.Run(ctx, id, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "global system", h.gen.last.SystemPrompt)
	assert.Equal(t, "sequence user", h.gen.last.UserPrompt)
	assert.Equal(t, "Weekly", h.gen.last.SequenceName)
	assert.Len(t, h.gen.last.Articles, 2)
	assert.True(t, h.gen.last.DayStart.Equal(fixedNow.AddDate(0, 0, -7)))
}

func TestPreviewDoesNotSendOrStoreLinks(t *testing.T) {
	h := newHarness(t, Options{ShortLinks: true})
	h.seedArticles(t)
	ctx := context.Background()
	id := h.seedSequence(t, core.Sequence{Name: "Draft", Status: core.SequenceDraft, AudienceID: "aud_1"})

	p, err := h.orch.Preview(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Weekly AI", p.Subject)
	assert.Equal(t, 2, p.Articles)
	assert.Contains(t, p.HTML, "news.example.com/api/redirect?url")
	assert.True(t, strings.Contains(p.Text, "Beta ships"))

	stats, err := h.db.ShortLinks().Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalLinks)
	assert.Empty(t, h.mailer.broadcasts)
	assert.Empty(t, h.events(t, id))
}

func TestLookbackDays(t *testing.T) {
	thursday := fixedNow
	monday := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		days     []int
		now      time.Time
		fallback int
		want     int
	}{
		{"no schedule", nil, thursday, 0, 7},
		{"single day", []int{4}, thursday, 0, 7},
		{"custom fallback", []int{1}, thursday, 3, 3},
		{"duplicates count once", []int{2, 2}, thursday, 0, 7},
		{"out of range ignored", []int{9, 1}, thursday, 0, 7},
		{"monday and thursday on thursday", []int{1, 4}, thursday, 0, 3},
		{"monday and thursday on monday", []int{1, 4}, monday, 0, 4},
		{"daily", []int{0, 1, 2, 3, 4, 5, 6}, monday, 0, 1},
		{"wraps across sunday", []int{5, 6}, monday, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LookbackDays(tt.days, tt.now, tt.fallback))
		})
	}
}

func TestUnsubscribeURL(t *testing.T) {
	o := &Orchestrator{opts: Options{Origin: origin + "/"}}
	assert.Equal(t, resend.UnsubscribeMergeTag, o.unsubscribeURL("aud_1"))
	assert.Equal(t, origin+"/unsubscribe?email="+recipientToken, o.unsubscribeURL(core.AudienceLocalAll))

	o.opts.UnsubscribeURL = "https://prefs.example.com/u?list=weekly"
	assert.Equal(t, "https://prefs.example.com/u?list=weekly", o.unsubscribeURL("aud_1"))
	assert.Equal(t, "https://prefs.example.com/u?list=weekly&email="+recipientToken, o.unsubscribeURL(core.AudienceAll))
}

type staticSource struct {
	articles []core.Article
	err      error
}

func (s staticSource) Recent(context.Context, time.Time, int) ([]core.Article, error) {
	return s.articles, s.err
}

func TestFallbackSource(t *testing.T) {
	local := staticSource{articles: []core.Article{{ID: "local"}}}

	got, err := FallbackSource{Primary: staticSource{err: errors.New("airtable down")}, Secondary: local}.Recent(context.Background(), fixedNow, 10)
	require.NoError(t, err)
	assert.Equal(t, "local", got[0].ID)

	got, err = FallbackSource{Primary: staticSource{articles: []core.Article{{ID: "remote"}}}, Secondary: local}.Recent(context.Background(), fixedNow, 10)
	require.NoError(t, err)
	assert.Equal(t, "remote", got[0].ID)

	_, err = FallbackSource{Primary: staticSource{err: errors.New("down")}}.Recent(context.Background(), fixedNow, 10)
	assert.Error(t, err)
}

func reverse(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
