package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letterdesk/internal/core"
)

func newTestDB(t *testing.T) *GormDB {
	t.Helper()
	db, err := NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, NewMigrationManager(db).Migrate(context.Background()))
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mm := NewMigrationManager(db)

	require.NoError(t, mm.Migrate(ctx))

	status, err := mm.Status(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, status)
	for _, s := range status {
		assert.True(t, s.Applied, "migration %d should be applied", s.Version)
	}
	assert.Equal(t, 1, status[0].Version)
	assert.Equal(t, "single default template", status[0].Description)
}

func TestRollbackRemovesLastRecord(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mm := NewMigrationManager(db)

	require.NoError(t, mm.Rollback(ctx))
	status, err := mm.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status[len(status)-1].Applied)
	assert.True(t, status[0].Applied)
}

func TestSplitStatements(t *testing.T) {
	sql := "-- comment\nCREATE TABLE a (id int);\n\n-- another\nCREATE INDEX b ON a (id);\n"
	stmts := splitStatements(sql)
	assert.Equal(t, []string{"CREATE TABLE a (id int)", "CREATE INDEX b ON a (id)"}, stmts)
}

func TestTemplateSingleDefault(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Templates()

	a := &core.NewsletterTemplate{Name: "A", HTML: "<p>a</p>", IsDefault: true}
	b := &core.NewsletterTemplate{Name: "B", HTML: "<p>b</p>"}
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	def, err := repo.GetDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, def.ID)

	require.NoError(t, repo.SetDefault(ctx, b.ID))
	def, err = repo.GetDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, def.ID)

	c := &core.NewsletterTemplate{Name: "C", HTML: "<p>c</p>", IsDefault: true}
	require.NoError(t, repo.Create(ctx, c))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	defaults := 0
	for _, tpl := range all {
		if tpl.IsDefault {
			defaults++
			assert.Equal(t, c.ID, tpl.ID)
		}
	}
	assert.Equal(t, 1, defaults)

	assert.ErrorIs(t, repo.SetDefault(ctx, "missing"), ErrNotFound)
	def, err = repo.GetDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, c.ID, def.ID, "failed SetDefault must roll back the cleared flag")
}

func TestTemplateDefaultIndexRejectsSecondDefault(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := &core.NewsletterTemplate{Name: "A", HTML: "a", IsDefault: true}
	b := &core.NewsletterTemplate{Name: "B", HTML: "b"}
	require.NoError(t, db.Templates().Create(ctx, a))
	require.NoError(t, db.Templates().Create(ctx, b))

	// Bypass the repository to hit the partial unique index directly.
	err := translateError(db.Gorm().Model(&core.NewsletterTemplate{}).Where("id = ?", b.ID).Update("is_default", true).Error)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestTemplateUpdate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Templates()

	a := &core.NewsletterTemplate{Name: "A", HTML: "a", IsDefault: true, IncludeFooter: true}
	b := &core.NewsletterTemplate{Name: "B", HTML: "b"}
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	b.HTML = "updated"
	b.IsDefault = true
	require.NoError(t, repo.Update(ctx, b))

	gotA, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, gotA.IsDefault)
	assert.True(t, gotA.IncludeFooter)

	gotB, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", gotB.HTML)
	assert.True(t, gotB.IsDefault)

	assert.ErrorIs(t, repo.Update(ctx, &core.NewsletterTemplate{ID: "nope", Name: "x", HTML: "x"}), ErrNotFound)
}

func TestShortLinkRepo(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.ShortLinks()
	articleID := "rec1"

	require.NoError(t, repo.Create(ctx, &core.ShortLink{ShortCode: "AAAAAAAA", TargetURL: "https://a.com", ArticleID: &articleID}))
	require.NoError(t, repo.Create(ctx, &core.ShortLink{ShortCode: "BBBBBBBB", TargetURL: "https://a.com"}))

	err := repo.Create(ctx, &core.ShortLink{ShortCode: "AAAAAAAA", TargetURL: "https://other.com"})
	assert.True(t, errors.Is(err, ErrDuplicate), "got %v", err)

	found, err := repo.FindByTarget(ctx, "https://a.com", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBB", found.ShortCode)

	found, err = repo.FindByTarget(ctx, "https://a.com", &articleID, nil)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAA", found.ShortCode)

	seq := "seq"
	_, err = repo.FindByTarget(ctx, "https://a.com", &articleID, &seq)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.IncrementClicks(ctx, "AAAAAAAA"))
	require.NoError(t, repo.IncrementClicks(ctx, "AAAAAAAA"))
	assert.ErrorIs(t, repo.IncrementClicks(ctx, "ZZZZZZZZ"), ErrNotFound)

	link, err := repo.GetByCode(ctx, "AAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, int64(2), link.Clicks)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalLinks)
	assert.Equal(t, int64(2), stats.TotalClicks)
	require.Len(t, stats.TopLinks, 1)
	assert.Equal(t, "AAAAAAAA", stats.TopLinks[0].ShortCode)
}

func TestSequenceRepo(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Sequences()

	seq := &core.Sequence{Name: "Weekly", AudienceID: "aud_1", DaysOfWeek: []int{1, 4}}
	require.NoError(t, repo.Create(ctx, seq))
	assert.NotEmpty(t, seq.ID)
	assert.Equal(t, core.SequenceDraft, seq.Status)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	seq.Status = core.SequenceActive
	require.NoError(t, repo.Update(ctx, seq))

	active, err = repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, []int{1, 4}, []int(active[0].DaysOfWeek))
	assert.Nil(t, active[0].LastSent)

	sentAt := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkSent(ctx, seq.ID, sentAt))
	got, err := repo.Get(ctx, seq.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSent)
	assert.True(t, got.LastSent.Equal(sentAt))

	require.NoError(t, repo.Delete(ctx, seq.ID))
	_, err = repo.Get(ctx, seq.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArticleRepo(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Articles()
	now := time.Now().UTC()

	old := &core.Article{Title: "Old", Link: "https://a.com/old", CanonicalLink: "https://a.com/old", PublishedDate: now.Add(-10 * 24 * time.Hour)}
	fresh := &core.Article{Title: "Fresh", Link: "https://a.com/new?utm_source=x", CanonicalLink: "https://a.com/new", PublishedDate: now.Add(-time.Hour)}
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, fresh))

	dup := &core.Article{Title: "Dup", Link: "https://a.com/new", CanonicalLink: "https://a.com/new"}
	assert.ErrorIs(t, repo.Create(ctx, dup), ErrDuplicate)

	recent, err := repo.GetRecent(ctx, now.Add(-7*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "Fresh", recent[0].Title)

	byLink, err := repo.GetByCanonicalLink(ctx, "https://a.com/new")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, byLink.ID)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestActivityCountByEvent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Activity()
	seqID := "seq-1"

	for _, event := range []string{"distribution_started", "distribution_completed", "distribution_started"} {
		require.NoError(t, repo.Create(ctx, &core.ActivityLog{SequenceID: &seqID, Event: event, Status: core.StatusInfo}))
	}
	require.NoError(t, repo.Create(ctx, &core.ActivityLog{Event: "ingestion_started", Status: core.StatusInfo, Metadata: map[string]any{"feeds": 3}}))

	counts, err := repo.CountByEvent(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["distribution_started"])
	assert.Equal(t, int64(1), counts["distribution_completed"])

	entries, err := repo.List(ctx, ActivityFilter{SequenceID: seqID})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = repo.List(ctx, ActivityFilter{Event: "ingestion_started"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 3, entries[0].Metadata["feeds"])
}

func TestSettingsUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Settings()

	require.NoError(t, repo.Set(ctx, &core.Setting{Key: "system_prompt", Value: "one"}))
	require.NoError(t, repo.Set(ctx, &core.Setting{Key: "system_prompt", Value: "two"}))

	got, err := repo.Get(ctx, "system_prompt")
	require.NoError(t, err)
	assert.Equal(t, "two", got.Value)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.Error(t, repo.Set(ctx, &core.Setting{Key: " "}))
	require.NoError(t, repo.Delete(ctx, "system_prompt"))
	_, err = repo.Get(ctx, "system_prompt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscriberRepo(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Subscribers()

	require.NoError(t, repo.Upsert(ctx, &core.Subscriber{Email: "A@Example.com", FirstName: "Ann"}))
	require.NoError(t, repo.Upsert(ctx, &core.Subscriber{Email: "b@example.com"}))
	require.NoError(t, repo.Upsert(ctx, &core.Subscriber{Email: "a@example.com", FirstName: "Anna"}))
	require.NoError(t, repo.Unsubscribe(ctx, "b@example.com"))

	subs, err := repo.ListSubscribed(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "a@example.com", subs[0].Email)
	assert.Equal(t, "Anna", subs[0].FirstName)

	assert.ErrorIs(t, repo.Unsubscribe(ctx, "nobody@example.com"), ErrNotFound)
}

func TestFeedRecordFetch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Feeds()

	feed := &core.Feed{URL: "https://blog.example.com/rss", Active: true}
	require.NoError(t, repo.Create(ctx, feed))
	require.NoError(t, repo.RecordFetch(ctx, feed.ID, time.Now(), errors.New("boom")))
	require.NoError(t, repo.RecordFetch(ctx, feed.ID, time.Now(), errors.New("boom again")))

	got, err := repo.Get(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ErrorCount)
	assert.Equal(t, "boom again", got.LastError)
	assert.Nil(t, got.LastFetched)

	require.NoError(t, repo.RecordFetch(ctx, feed.ID, time.Now(), nil))
	got, err = repo.Get(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ErrorCount)
	assert.NotNil(t, got.LastFetched)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestTransactionRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.Transaction(ctx, func(tx Database) error {
		if err := tx.Settings().Set(ctx, &core.Setting{Key: "k", Value: "v"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = db.Settings().Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "whatever")
	assert.Error(t, err)
}
