package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"letterdesk/internal/core"
)

// applyList applies pagination and a whitelisted sort column.
func applyList(q *gorm.DB, opts ListOptions, sortable ...string) *gorm.DB {
	column := "created_at"
	for _, s := range sortable {
		if strings.EqualFold(opts.SortBy, s) {
			column = s
			break
		}
	}
	q = q.Order(clause.OrderByColumn{
		Column: clause.Column{Name: column},
		Desc:   !strings.EqualFold(opts.Order, "asc"),
	})
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	return q
}

// whereNullable matches column against v, treating nil as IS NULL.
func whereNullable(q *gorm.DB, column string, v *string) *gorm.DB {
	if v == nil {
		return q.Where(column + " IS NULL")
	}
	return q.Where(column+" = ?", *v)
}

// articleRepo implements ArticleRepository
type articleRepo struct {
	db *gorm.DB
}

func (r *articleRepo) Create(ctx context.Context, article *core.Article) error {
	if article.ID == "" {
		article.ID = uuid.NewString()
	}
	if article.CanonicalLink == "" {
		article.CanonicalLink = article.Link
	}
	return translateError(r.db.WithContext(ctx).Create(article).Error)
}

func (r *articleRepo) Get(ctx context.Context, id string) (*core.Article, error) {
	var article core.Article
	if err := r.db.WithContext(ctx).First(&article, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &article, nil
}

func (r *articleRepo) GetByCanonicalLink(ctx context.Context, canonical string) (*core.Article, error) {
	var article core.Article
	if err := r.db.WithContext(ctx).First(&article, "canonical_link = ?", canonical).Error; err != nil {
		return nil, translateError(err)
	}
	return &article, nil
}

func (r *articleRepo) List(ctx context.Context, opts ListOptions) ([]core.Article, error) {
	var articles []core.Article
	q := applyList(r.db.WithContext(ctx), opts, "created_at", "published_date", "title")
	if err := q.Find(&articles).Error; err != nil {
		return nil, translateError(err)
	}
	return articles, nil
}

func (r *articleRepo) GetRecent(ctx context.Context, since time.Time, limit int) ([]core.Article, error) {
	var articles []core.Article
	q := r.db.WithContext(ctx).Where("published_date >= ?", since.UTC()).Order("published_date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&articles).Error; err != nil {
		return nil, translateError(err)
	}
	return articles, nil
}

func (r *articleRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&core.Article{}, "id = ?", id)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *articleRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&core.Article{}).Count(&n).Error
	return n, translateError(err)
}

// shortLinkRepo implements ShortLinkRepository
type shortLinkRepo struct {
	db *gorm.DB
}

func (r *shortLinkRepo) FindByTarget(ctx context.Context, targetURL string, articleID, sequenceID *string) (*core.ShortLink, error) {
	var link core.ShortLink
	q := r.db.WithContext(ctx).Where("target_url = ?", targetURL)
	q = whereNullable(q, "article_id", articleID)
	q = whereNullable(q, "sequence_id", sequenceID)
	if err := q.Order("id ASC").First(&link).Error; err != nil {
		return nil, translateError(err)
	}
	return &link, nil
}

func (r *shortLinkRepo) GetByCode(ctx context.Context, code string) (*core.ShortLink, error) {
	var link core.ShortLink
	if err := r.db.WithContext(ctx).First(&link, "short_code = ?", code).Error; err != nil {
		return nil, translateError(err)
	}
	return &link, nil
}

func (r *shortLinkRepo) Create(ctx context.Context, link *core.ShortLink) error {
	link.Clicks = 0
	return translateError(r.db.WithContext(ctx).Create(link).Error)
}

func (r *shortLinkRepo) IncrementClicks(ctx context.Context, code string) error {
	res := r.db.WithContext(ctx).Model(&core.ShortLink{}).
		Where("short_code = ?", code).
		Update("clicks", gorm.Expr("clicks + ?", 1))
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *shortLinkRepo) List(ctx context.Context, opts ListOptions) ([]core.ShortLink, error) {
	var links []core.ShortLink
	q := applyList(r.db.WithContext(ctx), opts, "created_at", "clicks")
	if err := q.Find(&links).Error; err != nil {
		return nil, translateError(err)
	}
	return links, nil
}

func (r *shortLinkRepo) Stats(ctx context.Context) (LinkStats, error) {
	var stats LinkStats
	row := struct {
		TotalLinks  int64
		TotalClicks int64
	}{}
	err := r.db.WithContext(ctx).Model(&core.ShortLink{}).
		Select("COUNT(*) AS total_links, COALESCE(SUM(clicks), 0) AS total_clicks").
		Scan(&row).Error
	if err != nil {
		return stats, translateError(err)
	}
	stats.TotalLinks = row.TotalLinks
	stats.TotalClicks = row.TotalClicks

	if err := r.db.WithContext(ctx).Where("clicks > 0").Order("clicks DESC").Limit(10).Find(&stats.TopLinks).Error; err != nil {
		return stats, translateError(err)
	}
	return stats, nil
}

// sequenceRepo implements SequenceRepository
type sequenceRepo struct {
	db *gorm.DB
}

func (r *sequenceRepo) Create(ctx context.Context, seq *core.Sequence) error {
	if seq.ID == "" {
		seq.ID = uuid.NewString()
	}
	if seq.Status == "" {
		seq.Status = core.SequenceDraft
	}
	if seq.SendTime == "" {
		seq.SendTime = "09:00"
	}
	if seq.Timezone == "" {
		seq.Timezone = "UTC"
	}
	return translateError(r.db.WithContext(ctx).Create(seq).Error)
}

func (r *sequenceRepo) Get(ctx context.Context, id string) (*core.Sequence, error) {
	var seq core.Sequence
	if err := r.db.WithContext(ctx).First(&seq, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &seq, nil
}

func (r *sequenceRepo) List(ctx context.Context, opts ListOptions) ([]core.Sequence, error) {
	var seqs []core.Sequence
	q := r.db.WithContext(ctx)
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if err := applyList(q, opts, "created_at", "name", "updated_at").Find(&seqs).Error; err != nil {
		return nil, translateError(err)
	}
	return seqs, nil
}

func (r *sequenceRepo) ListActive(ctx context.Context) ([]core.Sequence, error) {
	return r.List(ctx, ListOptions{Status: string(core.SequenceActive), SortBy: "name", Order: "asc"})
}

func (r *sequenceRepo) Update(ctx context.Context, seq *core.Sequence) error {
	res := r.db.WithContext(ctx).Model(seq).Select("*").Omit("created_at").Updates(seq)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sequenceRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&core.Sequence{}, "id = ?", id)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sequenceRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&core.Sequence{}).Where("id = ?", id).Update("last_sent", at.UTC())
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// templateRepo implements TemplateRepository
type templateRepo struct {
	db *gorm.DB
}

func clearDefaults(tx *gorm.DB, exceptID string) error {
	return tx.Model(&core.NewsletterTemplate{}).
		Where("is_default = ? AND id <> ?", true, exceptID).
		Update("is_default", false).Error
}

func (r *templateRepo) Create(ctx context.Context, tpl *core.NewsletterTemplate) error {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	return translateError(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tpl.IsDefault {
			if err := clearDefaults(tx, tpl.ID); err != nil {
				return err
			}
		}
		return tx.Create(tpl).Error
	}))
}

func (r *templateRepo) Get(ctx context.Context, id string) (*core.NewsletterTemplate, error) {
	var tpl core.NewsletterTemplate
	if err := r.db.WithContext(ctx).First(&tpl, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &tpl, nil
}

func (r *templateRepo) List(ctx context.Context) ([]core.NewsletterTemplate, error) {
	var tpls []core.NewsletterTemplate
	if err := r.db.WithContext(ctx).Order("is_default DESC, name ASC").Find(&tpls).Error; err != nil {
		return nil, translateError(err)
	}
	return tpls, nil
}

func (r *templateRepo) Update(ctx context.Context, tpl *core.NewsletterTemplate) error {
	return translateError(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tpl.IsDefault {
			if err := clearDefaults(tx, tpl.ID); err != nil {
				return err
			}
		}
		res := tx.Model(tpl).Select("*").Omit("created_at").Updates(tpl)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	}))
}

func (r *templateRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&core.NewsletterTemplate{}, "id = ?", id)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *templateRepo) GetDefault(ctx context.Context) (*core.NewsletterTemplate, error) {
	var tpl core.NewsletterTemplate
	if err := r.db.WithContext(ctx).First(&tpl, "is_default = ?", true).Error; err != nil {
		return nil, translateError(err)
	}
	return &tpl, nil
}

func (r *templateRepo) SetDefault(ctx context.Context, id string) error {
	return translateError(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := clearDefaults(tx, id); err != nil {
			return err
		}
		res := tx.Model(&core.NewsletterTemplate{}).Where("id = ?", id).Update("is_default", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	}))
}

// activityRepo implements ActivityRepository
type activityRepo struct {
	db *gorm.DB
}

func (r *activityRepo) Create(ctx context.Context, entry *core.ActivityLog) error {
	return translateError(r.db.WithContext(ctx).Create(entry).Error)
}

func (r *activityRepo) List(ctx context.Context, filter ActivityFilter) ([]core.ActivityLog, error) {
	var entries []core.ActivityLog
	q := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if filter.SequenceID != "" {
		q = q.Where("sequence_id = ?", filter.SequenceID)
	}
	if filter.Event != "" {
		q = q.Where("event = ?", filter.Event)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if err := q.Limit(limit).Find(&entries).Error; err != nil {
		return nil, translateError(err)
	}
	return entries, nil
}

func (r *activityRepo) CountByEvent(ctx context.Context, since time.Time) (map[string]int64, error) {
	var rows []struct {
		Event string
		Count int64
	}
	err := r.db.WithContext(ctx).Model(&core.ActivityLog{}).
		Select("event, COUNT(*) AS count").
		Where("created_at >= ?", since.UTC()).
		Group("event").
		Scan(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Event] = row.Count
	}
	return counts, nil
}

// settingsRepo implements SettingsRepository
type settingsRepo struct {
	db *gorm.DB
}

func (r *settingsRepo) Get(ctx context.Context, key string) (*core.Setting, error) {
	var setting core.Setting
	if err := r.db.WithContext(ctx).First(&setting, "key = ?", key).Error; err != nil {
		return nil, translateError(err)
	}
	return &setting, nil
}

func (r *settingsRepo) Set(ctx context.Context, setting *core.Setting) error {
	if strings.TrimSpace(setting.Key) == "" {
		return fmt.Errorf("setting key is required")
	}
	setting.UpdatedAt = time.Now().UTC()
	return translateError(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "encrypted", "updated_at"}),
	}).Create(setting).Error)
}

func (r *settingsRepo) List(ctx context.Context) ([]core.Setting, error) {
	var settings []core.Setting
	if err := r.db.WithContext(ctx).Order("key ASC").Find(&settings).Error; err != nil {
		return nil, translateError(err)
	}
	return settings, nil
}

func (r *settingsRepo) Delete(ctx context.Context, key string) error {
	res := r.db.WithContext(ctx).Delete(&core.Setting{}, "key = ?", key)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// subscriberRepo implements SubscriberRepository
type subscriberRepo struct {
	db *gorm.DB
}

func (r *subscriberRepo) Upsert(ctx context.Context, sub *core.Subscriber) error {
	sub.Email = strings.ToLower(strings.TrimSpace(sub.Email))
	if sub.Email == "" {
		return fmt.Errorf("subscriber email is required")
	}
	return translateError(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "unsubscribed", "updated_at"}),
	}).Create(sub).Error)
}

func (r *subscriberRepo) List(ctx context.Context, opts ListOptions) ([]core.Subscriber, error) {
	var subs []core.Subscriber
	if err := applyList(r.db.WithContext(ctx), opts, "created_at", "email").Find(&subs).Error; err != nil {
		return nil, translateError(err)
	}
	return subs, nil
}

func (r *subscriberRepo) ListSubscribed(ctx context.Context) ([]core.Subscriber, error) {
	var subs []core.Subscriber
	if err := r.db.WithContext(ctx).Where("unsubscribed = ?", false).Order("id ASC").Find(&subs).Error; err != nil {
		return nil, translateError(err)
	}
	return subs, nil
}

func (r *subscriberRepo) Unsubscribe(ctx context.Context, email string) error {
	res := r.db.WithContext(ctx).Model(&core.Subscriber{}).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Update("unsubscribed", true)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// feedRepo implements FeedRepository
type feedRepo struct {
	db *gorm.DB
}

func (r *feedRepo) Create(ctx context.Context, feed *core.Feed) error {
	if feed.ID == "" {
		feed.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(feed.URL)).String()
	}
	return translateError(r.db.WithContext(ctx).Create(feed).Error)
}

func (r *feedRepo) Get(ctx context.Context, id string) (*core.Feed, error) {
	var feed core.Feed
	if err := r.db.WithContext(ctx).First(&feed, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &feed, nil
}

func (r *feedRepo) GetByURL(ctx context.Context, url string) (*core.Feed, error) {
	var feed core.Feed
	if err := r.db.WithContext(ctx).First(&feed, "url = ?", url).Error; err != nil {
		return nil, translateError(err)
	}
	return &feed, nil
}

func (r *feedRepo) ListActive(ctx context.Context) ([]core.Feed, error) {
	var feeds []core.Feed
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("created_at ASC").Find(&feeds).Error; err != nil {
		return nil, translateError(err)
	}
	return feeds, nil
}

func (r *feedRepo) List(ctx context.Context, opts ListOptions) ([]core.Feed, error) {
	var feeds []core.Feed
	if err := applyList(r.db.WithContext(ctx), opts, "created_at", "title").Find(&feeds).Error; err != nil {
		return nil, translateError(err)
	}
	return feeds, nil
}

func (r *feedRepo) Update(ctx context.Context, feed *core.Feed) error {
	res := r.db.WithContext(ctx).Model(feed).Select("*").Omit("created_at").Updates(feed)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *feedRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&core.Feed{}, "id = ?", id)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *feedRepo) RecordFetch(ctx context.Context, id string, at time.Time, fetchErr error) error {
	updates := map[string]any{}
	if fetchErr == nil {
		updates["last_fetched"] = at.UTC()
		updates["error_count"] = 0
		updates["last_error"] = ""
	} else {
		updates["error_count"] = gorm.Expr("error_count + ?", 1)
		updates["last_error"] = fetchErr.Error()
	}
	res := r.db.WithContext(ctx).Model(&core.Feed{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
