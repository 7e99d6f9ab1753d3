package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"letterdesk/internal/core"
	"letterdesk/internal/persistence"
)

// AnalyticsResponse summarizes link traffic and recent distribution activity.
type AnalyticsResponse struct {
	Links        persistence.LinkStats `json:"links"`
	Articles     int64                 `json:"articles"`
	Events       map[string]int64      `json:"events"`
	WindowDays   int                   `json:"window_days"`
	LastActivity *core.ActivityLog     `json:"last_activity,omitempty"`
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	days := queryInt(r, "days", 30)
	if days == 0 {
		days = 30
	}

	stats, err := s.db.ShortLinks().Stats(ctx)
	if err != nil {
		s.respondStoreError(w, err, "analytics")
		return
	}
	articles, err := s.db.Articles().Count(ctx)
	if err != nil {
		s.respondStoreError(w, err, "analytics")
		return
	}
	events, err := s.db.Activity().CountByEvent(ctx, time.Now().AddDate(0, 0, -days))
	if err != nil {
		s.respondStoreError(w, err, "analytics")
		return
	}

	resp := AnalyticsResponse{Links: stats, Articles: articles, Events: events, WindowDays: days}
	if latest, err := s.db.Activity().List(ctx, persistence.ActivityFilter{Limit: 1}); err == nil && len(latest) > 0 {
		resp.LastActivity = &latest[0]
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAudiences(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audiences == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Resend is not configured")
		return
	}
	audiences, err := s.deps.Audiences.ListAudiences(r.Context())
	if err != nil {
		s.log.Error("Failed to list audiences", "error", err)
		s.respondError(w, http.StatusBadGateway, "Failed to list audiences")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"audiences": audiences})
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)
	if opts.SortBy == "" {
		opts.SortBy, opts.Order = "published_date", "desc"
	}
	articles, err := s.db.Articles().List(r.Context(), opts)
	if err != nil {
		s.respondStoreError(w, err, "articles")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"articles": articles})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingester == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Ingestion is not configured")
		return
	}
	report, err := s.deps.Ingester.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		s.log.Error("Ingestion failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := s.db.Activity().List(r.Context(), persistence.ActivityFilter{
		SequenceID: firstQuery(q, "sequenceId", "sequence_id"),
		Event:      q.Get("event"),
		Limit:      min(queryInt(r, "limit", 100), 1000),
	})
	if err != nil {
		s.respondStoreError(w, err, "activity")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"activity": entries})
}

func firstQuery(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.db.Feeds().List(r.Context(), listOptions(r))
	if err != nil {
		s.respondStoreError(w, err, "feeds")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"feeds": feeds})
}

type feedPayload struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Active   *bool  `json:"active"`
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var payload feedPayload
	if err := decodePayload(r, &payload); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := url.Parse(strings.TrimSpace(payload.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		s.respondError(w, http.StatusBadRequest, "A valid http(s) feed url is required")
		return
	}

	feed := &core.Feed{
		URL:      u.String(),
		Title:    strings.TrimSpace(payload.Title),
		Category: strings.TrimSpace(payload.Category),
		Active:   payload.Active == nil || *payload.Active,
	}
	if err := s.db.Feeds().Create(r.Context(), feed); err != nil {
		s.respondStoreError(w, err, "Feed")
		return
	}
	s.respondJSON(w, http.StatusCreated, feed)
}

// sensitiveSetting reports whether a setting holds a credential and is
// therefore sealed at rest and redacted in responses.
func sensitiveSetting(key string) bool {
	key = strings.ToLower(key)
	for _, suffix := range []string{"_api_key", "_secret", "_token"} {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

func redactSetting(setting core.Setting) core.Setting {
	if setting.Encrypted || sensitiveSetting(setting.Key) {
		setting.Value = "********"
	}
	return setting
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.db.Settings().List(r.Context())
	if err != nil {
		s.respondStoreError(w, err, "settings")
		return
	}
	out := make([]core.Setting, 0, len(settings))
	for _, setting := range settings {
		out = append(out, redactSetting(setting))
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"settings": out})
}

type settingPayload struct {
	Value string `json:"value"`
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		s.respondError(w, http.StatusBadRequest, "setting key is required")
		return
	}

	var payload settingPayload
	if err := decodePayload(r, &payload); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	setting := &core.Setting{Key: key, Value: payload.Value}
	if sensitiveSetting(key) && s.deps.Secrets.Enabled() {
		sealed, err := s.deps.Secrets.Seal(payload.Value)
		if err != nil {
			s.log.Error("Failed to seal setting", "key", key, "error", err)
			s.respondError(w, http.StatusInternalServerError, "Failed to store setting")
			return
		}
		setting.Value = sealed
		setting.Encrypted = true
	}

	if err := s.db.Settings().Set(r.Context(), setting); err != nil {
		s.respondStoreError(w, err, "Setting")
		return
	}
	s.respondJSON(w, http.StatusOK, redactSetting(*setting))
}
