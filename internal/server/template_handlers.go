package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"letterdesk/internal/core"
	"letterdesk/internal/distribution"
	"letterdesk/internal/email"
	"letterdesk/internal/newsletter"
)

type templatePayload struct {
	Name          *string `json:"name"`
	HTML          *string `json:"html"`
	IsDefault     *bool   `json:"is_default"`
	IncludeFooter *bool   `json:"include_footer"`
}

func (p *templatePayload) apply(tpl *core.NewsletterTemplate) error {
	if p.Name != nil {
		tpl.Name = strings.TrimSpace(*p.Name)
	}
	if p.HTML != nil {
		tpl.HTML = *p.HTML
	}
	if p.IsDefault != nil {
		tpl.IsDefault = *p.IsDefault
	}
	if p.IncludeFooter != nil {
		tpl.IncludeFooter = *p.IncludeFooter
	}

	if tpl.Name == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(tpl.HTML) == "" {
		return errors.New("html is required")
	}
	return validateTemplate(tpl.HTML)
}

// validateTemplate renders html against a small sample issue so broken
// templates are rejected at save time instead of at send time.
func validateTemplate(html string) error {
	if _, err := newsletter.Render(html, sampleContext()); err != nil {
		return fmt.Errorf("template does not render: %w", err)
	}
	return nil
}

func sampleContext() *newsletter.Context {
	now := time.Now()
	articles := make([]core.Article, 0, 5)
	stories := make([]newsletter.Story, 0, 5)
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("sample-%d", i)
		link := fmt.Sprintf("https://example.com/articles/%d", i)
		articles = append(articles, core.Article{
			ID:            id,
			Title:         fmt.Sprintf("Sample article %d", i),
			Summary:       "Sample summary.",
			Link:          link,
			Category:      "General",
			PublishedDate: now,
		})
		stories = append(stories, newsletter.Story{ID: id, Headline: fmt.Sprintf("Sample story %d", i), Link: link})
	}
	return newsletter.BuildContext(newsletter.ContextInput{
		Content: &newsletter.Content{
			Subject:    "Sample issue",
			Preheader:  "Preview text",
			Intro:      "Hello!",
			Closing:    "Thanks for reading.",
			Featured:   &stories[0],
			TopStories: stories[1:],
		},
		Articles:       articles,
		UnsubscribeURL: "https://example.com/unsubscribe",
		Now:            now,
	})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := s.db.Templates().List(r.Context())
	if err != nil {
		s.respondStoreError(w, err, "templates")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"templates": tpls})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var payload templatePayload
	if err := decodePayload(r, &payload); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tpl := &core.NewsletterTemplate{IncludeFooter: true}
	if err := payload.apply(tpl); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.db.Templates().Create(r.Context(), tpl); err != nil {
		s.respondStoreError(w, err, "Template")
		return
	}
	s.respondJSON(w, http.StatusCreated, tpl)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.db.Templates().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err, "Template")
		return
	}
	s.respondJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.db.Templates().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err, "Template")
		return
	}

	var payload templatePayload
	if err := decodePayload(r, &payload); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := payload.apply(tpl); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.db.Templates().Update(r.Context(), tpl); err != nil {
		s.respondStoreError(w, err, "Template")
		return
	}
	s.respondJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Templates().Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondStoreError(w, err, "Template")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetDefaultTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.db.Templates().SetDefault(r.Context(), id); err != nil {
		s.respondStoreError(w, err, "Template")
		return
	}
	tpl, err := s.db.Templates().Get(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err, "Template")
		return
	}
	s.respondJSON(w, http.StatusOK, tpl)
}

// handleSeedTemplate inserts the built-in template as the default. An
// existing seeded template is returned unchanged.
func (s *Server) handleSeedTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, created, err := distribution.SeedDefaultTemplate(r.Context(), s.db.Templates(), email.GetTheme(r.URL.Query().Get("theme")))
	if err != nil {
		s.respondStoreError(w, err, "Template")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, tpl)
}
