package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"letterdesk/internal/email"
	"letterdesk/internal/links"
	"letterdesk/internal/persistence"
)

// handleShortLink resolves /r/{code}, counts the click and redirects.
func (s *Server) handleShortLink(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" || s.deps.Links == nil {
		s.respondError(w, http.StatusNotFound, "Link not found")
		return
	}

	link, err := s.deps.Links.Resolve(r.Context(), code)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "Link not found")
			return
		}
		s.log.Error("Failed to resolve short link", "code", code, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to resolve link")
		return
	}

	s.trackClick(r, code, link.TargetURL)
	http.Redirect(w, r, link.TargetURL, http.StatusFound)
}

// handleRedirect serves /api/redirect?url=. The target is stored as an
// unattributed short link so clicks are counted like any other link.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		s.respondError(w, http.StatusBadRequest, "url parameter is required")
		return
	}
	target = links.Unwrap(target)

	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		s.respondError(w, http.StatusBadRequest, "Invalid redirect url")
		return
	}

	code := ""
	if s.deps.Links != nil && s.knownTarget(r.Context(), target) {
		if short, err := s.deps.Links.CreateShortLink(r.Context(), target, nil, nil); err != nil {
			s.log.Warn("Failed to record redirect", "target", target, "error", err)
		} else {
			code = strings.TrimPrefix(short, s.deps.Links.ShortURL(""))
			if _, err := s.deps.Links.Resolve(r.Context(), code); err != nil {
				s.log.Warn("Failed to count redirect click", "code", code, "error", err)
			}
		}
	}

	s.trackClick(r, code, target)
	http.Redirect(w, r, target, http.StatusFound)
}

// knownTarget reports whether clicks on target are recorded: it already has
// an unattributed link or is a stored article. Other targets redirect
// without writing a row.
func (s *Server) knownTarget(ctx context.Context, target string) bool {
	if _, err := s.db.ShortLinks().FindByTarget(ctx, target, nil, nil); err == nil {
		return true
	} else if !errors.Is(err, persistence.ErrNotFound) {
		s.log.Warn("Failed to look up redirect target", "target", target, "error", err)
		return false
	}
	if _, err := s.db.Articles().GetByCanonicalLink(ctx, links.CanonicalLink(target)); err == nil {
		return true
	} else if !errors.Is(err, persistence.ErrNotFound) {
		s.log.Warn("Failed to look up redirect article", "target", target, "error", err)
	}
	return false
}

func (s *Server) trackClick(r *http.Request, code, target string) {
	if s.deps.PostHog == nil {
		return
	}
	if err := s.deps.PostHog.TrackLinkClick(r.Context(), code, target); err != nil {
		s.log.Warn("Failed to track link click", "error", err)
	}
}

// handleUnsubscribe opts a local subscriber out. The page never reveals
// whether the address was known.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimSpace(r.URL.Query().Get("email"))
	if addr == "" && r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			addr = strings.TrimSpace(r.PostForm.Get("email"))
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if addr == "" || !strings.Contains(addr, "@") {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(email.ErrorPage("Unsubscribe", "A valid email address is required.")))
		return
	}

	if err := s.db.Subscribers().Unsubscribe(r.Context(), addr); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		s.log.Error("Failed to unsubscribe", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(email.ErrorPage("Unsubscribe", "Something went wrong. Please try again later.")))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(email.ErrorPage("Unsubscribed", "You will no longer receive this newsletter.")))
}
