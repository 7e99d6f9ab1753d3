package server

import (
	"errors"
	"net/http"
	"time"

	"letterdesk/internal/auth"
)

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin exchanges the admin password for a session token, returned
// both in the body and as an HttpOnly cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		s.respondError(w, http.StatusServiceUnavailable, auth.ErrNotConfigured.Error())
		return
	}

	var req loginRequest
	if err := decodePayload(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, expires, err := s.deps.Auth.Login(req.Password)
	switch {
	case errors.Is(err, auth.ErrNotConfigured):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.log.Warn("Admin login failed", "remote_addr", r.RemoteAddr)
		s.respondError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.deps.Session.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	s.respondJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires})
}

// handleLogout clears the session cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.deps.Session.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
