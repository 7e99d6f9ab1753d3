package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	limiterhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"letterdesk/internal/config"
)

// requireAdmin accepts a session cookie, a bearer session token or the
// bearer admin API key.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Auth == nil {
			s.respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		if header := r.Header.Get("Authorization"); header != "" {
			token, ok := strings.CutPrefix(header, "Bearer ")
			if ok && s.deps.Auth.Authenticate(token) == nil {
				next.ServeHTTP(w, r)
				return
			}
			s.log.Warn("Invalid admin credentials", "remote_addr", r.RemoteAddr)
			s.respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		if cookie, err := r.Cookie(s.cookieName()); err == nil {
			if _, err := s.deps.Auth.VerifySession(cookie.Value); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		s.respondError(w, http.StatusUnauthorized, "Unauthorized")
	})
}

func (s *Server) cookieName() string {
	if s.deps.Session.CookieName != "" {
		return s.deps.Session.CookieName
	}
	return "letterdesk_session"
}

// newRateLimiter builds the limiter for public endpoints. Counters live in
// Redis when a URL is configured so several instances share one budget.
func newRateLimiter(cfg config.RateLimit) (func(http.Handler) http.Handler, error) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, nil
	}

	formatted := cfg.Rate
	if formatted == "" {
		formatted = "120-M"
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", formatted, err)
	}

	var store limiter.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid rate limit redis url: %w", err)
		}
		store, err = limiterredis.NewStoreWithOptions(redis.NewClient(opts), limiter.StoreOptions{
			Prefix: "letterdesk_limiter",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
		}
	} else {
		store = memory.NewStore()
	}

	return limiterhttp.NewMiddleware(limiter.New(store, rate)).Handler, nil
}

// securityHeaders adds security headers to all responses
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// noCache adds headers to prevent caching of admin responses
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		next.ServeHTTP(w, r)
	})
}
