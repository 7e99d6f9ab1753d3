// Package server exposes the public redirect endpoints and the admin API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"letterdesk/internal/auth"
	"letterdesk/internal/config"
	"letterdesk/internal/core"
	"letterdesk/internal/distribution"
	"letterdesk/internal/ingest"
	"letterdesk/internal/links"
	"letterdesk/internal/logger"
	"letterdesk/internal/observability"
	"letterdesk/internal/persistence"
	"letterdesk/internal/secrets"
)

// Distributor runs and previews sequence distributions.
type Distributor interface {
	Run(ctx context.Context, sequenceID string, opts distribution.RunOptions) (*distribution.Result, error)
	Preview(ctx context.Context, sequenceID string) (*distribution.Preview, error)
}

// Ingester runs feed ingestion.
type Ingester interface {
	Run(ctx context.Context) (*ingest.Report, error)
}

// AudienceLister lists email provider audiences.
type AudienceLister interface {
	ListAudiences(ctx context.Context) ([]core.Audience, error)
}

// Deps are the collaborators the handlers use. Distributor, Ingester,
// Audiences, Secrets and PostHog are optional.
type Deps struct {
	DB          persistence.Database
	Links       *links.Service
	Auth        *auth.Service
	Distributor Distributor
	Ingester    Ingester
	Audiences   AudienceLister
	Secrets     *secrets.Box
	PostHog     *observability.PostHogClient
	Origin      string // Public base URL used to wrap links
	Session     config.Auth
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	db         persistence.Database
	config     config.Server
	log        *slog.Logger
	limiter    func(http.Handler) http.Handler
}

// New creates a new HTTP server instance
func New(deps Deps, cfg config.Server) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		db:     deps.DB,
		config: cfg,
		log:    logger.Get().With("component", "server"),
	}

	limiter, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	s.limiter = limiter

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  config.Duration(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout: config.Duration(cfg.WriteTimeout, 120*time.Second),
	}

	return s, nil
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(securityHeaders)

	if s.config.CORS.Enabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300, // Maximum value not ignored by any major browsers
		}))
	}
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	// Public tracking endpoints
	s.router.Group(func(r chi.Router) {
		r.Use(s.limiter)
		r.Get(links.ShortPathPrefix+"{code}", s.handleShortLink)
		r.Get(links.RedirectPath, s.handleRedirect)
		r.Get("/unsubscribe", s.handleUnsubscribe)
		r.Post("/unsubscribe", s.handleUnsubscribe)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(s.limiter).Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Use(noCache)

			r.Get("/resend/audiences", s.handleListAudiences)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/analytics", s.handleAnalytics)
				r.Post("/seed-email-template", s.handleSeedTemplate)

				r.Route("/sequences", func(r chi.Router) {
					r.Get("/", s.handleListSequences)
					r.Post("/", s.handleCreateSequence)
					r.Get("/{id}", s.handleGetSequence)
					r.Patch("/{id}", s.handleUpdateSequence)
					r.Delete("/{id}", s.handleDeleteSequence)
					r.Post("/{id}/send", s.handleSendSequence)
					r.Get("/{id}/preview", s.handlePreviewSequence)
				})

				r.Route("/templates", func(r chi.Router) {
					r.Get("/", s.handleListTemplates)
					r.Post("/", s.handleCreateTemplate)
					r.Get("/{id}", s.handleGetTemplate)
					r.Put("/{id}", s.handleUpdateTemplate)
					r.Delete("/{id}", s.handleDeleteTemplate)
					r.Post("/{id}/default", s.handleSetDefaultTemplate)
				})

				r.Get("/articles", s.handleListArticles)
				r.Post("/ingest", s.handleIngest)
				r.Get("/activity", s.handleListActivity)

				r.Route("/feeds", func(r chi.Router) {
					r.Get("/", s.handleListFeeds)
					r.Post("/", s.handleCreateFeed)
				})

				r.Route("/settings", func(r chi.Router) {
					r.Get("/", s.handleListSettings)
					r.Put("/{key}", s.handlePutSetting)
				})
			})
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server",
		"addr", s.httpServer.Addr,
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout,
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
