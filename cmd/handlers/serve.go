package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"letterdesk/internal/auth"
	"letterdesk/internal/config"
	"letterdesk/internal/logger"
	"letterdesk/internal/persistence"
	"letterdesk/internal/scheduler"
	"letterdesk/internal/server"
)

// NewServeCmd creates the serve command for starting the HTTP server
func NewServeCmd() *cobra.Command {
	var (
		port      int
		host      string
		migrate   bool
		withSched bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the redirect endpoints and admin API",
		Long: `Start the letterdesk HTTP server.

The server provides:
  • Short link and redirect endpoints used by sent newsletters
  • The unsubscribe page
  • The admin API for sequences, templates, feeds and settings
  • Health check endpoint

Examples:
  # Start server on default port 8080
  letterdesk serve

  # Start on custom port and run the scheduler in-process
  letterdesk serve --port 3000 --schedule`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, host, migrate, withSched)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8080)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 0.0.0.0)")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "Apply pending migrations before starting")
	cmd.Flags().BoolVar(&withSched, "schedule", false, "Also run the sequence and ingestion scheduler")

	return cmd
}

func runServe(ctx context.Context, port int, host string, migrate, withScheduler bool) error {
	log := logger.Get()
	log.Info("Starting HTTP server")

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate {
		if err := persistence.NewMigrationManager(a.db).Migrate(ctx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	serverCfg := a.cfg.Server
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	orch, mailer := a.orchestrator(ctx)
	runner := a.ingester(ctx)

	deps := server.Deps{
		DB:          a.db,
		Links:       a.links,
		Auth:        auth.NewService(a.cfg.Auth),
		Distributor: orch,
		Ingester:    runner,
		Secrets:     a.box,
		PostHog:     a.posthog,
		Origin:      a.cfg.App.BaseURL,
		Session:     a.cfg.Auth,
	}
	if mailer != nil {
		deps.Audiences = mailer
	}

	srv, err := server.New(deps, serverCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if withScheduler {
		sched := scheduler.New(a.db.Sequences(), orch, runner, scheduler.OptionsFromConfig(a.cfg.Scheduler))
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	// Channel to listen for errors coming from the server
	serverErrors := make(chan error, 1)

	go func() {
		log.Info(fmt.Sprintf("Server listening on http://%s:%d", serverCfg.Host, serverCfg.Port))
		log.Info("Press Ctrl+C to stop")
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info("Server shutdown initiated", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(serverCfg.ShutdownTimeout, 30*time.Second))
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server shutdown failed, forcing close", "error", err)
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		log.Info("Server stopped successfully")
	}

	return nil
}
