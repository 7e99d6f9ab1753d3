package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"letterdesk/internal/config"
	"letterdesk/internal/logger"
	"letterdesk/internal/persistence"
)

// NewMigrateCmd creates the migrate command for database migrations
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Manage database schema migrations.

Subcommands:
  up       Apply all pending migrations
  status   Show migration status
  rollback Roll back the last migration record (use with caution!)

Migrations work against both PostgreSQL and SQLite. Applied versions are
tracked in the schema_migrations table.

Examples:
  letterdesk migrate up
  letterdesk migrate status
  letterdesk migrate rollback --force`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateRollbackCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd.Context())
		},
	}
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd.Context())
		},
	}
}

func newMigrateRollbackCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the last migration",
		Long: `Roll back the last applied migration record.

⚠️  WARNING: This only removes the migration record from schema_migrations.
    You must manually revert any database schema changes!

Use --force to skip confirmation prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateRollback(cmd.Context(), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

// migrationManager opens the database without the ping check so that a
// fresh SQLite file can be initialized.
func migrationManager() (*persistence.GormDB, *persistence.MigrationManager, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := persistence.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, persistence.NewMigrationManager(db), nil
}

func runMigrateUp(ctx context.Context) error {
	logger.Info("Starting database migration")

	db, migrator, err := migrationManager()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println("✅ All migrations applied successfully")
	return nil
}

func runMigrateStatus(ctx context.Context) error {
	db, migrator, err := migrationManager()
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	if len(status) == 0 {
		fmt.Println("No migrations found")
		return nil
	}

	fmt.Println("📊 Migration Status")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("%-10s %-10s %s\n", "Version", "Status", "Description")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	pending := 0
	for _, m := range status {
		statusStr, icon := "applied", "✅"
		if !m.Applied {
			statusStr, icon = "pending", "⏳"
			pending++
		}
		fmt.Printf("%-10d %s %-8s %s\n", m.Version, icon, statusStr, m.Description)
	}

	fmt.Println()
	fmt.Printf("Applied: %d | Pending: %d | Total: %d\n", len(status)-pending, pending, len(status))
	if pending > 0 {
		fmt.Println("\nRun 'letterdesk migrate up' to apply pending migrations")
	}
	return nil
}

func runMigrateRollback(ctx context.Context, force bool) error {
	if !force {
		fmt.Println("⚠️  WARNING: Rolling back migrations is dangerous!")
		fmt.Println("This will only remove the migration record from schema_migrations.")
		fmt.Print("Are you sure you want to proceed? (yes/no): ")

		var response string
		if _, err := fmt.Scanln(&response); err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if response != "yes" {
			fmt.Println("Rollback cancelled")
			return nil
		}
	}

	db, migrator, err := migrationManager()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrator.Rollback(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	logger.Warn("Migration record removed - remember to manually revert database changes")
	fmt.Println("⚠️  Migration record removed")
	return nil
}
