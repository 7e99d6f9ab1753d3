package persistence

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"letterdesk/internal/core"
	"letterdesk/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Models managed by AutoMigrate, in dependency order.
var models = []any{
	&core.Article{},
	&core.ShortLink{},
	&core.Sequence{},
	&core.NewsletterTemplate{},
	&core.ActivityLog{},
	&core.Setting{},
	&core.Subscriber{},
	&core.Feed{},
}

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
}

type schemaMigration struct {
	Version     int    `gorm:"primaryKey;autoIncrement:false"`
	Description string `gorm:"not null"`
	AppliedAt   time.Time
}

func (schemaMigration) TableName() string { return "schema_migrations" }

// MigrationManager handles database migrations
type MigrationManager struct {
	db  *gorm.DB
	log *slog.Logger
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *GormDB) *MigrationManager {
	return &MigrationManager{
		db:  db.Gorm(),
		log: logger.Get(),
	}
}

// Migrate syncs the model tables and then runs all pending SQL migrations
func (m *MigrationManager) Migrate(ctx context.Context) error {
	m.log.Info("Starting database migration")

	if err := m.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	available, err := m.loadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	pending := m.findPendingMigrations(available, applied)
	if len(pending) == 0 {
		m.log.Info("No pending migrations")
		return nil
	}

	m.log.Info("Found pending migrations", "count", len(pending))
	for _, migration := range pending {
		if err := m.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	m.log.Info("Migration completed successfully", "applied", len(pending))
	return nil
}

// Status shows migration status
func (m *MigrationManager) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	available, err := m.loadMigrations()
	if err != nil {
		return nil, err
	}

	appliedMap := make(map[int]bool)
	for _, v := range applied {
		appliedMap[v] = true
	}

	var status []MigrationStatus
	for _, migration := range available {
		status = append(status, MigrationStatus{
			Version:     migration.Version,
			Description: migration.Description,
			Applied:     appliedMap[migration.Version],
		})
	}
	return status, nil
}

func (m *MigrationManager) ensureMigrationsTable(ctx context.Context) error {
	return m.db.WithContext(ctx).AutoMigrate(&schemaMigration{})
}

func (m *MigrationManager) getAppliedMigrations(ctx context.Context) ([]int, error) {
	var versions []int
	err := m.db.WithContext(ctx).Model(&schemaMigration{}).Order("version").Pluck("version", &versions).Error
	return versions, err
}

// loadMigrations loads all migration files from the embedded filesystem
func (m *MigrationManager) loadMigrations() ([]Migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		// "001_initial_schema.sql" -> 1, "initial schema"
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			m.log.Warn("Skipping migration file with invalid format", "file", entry.Name())
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			m.log.Warn("Skipping migration file with invalid version", "file", entry.Name())
			continue
		}
		description := strings.ReplaceAll(strings.TrimSuffix(parts[1], ".sql"), "_", " ")

		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m *MigrationManager) findPendingMigrations(available []Migration, applied []int) []Migration {
	appliedMap := make(map[int]bool)
	for _, version := range applied {
		appliedMap[version] = true
	}

	var pending []Migration
	for _, migration := range available {
		if !appliedMap[migration.Version] {
			pending = append(pending, migration)
		}
	}
	return pending
}

// applyMigration applies a single migration in a transaction
func (m *MigrationManager) applyMigration(ctx context.Context, migration Migration) error {
	m.log.Info("Applying migration", "version", migration.Version, "description", migration.Description)

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range splitStatements(migration.SQL) {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to execute migration SQL: %w", err)
			}
		}
		record := schemaMigration{
			Version:     migration.Version,
			Description: migration.Description,
			AppliedAt:   time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.log.Info("Successfully applied migration", "version", migration.Version)
	return nil
}

// Rollback removes the record of the last migration (use with caution!)
func (m *MigrationManager) Rollback(ctx context.Context) error {
	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	lastVersion := applied[len(applied)-1]
	m.log.Warn("Rolling back migration", "version", lastVersion)

	if err := m.db.WithContext(ctx).Delete(&schemaMigration{}, "version = ?", lastVersion).Error; err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	m.log.Info("Migration rolled back - you must manually revert database changes", "version", lastVersion)
	return nil
}

// splitStatements splits a migration file on semicolons, dropping
// comment-only and empty statements.
func splitStatements(sql string) []string {
	var out []string
	for _, raw := range strings.Split(sql, ";") {
		var lines []string
		for _, line := range strings.Split(raw, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
