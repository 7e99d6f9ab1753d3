package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// GormDB implements the Database interface on top of gorm.
type GormDB struct {
	db          *gorm.DB
	sqlDB       *sql.DB
	driver      string
	articles    ArticleRepository
	shortLinks  ShortLinkRepository
	sequences   SequenceRepository
	templates   TemplateRepository
	activity    ActivityRepository
	settings    SettingsRepository
	subscribers SubscriberRepository
	feeds       FeedRepository
}

// Open connects to the configured driver. An empty driver is inferred from the DSN.
func Open(driver, dsn string) (*GormDB, error) {
	if driver == "" {
		driver = DriverSQLite
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
			driver = DriverPostgres
		}
	}
	switch driver {
	case DriverPostgres:
		return NewPostgresDB(dsn)
	case DriverSQLite:
		return NewSQLiteDB(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(connectionString string) (*GormDB, error) {
	sqlDB, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormConfig())
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}
	return newGormDB(db, sqlDB, DriverPostgres), nil
}

// NewSQLiteDB opens a SQLite database file. ":memory:" gives a private
// in-memory database held on a single connection.
func NewSQLiteDB(path string) (*GormDB, error) {
	if path == "" {
		path = "letterdesk.db"
	}
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	return newGormDB(db, sqlDB, DriverSQLite), nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func newGormDB(db *gorm.DB, sqlDB *sql.DB, driver string) *GormDB {
	g := &GormDB{db: db, sqlDB: sqlDB, driver: driver}
	g.bind(db)
	return g
}

func (g *GormDB) bind(db *gorm.DB) {
	g.articles = &articleRepo{db: db}
	g.shortLinks = &shortLinkRepo{db: db}
	g.sequences = &sequenceRepo{db: db}
	g.templates = &templateRepo{db: db}
	g.activity = &activityRepo{db: db}
	g.settings = &settingsRepo{db: db}
	g.subscribers = &subscriberRepo{db: db}
	g.feeds = &feedRepo{db: db}
}

func (g *GormDB) Articles() ArticleRepository       { return g.articles }
func (g *GormDB) ShortLinks() ShortLinkRepository   { return g.shortLinks }
func (g *GormDB) Sequences() SequenceRepository     { return g.sequences }
func (g *GormDB) Templates() TemplateRepository     { return g.templates }
func (g *GormDB) Activity() ActivityRepository      { return g.activity }
func (g *GormDB) Settings() SettingsRepository      { return g.settings }
func (g *GormDB) Subscribers() SubscriberRepository { return g.subscribers }
func (g *GormDB) Feeds() FeedRepository             { return g.feeds }

// Driver returns the dialect in use.
func (g *GormDB) Driver() string { return g.driver }

// Gorm exposes the underlying handle for migrations.
func (g *GormDB) Gorm() *gorm.DB { return g.db }

func (g *GormDB) Transaction(ctx context.Context, fn func(tx Database) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txDB := &GormDB{db: tx, sqlDB: g.sqlDB, driver: g.driver}
		txDB.bind(tx)
		return fn(txDB)
	})
}

func (g *GormDB) Ping(ctx context.Context) error {
	return g.sqlDB.PingContext(ctx)
}

func (g *GormDB) Close() error {
	return g.sqlDB.Close()
}

// translateError maps driver errors onto the package sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Message)
	}
	return err
}
