package database

import (
	"fmt"
	"strings"
	"time"

	"deskledger/config"
	"deskledger/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func gormConfig(logQueries bool) *gorm.Config {
	level := logger.Warn
	if logQueries {
		level = logger.Info
	}
	return &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
		// timestamps are stored in UTC; month boundaries are converted before querying
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Connect opens the configured database, runs migrations when enabled and sets DB.
func Connect(cfg config.Configuration, log *logrus.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DatabaseURL)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	log.WithField("driver", cfg.DBDriver).Info("connecting to database")
	db, err := gorm.Open(dialector, gormConfig(cfg.DBLogQueries))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if strings.HasPrefix(cfg.DBDriver, "sqlite") {
		// sqlite serialises writers; one connection avoids "database is locked"
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if cfg.DBAutoMigrate {
		log.Info("running database migrations")
		if err := Migrate(db); err != nil {
			return nil, err
		}
		log.Info("database migration completed")
	}

	DB = db
	return db, nil
}

// OpenMemory opens a private in-memory SQLite database with the schema migrated.
func OpenMemory(name string) (*gorm.DB, error) {
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	dsn := fmt.Sprintf("file:%s-%s?mode=memory&cache=shared", name, uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(false))
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to auto migrate database: %w", err)
	}
	return nil
}

// ClearDBAndMigrate drops all tables and re-runs migrations.
// This is primarily for development/testing purposes.
func ClearDBAndMigrate() error {
	if DB == nil {
		return fmt.Errorf("database is not connected")
	}
	if err := DB.Migrator().DropTable(models.All()...); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	if err := Migrate(DB); err != nil {
		return fmt.Errorf("failed to re-migrate database: %w", err)
	}
	return nil
}
