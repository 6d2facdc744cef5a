package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cppla/livewell/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var db *gorm.DB

// InitDatabase opens the configured database, sizes the pool and runs migrations.
func InitDatabase() *gorm.DB {
	if db != nil {
		return db
	}

	cfg := Get()
	conn, err := OpenDatabase(cfg.DBDriver, BuildDSN(cfg), cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	if err := Migrate(conn); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	db = conn
	return db
}

// OpenDatabase connects gorm with the dialector named by driver and pings it.
func OpenDatabase(driver, dsn, level string) (*gorm.DB, error) {
	dialector, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}

	// Derive level from app LogLevel and raise slow-sql threshold to reduce noise
	gLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  toGormLogLevel(level),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   gLogger,
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	if strings.ToLower(driver) == "sqlite" {
		// a single writer keeps sqlite from returning SQLITE_BUSY under concurrent sweeps
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	}

	// Ping early so network/auth problems surface at boot instead of on the first query
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return conn, nil
}

// Migrate creates missing tables and adds columns introduced after the first release.
func Migrate(conn *gorm.DB) error {
	for _, model := range models.All() {
		// Only migrate when table not exists to avoid intrusive changes on existing schema
		if !conn.Migrator().HasTable(model) {
			if err := conn.AutoMigrate(model); err != nil {
				return fmt.Errorf("auto migration failed for %T: %w", model, err)
			}
			continue
		}
		// Safe, additive migrations: add missing columns only
		switch model.(type) {
		case *models.User:
			for _, col := range []string{"Language", "LastAlertSentAt", "LastAlertAttemptAt"} {
				if !conn.Migrator().HasColumn(&models.User{}, col) {
					if err := conn.Migrator().AddColumn(&models.User{}, col); err != nil {
						log.Printf("failed to add users.%s column: %v", col, err)
					}
				}
			}
		case *models.Contact:
			if !conn.Migrator().HasColumn(&models.Contact{}, "Position") {
				if err := conn.Migrator().AddColumn(&models.Contact{}, "Position"); err != nil {
					log.Printf("failed to add contacts.position column: %v", err)
				}
			}
		}
	}
	return nil
}

// BuildDSN returns DatabaseURI when set, otherwise a driver specific DSN from the discrete fields.
func BuildDSN(cfg AppConfig) string {
	if cfg.DatabaseURI != "" {
		return cfg.DatabaseURI
	}
	switch strings.ToLower(cfg.DBDriver) {
	case "postgres":
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)
	case "sqlite":
		return cfg.DBName + ".db"
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "sqlite", "sqlite3", "":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

// toGormLogLevel maps application LogLevel to GORM's logger level.
func toGormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		// GORM 'Info' shows SQL; use with caution
		return logger.Info
	case "info", "":
		// Suppress per-statement logs; keep warnings (including slow SQL)
		return logger.Warn
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Warn
	}
}
