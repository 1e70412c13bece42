// File: internal/platform/database/gorm.go
package database

import (
	"database/sql"
	"fmt"
	"log" // Standard log for critical connection errors
	"time"

	"cargo_portal/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewGORM opens the audit database selected by AUDIT_DB_DRIVER.
// With driver "none" it returns a nil *gorm.DB and a no-op cleanup.
func NewGORM(cfg *config.Config) (*gorm.DB, func(), error) {
	var dialector gorm.Dialector
	switch cfg.AuditDBDriver {
	case "none":
		return nil, func() {}, nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			cfg.DBHost,
			cfg.DBPort,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBName,
			cfg.DBSSLMode,
			cfg.DBTimezone,
		)
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(cfg.AuditDBDSN)
	}

	// Connectivity is checked once, by the Ping below.
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:               newGormLogger(cfg),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.DBMaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
	if cfg.DBMaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	}

	if err = sqlDB.Ping(); err != nil {
		closeSQLDB(sqlDB)
		return nil, nil, fmt.Errorf("failed to ping audit database: %w", err)
	}

	log.Printf("Connected to the %s audit database.", cfg.AuditDBDriver)
	return db, func() { CloseGORMDB(db) }, nil
}

func newGormLogger(cfg *config.Config) gormlogger.Interface {
	var level gormlogger.LogLevel
	switch cfg.LogLevel {
	case "silent", "fatal", "panic":
		level = gormlogger.Silent
	case "error":
		level = gormlogger.Error
	case "debug":
		level = gormlogger.Info
	default:
		level = gormlogger.Warn
	}

	return gormlogger.New(
		log.New(log.Writer(), "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  cfg.GinMode != "release",
		},
	)
}

var closeSQLDB = func(sqlDB *sql.DB) {
	if err := sqlDB.Close(); err != nil {
		log.Printf("Error closing database connection: %v\n", err)
	}
}

// CloseGORMDB closes the GORM database connection.
func CloseGORMDB(db *gorm.DB) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Error getting underlying SQL DB for closing: %v\n", err)
		return
	}
	closeSQLDB(sqlDB)
}
