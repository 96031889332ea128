// Package repo implements persistence for telemetry records: a durable
// SQLite repository backed by GORM (pure Go driver) and a volatile
// in-memory repository used by tests and sandbox deployments. This file
// contains database bootstrapping and schema migration.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// OpenSQLite opens (or creates) the SQLite database and applies PRAGMAs.
// The parent directory is created when missing. When traceQueries is true
// the GORM OpenTelemetry plugin is installed so repository queries appear
// as spans under the request trace.
func OpenSQLite(path string, traceQueries bool) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if traceQueries {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, err
		}
	}

	return db, nil
}

// AutoMigrate creates the telemetry_records table and its indexes when
// missing. Migration is idempotent.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&telemetryRow{})
}
