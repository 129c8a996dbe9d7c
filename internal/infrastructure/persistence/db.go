// Package persistence opens the gorm connection the memory store runs
// its own migrations and queries against. It owns connection/dialect
// selection only; table migration belongs to memorystore.Store.Initialize,
// which owns the memory row schema.
package persistence

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Dialect selects which gorm driver NewDBConnection opens.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// NewDBConnection opens a gorm connection for dialect against dsn.
// MEMORY_DB (a filesystem path) drives DialectSQLite; DATABASE_URL drives
// DialectPostgres for deployments backed by a shared Postgres instance.
func NewDBConnection(dialect Dialect, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dialect {
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
