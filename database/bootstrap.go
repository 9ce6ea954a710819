// database/bootstrap.go
package database

import (
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite" // CGO-free driver
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"farmdash/entities"
)

// OpenSQLite opens (or creates) the database at path and migrates the
// farmdash tables. ":memory:" yields a private in-memory database.
func OpenSQLite(path string) (*gorm.DB, error) {
	return open(path, logger.Default.LogMode(logger.Warn))
}

// OpenSQLiteQuiet is OpenSQLite with gorm's own logging silenced.
func OpenSQLiteQuiet(path string) (*gorm.DB, error) {
	return open(path, logger.Default.LogMode(logger.Silent))
}

func open(path string, l logger.Interface) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{Logger: l})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection: sqlite serializes writers anyway, and a single
	// connection keeps ":memory:" databases shared and avoids SQLITE_BUSY
	// between concurrent transactions.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&entities.Field{},
		&entities.Expense{},
		&entities.SensorReading{},
	); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return db, nil
}

func dsn(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}
