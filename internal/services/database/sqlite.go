package database

import (
	"fmt"

	"github.com/mindfuse/ensemble-engine/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// defaultSQLitePath is used when the config omits file_path
const defaultSQLitePath = "ensemble.db"

func newSQLite(config models.DatabaseConfig) (*DB, error) {
	path := config.FilePath
	if path == "" {
		path = defaultSQLitePath
	}

	gormDB, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db := &DB{
		DB:         gormDB,
		config:     config,
		driverName: "sqlite3",
	}

	db.setConnectionPool()

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping SQLite: %w", err)
	}

	return db, nil
}
