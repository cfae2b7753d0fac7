package database

import (
	"fmt"

	"github.com/ksred/tradewarden/internal/database/migrations"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddExecutionEngine(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddConfidencePolicies(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
