package migrations

import (
	"github.com/ksred/tradewarden/internal/types"
	"gorm.io/gorm"
)

func AddExecutionEngine(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.ExecutionClaim{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&types.ExecutionEvent{}); err != nil {
		return err
	}

	return nil
}
