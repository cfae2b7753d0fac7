package migrations

import (
	"github.com/ksred/tradewarden/internal/governor"
	"gorm.io/gorm"
)

func AddConfidencePolicies(db *gorm.DB) error {
	if err := db.AutoMigrate(&governor.ConfidencePolicy{}); err != nil {
		return err
	}

	return db.AutoMigrate(&governor.PolicyAudit{})
}
