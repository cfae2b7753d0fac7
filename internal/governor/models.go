package governor

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Confidence levels, in promotion order. A user starts at TRAINING and is
// only ever advanced by the governor; there is no automatic demotion.
const (
	LevelTraining   = "TRAINING"
	LevelValidated  = "VALIDATED"
	LevelProduction = "PRODUCTION"
	LevelMature     = "MATURE"
)

// ConfidencePolicy is the per-user order-size ceiling. Upstream validation
// rejects proposals exceeding OrderLimit.
type ConfidencePolicy struct {
	gorm.Model `json:"-"`
	UserID     string          `gorm:"uniqueIndex" json:"user_id"`
	Level      string          `json:"level"`
	OrderLimit decimal.Decimal `gorm:"type:decimal(24,8)" json:"order_limit"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// PolicyAudit records every promotion with the metrics that justified it.
type PolicyAudit struct {
	gorm.Model      `json:"-"`
	UserID          string          `gorm:"index" json:"user_id"`
	FromLevel       string          `json:"from_level"`
	ToLevel         string          `json:"to_level"`
	TotalExecutions int64           `json:"total_executions"`
	SuccessRate     float64         `json:"success_rate"`
	RecoveryRate    float64         `json:"recovery_rate"`
	OrderLimit      decimal.Decimal `gorm:"type:decimal(24,8)" json:"order_limit"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Metrics is the aggregated 24h execution window for one user.
type Metrics struct {
	TotalExecutions int64   `json:"total_executions"`
	Successes       int64   `json:"successes"`
	Recovered       int64   `json:"recovered"`
	SuccessRate     float64 `json:"success_rate"`
	RecoveryRate    float64 `json:"recovery_rate"`
}
