package governor

import (
	"errors"
	"time"

	"github.com/ksred/tradewarden/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetOrCreatePolicy returns the user's policy, creating the TRAINING row
// with the lowest ceiling on first sight.
func (d *Database) GetOrCreatePolicy(userID string) (*ConfidencePolicy, error) {
	var policy ConfidencePolicy
	err := d.db.Where("user_id = ?", userID).First(&policy).Error
	if err == nil {
		return &policy, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	policy = ConfidencePolicy{
		UserID:     userID,
		Level:      LevelTraining,
		OrderLimit: trainingOrderLimit,
		UpdatedAt:  time.Now(),
	}
	if err := d.db.Create(&policy).Error; err != nil {
		return nil, err
	}
	return &policy, nil
}

// PromotePolicy advances the policy and writes the audit row in one
// transaction.
func (d *Database) PromotePolicy(policy *ConfidencePolicy, toLevel string, limit decimal.Decimal, metrics Metrics) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	fromLevel := policy.Level
	if err := tx.Model(&ConfidencePolicy{}).
		Where("user_id = ?", policy.UserID).
		Updates(map[string]interface{}{
			"level":       toLevel,
			"order_limit": limit,
			"updated_at":  time.Now(),
		}).Error; err != nil {
		tx.Rollback()
		return err
	}

	audit := PolicyAudit{
		UserID:          policy.UserID,
		FromLevel:       fromLevel,
		ToLevel:         toLevel,
		TotalExecutions: metrics.TotalExecutions,
		SuccessRate:     metrics.SuccessRate,
		RecoveryRate:    metrics.RecoveryRate,
		OrderLimit:      limit,
	}
	if err := tx.Create(&audit).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	policy.Level = toLevel
	policy.OrderLimit = limit
	return nil
}

// WindowMetrics aggregates the event log for one user since the given time.
// An execution counts once it reached a terminal-or-confirmed state; it
// counts as recovered when reconciliation had to find it on the exchange.
func (d *Database) WindowMetrics(userID string, since time.Time) (Metrics, error) {
	var m Metrics

	terminal := []string{
		types.StatusSubmitted,
		types.StatusFilled,
		types.StatusFailed,
		types.StatusCancelled,
	}
	if err := d.db.Model(&types.ExecutionEvent{}).
		Where("user_id = ? AND occurred_at > ? AND to_status IN ?", userID, since, terminal).
		Distinct("execution_id").
		Count(&m.TotalExecutions).Error; err != nil {
		return m, err
	}

	success := []string{types.StatusSubmitted, types.StatusFilled}
	if err := d.db.Model(&types.ExecutionEvent{}).
		Where("user_id = ? AND occurred_at > ? AND to_status IN ?", userID, since, success).
		Distinct("execution_id").
		Count(&m.Successes).Error; err != nil {
		return m, err
	}

	if err := d.db.Model(&types.ExecutionEvent{}).
		Where("user_id = ? AND occurred_at > ? AND decision_path = ?", userID, since, types.PathReconcileFound).
		Distinct("execution_id").
		Count(&m.Recovered).Error; err != nil {
		return m, err
	}

	if m.TotalExecutions > 0 {
		m.SuccessRate = float64(m.Successes) / float64(m.TotalExecutions)
		m.RecoveryRate = float64(m.Recovered) / float64(m.TotalExecutions)
	}
	return m, nil
}

// ActiveUsers lists users with any event activity since the given time,
// for the scheduled promotion pass.
func (d *Database) ActiveUsers(since time.Time) ([]string, error) {
	var users []string
	if err := d.db.Model(&types.ExecutionEvent{}).
		Where("occurred_at > ?", since).
		Distinct().
		Pluck("user_id", &users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
