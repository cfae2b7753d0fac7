package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/ksred/tradewarden/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateClaim persists a new PENDING claim together with its creation event
// in one transaction. The client order id is derived before the row exists
// so it can never change afterwards.
func (d *Database) CreateClaim(claim *types.ExecutionClaim) error {
	if claim.ClientOrderID == "" {
		claim.ClientOrderID = ClientOrderID(claim.ExecutionID)
	}
	claim.Status = types.StatusPending

	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(claim).Error; err != nil {
		tx.Rollback()
		return err
	}

	event := types.ExecutionEvent{
		ExecutionID:   claim.ExecutionID,
		UserID:        claim.UserID,
		FromStatus:    "",
		ToStatus:      types.StatusPending,
		DecisionPath:  types.PathClaimCreated,
		ClientOrderID: claim.ClientOrderID,
		OccurredAt:    time.Now(),
	}
	if err := tx.Create(&event).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

func (d *Database) GetClaim(executionID string) (*types.ExecutionClaim, error) {
	var claim types.ExecutionClaim
	if err := d.db.Where("execution_id = ?", executionID).First(&claim).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &claim, nil
}

func (d *Database) GetEvents(executionID string) ([]types.ExecutionEvent, error) {
	var events []types.ExecutionEvent
	if err := d.db.Where("execution_id = ?", executionID).
		Order("id asc").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// ListStaleSubmitting returns claims stuck in SUBMITTING since before the
// cutoff, for the sweeper to drive through reconciliation.
func (d *Database) ListStaleSubmitting(cutoff time.Time) ([]types.ExecutionClaim, error) {
	var claims []types.ExecutionClaim
	if err := d.db.Where("status = ? AND submitting_at < ?", types.StatusSubmitting, cutoff).
		Find(&claims).Error; err != nil {
		return nil, err
	}
	return claims, nil
}

// transition writes a claim update and its event row atomically. The event
// log is append-only; nothing in the engine ever updates or deletes a row.
func (d *Database) transition(claim *types.ExecutionClaim, updates map[string]interface{}, event *types.ExecutionEvent) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if len(updates) > 0 {
		if err := tx.Model(&types.ExecutionClaim{}).
			Where("execution_id = ?", claim.ExecutionID).
			Updates(updates).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	event.ExecutionID = claim.ExecutionID
	event.UserID = claim.UserID
	event.ClientOrderID = claim.ClientOrderID
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := tx.Create(event).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// MarkSubmitted records a confirmed placement. An exchange order id, once
// set, is never overwritten.
func (d *Database) MarkSubmitted(claim *types.ExecutionClaim, exchangeOrderID, rawResponse string, latency time.Duration) error {
	if claim.ExchangeOrderID != "" && claim.ExchangeOrderID != exchangeOrderID {
		return fmt.Errorf("claim %s already linked to order %s", claim.ExecutionID, claim.ExchangeOrderID)
	}
	now := time.Now()
	return d.transition(claim, map[string]interface{}{
		"status":            types.StatusSubmitted,
		"exchange_order_id": exchangeOrderID,
		"exchange_response": rawResponse,
		"submitted_at":      now,
		"last_error":        "",
		"last_error_class":  "",
	}, &types.ExecutionEvent{
		FromStatus:      claim.Status,
		ToStatus:        types.StatusSubmitted,
		DecisionPath:    types.PathPlaceOrderSuccess,
		ExchangeOrderID: exchangeOrderID,
		LatencyMs:       latency.Milliseconds(),
	})
}

// MarkHardFailed terminates a claim after an authoritative rejection.
func (d *Database) MarkHardFailed(claim *types.ExecutionClaim, errMsg string) error {
	now := time.Now()
	return d.transition(claim, map[string]interface{}{
		"status":           types.StatusFailed,
		"last_error":       errMsg,
		"last_error_class": types.ErrorClassHard,
		"failed_at":        now,
	}, &types.ExecutionEvent{
		FromStatus:   claim.Status,
		ToStatus:     types.StatusFailed,
		DecisionPath: types.PathPlaceOrderHard,
		ErrorClass:   types.ErrorClassHard,
		ErrorMessage: errMsg,
	})
}

// RecordSoftFailure keeps a claim in SUBMITTING after a transient failure:
// the outcome at the exchange is unknown, only the reconciler may decide.
func (d *Database) RecordSoftFailure(claim *types.ExecutionClaim, errMsg string) error {
	return d.transition(claim, map[string]interface{}{
		"last_error":       errMsg,
		"last_error_class": types.ErrorClassSoft,
	}, &types.ExecutionEvent{
		FromStatus:   claim.Status,
		ToStatus:     types.StatusSubmitting,
		DecisionPath: types.PathPlaceOrderSoft,
		ErrorClass:   types.ErrorClassSoft,
		ErrorMessage: errMsg,
	})
}

// IncrementReconcileAttempts bumps the bounded attempt counter and returns
// the new value.
func (d *Database) IncrementReconcileAttempts(claim *types.ExecutionClaim) (int, error) {
	if err := d.db.Model(&types.ExecutionClaim{}).
		Where("execution_id = ?", claim.ExecutionID).
		Update("reconcile_attempts", gorm.Expr("reconcile_attempts + 1")).Error; err != nil {
		return 0, err
	}
	claim.ReconcileAttempts++
	return claim.ReconcileAttempts, nil
}

// MarkReconciled links a claim to the order discovered at the exchange and
// records the mapped status.
func (d *Database) MarkReconciled(claim *types.ExecutionClaim, status, exchangeOrderID, rawResponse string, latency time.Duration, attempt int) error {
	if claim.ExchangeOrderID != "" && claim.ExchangeOrderID != exchangeOrderID {
		return fmt.Errorf("claim %s already linked to order %s", claim.ExecutionID, claim.ExchangeOrderID)
	}
	now := time.Now()
	return d.transition(claim, map[string]interface{}{
		"status":            status,
		"exchange_order_id": exchangeOrderID,
		"exchange_response": rawResponse,
		"reconciled_at":     now,
		"last_error":        "",
		"last_error_class":  "",
	}, &types.ExecutionEvent{
		FromStatus:       claim.Status,
		ToStatus:         status,
		DecisionPath:     types.PathReconcileFound,
		ExchangeOrderID:  exchangeOrderID,
		LatencyMs:        latency.Milliseconds(),
		ReconcileAttempt: attempt,
	})
}

// MarkNotFound terminates a claim the exchange has no record of.
func (d *Database) MarkNotFound(claim *types.ExecutionClaim, attempt int) error {
	now := time.Now()
	errMsg := "no order found on exchange"
	return d.transition(claim, map[string]interface{}{
		"status":           types.StatusFailed,
		"last_error":       errMsg,
		"last_error_class": types.ErrorClassHard,
		"failed_at":        now,
	}, &types.ExecutionEvent{
		FromStatus:       claim.Status,
		ToStatus:         types.StatusFailed,
		DecisionPath:     types.PathReconcileNotFound,
		ErrorClass:       types.ErrorClassHard,
		ErrorMessage:     errMsg,
		ReconcileAttempt: attempt,
	})
}

// RecordDeferred logs a lookup miss inside the not-found grace window. The
// claim stays in SUBMITTING for a later attempt.
func (d *Database) RecordDeferred(claim *types.ExecutionClaim, errMsg string, attempt int) error {
	return d.transition(claim, map[string]interface{}{
		"last_error":       errMsg,
		"last_error_class": types.ErrorClassSoft,
	}, &types.ExecutionEvent{
		FromStatus:       claim.Status,
		ToStatus:         types.StatusSubmitting,
		DecisionPath:     types.PathReconcileDeferred,
		ErrorClass:       types.ErrorClassSoft,
		ErrorMessage:     errMsg,
		ReconcileAttempt: attempt,
	})
}

// MarkEscalated gives up on automated recovery; the claim now requires
// manual operator review.
func (d *Database) MarkEscalated(claim *types.ExecutionClaim, attempt int) error {
	now := time.Now()
	errMsg := fmt.Sprintf("escalated after %d reconcile attempts", attempt-1)
	return d.transition(claim, map[string]interface{}{
		"status":           types.StatusFailed,
		"last_error":       errMsg,
		"last_error_class": types.ErrorClassEscalated,
		"failed_at":        now,
	}, &types.ExecutionEvent{
		FromStatus:       claim.Status,
		ToStatus:         types.StatusFailed,
		DecisionPath:     types.PathReconcileEscalate,
		ErrorClass:       types.ErrorClassEscalated,
		ErrorMessage:     errMsg,
		ReconcileAttempt: attempt,
	})
}
