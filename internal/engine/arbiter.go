package engine

import (
	"time"

	"github.com/ksred/tradewarden/internal/types"
	"gorm.io/gorm/clause"
)

// Decision is the arbiter's verdict for one submission attempt.
type Decision string

const (
	DecisionReturnExisting  Decision = "RETURN_EXISTING"
	DecisionWaitOrReconcile Decision = "WAIT_OR_RECONCILE"
	DecisionReconcileFirst  Decision = "RECONCILE_FIRST"
	DecisionPlaceOrder      Decision = "PLACE_ORDER"
)

// Decide inspects a claim under a row lock and decides exactly one action.
// The locked read-decide-write step is the only synchronization primitive in
// the engine: two concurrent callers for the same claim cannot both receive
// PLACE_ORDER, because the winner flips the row to SUBMITTING before the
// lock is released and the loser then sees SUBMITTING.
//
// The lock is never held across a network call; it covers only this
// transaction.
func (d *Database) Decide(executionID string, ttl time.Duration) (Decision, *types.ExecutionClaim, error) {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return "", nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var claim types.ExecutionClaim
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("execution_id = ?", executionID).
		First(&claim).Error; err != nil {
		tx.Rollback()
		return "", nil, err
	}

	now := time.Now()
	var decision Decision

	switch {
	case claim.ExchangeOrderID != "":
		// Order already identified; nothing left to decide.
		decision = DecisionReturnExisting

	case claim.Status == types.StatusSubmitting &&
		claim.SubmittingAt != nil && now.Sub(*claim.SubmittingAt) < ttl:
		// Another caller holds submit-rights and is still inside the TTL.
		decision = DecisionWaitOrReconcile

	case claim.Status == types.StatusSubmitting:
		// TTL expired: the outcome of the in-flight submission is unknown.
		decision = DecisionReconcileFirst

	case claim.Status == types.StatusSubmitted || claim.Status == types.StatusFilled:
		// Inconsistent: a confirmed status without an exchange order id.
		decision = DecisionReconcileFirst

	case claim.Status == types.StatusCancelled:
		decision = DecisionReturnExisting

	case claim.Status == types.StatusFailed &&
		(claim.LastErrorClass == types.ErrorClassHard || claim.LastErrorClass == types.ErrorClassEscalated):
		// Authoritative rejection or exhausted recovery: terminal, never
		// re-attempted by this engine.
		decision = DecisionReturnExisting

	default:
		// PENDING, or a FAILED claim without an authoritative verdict.
		// Granting submit-rights and flipping to SUBMITTING happen inside
		// the same lock.
		decision = DecisionPlaceOrder
		if claim.ClientOrderID == "" {
			claim.ClientOrderID = ClientOrderID(claim.ExecutionID)
		}
		fromStatus := claim.Status
		claim.Status = types.StatusSubmitting
		claim.SubmittingAt = &now

		if err := tx.Model(&types.ExecutionClaim{}).
			Where("execution_id = ?", claim.ExecutionID).
			Updates(map[string]interface{}{
				"status":          types.StatusSubmitting,
				"submitting_at":   now,
				"client_order_id": claim.ClientOrderID,
			}).Error; err != nil {
			tx.Rollback()
			return "", nil, err
		}

		event := types.ExecutionEvent{
			ExecutionID:   claim.ExecutionID,
			UserID:        claim.UserID,
			FromStatus:    fromStatus,
			ToStatus:      types.StatusSubmitting,
			DecisionPath:  types.PathPlaceOrderGranted,
			ClientOrderID: claim.ClientOrderID,
			OccurredAt:    now,
		}
		if err := tx.Create(&event).Error; err != nil {
			tx.Rollback()
			return "", nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return "", nil, err
	}
	return decision, &claim, nil
}
