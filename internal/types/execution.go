package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Claim lifecycle states. Transitions only move forward; a claim never
// re-enters PENDING.
const (
	StatusPending    = "PENDING"
	StatusSubmitting = "SUBMITTING"
	StatusSubmitted  = "SUBMITTED"
	StatusFilled     = "FILLED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
)

// Error classification applied at the point of failure.
const (
	ErrorClassSoft      = "SOFT"
	ErrorClassHard      = "HARD"
	ErrorClassEscalated = "ESCALATED"
)

// Decision paths recorded on every event row.
const (
	PathClaimCreated      = "CLAIM_CREATED"
	PathPlaceOrderGranted = "PLACE_ORDER_GRANTED"
	PathPlaceOrderSuccess = "PLACE_ORDER_SUCCESS"
	PathPlaceOrderHard    = "PLACE_ORDER_HARD_FAIL"
	PathPlaceOrderSoft    = "PLACE_ORDER_SOFT_FAIL"
	PathReconcileFound    = "RECONCILE_FOUND"
	PathReconcileNotFound = "RECONCILE_NOT_FOUND"
	PathReconcileDeferred = "RECONCILE_DEFERRED"
	PathReconcileEscalate = "RECONCILE_ESCALATED"
)

// ExecutionClaim is the durable record of one intended trade. It is the
// single source of truth for whether an order was placed at the exchange.
type ExecutionClaim struct {
	gorm.Model        `json:"-"`
	ExecutionID       string          `gorm:"uniqueIndex" json:"execution_id"`
	UserID            string          `gorm:"index" json:"user_id"`
	Symbol            string          `json:"symbol"`
	Side              string          `json:"side"`       // BUY or SELL
	OrderType         string          `json:"order_type"` // MARKET or LIMIT
	Quantity          decimal.Decimal `gorm:"type:decimal(24,8)" json:"quantity"`
	Price             decimal.Decimal `gorm:"type:decimal(24,8)" json:"price"`
	ClientOrderID     string          `gorm:"uniqueIndex" json:"client_order_id"`
	Status            string          `gorm:"index" json:"status"`
	ExchangeOrderID   string          `json:"exchange_order_id,omitempty"`
	ExchangeResponse  string          `json:"-"`
	SubmittingAt      *time.Time      `json:"submitting_at,omitempty"`
	SubmittedAt       *time.Time      `json:"submitted_at,omitempty"`
	ReconciledAt      *time.Time      `json:"reconciled_at,omitempty"`
	FailedAt          *time.Time      `json:"failed_at,omitempty"`
	ReconcileAttempts int             `json:"reconcile_attempts"`
	LastError         string          `json:"last_error,omitempty"`
	LastErrorClass    string          `json:"last_error_class,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Terminal reports whether the claim has reached a final state.
func (c *ExecutionClaim) Terminal() bool {
	switch c.Status {
	case StatusFilled, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ExecutionEvent is one append-only row per state transition attempt. Rows
// are never updated or deleted; they are the forensic record and the metrics
// source for confidence promotion.
type ExecutionEvent struct {
	gorm.Model       `json:"-"`
	ExecutionID      string    `gorm:"index" json:"execution_id"`
	UserID           string    `gorm:"index" json:"user_id"`
	FromStatus       string    `json:"from_status"`
	ToStatus         string    `json:"to_status"`
	DecisionPath     string    `gorm:"index" json:"decision_path"`
	ClientOrderID    string    `json:"client_order_id"`
	ExchangeOrderID  string    `json:"exchange_order_id,omitempty"`
	ErrorClass       string    `json:"error_class,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	LatencyMs        int64     `json:"latency_ms,omitempty"`
	ReconcileAttempt int       `json:"reconcile_attempt,omitempty"`
	OccurredAt       time.Time `gorm:"index" json:"occurred_at"`
}
