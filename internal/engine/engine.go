package engine

import (
	"context"
	"time"

	"github.com/ksred/tradewarden/internal/exchange"
	"github.com/ksred/tradewarden/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Config bounds the engine's recovery behavior.
type Config struct {
	// SubmitTTL is how long a SUBMITTING claim shields concurrent callers
	// before the arbiter routes them to reconciliation instead.
	SubmitTTL time.Duration
	// ReconcileMaxAttempts caps automated recovery before escalation.
	ReconcileMaxAttempts int
	// NotFoundGrace is the minimum age of a submission before a lookup miss
	// is treated as proof the order was never placed. It papers over any
	// read-after-write lag in the exchange's order lookup.
	NotFoundGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.SubmitTTL <= 0 {
		c.SubmitTTL = 30 * time.Second
	}
	if c.ReconcileMaxAttempts <= 0 {
		c.ReconcileMaxAttempts = 12
	}
	if c.NotFoundGrace < 0 {
		c.NotFoundGrace = 0
	}
	return c
}

// Engine owns order submission and reconciliation for execution claims. The
// exchange client is injected so tests and the simulation can substitute a
// double; there is no package-level client.
type Engine struct {
	db       *Database
	exchange exchange.TradingClient
	cfg      Config
}

func NewEngine(gormDB *gorm.DB, client exchange.TradingClient, cfg Config) *Engine {
	return &Engine{
		db:       NewDatabase(gormDB),
		exchange: client,
		cfg:      cfg.withDefaults(),
	}
}

// DB exposes the claim store to handlers and the sweeper.
func (e *Engine) DB() *Database {
	return e.db
}

// SubmitOrRetry drives one claim toward a known outcome. It is safe to call
// any number of times, concurrently or sequentially: at most one order is
// ever created at the exchange for a given claim.
func (e *Engine) SubmitOrRetry(ctx context.Context, executionID, userID string) (*types.SubmitResult, error) {
	logger := log.With().
		Str("component", "order_submitter").
		Str("execution_id", executionID).
		Str("user_id", userID).
		Logger()

	decision, claim, err := e.db.Decide(executionID, e.cfg.SubmitTTL)
	if err != nil {
		return nil, err
	}

	result := &types.SubmitResult{
		ExecutionID:     executionID,
		Status:          claim.Status,
		ClientOrderID:   claim.ClientOrderID,
		ExchangeOrderID: claim.ExchangeOrderID,
	}

	switch decision {
	case DecisionReturnExisting:
		if claim.ExchangeOrderID != "" {
			result.Code = types.ResultAlreadyHasOrderID
		} else {
			result.Code = types.ResultPlaceOrderFailed
			result.Message = claim.LastError
		}
		return result, nil

	case DecisionWaitOrReconcile:
		result.Code = types.ResultSubmittingInProgress
		result.Message = "submission in flight, retry later"
		return result, nil

	case DecisionReconcileFirst:
		logger.Info().Str("status", claim.Status).Msg("routing to reconciliation")
		return e.ReconcileByClientOrderID(ctx, executionID, userID)
	}

	// PLACE_ORDER: this caller holds exclusive submit-rights. The row lock
	// was released when the arbiter committed; the outcome is written back
	// in a separate transaction so the exchange's latency cannot stall
	// unrelated retries.
	logger.Info().Str("client_order_id", claim.ClientOrderID).Msg("placing order")

	start := time.Now()
	order, placeErr := e.exchange.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:        claim.Symbol,
		Side:          claim.Side,
		OrderType:     claim.OrderType,
		Quantity:      claim.Quantity,
		Price:         claim.Price,
		ClientOrderID: claim.ClientOrderID,
	})
	latency := time.Since(start)

	if placeErr == nil {
		if err := e.db.MarkSubmitted(claim, order.OrderID, order.Status, latency); err != nil {
			return nil, err
		}
		logger.Info().
			Str("exchange_order_id", order.OrderID).
			Int64("latency_ms", latency.Milliseconds()).
			Msg("order submitted")
		result.Code = types.ResultSubmitted
		result.Status = types.StatusSubmitted
		result.ExchangeOrderID = order.OrderID
		return result, nil
	}

	switch Classify(placeErr) {
	case types.ErrorClassHard:
		if err := e.db.MarkHardFailed(claim, placeErr.Error()); err != nil {
			return nil, err
		}
		logger.Warn().Err(placeErr).Msg("order placement rejected")
		result.Code = types.ResultPlaceOrderFailed
		result.Status = types.StatusFailed
		result.Message = placeErr.Error()
		return result, nil

	default:
		// SOFT: the order may or may not exist at the exchange. The claim
		// stays in SUBMITTING for the reconciler and the sweeper.
		if err := e.db.RecordSoftFailure(claim, placeErr.Error()); err != nil {
			return nil, err
		}
		logger.Warn().Err(placeErr).Msg("order placement outcome unknown, queued for reconciliation")
		result.Code = types.ResultSubmittingInProgress
		result.Status = types.StatusSubmitting
		result.Message = "outcome unknown, queued for reconciliation"
		return result, nil
	}
}
