package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ksred/tradewarden/internal/exchange"
	"github.com/ksred/tradewarden/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ReconcileByClientOrderID recovers a claim whose submission outcome is
// unknown. Because the client order id is a pure function of the execution
// id, asking the exchange "did you ever see this key" is always possible
// without risking a duplicate.
func (e *Engine) ReconcileByClientOrderID(ctx context.Context, executionID, userID string) (*types.SubmitResult, error) {
	logger := log.With().
		Str("component", "reconciler").
		Str("execution_id", executionID).
		Str("user_id", userID).
		Logger()

	claim, err := e.db.GetClaim(executionID)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, fmt.Errorf("claim %s not found", executionID)
	}

	result := &types.SubmitResult{
		ExecutionID:   executionID,
		Status:        claim.Status,
		ClientOrderID: claim.ClientOrderID,
	}

	if claim.ExchangeOrderID != "" {
		result.Code = types.ResultAlreadyHasOrderID
		result.ExchangeOrderID = claim.ExchangeOrderID
		return result, nil
	}

	// A hard-failed or escalated claim already has its verdict; repeated
	// reconcile calls must not consume attempts or reopen it.
	if claim.Status == types.StatusFailed &&
		(claim.LastErrorClass == types.ErrorClassHard || claim.LastErrorClass == types.ErrorClassEscalated) {
		if claim.LastErrorClass == types.ErrorClassEscalated {
			result.Code = types.ResultEscalated
		} else {
			result.Code = types.ResultPlaceOrderFailed
		}
		result.Message = claim.LastError
		return result, nil
	}

	attempt, err := e.db.IncrementReconcileAttempts(claim)
	if err != nil {
		return nil, err
	}
	if attempt > e.cfg.ReconcileMaxAttempts {
		if err := e.db.MarkEscalated(claim, attempt); err != nil {
			return nil, err
		}
		logger.Error().Int("attempts", attempt-1).Msg("reconciliation exhausted, claim escalated for manual review")
		result.Code = types.ResultEscalated
		result.Status = types.StatusFailed
		result.Message = fmt.Sprintf("escalated after %d reconcile attempts", attempt-1)
		return result, nil
	}

	start := time.Now()
	order, lookupErr := e.exchange.FindOrderByClientOrderID(ctx, claim.ClientOrderID)
	latency := time.Since(start)

	if lookupErr != nil {
		if errors.Is(lookupErr, exchange.ErrOrderNotFound) {
			return e.concludeNotFound(logger, claim, attempt, result)
		}
		// The lookup itself failed; the attempt is consumed but the claim
		// is left untouched for the next pass.
		logger.Warn().Err(lookupErr).Int("attempt", attempt).Msg("order lookup failed")
		result.Code = types.ResultError
		result.Message = lookupErr.Error()
		return result, nil
	}

	status := mapExchangeStatus(order.Status)
	if err := e.db.MarkReconciled(claim, status, order.OrderID, order.Status, latency, attempt); err != nil {
		return nil, err
	}
	logger.Info().
		Str("exchange_order_id", order.OrderID).
		Str("status", status).
		Int("attempt", attempt).
		Msg("order found on exchange")

	result.Code = types.ResultFoundOnExchange
	result.Status = status
	result.ExchangeOrderID = order.OrderID
	return result, nil
}

// concludeNotFound decides whether a lookup miss is proof of non-existence.
// Within the grace window since submittingAt the miss may just be lookup
// lag, so the claim is deferred instead of failed.
func (e *Engine) concludeNotFound(logger zerolog.Logger, claim *types.ExecutionClaim, attempt int, result *types.SubmitResult) (*types.SubmitResult, error) {
	if claim.SubmittingAt != nil && time.Since(*claim.SubmittingAt) < e.cfg.NotFoundGrace {
		msg := "order not yet visible on exchange"
		if err := e.db.RecordDeferred(claim, msg, attempt); err != nil {
			return nil, err
		}
		logger.Info().Int("attempt", attempt).Msg("lookup miss inside grace window, deferring")
		result.Code = types.ResultSubmittingInProgress
		result.Message = msg
		return result, nil
	}

	if err := e.db.MarkNotFound(claim, attempt); err != nil {
		return nil, err
	}
	logger.Warn().Int("attempt", attempt).Msg("no order on exchange, claim failed")
	result.Code = types.ResultNotFoundOnExchange
	result.Status = types.StatusFailed
	result.Message = "no order found on exchange"
	return result, nil
}

// mapExchangeStatus translates the venue's status string into a claim
// status. Anything that is neither filled nor a cancel variant counts as
// SUBMITTED: the order exists and is working.
func mapExchangeStatus(exchangeStatus string) string {
	switch strings.ToUpper(exchangeStatus) {
	case "FILLED":
		return types.StatusFilled
	case "CANCELLED", "CANCELED", "EXPIRED", "REJECTED":
		return types.StatusCancelled
	default:
		return types.StatusSubmitted
	}
}
