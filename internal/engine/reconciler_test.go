package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ksred/tradewarden/internal/exchange"
	"github.com/ksred/tradewarden/internal/types"
	"github.com/stretchr/testify/require"
)

// submitWithLostResponse drives a claim into SUBMITTING where the exchange
// holds an order the caller never heard about.
func submitWithLostResponse(t *testing.T, eng *Engine, mock *exchange.MockExchange, executionID string) *types.ExecutionClaim {
	t.Helper()
	claim := createTestClaim(t, eng.DB(), executionID, "user-1")
	mock.FailNext(errors.New("connection reset by peer"), true)
	result, err := eng.SubmitOrRetry(context.Background(), executionID, "user-1")
	require.NoError(t, err)
	require.Equal(t, types.ResultSubmittingInProgress, result.Code)
	return claim
}

func TestReconcileRecoversLostResponse(t *testing.T) {
	eng, mock := newTestEngine(t, Config{})
	claim := submitWithLostResponse(t, eng, mock, "exec-1")

	result, err := eng.ReconcileByClientOrderID(context.Background(), "exec-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, types.ResultFoundOnExchange, result.Code)
	require.Equal(t, types.StatusSubmitted, result.Status)
	require.NotEmpty(t, result.ExchangeOrderID)

	stored, err := eng.DB().GetClaim("exec-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusSubmitted, stored.Status)
	require.Equal(t, result.ExchangeOrderID, stored.ExchangeOrderID)
	require.Equal(t, 1, stored.ReconcileAttempts)
	require.NotNil(t, stored.ReconciledAt)
	require.Contains(t, eventPaths(t, eng.DB(), "exec-1"), types.PathReconcileFound)

	// Still exactly one order despite the recovery round-trip.
	require.Equal(t, 1, mock.OrderCount(claim.ClientOrderID))
}

func TestReconcileMapsFilledStatus(t *testing.T) {
	eng, mock := newTestEngine(t, Config{})
	claim := submitWithLostResponse(t, eng, mock, "exec-1")
	mock.SetOrderStatus(claim.ClientOrderID, "FILLED")

	result, err := eng.ReconcileByClientOrderID(context.Background(), "exec-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, types.ResultFoundOnExchange, result.Code)
	require.Equal(t, types.StatusFilled, result.Status)
}

func TestReconcileMapsCancelVariants(t *testing.T) {
	for _, exchangeStatus := range []string{"CANCELLED", "CANCELED", "EXPIRED", "REJECTED"} {
		require.Equal(t, types.StatusCancelled, mapExchangeStatus(exchangeStatus))
	}
	require.Equal(t, types.StatusSubmitted, mapExchangeStatus("PARTIALLY_FILLED"))
	require.Equal(t, types.StatusSubmitted, mapExchangeStatus("NEW"))
}

func TestReconcileDefersInsideGraceWindow(t *testing.T) {
	eng, mock := newTestEngine(t, Config{NotFoundGrace: time.Hour})
	createTestClaim(t, eng.DB(), "exec-1", "user-1")
	mock.FailNext(errors.New("service unavailable"), false)
	_, err := eng.SubmitOrRetry(context.Background(), "exec-1", "user-1")
	require.NoError(t, err)

	result, err := eng.ReconcileByClientOrderID(context.Background(), "exec-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, types.ResultSubmittingInProgress, result.Code)

	stored, err := eng.DB().GetClaim("exec-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusSubmitting, stored.Status)
	require.Equal(t, 1, stored.ReconcileAttempts)
	require.Contains(t, eventPaths(t, eng.DB(), "exec-1"), types.PathReconcileDeferred)
}

func TestReconcileNotFoundAfterGraceFailsClaim(t *testing.T) {
	eng, mock := newTestEngine(t, Config{})
	createTestClaim(t, eng.DB(), "exec-1", "user-1")
	mock.FailNext(errors.New("service unavailable"), false)
	_, err := eng.SubmitOrRetry(context.Background(), "exec-1", "user-1")
	require.NoError(t, err)

	result, err := eng.ReconcileByClientOrderID(context.Background(), "exec-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, types.ResultNotFoundOnExchange, result.Code)
	require.Equal(t, types.StatusFailed, result.Status)

	stored, err := eng.DB().GetClaim("exec-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, stored.Status)
	require.Equal(t, types.ErrorClassHard, stored.LastErrorClass)
	require.Contains(t, eventPaths(t, eng.DB(), "exec-1"), types.PathReconcileNotFound)
}

func TestReconcileShortCircuitsKnownOrder(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})
	createTestClaim(t, eng.DB(), "exec-1", "user-1")
	_, err := eng.SubmitOrRetry(context.Background(), "exec-1", "user-1")
	require.NoError(t, err)

	result, err := eng.ReconcileByClientOrderID(context.Background(), "exec-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, types.ResultAlreadyHasOrderID, result.Code)

	stored, err := eng.DB().GetClaim("exec-1")
	require.NoError(t, err)
	require.Equal(t, 0, stored.ReconcileAttempts)
}

// failingLookupClient reports lookup outages so escalation can be driven
// deterministically.
type failingLookupClient struct {
	mu      sync.Mutex
	lookups int
}

func (c *failingLookupClient) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.Order, error) {
	return nil, errors.New("service unavailable")
}

func (c *failingLookupClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return errors.New("service unavailable")
}

func (c *failingLookupClient) FindOrderByClientOrderID(ctx context.Context, clientOrderID string) (*exchange.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	return nil, errors.New("service unavailable")
}

func (c *failingLookupClient) Lookups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookups
}

func TestReconcileEscalatesAfterMaxAttempts(t *testing.T) {
	client := &failingLookupClient{}
	eng := NewEngine(newTestDB(t), client, Config{ReconcileMaxAttempts: 3})
	createTestClaim(t, eng.DB(), "exec-1", "user-1")

	// Take the claim into SUBMITTING; the actual submission never happens.
	decision, _, err := eng.DB().Decide("exec-1", eng.cfg.SubmitTTL)
	require.NoError(t, err)
	require.Equal(t, DecisionPlaceOrder, decision)

	for i := 1; i <= 3; i++ {
		result, err := eng.ReconcileByClientOrderID(context.Background(), "exec-1", "user-1")
		require.NoError(t, err)
		require.Equal(t, types.ResultError, result.Code)
	}
	require.Equal(t, 3, client.Lookups())

	// The attempt after the cap escalates without touching the exchange.
	result, err := eng.ReconcileByClientOrderID(context.Background(), "exec-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, types.ResultEscalated, result.Code)
	require.Equal(t, types.StatusFailed, result.Status)
	require.Equal(t, 3, client.Lookups())

	stored, err := eng.DB().GetClaim("exec-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, stored.Status)
	require.Equal(t, types.ErrorClassEscalated, stored.LastErrorClass)
	require.Contains(t, eventPaths(t, eng.DB(), "exec-1"), types.PathReconcileEscalate)

	// An escalated claim is final; further reconciles neither look up nor
	// consume attempts.
	again, err := eng.ReconcileByClientOrderID(context.Background(), "exec-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, types.ResultEscalated, again.Code)
	require.Equal(t, 3, client.Lookups())

	final, err := eng.DB().GetClaim("exec-1")
	require.NoError(t, err)
	require.Equal(t, stored.ReconcileAttempts, final.ReconcileAttempts)
}
