package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ksred/tradewarden/internal/types"
	"github.com/stretchr/testify/require"
)

func TestSweepRecoversStaleSubmissions(t *testing.T) {
	eng, mock := newTestEngine(t, Config{SubmitTTL: time.Second})
	sweeper := NewSweeper(eng, time.Minute, time.Second)

	// Stale claim whose order exists at the exchange.
	submitWithLostResponse(t, eng, mock, "exec-recoverable")

	// Stale claim where the order was never recorded.
	createTestClaim(t, eng.DB(), "exec-lost", "user-1")
	mock.FailNext(errors.New("service unavailable"), false)
	_, err := eng.SubmitOrRetry(context.Background(), "exec-lost", "user-1")
	require.NoError(t, err)

	// Fresh claim the sweeper must leave alone.
	createTestClaim(t, eng.DB(), "exec-fresh", "user-1")
	mock.FailNext(errors.New("service unavailable"), false)
	_, err = eng.SubmitOrRetry(context.Background(), "exec-fresh", "user-1")
	require.NoError(t, err)

	backdateSubmitting(t, eng.DB(), "exec-recoverable", time.Minute)
	backdateSubmitting(t, eng.DB(), "exec-lost", time.Minute)

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Checked)
	require.Equal(t, 1, report.Reconciled)
	require.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)

	recovered, err := eng.DB().GetClaim("exec-recoverable")
	require.NoError(t, err)
	require.Equal(t, types.StatusSubmitted, recovered.Status)
	require.NotEmpty(t, recovered.ExchangeOrderID)

	lost, err := eng.DB().GetClaim("exec-lost")
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, lost.Status)

	fresh, err := eng.DB().GetClaim("exec-fresh")
	require.NoError(t, err)
	require.Equal(t, types.StatusSubmitting, fresh.Status)
	require.Equal(t, 0, fresh.ReconcileAttempts)
}

func TestSweepEmptyBatch(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})
	sweeper := NewSweeper(eng, time.Minute, time.Minute)

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, report.Checked)
	require.Empty(t, report.Errors)
}
