package governor_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/tradewarden/internal/database/migrations"
	"github.com/ksred/tradewarden/internal/governor"
	"github.com/ksred/tradewarden/internal/types"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*governor.Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migrations.AddExecutionEngine(db))
	require.NoError(t, migrations.AddConfidencePolicies(db))
	return governor.NewService(db), db
}

// seedEvents writes one terminal event per execution for a user: successes
// end SUBMITTED, the rest FAILED, and `recovered` of the successes carry an
// additional reconciliation-found event.
func seedEvents(t *testing.T, db *gorm.DB, userID string, total, successes, recovered int) {
	t.Helper()
	now := time.Now()
	for i := 0; i < total; i++ {
		executionID := fmt.Sprintf("%s-exec-%d", userID, i)
		toStatus := types.StatusSubmitted
		path := types.PathPlaceOrderSuccess
		if i >= successes {
			toStatus = types.StatusFailed
			path = types.PathPlaceOrderHard
		}
		require.NoError(t, db.Create(&types.ExecutionEvent{
			ExecutionID:  executionID,
			UserID:       userID,
			FromStatus:   types.StatusSubmitting,
			ToStatus:     toStatus,
			DecisionPath: path,
			OccurredAt:   now,
		}).Error)

		if i < recovered {
			require.NoError(t, db.Create(&types.ExecutionEvent{
				ExecutionID:  executionID,
				UserID:       userID,
				FromStatus:   types.StatusSubmitting,
				ToStatus:     types.StatusSubmitted,
				DecisionPath: types.PathReconcileFound,
				OccurredAt:   now,
			}).Error)
		}
	}
}

func TestOrderLimitCreatesTrainingPolicy(t *testing.T) {
	svc, _ := newTestService(t)

	limit, err := svc.OrderLimit("user-1")
	require.NoError(t, err)
	require.True(t, limit.Equal(governor.TrainingOrderLimit))

	policy, err := svc.Policy("user-1")
	require.NoError(t, err)
	require.Equal(t, governor.LevelTraining, policy.Level)
}

func TestCheckAndPromoteAdvancesToValidated(t *testing.T) {
	svc, db := newTestService(t)
	seedEvents(t, db, "user-1", 120, 119, 2)

	result, err := svc.CheckAndPromote("user-1")
	require.NoError(t, err)
	require.True(t, result.Promoted, "reason: %s", result.Reason)
	require.Equal(t, governor.LevelTraining, result.FromLevel)
	require.Equal(t, governor.LevelValidated, result.ToLevel)
	require.EqualValues(t, 120, result.Metrics.TotalExecutions)

	policy, err := svc.Policy("user-1")
	require.NoError(t, err)
	require.Equal(t, governor.LevelValidated, policy.Level)
	require.Equal(t, "1000", policy.OrderLimit.String())

	var audits []governor.PolicyAudit
	require.NoError(t, db.Where("user_id = ?", "user-1").Find(&audits).Error)
	require.Len(t, audits, 1)
	require.Equal(t, governor.LevelTraining, audits[0].FromLevel)
	require.Equal(t, governor.LevelValidated, audits[0].ToLevel)
	require.EqualValues(t, 120, audits[0].TotalExecutions)
}

func TestCheckAndPromoteHoldsOnExecutionCount(t *testing.T) {
	svc, db := newTestService(t)
	seedEvents(t, db, "user-1", 40, 40, 0)

	result, err := svc.CheckAndPromote("user-1")
	require.NoError(t, err)
	require.False(t, result.Promoted)
	require.Contains(t, result.Reason, "executions 40 below")
	require.Contains(t, result.Reason, "short by 60")

	policy, err := svc.Policy("user-1")
	require.NoError(t, err)
	require.Equal(t, governor.LevelTraining, policy.Level)
}

func TestCheckAndPromoteHoldsOnSuccessRate(t *testing.T) {
	svc, db := newTestService(t)
	// 110/120 is 91.7%, well under the 98% floor.
	seedEvents(t, db, "user-1", 120, 110, 0)

	result, err := svc.CheckAndPromote("user-1")
	require.NoError(t, err)
	require.False(t, result.Promoted)
	require.Contains(t, result.Reason, "success rate")
}

func TestCheckAndPromoteHoldsOnRecoveryRate(t *testing.T) {
	svc, db := newTestService(t)
	// 10/120 recovered is 8.3%, over the 5% VALIDATED ceiling even though
	// the success rate clears its floor.
	seedEvents(t, db, "user-1", 120, 119, 10)

	result, err := svc.CheckAndPromote("user-1")
	require.NoError(t, err)
	require.False(t, result.Promoted)
	require.Contains(t, result.Reason, "recovery rate")
	require.Contains(t, result.Reason, "ceiling")
}

func TestCheckAndPromoteMatureIsTerminal(t *testing.T) {
	svc, db := newTestService(t)
	require.NoError(t, db.Create(&governor.ConfidencePolicy{
		UserID:     "user-1",
		Level:      governor.LevelMature,
		OrderLimit: governor.TrainingOrderLimit,
	}).Error)

	result, err := svc.CheckAndPromote("user-1")
	require.NoError(t, err)
	require.False(t, result.Promoted)
	require.Contains(t, result.Reason, "no further promotion")
}

func TestWindowMetricsIgnoresOldEvents(t *testing.T) {
	svc, db := newTestService(t)
	require.NoError(t, db.Create(&types.ExecutionEvent{
		ExecutionID:  "user-1-exec-old",
		UserID:       "user-1",
		ToStatus:     types.StatusSubmitted,
		DecisionPath: types.PathPlaceOrderSuccess,
		OccurredAt:   time.Now().Add(-48 * time.Hour),
	}).Error)
	seedEvents(t, db, "user-1", 3, 3, 0)

	metrics, err := svc.DB().WindowMetrics("user-1", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 3, metrics.TotalExecutions)
}

func TestWindowMetricsCountsEachExecutionOnce(t *testing.T) {
	svc, db := newTestService(t)
	// A recovered execution emits both a success event and a reconcile
	// event, but the distinct count must see one execution.
	seedEvents(t, db, "user-1", 1, 1, 1)

	metrics, err := svc.DB().WindowMetrics("user-1", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, metrics.TotalExecutions)
	require.EqualValues(t, 1, metrics.Successes)
	require.EqualValues(t, 1, metrics.Recovered)
}

func TestActiveUsers(t *testing.T) {
	svc, db := newTestService(t)
	seedEvents(t, db, "user-a", 2, 2, 0)
	seedEvents(t, db, "user-b", 1, 1, 0)

	users, err := svc.DB().ActiveUsers(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"user-a", "user-b"}, users)
}
