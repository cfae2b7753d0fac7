package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/tradewarden/internal/database/migrations"
	"github.com/ksred/tradewarden/internal/exchange"
	"github.com/ksred/tradewarden/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newTestDB opens a private in-memory database. The immediate txlock keeps
// concurrent write transactions from deadlocking on lock upgrades.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000&_txlock=immediate", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migrations.AddExecutionEngine(db))
	require.NoError(t, migrations.AddConfidencePolicies(db))
	return db
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *exchange.MockExchange) {
	t.Helper()
	mock := exchange.NewMockExchange()
	return NewEngine(newTestDB(t), mock, cfg), mock
}

func createTestClaim(t *testing.T, db *Database, executionID, userID string) *types.ExecutionClaim {
	t.Helper()
	claim := &types.ExecutionClaim{
		ExecutionID: executionID,
		UserID:      userID,
		Symbol:      "BTC-USD",
		Side:        "BUY",
		OrderType:   "LIMIT",
		Quantity:    decimal.NewFromInt(1),
		Price:       decimal.NewFromInt(100),
	}
	require.NoError(t, db.CreateClaim(claim))
	return claim
}

// backdateSubmitting rewrites submittingAt so TTL and grace windows can be
// exercised without sleeping.
func backdateSubmitting(t *testing.T, db *Database, executionID string, age time.Duration) {
	t.Helper()
	past := time.Now().Add(-age)
	require.NoError(t, db.db.Model(&types.ExecutionClaim{}).
		Where("execution_id = ?", executionID).
		Update("submitting_at", past).Error)
}

func eventPaths(t *testing.T, db *Database, executionID string) []string {
	t.Helper()
	events, err := db.GetEvents(executionID)
	require.NoError(t, err)
	paths := make([]string, 0, len(events))
	for _, ev := range events {
		paths = append(paths, ev.DecisionPath)
	}
	return paths
}
