package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// metricsWindow is the lookback over the event log for promotion decisions.
const metricsWindow = 24 * time.Hour

var trainingOrderLimit = decimal.NewFromInt(100)

// tier defines the thresholds a user must clear to advance one level. The
// recovery-rate ceiling is deliberate: a high reconciliation rate means the
// primary submission path fails often and the system is being saved by
// recovery, which is instability, not reliability.
type tier struct {
	from            string
	to              string
	minExecutions   int64
	minSuccessRate  float64
	maxRecoveryRate float64
	orderLimit      decimal.Decimal
}

var promotionTiers = []tier{
	{
		from:            LevelTraining,
		to:              LevelValidated,
		minExecutions:   100,
		minSuccessRate:  0.98,
		maxRecoveryRate: 0.05,
		orderLimit:      decimal.NewFromInt(1000),
	},
	{
		from:            LevelValidated,
		to:              LevelProduction,
		minExecutions:   500,
		minSuccessRate:  0.99,
		maxRecoveryRate: 0.02,
		orderLimit:      decimal.NewFromInt(10000),
	},
	{
		from:            LevelProduction,
		to:              LevelMature,
		minExecutions:   2000,
		minSuccessRate:  0.995,
		maxRecoveryRate: 0.01,
		orderLimit:      decimal.NewFromInt(50000),
	},
}

// PromotionResult reports one CheckAndPromote outcome.
type PromotionResult struct {
	UserID    string  `json:"user_id"`
	Promoted  bool    `json:"promoted"`
	FromLevel string  `json:"from_level"`
	ToLevel   string  `json:"to_level,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Metrics   Metrics `json:"metrics"`
}

// Service is the confidence governor: it raises per-user order-size
// ceilings as observed execution reliability improves.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: NewDatabase(gormDB)}
}

// OrderLimit returns the user's current ceiling, creating the TRAINING
// policy on first sight. Implements the engine's OrderLimiter.
func (s *Service) OrderLimit(userID string) (decimal.Decimal, error) {
	policy, err := s.db.GetOrCreatePolicy(userID)
	if err != nil {
		return decimal.Zero, err
	}
	return policy.OrderLimit, nil
}

// Policy returns the user's full confidence policy.
func (s *Service) Policy(userID string) (*ConfidencePolicy, error) {
	return s.db.GetOrCreatePolicy(userID)
}

// CheckAndPromote evaluates the user's 24h window against the next tier's
// thresholds. When all are met the policy advances and an audit row records
// the justifying metrics; otherwise the reason names the failed threshold
// and by how much, and nothing is mutated.
func (s *Service) CheckAndPromote(userID string) (*PromotionResult, error) {
	policy, err := s.db.GetOrCreatePolicy(userID)
	if err != nil {
		return nil, err
	}

	result := &PromotionResult{
		UserID:    userID,
		FromLevel: policy.Level,
	}

	var next *tier
	for i := range promotionTiers {
		if promotionTiers[i].from == policy.Level {
			next = &promotionTiers[i]
			break
		}
	}
	if next == nil {
		result.Reason = fmt.Sprintf("level %s has no further promotion", policy.Level)
		return result, nil
	}

	metrics, err := s.db.WindowMetrics(userID, time.Now().Add(-metricsWindow))
	if err != nil {
		return nil, err
	}
	result.Metrics = metrics

	switch {
	case metrics.TotalExecutions < next.minExecutions:
		result.Reason = fmt.Sprintf(
			"executions %d below the %s minimum of %d (short by %d)",
			metrics.TotalExecutions, next.to, next.minExecutions,
			next.minExecutions-metrics.TotalExecutions)
		return result, nil

	case metrics.SuccessRate < next.minSuccessRate:
		result.Reason = fmt.Sprintf(
			"success rate %.2f%% below the %s minimum of %.2f%%",
			metrics.SuccessRate*100, next.to, next.minSuccessRate*100)
		return result, nil

	case metrics.RecoveryRate > next.maxRecoveryRate:
		result.Reason = fmt.Sprintf(
			"recovery rate %.2f%% above the %s ceiling of %.2f%% (over by %.2f%%)",
			metrics.RecoveryRate*100, next.to, next.maxRecoveryRate*100,
			(metrics.RecoveryRate-next.maxRecoveryRate)*100)
		return result, nil
	}

	if err := s.db.PromotePolicy(policy, next.to, next.orderLimit, metrics); err != nil {
		return nil, err
	}

	log.Info().
		Str("component", "confidence_governor").
		Str("user_id", userID).
		Str("from_level", result.FromLevel).
		Str("to_level", next.to).
		Int64("executions", metrics.TotalExecutions).
		Float64("success_rate", metrics.SuccessRate).
		Float64("recovery_rate", metrics.RecoveryRate).
		Msg("confidence level promoted")

	result.Promoted = true
	result.ToLevel = next.to
	return result, nil
}

// Start runs CheckAndPromote for every active user on the given interval
// until the context is cancelled.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	logger := log.With().Str("component", "confidence_governor").Logger()
	if interval <= 0 {
		interval = time.Hour
	}
	logger.Info().Dur("interval", interval).Msg("starting governor")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down governor")
			return
		case <-ticker.C:
			if err := s.runPass(); err != nil {
				logger.Error().Err(err).Msg("promotion pass failed")
			}
		}
	}
}

func (s *Service) runPass() error {
	users, err := s.db.ActiveUsers(time.Now().Add(-metricsWindow))
	if err != nil {
		return err
	}
	for _, userID := range users {
		if _, err := s.CheckAndPromote(userID); err != nil {
			log.Warn().
				Str("component", "confidence_governor").
				Str("user_id", userID).
				Err(err).
				Msg("promotion check failed")
		}
	}
	return nil
}
