package budget

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/services/tracker"
)

// BudgetPeriod represents the time period for budget tracking
type BudgetPeriod string

const (
	PeriodDaily BudgetPeriod = "daily"
)

// BudgetCheckResult represents the result of a budget check
type BudgetCheckResult struct {
	Allowed         bool         `json:"allowed"`
	DailySpend      float64      `json:"daily_spend_usd"`
	DailyLimit      float64      `json:"daily_limit_usd"`
	ViolatedPeriod  BudgetPeriod `json:"violated_period,omitempty"`
	ViolationReason string       `json:"violation_reason,omitempty"`
}

// BudgetService keeps the in-memory spend of the current UTC day and rejects
// requests once the daily limit is reached. A zero limit disables the check.
type BudgetService struct {
	mu         sync.Mutex
	dailyLimit float64
	period     string
	spend      float64
	now        func() time.Time
	logger     *zap.Logger
}

// NewBudgetService creates a new BudgetService instance
func NewBudgetService(dailyLimit float64, logger *zap.Logger) *BudgetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BudgetService{
		dailyLimit: dailyLimit,
		now:        time.Now,
		logger:     logger,
	}
}

// Enabled reports whether a daily limit is configured
func (s *BudgetService) Enabled() bool {
	return s != nil && s.dailyLimit > 0
}

// CheckBudget reports whether another request fits in today's budget
func (s *BudgetService) CheckBudget() BudgetCheckResult {
	if !s.Enabled() {
		return BudgetCheckResult{Allowed: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked()

	result := BudgetCheckResult{
		Allowed:    true,
		DailySpend: s.spend,
		DailyLimit: s.dailyLimit,
	}
	if s.spend >= s.dailyLimit {
		result.Allowed = false
		result.ViolatedPeriod = PeriodDaily
		result.ViolationReason = fmt.Sprintf("daily budget of %.2f USD reached (current: %.4f)", s.dailyLimit, s.spend)
	}
	return result
}

// RecordCost adds spend to the current day
func (s *BudgetService) RecordCost(cost float64) {
	if s == nil || cost <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked()

	before := s.spend
	s.spend += cost
	if s.dailyLimit > 0 && before < s.dailyLimit && s.spend >= s.dailyLimit {
		s.logger.Warn("daily budget reached",
			zap.Float64("limit_usd", s.dailyLimit),
			zap.Float64("spend_usd", s.spend),
		)
	}
}

// DailySpend returns today's recorded spend
func (s *BudgetService) DailySpend() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked()
	return s.spend
}

// Consume implements tracker.Sink
func (s *BudgetService) Consume(record tracker.CostRecord) {
	s.RecordCost(record.EstimatedCostUSD)
}

// rollLocked resets the spend when the UTC day changes
func (s *BudgetService) rollLocked() {
	key := periodKey(s.now())
	if key != s.period {
		s.period = key
		s.spend = 0
	}
}

func periodKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

var _ tracker.Sink = (*BudgetService)(nil)
