package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/upb/llm-provider-manager/services/tracker"
)

// CostRecord is the persisted form of one candidate attempt
type CostRecord struct {
	ID               uuid.UUID `json:"id" db:"id"`
	Backend          string    `json:"backend" db:"backend"`
	TaskType         string    `json:"task_type" db:"task_type"`
	Model            *string   `json:"model,omitempty" db:"model"`
	TokensUsed       int       `json:"tokens_used" db:"tokens_used"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd" db:"estimated_cost_usd"`
	LatencyMs        int       `json:"latency_ms" db:"latency_ms"`
	Succeeded        bool      `json:"succeeded" db:"succeeded"`
	ErrorKind        *string   `json:"error_kind,omitempty" db:"error_kind"`
	RecordedAt       time.Time `json:"recorded_at" db:"recorded_at"`
}

// TableName returns the table name for CostRecord
func (CostRecord) TableName() string {
	return "cost_records"
}

// NewCostRecord converts a tracker record. Records with an unparsable ID get
// a fresh one.
func NewCostRecord(r tracker.CostRecord) *CostRecord {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		id = uuid.New()
	}

	record := &CostRecord{
		ID:               id,
		Backend:          r.Backend,
		TaskType:         string(r.TaskType),
		TokensUsed:       r.TokensUsed,
		EstimatedCostUSD: r.EstimatedCostUSD,
		LatencyMs:        int(r.LatencySeconds * 1000),
		Succeeded:        r.Succeeded,
		RecordedAt:       r.Timestamp,
	}
	if r.Model != "" {
		record.Model = &r.Model
	}
	if r.ErrorKind != "" {
		record.ErrorKind = &r.ErrorKind
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}
	return record
}

// BackendSpend is the aggregated spend of one backend over a period
type BackendSpend struct {
	Backend  string  `json:"backend" db:"backend"`
	Requests int64   `json:"requests" db:"requests"`
	Tokens   int64   `json:"tokens" db:"tokens"`
	CostUSD  float64 `json:"cost_usd" db:"cost_usd"`
}
