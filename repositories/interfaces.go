package repositories

import (
	"context"
	"time"

	"github.com/upb/llm-provider-manager/models"
)

// CostRecordRepository persists cost records for offline analysis
type CostRecordRepository interface {
	// InsertBatch writes records in one round trip
	InsertBatch(ctx context.Context, records []*models.CostRecord) error

	// ListSince returns records recorded at or after since, newest first
	ListSince(ctx context.Context, since time.Time, limit int) ([]*models.CostRecord, error)

	// SpendByBackend aggregates spend per backend since a point in time
	SpendByBackend(ctx context.Context, since time.Time) ([]*models.BackendSpend, error)

	// DeleteBefore removes records older than before and returns the count
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Repositories holds all repository instances
type Repositories struct {
	CostRecords CostRecordRepository
}
