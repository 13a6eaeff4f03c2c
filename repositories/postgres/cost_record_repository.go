package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/models"
	"github.com/upb/llm-provider-manager/repositories"
)

var costRecordColumns = []string{
	"id", "backend", "task_type", "model", "tokens_used",
	"estimated_cost_usd", "latency_ms", "succeeded", "error_kind", "recorded_at",
}

// CostRecordRepository implements the repositories.CostRecordRepository interface
type CostRecordRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCostRecordRepository creates a new cost record repository
func NewCostRecordRepository(db *DB, logger *zap.Logger) repositories.CostRecordRepository {
	return &CostRecordRepository{
		db:     db,
		logger: logger,
	}
}

// InsertBatch streams the records with COPY inside a transaction
func (r *CostRecordRepository) InsertBatch(ctx context.Context, records []*models.CostRecord) error {
	if len(records) == 0 {
		return nil
	}

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("cost_records", costRecordColumns...))
		if err != nil {
			return fmt.Errorf("failed to prepare copy: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx,
				rec.ID,
				rec.Backend,
				rec.TaskType,
				rec.Model,
				rec.TokensUsed,
				rec.EstimatedCostUSD,
				rec.LatencyMs,
				rec.Succeeded,
				rec.ErrorKind,
				rec.RecordedAt,
			); err != nil {
				return fmt.Errorf("failed to copy cost record %s: %w", rec.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to flush copy: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert cost records: %w", err)
	}

	r.logger.Debug("cost records inserted", zap.Int("count", len(records)))
	return nil
}

// ListSince returns records recorded at or after since, newest first
func (r *CostRecordRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]*models.CostRecord, error) {
	query := `
		SELECT id, backend, task_type, model, tokens_used,
		       estimated_cost_usd, latency_ms, succeeded, error_kind, recorded_at
		FROM cost_records
		WHERE recorded_at >= $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cost records: %w", err)
	}
	defer rows.Close()

	var records []*models.CostRecord
	for rows.Next() {
		rec := &models.CostRecord{}
		if err := rows.Scan(
			&rec.ID,
			&rec.Backend,
			&rec.TaskType,
			&rec.Model,
			&rec.TokensUsed,
			&rec.EstimatedCostUSD,
			&rec.LatencyMs,
			&rec.Succeeded,
			&rec.ErrorKind,
			&rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cost record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cost records: %w", err)
	}

	return records, nil
}

// SpendByBackend aggregates spend per backend since a point in time
func (r *CostRecordRepository) SpendByBackend(ctx context.Context, since time.Time) ([]*models.BackendSpend, error) {
	query := `
		SELECT backend, COUNT(*), COALESCE(SUM(tokens_used), 0), COALESCE(SUM(estimated_cost_usd), 0)
		FROM cost_records
		WHERE recorded_at >= $1
		GROUP BY backend
		ORDER BY backend
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate spend: %w", err)
	}
	defer rows.Close()

	var out []*models.BackendSpend
	for rows.Next() {
		spend := &models.BackendSpend{}
		if err := rows.Scan(&spend.Backend, &spend.Requests, &spend.Tokens, &spend.CostUSD); err != nil {
			return nil, fmt.Errorf("failed to scan spend: %w", err)
		}
		out = append(out, spend)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spend: %w", err)
	}

	return out, nil
}

// DeleteBefore removes records older than before
func (r *CostRecordRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM cost_records WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cost records: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("pruned cost records", zap.Int64("deleted", deleted), zap.Time("before", before))
	return deleted, nil
}
