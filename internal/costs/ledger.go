// Package costs tracks LLM token spend per institute: an append-only record
// per call plus day and month rollups for cheap dashboard reads.
package costs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/examcraft/backend/internal/models"
)

type Ledger struct {
	db *sql.DB

	// now is swappable in tests
	now func() time.Time
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Record writes one usage record and folds it into the day and month
// aggregates. Satisfies the UsageRecorder interfaces of the pipeline
// packages.
func (l *Ledger) Record(ctx context.Context, instituteID int64, op models.UsageOperation, model string, promptTokens, completionTokens int) error {
	totalTokens := promptTokens + completionTokens
	costCents := CostCents(model, promptTokens, completionTokens)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO usage_records (institute_id, operation, model_used, prompt_tokens, completion_tokens, total_tokens, cost_cents)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		instituteID, op, model, promptTokens, completionTokens, totalTokens, costCents,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	now := l.now().UTC()
	periods := []struct {
		periodType string
		periodKey  string
	}{
		{"day", now.Format("2006-01-02")},
		{"month", now.Format("2006-01")},
	}

	for _, p := range periods {
		_, err = tx.Exec(
			`INSERT INTO usage_aggregates (institute_id, period_type, period_key, operations, total_tokens, cost_cents)
			 VALUES ($1, $2, $3, 1, $4, $5)
			 ON CONFLICT (institute_id, period_type, period_key)
			 DO UPDATE SET operations = usage_aggregates.operations + 1,
			               total_tokens = usage_aggregates.total_tokens + $4,
			               cost_cents = usage_aggregates.cost_cents + $5`,
			instituteID, p.periodType, p.periodKey, totalTokens, costCents,
		)
		if err != nil {
			return fmt.Errorf("update %s aggregate: %w", p.periodType, err)
		}
	}

	return tx.Commit()
}

// Summary returns today's and the current month's rollups; zero-valued
// aggregates when the institute has no usage yet.
func (l *Ledger) Summary(instituteID int64) (*models.UsageSummary, error) {
	now := l.now().UTC()

	today, err := l.aggregate(instituteID, "day", now.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	month, err := l.aggregate(instituteID, "month", now.Format("2006-01"))
	if err != nil {
		return nil, err
	}

	byOp, err := l.operationTotals(instituteID, now)
	if err != nil {
		return nil, err
	}

	return &models.UsageSummary{Today: *today, ThisMonth: *month, ByOperation: byOp}, nil
}

// operationTotals breaks the current month down per operation type, read from
// the raw records since the aggregates do not carry the operation dimension.
func (l *Ledger) operationTotals(instituteID int64, now time.Time) ([]models.OperationTotal, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	rows, err := l.db.Query(
		`SELECT operation, COUNT(*), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost_cents), 0)
		 FROM usage_records
		 WHERE institute_id = $1 AND created_at >= $2
		 GROUP BY operation ORDER BY operation`,
		instituteID, monthStart,
	)
	if err != nil {
		return nil, fmt.Errorf("operation totals: %w", err)
	}
	defer rows.Close()

	totals := []models.OperationTotal{}
	for rows.Next() {
		var t models.OperationTotal
		if err := rows.Scan(&t.Operation, &t.Calls, &t.TotalTokens, &t.CostCents); err != nil {
			return nil, fmt.Errorf("scan operation total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func (l *Ledger) aggregate(instituteID int64, periodType, periodKey string) (*models.UsageAggregate, error) {
	agg := &models.UsageAggregate{
		PeriodType:  periodType,
		PeriodKey:   periodKey,
		InstituteID: instituteID,
	}
	err := l.db.QueryRow(
		`SELECT operations, total_tokens, cost_cents
		 FROM usage_aggregates
		 WHERE institute_id = $1 AND period_type = $2 AND period_key = $3`,
		instituteID, periodType, periodKey,
	).Scan(&agg.Operations, &agg.TotalTokens, &agg.CostCents)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("get %s aggregate: %w", periodType, err)
	}
	return agg, nil
}

func (l *Ledger) ListRecords(instituteID int64, limit, offset int) ([]models.UsageRecord, error) {
	rows, err := l.db.Query(
		`SELECT id, institute_id, operation, model_used, prompt_tokens,
		        completion_tokens, total_tokens, cost_cents, created_at
		 FROM usage_records WHERE institute_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		instituteID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var rec models.UsageRecord
		if err := rows.Scan(&rec.ID, &rec.InstituteID, &rec.Operation, &rec.ModelUsed,
			&rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens,
			&rec.CostCents, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
