package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stockcast/internal/domain"
	"stockcast/internal/storage"
)

// EvalStore implements storage.EvalStore using PostgreSQL. Eval runs are
// append-only; there is no update path.
type EvalStore struct {
	pool *Pool
}

// NewEvalStore creates a new EvalStore.
func NewEvalStore(pool *Pool) *EvalStore {
	return &EvalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EvalStore = (*EvalStore)(nil)

const evalColumns = `id, policy_id, simulation_run_id, period_from, period_to,
	split_type, accuracy, f1, brier, calibration_error, auc, avg_excess_return,
	by_event_type, by_direction, robustness, total_predictions, abstain_rate,
	created_at`

// Insert appends one eval run snapshot and fills in its ID.
func (s *EvalStore) Insert(ctx context.Context, e *domain.EvalRun) error {
	byType, err := marshalSegments(e.ByEventType)
	if err != nil {
		return err
	}
	byDir, err := json.Marshal(e.ByDirection)
	if err != nil {
		return fmt.Errorf("marshal direction segments: %w", err)
	}
	robustness, err := json.Marshal(e.Robustness)
	if err != nil {
		return fmt.Errorf("marshal robustness: %w", err)
	}

	query := `
		INSERT INTO eval_runs (
			policy_id, simulation_run_id, period_from, period_to, split_type,
			accuracy, f1, brier, calibration_error, auc, avg_excess_return,
			by_event_type, by_direction, robustness, total_predictions, abstain_rate
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at
	`

	err = s.pool.QueryRow(ctx, query,
		e.PolicyID, e.SimulationRunID, e.PeriodFrom, e.PeriodTo, e.SplitType,
		e.Accuracy, e.F1, e.Brier, e.CalibrationError, e.AUC, e.AvgExcessReturn,
		byType, byDir, robustness, e.TotalPredictions, e.AbstainRate,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert eval run: %w", err)
	}
	return nil
}

// ByPolicy returns a policy's eval runs ordered by created_at ascending.
func (s *EvalStore) ByPolicy(ctx context.Context, policyID int64) ([]*domain.EvalRun, error) {
	query := `SELECT ` + evalColumns + ` FROM eval_runs
		WHERE policy_id = $1 ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, policyID)
	if err != nil {
		return nil, fmt.Errorf("get eval runs by policy: %w", err)
	}
	defer rows.Close()

	var evals []*domain.EvalRun
	for rows.Next() {
		e, err := scanEvalRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan eval run row: %w", err)
		}
		evals = append(evals, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate eval run rows: %w", err)
	}
	return evals, nil
}

// scanEvalRun scans a single row into an EvalRun.
func scanEvalRun(row pgx.Row) (*domain.EvalRun, error) {
	var e domain.EvalRun
	var byType, byDir, robustness []byte

	err := row.Scan(
		&e.ID, &e.PolicyID, &e.SimulationRunID, &e.PeriodFrom, &e.PeriodTo,
		&e.SplitType, &e.Accuracy, &e.F1, &e.Brier, &e.CalibrationError,
		&e.AUC, &e.AvgExcessReturn, &byType, &byDir, &robustness,
		&e.TotalPredictions, &e.AbstainRate, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(byType) > 0 {
		if err := json.Unmarshal(byType, &e.ByEventType); err != nil {
			return nil, fmt.Errorf("unmarshal eval segments: %w", err)
		}
	}
	if len(byDir) > 0 {
		if err := json.Unmarshal(byDir, &e.ByDirection); err != nil {
			return nil, fmt.Errorf("unmarshal direction segments: %w", err)
		}
	}
	if len(robustness) > 0 {
		if err := json.Unmarshal(robustness, &e.Robustness); err != nil {
			return nil, fmt.Errorf("unmarshal robustness: %w", err)
		}
	}
	return &e, nil
}
