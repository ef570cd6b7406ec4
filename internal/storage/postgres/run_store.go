package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stockcast/internal/domain"
	"stockcast/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

const runColumns = `id, name, policy_id, market, horizon, label_threshold_pct,
	date_from, date_to, status, total_predictions, correct_count, abstain_count,
	accuracy_rate, brier_score, calibration_error, auc_score, f1_score,
	avg_excess_return, by_event_type, duration_seconds, error_message,
	created_at, completed_at`

// Insert adds a new run record and fills in its ID.
func (s *RunStore) Insert(ctx context.Context, r *domain.SimulationRun) error {
	if r.Status == "" {
		r.Status = domain.StatusPending
	}
	byType, err := marshalSegments(r.ByEventType)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO simulation_runs (
			name, policy_id, market, horizon, label_threshold_pct,
			date_from, date_to, status, by_event_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err = s.pool.QueryRow(ctx, query,
		r.Name, r.PolicyID, r.Market, r.Horizon, r.LabelThresholdPct,
		r.DateFrom, r.DateTo, string(r.Status), byType,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, id int64) (*domain.SimulationRun, error) {
	query := `SELECT ` + runColumns + ` FROM simulation_runs WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	r, err := scanRun(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run by id: %w", err)
	}
	return r, nil
}

// Update rewrites the mutable fields of a run record.
func (s *RunStore) Update(ctx context.Context, r *domain.SimulationRun) error {
	byType, err := marshalSegments(r.ByEventType)
	if err != nil {
		return err
	}

	query := `
		UPDATE simulation_runs SET
			status = $2, total_predictions = $3, correct_count = $4,
			abstain_count = $5, accuracy_rate = $6, brier_score = $7,
			calibration_error = $8, auc_score = $9, f1_score = $10,
			avg_excess_return = $11, by_event_type = $12,
			duration_seconds = $13, error_message = $14, completed_at = $15
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		r.ID, string(r.Status), r.TotalPredictions, r.CorrectCount,
		r.AbstainCount, r.AccuracyRate, r.BrierScore,
		r.CalibrationError, r.AUCScore, r.F1Score,
		r.AvgExcessReturn, byType,
		r.DurationSeconds, r.ErrorMessage, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ByPolicy returns a policy's runs, newest first.
func (s *RunStore) ByPolicy(ctx context.Context, policyID int64) ([]*domain.SimulationRun, error) {
	query := `SELECT ` + runColumns + ` FROM simulation_runs
		WHERE policy_id = $1 ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, policyID)
	if err != nil {
		return nil, fmt.Errorf("get runs by policy: %w", err)
	}
	defer rows.Close()

	var runs []*domain.SimulationRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// scanRun scans a single row into a SimulationRun.
func scanRun(row pgx.Row) (*domain.SimulationRun, error) {
	var r domain.SimulationRun
	var status string
	var byType []byte

	err := row.Scan(
		&r.ID, &r.Name, &r.PolicyID, &r.Market, &r.Horizon, &r.LabelThresholdPct,
		&r.DateFrom, &r.DateTo, &status, &r.TotalPredictions, &r.CorrectCount,
		&r.AbstainCount, &r.AccuracyRate, &r.BrierScore, &r.CalibrationError,
		&r.AUCScore, &r.F1Score, &r.AvgExcessReturn, &byType,
		&r.DurationSeconds, &r.ErrorMessage, &r.CreatedAt, &r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = domain.RunStatus(status)
	if len(byType) > 0 {
		if err := json.Unmarshal(byType, &r.ByEventType); err != nil {
			return nil, fmt.Errorf("unmarshal run segments: %w", err)
		}
	}
	return &r, nil
}

func marshalSegments(m map[domain.EventType]domain.SegmentMetrics) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal run segments: %w", err)
	}
	return b, nil
}
