package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stockcast/internal/domain"
	"stockcast/internal/storage"
)

// PredictionStore implements storage.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *Pool
}

// NewPredictionStore creates a new PredictionStore.
func NewPredictionStore(pool *Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PredictionStore = (*PredictionStore)(nil)

const predictionColumns = `id, run_id, event_id, policy_id, ticker, prediction_date,
	horizon, prediction, p_up, p_down, p_flat, trade_action, position_size,
	top_drivers, invalidators, reasoning, created_at`

// Insert adds one prediction and fills in its ID.
func (s *PredictionStore) Insert(ctx context.Context, p *domain.Prediction) error {
	return s.insert(ctx, s.pool, p)
}

// insert runs against q, which may be the pool or an open transaction.
func (s *PredictionStore) insert(ctx context.Context, q querier, p *domain.Prediction) error {
	drivers, err := json.Marshal(p.TopDrivers)
	if err != nil {
		return fmt.Errorf("marshal top drivers: %w", err)
	}
	invalidators, err := json.Marshal(p.Invalidators)
	if err != nil {
		return fmt.Errorf("marshal invalidators: %w", err)
	}

	query := `
		INSERT INTO predictions (
			run_id, event_id, policy_id, ticker, prediction_date, horizon,
			prediction, p_up, p_down, p_flat, trade_action, position_size,
			top_drivers, invalidators, reasoning
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`

	err = q.QueryRow(ctx, query,
		p.RunID, p.EventID, p.PolicyID, p.Ticker, p.PredictionDate, p.Horizon,
		p.Prediction, p.PUp, p.PDown, p.PFlat, p.TradeAction, p.PositionSize,
		drivers, invalidators, p.Reasoning,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

// GetByID retrieves a prediction by ID. Returns ErrNotFound if not exists.
func (s *PredictionStore) GetByID(ctx context.Context, id int64) (*domain.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	p, err := scanPrediction(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get prediction by id: %w", err)
	}
	return p, nil
}

// ByRun returns a run's predictions ordered by prediction_date, id.
func (s *PredictionStore) ByRun(ctx context.Context, runID int64) ([]domain.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions
		WHERE run_id = $1 ORDER BY prediction_date ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get predictions by run: %w", err)
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// ByEventID returns the most recent prediction referencing the event.
func (s *PredictionStore) ByEventID(ctx context.Context, eventID int64) (*domain.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions
		WHERE event_id = $1 AND event_id <> 0
		ORDER BY created_at DESC, id DESC LIMIT 1`

	row := s.pool.QueryRow(ctx, query, eventID)
	p, err := scanPrediction(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get prediction by event id: %w", err)
	}
	return p, nil
}

// scanPrediction scans a single row into a Prediction.
func scanPrediction(row pgx.Row) (*domain.Prediction, error) {
	var p domain.Prediction
	var drivers, invalidators []byte

	err := row.Scan(
		&p.ID, &p.RunID, &p.EventID, &p.PolicyID, &p.Ticker, &p.PredictionDate,
		&p.Horizon, &p.Prediction, &p.PUp, &p.PDown, &p.PFlat, &p.TradeAction,
		&p.PositionSize, &drivers, &invalidators, &p.Reasoning, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(drivers, &p.TopDrivers); err != nil {
		return nil, fmt.Errorf("unmarshal top drivers: %w", err)
	}
	if err := json.Unmarshal(invalidators, &p.Invalidators); err != nil {
		return nil, fmt.Errorf("unmarshal invalidators: %w", err)
	}
	return &p, nil
}

// scanPredictions scans multiple rows into a slice of Prediction.
func scanPredictions(rows pgx.Rows) ([]domain.Prediction, error) {
	var predictions []domain.Prediction

	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prediction row: %w", err)
		}
		predictions = append(predictions, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prediction rows: %w", err)
	}
	return predictions, nil
}
