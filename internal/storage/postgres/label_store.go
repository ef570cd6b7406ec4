package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stockcast/internal/domain"
	"stockcast/internal/storage"
)

// LabelStore implements storage.LabelStore using PostgreSQL.
type LabelStore struct {
	pool *Pool
}

// NewLabelStore creates a new LabelStore.
func NewLabelStore(pool *Pool) *LabelStore {
	return &LabelStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LabelStore = (*LabelStore)(nil)

const labelColumns = `id, prediction_id, ticker, prediction_date, horizon,
	realized_ret, excess_ret, label, is_correct, label_date, created_at`

// Insert adds one label and fills in its ID. Returns ErrDuplicateKey when
// the prediction is already labeled.
func (s *LabelStore) Insert(ctx context.Context, l *domain.Label) error {
	return s.insert(ctx, s.pool, l)
}

// insert runs against q, which may be the pool or an open transaction.
func (s *LabelStore) insert(ctx context.Context, q querier, l *domain.Label) error {
	query := `
		INSERT INTO labels (
			prediction_id, ticker, prediction_date, horizon,
			realized_ret, excess_ret, label, is_correct, label_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err := q.QueryRow(ctx, query,
		l.PredictionID, l.Ticker, l.PredictionDate, l.Horizon,
		l.RealizedRet, l.ExcessRet, l.Label, l.IsCorrect, l.LabelDate,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert label: %w", err)
	}
	return nil
}

// ByPredictionID retrieves the label for a prediction, or ErrNotFound.
func (s *LabelStore) ByPredictionID(ctx context.Context, predictionID int64) (*domain.Label, error) {
	query := `SELECT ` + labelColumns + ` FROM labels WHERE prediction_id = $1`

	row := s.pool.QueryRow(ctx, query, predictionID)
	l, err := scanLabel(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get label by prediction id: %w", err)
	}
	return l, nil
}

// ByRun returns labels for all of a run's predictions, prediction order.
func (s *LabelStore) ByRun(ctx context.Context, runID int64) ([]domain.Label, error) {
	query := `
		SELECT l.id, l.prediction_id, l.ticker, l.prediction_date, l.horizon,
		       l.realized_ret, l.excess_ret, l.label, l.is_correct, l.label_date, l.created_at
		FROM labels l
		JOIN predictions p ON p.id = l.prediction_id
		WHERE p.run_id = $1
		ORDER BY l.prediction_date ASC, l.id ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get labels by run: %w", err)
	}
	defer rows.Close()

	var labels []domain.Label
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan label row: %w", err)
		}
		labels = append(labels, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate label rows: %w", err)
	}
	return labels, nil
}

// scanLabel scans a single row into a Label.
func scanLabel(row pgx.Row) (*domain.Label, error) {
	var l domain.Label

	err := row.Scan(
		&l.ID, &l.PredictionID, &l.Ticker, &l.PredictionDate, &l.Horizon,
		&l.RealizedRet, &l.ExcessRet, &l.Label, &l.IsCorrect, &l.LabelDate, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
