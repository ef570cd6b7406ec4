// Package postgres implements the storage interfaces on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockcast/internal/domain"
	"stockcast/internal/storage"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505" // unique_violation
)

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}

	return false
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// querier is satisfied by both the pool and a transaction, so insert
// statements can run inside or outside an explicit transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store bundles the per-entity stores over one pool.
type Store struct {
	pool *Pool

	policies    *PolicyStore
	events      *EventStore
	predictions *PredictionStore
	labels      *LabelStore
	runs        *RunStore
	evals       *EvalStore
	features    *FeatureStore
}

// NewStore creates the aggregate store over an existing pool.
func NewStore(pool *Pool) *Store {
	return &Store{
		pool:        pool,
		policies:    NewPolicyStore(pool),
		events:      NewEventStore(pool),
		predictions: NewPredictionStore(pool),
		labels:      NewLabelStore(pool),
		runs:        NewRunStore(pool),
		evals:       NewEvalStore(pool),
		features:    NewFeatureStore(pool),
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) Policies() storage.PolicyStore         { return s.policies }
func (s *Store) Events() storage.EventStore            { return s.events }
func (s *Store) Predictions() storage.PredictionStore  { return s.predictions }
func (s *Store) Labels() storage.LabelStore            { return s.labels }
func (s *Store) Runs() storage.RunStore                { return s.runs }
func (s *Store) Evals() storage.EvalStore              { return s.evals }
func (s *Store) Features() storage.FeatureStore        { return s.features }
func (s *Store) Close()                                { s.pool.Close() }

// CommitDay writes a day's predictions and labels in one transaction.
// labels runs parallel to preds and may contain nils.
func (s *Store) CommitDay(ctx context.Context, preds []*domain.Prediction, labels []*domain.Label) error {
	if len(labels) != len(preds) {
		return fmt.Errorf("commit day: %d predictions with %d labels", len(preds), len(labels))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin day commit: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, p := range preds {
		if err := s.predictions.insert(ctx, tx, p); err != nil {
			return err
		}
		if l := labels[i]; l != nil {
			l.PredictionID = p.ID
			if err := s.labels.insert(ctx, tx, l); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit day: %w", err)
	}
	return nil
}

// Migrate creates the schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS policies (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			version TEXT NOT NULL DEFAULT 'v1',
			description TEXT NOT NULL DEFAULT '',
			market TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			params JSONB NOT NULL,
			latest_brier DOUBLE PRECISION,
			latest_accuracy DOUBLE PRECISION,
			latest_calibration DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (name, version)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS policies_active_per_market
			ON policies (market) WHERE is_active`,
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			source_news_id BIGINT NOT NULL DEFAULT 0,
			ticker TEXT NOT NULL,
			stock_name TEXT NOT NULL DEFAULT '',
			market TEXT NOT NULL,
			event_type TEXT NOT NULL,
			direction TEXT NOT NULL,
			magnitude DOUBLE PRECISION NOT NULL,
			novelty DOUBLE PRECISION NOT NULL,
			credibility DOUBLE PRECISION NOT NULL,
			is_disclosure BOOLEAN NOT NULL DEFAULT FALSE,
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			event_timestamp TIMESTAMPTZ NOT NULL,
			is_after_market BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS events_ticker_ts ON events (ticker, event_timestamp)`,
		`CREATE INDEX IF NOT EXISTS events_market_ts ON events (market, event_timestamp)`,
		`CREATE INDEX IF NOT EXISTS events_type_ts ON events (event_type, event_timestamp)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS events_source_news
			ON events (source_news_id) WHERE source_news_id <> 0`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id BIGSERIAL PRIMARY KEY,
			run_id BIGINT NOT NULL,
			event_id BIGINT NOT NULL DEFAULT 0,
			policy_id BIGINT NOT NULL,
			ticker TEXT NOT NULL,
			prediction_date DATE NOT NULL,
			horizon INT NOT NULL,
			prediction TEXT NOT NULL,
			p_up DOUBLE PRECISION NOT NULL,
			p_down DOUBLE PRECISION NOT NULL,
			p_flat DOUBLE PRECISION NOT NULL,
			trade_action TEXT NOT NULL,
			position_size DOUBLE PRECISION NOT NULL DEFAULT 0,
			top_drivers JSONB NOT NULL DEFAULT '[]',
			invalidators JSONB NOT NULL DEFAULT '[]',
			reasoning TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS predictions_run ON predictions (run_id, prediction_date, id)`,
		`CREATE INDEX IF NOT EXISTS predictions_event ON predictions (event_id)`,
		`CREATE TABLE IF NOT EXISTS labels (
			id BIGSERIAL PRIMARY KEY,
			prediction_id BIGINT NOT NULL UNIQUE,
			ticker TEXT NOT NULL,
			prediction_date DATE NOT NULL,
			horizon INT NOT NULL,
			realized_ret DOUBLE PRECISION NOT NULL,
			excess_ret DOUBLE PRECISION,
			label TEXT NOT NULL,
			is_correct BOOLEAN,
			label_date DATE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS simulation_runs (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			policy_id BIGINT NOT NULL,
			market TEXT NOT NULL,
			horizon INT NOT NULL,
			label_threshold_pct DOUBLE PRECISION NOT NULL,
			date_from DATE NOT NULL,
			date_to DATE NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			total_predictions INT NOT NULL DEFAULT 0,
			correct_count INT NOT NULL DEFAULT 0,
			abstain_count INT NOT NULL DEFAULT 0,
			accuracy_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			brier_score DOUBLE PRECISION,
			calibration_error DOUBLE PRECISION,
			auc_score DOUBLE PRECISION,
			f1_score DOUBLE PRECISION,
			avg_excess_return DOUBLE PRECISION,
			by_event_type JSONB NOT NULL DEFAULT '{}',
			duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS runs_policy ON simulation_runs (policy_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS eval_runs (
			id BIGSERIAL PRIMARY KEY,
			policy_id BIGINT NOT NULL,
			simulation_run_id BIGINT,
			period_from DATE NOT NULL,
			period_to DATE NOT NULL,
			split_type TEXT NOT NULL DEFAULT 'val',
			accuracy DOUBLE PRECISION NOT NULL,
			f1 DOUBLE PRECISION NOT NULL,
			brier DOUBLE PRECISION NOT NULL,
			calibration_error DOUBLE PRECISION NOT NULL,
			auc DOUBLE PRECISION,
			avg_excess_return DOUBLE PRECISION,
			by_event_type JSONB NOT NULL DEFAULT '{}',
			by_direction JSONB NOT NULL DEFAULT '{}',
			robustness JSONB NOT NULL DEFAULT '{}',
			total_predictions INT NOT NULL DEFAULT 0,
			abstain_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS evals_policy ON eval_runs (policy_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS features_daily (
			id BIGSERIAL PRIMARY KEY,
			ticker TEXT NOT NULL,
			trade_date DATE NOT NULL,
			market TEXT NOT NULL DEFAULT '',
			ret_1d DOUBLE PRECISION,
			ret_3d DOUBLE PRECISION,
			ret_5d DOUBLE PRECISION,
			volatility_20d DOUBLE PRECISION,
			dollar_volume DOUBLE PRECISION,
			beta DOUBLE PRECISION,
			sector_ret DOUBLE PRECISION,
			market_ret DOUBLE PRECISION,
			close_price DOUBLE PRECISION,
			volume BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (ticker, trade_date)
		)`,
	}

	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
