// Package storage defines the persistence boundary. Implementations live
// in the postgres and memory subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"stockcast/internal/domain"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicateKey is returned on unique constraint violations.
	ErrDuplicateKey = errors.New("storage: duplicate key")
)

// PolicyStore manages forecaster parameter bundles. At most one policy is
// active per market; Activate enforces that exclusively.
type PolicyStore interface {
	Insert(ctx context.Context, p *domain.Policy) error
	GetByID(ctx context.Context, id int64) (*domain.Policy, error)
	List(ctx context.Context, market string) ([]*domain.Policy, error)
	// Active returns the single active policy for the market, or ErrNotFound.
	Active(ctx context.Context, market string) (*domain.Policy, error)
	// Activate makes id the only active policy for the market, atomically.
	Activate(ctx context.Context, market string, id int64) error
	UpdateLatestMetrics(ctx context.Context, id int64, brier, accuracy, calibration *float64) error
}

// EventStore manages extracted events. Events are immutable once written;
// DeleteWindow exists only for re-extraction of a window.
type EventStore interface {
	Insert(ctx context.Context, e *domain.Event) error
	InsertBatch(ctx context.Context, events []*domain.Event) (int, error)
	GetByID(ctx context.Context, id int64) (*domain.Event, error)
	// BySourceNewsID returns the event derived from a raw news record, or
	// ErrNotFound. Backs extraction idempotency.
	BySourceNewsID(ctx context.Context, newsID int64) (*domain.Event, error)
	// CountPrior counts same-ticker same-type events in [since, until).
	CountPrior(ctx context.Context, ticker string, et domain.EventType, since, until time.Time) (int, error)
	// ByTickerWindow returns events with timestamp in [from, to), ascending.
	ByTickerWindow(ctx context.Context, ticker string, from, to time.Time) ([]domain.Event, error)
	// ByMarketWindow returns market events with timestamp in [from, to), ascending.
	ByMarketWindow(ctx context.Context, market string, from, to time.Time) ([]domain.Event, error)
	// SimilarCandidates returns same-type events in [from, to), optionally
	// restricted to one market.
	SimilarCandidates(ctx context.Context, et domain.EventType, market string, sameMarketOnly bool, from, to time.Time) ([]domain.Event, error)
	CountByType(ctx context.Context, market string, from, to time.Time) (map[domain.EventType]int, error)
	DeleteWindow(ctx context.Context, market string, from, to time.Time) (int64, error)
}

// PredictionStore manages persisted forecasts. Predictions are immutable.
type PredictionStore interface {
	Insert(ctx context.Context, p *domain.Prediction) error
	GetByID(ctx context.Context, id int64) (*domain.Prediction, error)
	// ByRun returns a run's predictions ordered by prediction_date, id.
	ByRun(ctx context.Context, runID int64) ([]domain.Prediction, error)
	// ByEventID returns the most recent prediction referencing the event,
	// or ErrNotFound.
	ByEventID(ctx context.Context, eventID int64) (*domain.Prediction, error)
}

// LabelStore manages realized outcomes, one label per prediction.
type LabelStore interface {
	Insert(ctx context.Context, l *domain.Label) error
	ByPredictionID(ctx context.Context, predictionID int64) (*domain.Label, error)
	// ByRun returns labels for all of a run's predictions.
	ByRun(ctx context.Context, runID int64) ([]domain.Label, error)
}

// RunStore manages simulation run records.
type RunStore interface {
	Insert(ctx context.Context, r *domain.SimulationRun) error
	GetByID(ctx context.Context, id int64) (*domain.SimulationRun, error)
	Update(ctx context.Context, r *domain.SimulationRun) error
	// ByPolicy returns a policy's runs, newest first.
	ByPolicy(ctx context.Context, policyID int64) ([]*domain.SimulationRun, error)
}

// EvalStore is the append-only metrics history.
type EvalStore interface {
	Insert(ctx context.Context, e *domain.EvalRun) error
	// ByPolicy returns a policy's eval runs ordered by created_at ascending.
	ByPolicy(ctx context.Context, policyID int64) ([]*domain.EvalRun, error)
}

// FeatureStore manages per-ticker daily market features.
type FeatureStore interface {
	Upsert(ctx context.Context, f *domain.FeatureDaily) error
	// On returns the row for (ticker, date) or ErrNotFound.
	On(ctx context.Context, ticker string, date time.Time) (*domain.FeatureDaily, error)
	// CountRange counts rows with trade_date in [from, to).
	CountRange(ctx context.Context, from, to time.Time) (int, error)
}

// Store aggregates all entity stores behind one handle.
type Store interface {
	Policies() PolicyStore
	Events() EventStore
	Predictions() PredictionStore
	Labels() LabelStore
	Runs() RunStore
	Evals() EvalStore
	Features() FeatureStore
	// CommitDay persists one business day's forecasts atomically. labels
	// runs parallel to preds and may hold nils for unlabeled predictions;
	// label PredictionIDs are filled from the inserted predictions. On
	// error nothing from the day is persisted.
	CommitDay(ctx context.Context, preds []*domain.Prediction, labels []*domain.Label) error
	Close()
}
