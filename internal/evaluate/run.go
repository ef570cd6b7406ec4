package evaluate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/storage"
)

// SamplesForRun joins a run's predictions with their labels and event
// types into evaluation samples.
func SamplesForRun(ctx context.Context, store storage.Store, runID int64) ([]Sample, error) {
	predictions, err := store.Predictions().ByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load predictions for run %d: %w", runID, err)
	}

	labels, err := store.Labels().ByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load labels for run %d: %w", runID, err)
	}
	labelByPrediction := make(map[int64]domain.Label, len(labels))
	for _, l := range labels {
		labelByPrediction[l.PredictionID] = l
	}

	samples := make([]Sample, 0, len(predictions))
	for _, p := range predictions {
		s := Sample{
			Prediction:     p.Prediction,
			PUp:            p.PUp,
			PDown:          p.PDown,
			PFlat:          p.PFlat,
			PredictionDate: p.PredictionDate,
			EventType:      domain.EventOther,
		}
		if p.EventID != 0 {
			event, err := store.Events().GetByID(ctx, p.EventID)
			if err == nil {
				s.EventType = event.EventType
			} else if !errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("load event %d: %w", p.EventID, err)
			}
		}
		if l, ok := labelByPrediction[p.ID]; ok {
			s.Actual = l.Label
			s.RealizedRet = domain.Ptr(l.RealizedRet)
			s.ExcessRet = l.ExcessRet
			s.IsCorrect = l.IsCorrect
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// EvaluateRun computes the metric snapshot for one simulation run.
func EvaluateRun(ctx context.Context, store storage.Store, runID int64) (domain.Metrics, error) {
	samples, err := SamplesForRun(ctx, store, runID)
	if err != nil {
		return domain.Metrics{}, err
	}
	return Compute(samples), nil
}

// SaveEvalRun appends a frozen metrics snapshot for a policy.
func SaveEvalRun(ctx context.Context, evals storage.EvalStore, policyID int64, simulationRunID *int64, periodFrom, periodTo time.Time, splitType string, m domain.Metrics) (*domain.EvalRun, error) {
	eval := &domain.EvalRun{
		PolicyID:         policyID,
		SimulationRunID:  simulationRunID,
		PeriodFrom:       domain.Date(periodFrom),
		PeriodTo:         domain.Date(periodTo),
		SplitType:        splitType,
		Accuracy:         m.Accuracy,
		F1:               m.F1,
		Brier:            m.Brier,
		CalibrationError: m.CalibrationError,
		AUC:              m.AUC,
		AvgExcessReturn:  m.AvgExcessReturn,
		ByEventType:      m.ByEventType,
		ByDirection:      m.ByDirection,
		Robustness:       m.Robustness,
		TotalPredictions: m.TotalPredictions,
		AbstainRate:      m.AbstainRate,
	}
	if err := evals.Insert(ctx, eval); err != nil {
		return nil, fmt.Errorf("save eval run: %w", err)
	}
	return eval, nil
}
