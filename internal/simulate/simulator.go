// Package simulate walks a policy forward through historical business
// days, forecasting each day from only the information available before
// that day's market close.
package simulate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/evaluate"
	"stockcast/internal/forecast"
	"stockcast/internal/interfaces"
	"stockcast/internal/logger"
	"stockcast/internal/runlog"
	"stockcast/internal/storage"
	"stockcast/internal/trace"
)

// Options carries the market-session parameters of the simulated exchange.
type Options struct {
	LookbackDays   int // event context window before each day, calendar days
	CloseHour      int
	CloseMinute    int
	UTCOffsetHours int // market-local offset from UTC
}

// DefaultOptions is a 3-day lookback with a 15:30 close at UTC+9.
func DefaultOptions() Options {
	return Options{LookbackDays: 3, CloseHour: 15, CloseMinute: 30, UTCOffsetHours: 9}
}

// Simulator runs walk-forward passes over stored events.
type Simulator struct {
	store    storage.Store
	features interfaces.FeatureProvider
	similar  interfaces.SimilarityProvider
	labeler  *Labeler
	oracle   interfaces.Oracle // may be nil; heuristic policies need none
	opts     Options
}

// New creates a Simulator. similar and oracle may be nil.
func New(store storage.Store, features interfaces.FeatureProvider, similar interfaces.SimilarityProvider, labeler *Labeler, oracle interfaces.Oracle, opts Options) *Simulator {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 3
	}
	return &Simulator{
		store:    store,
		features: features,
		similar:  similar,
		labeler:  labeler,
		oracle:   oracle,
		opts:     opts,
	}
}

// NewRun creates a pending run record for a policy and window.
func (s *Simulator) NewRun(ctx context.Context, name string, policy *domain.Policy, market string, horizon int, thresholdPct float64, from, to time.Time) (*domain.SimulationRun, error) {
	run := &domain.SimulationRun{
		Name:              name,
		PolicyID:          policy.ID,
		Market:            market,
		Horizon:           horizon,
		LabelThresholdPct: thresholdPct,
		DateFrom:          domain.Date(from),
		DateTo:            domain.Date(to),
		Status:            domain.StatusPending,
	}
	if err := s.store.Runs().Insert(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// Run executes one walk-forward pass. A missing run record is a caller
// error and returns it; failures inside the pass mark the run failed.
func (s *Simulator) Run(ctx context.Context, runID int64) error {
	ctx, span := trace.StartSpan(ctx, "simulation-run")
	defer span.End()

	start := time.Now()

	run, err := s.store.Runs().GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %d: %w", runID, err)
	}

	run.Status = domain.StatusRunning
	if err := s.store.Runs().Update(ctx, run); err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	logger.RunEvent(ctx, runID, "started", "market", run.Market, "policy_id", run.PolicyID)

	if err := s.walk(ctx, run, start); err != nil {
		run.Status = domain.StatusFailed
		run.ErrorMessage = truncate(err.Error(), 500)
		run.DurationSeconds = round2(time.Since(start).Seconds())
		if uerr := s.store.Runs().Update(ctx, run); uerr != nil {
			logger.ErrorWithErr(ctx, "Failed to persist run failure", uerr, "run_id", runID)
		}
		logger.ErrorWithErr(ctx, "Simulation run failed", err, "run_id", runID)
		return err
	}
	return nil
}

func (s *Simulator) walk(ctx context.Context, run *domain.SimulationRun, start time.Time) error {
	policy, err := s.store.Policies().GetByID(ctx, run.PolicyID)
	if err != nil {
		return fmt.Errorf("policy %d not found: %w", run.PolicyID, err)
	}

	forecaster, err := forecast.FromPolicy(policy.Params, s.oracle)
	if err != nil {
		return err
	}

	businessDays := BusinessDays(run.DateFrom, run.DateTo)
	if len(businessDays) == 0 {
		return fmt.Errorf("no business days in range %s..%s",
			run.DateFrom.Format("2006-01-02"), run.DateTo.Format("2006-01-02"))
	}

	totalPredictions := 0
	correctCount := 0
	abstainCount := 0

	for _, day := range businessDays {
		eventsByTicker, err := s.eventsForDay(ctx, run.Market, day)
		if err != nil {
			return err
		}
		if len(eventsByTicker) == 0 {
			continue
		}

		tickers := make([]string, 0, len(eventsByTicker))
		for ticker := range eventsByTicker {
			tickers = append(tickers, ticker)
		}
		sort.Strings(tickers)

		// Buffer the whole day and flush it in one commit. A failure
		// anywhere in the day persists none of it.
		dayPreds := make([]*domain.Prediction, 0, len(tickers))
		dayLabels := make([]*domain.Label, 0, len(tickers))
		for _, ticker := range tickers {
			events := eventsByTicker[ticker]
			if max := policy.Params.Template.MaxEventsPerStock; max > 0 && len(events) > max {
				events = events[:max]
			}

			result, err := s.forecastOne(ctx, forecaster, policy, ticker, events, day, run.Horizon)
			if err != nil {
				return err
			}

			pred := &domain.Prediction{
				RunID:          run.ID,
				EventID:        events[0].ID,
				PolicyID:       run.PolicyID,
				Ticker:         ticker,
				PredictionDate: day,
				Horizon:        run.Horizon,
				Prediction:     result.Prediction,
				PUp:            result.PUp,
				PDown:          result.PDown,
				PFlat:          result.PFlat,
				TradeAction:    result.TradeAction,
				PositionSize:   result.PositionSize,
				TopDrivers:     result.TopDrivers,
				Invalidators:   result.Invalidators,
				Reasoning:      result.Reasoning,
			}

			label, err := s.labeler.Label(ctx, pred, run.LabelThresholdPct)
			if err != nil {
				return err
			}

			dayPreds = append(dayPreds, pred)
			dayLabels = append(dayLabels, label)
		}

		if err := s.store.CommitDay(ctx, dayPreds, dayLabels); err != nil {
			return fmt.Errorf("commit %s: %w", day.Format("2006-01-02"), err)
		}

		for i, pred := range dayPreds {
			if label := dayLabels[i]; label != nil && label.IsCorrect != nil && *label.IsCorrect {
				correctCount++
			}
			totalPredictions++
			if pred.Prediction == domain.PredictionAbstain {
				abstainCount++
			}

			logger.Forecast(ctx, pred.Ticker, pred.Prediction, pred.TradeAction, pred.PUp, pred.PDown,
				"run_id", run.ID, "date", day.Format("2006-01-02"))
			_ = runlog.Append(runlog.Entry{
				Ticker:       pred.Ticker,
				Prediction:   pred.Prediction,
				Action:       pred.TradeAction,
				RunID:        run.ID,
				PolicyID:     run.PolicyID,
				PUp:          pred.PUp,
				PDown:        pred.PDown,
				PFlat:        pred.PFlat,
				PositionSize: pred.PositionSize,
			})
		}
	}

	evaluated := totalPredictions - abstainCount
	run.TotalPredictions = totalPredictions
	run.CorrectCount = correctCount
	run.AbstainCount = abstainCount
	if evaluated > 0 {
		run.AccuracyRate = round4(float64(correctCount) / float64(evaluated))
	}
	run.DurationSeconds = round2(time.Since(start).Seconds())
	run.Status = domain.StatusCompleted
	run.CompletedAt = domain.Ptr(time.Now().UTC())

	metrics, hasMetrics := s.attachMetrics(ctx, run)

	if err := s.store.Runs().Update(ctx, run); err != nil {
		return fmt.Errorf("persist completed run: %w", err)
	}

	// Append the frozen snapshot so the policy's eval history accumulates
	// across runs. History failures degrade, the run already completed.
	if hasMetrics {
		_, err := evaluate.SaveEvalRun(ctx, s.store.Evals(), run.PolicyID, domain.Ptr(run.ID),
			run.DateFrom, run.DateTo, "val", metrics)
		if err != nil {
			logger.Warn(ctx, "Failed to append eval history", "run_id", run.ID, "error", err)
		}
	}

	logger.RunEvent(ctx, run.ID, "completed",
		"total_predictions", totalPredictions,
		"accuracy_rate", run.AccuracyRate,
		"abstain_count", abstainCount)
	return nil
}

// eventsForDay collects the market's events in the lookback window up to
// the day's market close, grouped by ticker, most recent first. The close
// cutoff keeps same-day post-close events out of the forecast.
func (s *Simulator) eventsForDay(ctx context.Context, market string, day time.Time) (map[string][]domain.Event, error) {
	from := day.AddDate(0, 0, -s.opts.LookbackDays)
	cutoff := time.Date(day.Year(), day.Month(), day.Day(),
		s.opts.CloseHour, s.opts.CloseMinute, 0, 0, time.UTC).
		Add(-time.Duration(s.opts.UTCOffsetHours) * time.Hour)

	events, err := s.store.Events().ByMarketWindow(ctx, market, from, cutoff)
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", day.Format("2006-01-02"), err)
	}

	byTicker := make(map[string][]domain.Event)
	for _, e := range events {
		byTicker[e.Ticker] = append(byTicker[e.Ticker], e)
	}
	for ticker := range byTicker {
		group := byTicker[ticker]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].EventTimestamp.After(group[j].EventTimestamp)
		})
		byTicker[ticker] = group
	}
	return byTicker, nil
}

// forecastOne assembles evidence and runs the forecaster, falling back to
// the policy's heuristic when the primary forecaster errors out.
func (s *Simulator) forecastOne(ctx context.Context, forecaster interfaces.Forecaster, policy *domain.Policy, ticker string, events []domain.Event, day time.Time, horizon int) (domain.ForecastResult, error) {
	var features *domain.FeatureDaily
	if s.features != nil && policy.Params.Template.IncludeFeatures {
		f, err := s.features.FeaturesOn(ctx, ticker, day)
		if err != nil {
			return domain.ForecastResult{}, err
		}
		features = f
	}

	var similar []domain.SimilarEvent
	if s.similar != nil && policy.Params.Template.IncludeSimilarEvents && len(events) > 0 {
		sim, err := s.similar.SimilarTo(ctx, events[0], day, policy.Params.Retrieval)
		if err != nil {
			logger.Debug(ctx, "Similar event retrieval failed", "ticker", ticker, "error", err)
		} else {
			similar = sim
		}
	}

	ev := interfaces.Evidence{
		Ticker:         ticker,
		Market:         policy.Market,
		Events:         events,
		Features:       features,
		Similar:        similar,
		PredictionDate: day,
		Horizon:        horizon,
	}

	result, err := forecaster.Predict(ctx, ev, policy.Params)
	if err != nil {
		logger.Warn(ctx, "Forecaster failed, falling back to heuristic", "ticker", ticker, "error", err)
		var fallback interfaces.Forecaster
		if policy.Params.Template.UseV2Heuristic {
			fallback = forecast.HeuristicV2{}
		} else {
			fallback = forecast.HeuristicV1{}
		}
		result, err = fallback.Predict(ctx, ev, policy.Params)
		if err != nil {
			return domain.ForecastResult{}, fmt.Errorf("heuristic fallback for %s: %w", ticker, err)
		}
	}
	return result, nil
}

// attachMetrics computes the evaluator snapshot for a completed run.
// Metric failures degrade the run record, they do not fail the run.
func (s *Simulator) attachMetrics(ctx context.Context, run *domain.SimulationRun) (domain.Metrics, bool) {
	m, err := evaluate.EvaluateRun(ctx, s.store, run.ID)
	if err != nil {
		logger.Warn(ctx, "Metrics calculation failed", "run_id", run.ID, "error", err)
		return domain.Metrics{}, false
	}
	run.BrierScore = domain.Ptr(m.Brier)
	run.CalibrationError = domain.Ptr(m.CalibrationError)
	run.AUCScore = m.AUC
	run.F1Score = domain.Ptr(m.F1)
	run.AvgExcessReturn = m.AvgExcessReturn
	run.ByEventType = m.ByEventType
	return m, true
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
