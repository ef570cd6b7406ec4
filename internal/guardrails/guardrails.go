// Package guardrails runs advisory safety checks over simulation output:
// future-information leakage, data quality, overfitting drift, and label
// integrity. Findings are reported, never enforced.
package guardrails

import (
	"context"
	"fmt"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/logger"
	"stockcast/internal/storage"
)

// Finding severity levels.
const (
	LevelError   = "error"
	LevelWarning = "warning"
	LevelInfo    = "info"
)

// Finding categories.
const (
	CategoryLeakage     = "future_leakage"
	CategoryDataQuality = "data_quality"
	CategoryOverfitting = "overfitting"
	CategoryLabels      = "label_integrity"
)

const (
	minEventsWarn         = 10
	typeDominanceRatio    = 0.7
	minEvalRuns           = 3
	overfitBrierDrop      = 0.5 // relative improvement of late vs early halves
	accuracyVarianceLimit = 0.05
	minLabelRate          = 0.5
)

// Finding is one advisory violation record.
type Finding struct {
	Level    string         `json:"level"`
	Category string         `json:"category"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// Checker runs guardrail checks against the store.
type Checker struct {
	store storage.Store
}

// New creates a Checker.
func New(store storage.Store) *Checker {
	return &Checker{store: store}
}

// CheckFutureLeakage flags predictions whose lead event is dated after
// the prediction day. Such a prediction was made with information that
// did not exist yet.
func (c *Checker) CheckFutureLeakage(ctx context.Context, runID int64) ([]Finding, error) {
	predictions, err := c.store.Predictions().ByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load predictions for run %d: %w", runID, err)
	}

	var findings []Finding
	for _, p := range predictions {
		if p.EventID == 0 {
			continue
		}
		event, err := c.store.Events().GetByID(ctx, p.EventID)
		if err != nil {
			return nil, fmt.Errorf("load event %d: %w", p.EventID, err)
		}
		if domain.Date(event.EventTimestamp).After(domain.Date(p.PredictionDate)) {
			findings = append(findings, Finding{
				Level:    LevelError,
				Category: CategoryLeakage,
				Message: fmt.Sprintf("event %d is timestamped %s, after prediction date %s",
					event.ID,
					event.EventTimestamp.Format(time.RFC3339),
					p.PredictionDate.Format("2006-01-02")),
				Details: map[string]any{"event_id": event.ID, "ticker": p.Ticker},
			})
		}
	}
	return findings, nil
}

// CheckDataQuality validates the data population of a market window:
// enough events to be meaningful, no single type dominating, and market
// feature rows present for labeling.
func (c *Checker) CheckDataQuality(ctx context.Context, market string, from, to time.Time) ([]Finding, error) {
	counts, err := c.store.Events().CountByType(ctx, market, from, to)
	if err != nil {
		return nil, fmt.Errorf("count events for %s: %w", market, err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	var findings []Finding
	switch {
	case total == 0:
		findings = append(findings, Finding{
			Level:    LevelError,
			Category: CategoryDataQuality,
			Message: fmt.Sprintf("no events in %s..%s",
				from.Format("2006-01-02"), to.Format("2006-01-02")),
		})
	case total < minEventsWarn:
		findings = append(findings, Finding{
			Level:    LevelWarning,
			Category: CategoryDataQuality,
			Message:  fmt.Sprintf("only %d events in window, at least %d recommended", total, minEventsWarn),
		})
	}

	for _, et := range domain.EventTypes {
		n, ok := counts[et]
		if !ok {
			continue
		}
		ratio := float64(n) / float64(total)
		if ratio > typeDominanceRatio {
			findings = append(findings, Finding{
				Level:    LevelWarning,
				Category: CategoryDataQuality,
				Message:  fmt.Sprintf("event type %q accounts for %.0f%% of the window, results may be skewed", et, ratio*100),
				Details:  map[string]any{"event_type": string(et), "ratio": round2(ratio)},
			})
		}
	}

	featureRows, err := c.store.Features().CountRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("count feature rows: %w", err)
	}
	if featureRows == 0 {
		findings = append(findings, Finding{
			Level:    LevelWarning,
			Category: CategoryDataQuality,
			Message: fmt.Sprintf("no market feature rows in %s..%s, predictions cannot be labeled",
				from.Format("2006-01-02"), to.Format("2006-01-02")),
		})
	}
	return findings, nil
}

// CheckOverfitting compares a policy's eval history across time. A sharp
// Brier improvement in the later half, or unstable accuracy between
// periods, suggests the policy was fit to recent data.
func (c *Checker) CheckOverfitting(ctx context.Context, policyID int64) ([]Finding, error) {
	evalRuns, err := c.store.Evals().ByPolicy(ctx, policyID)
	if err != nil {
		return nil, fmt.Errorf("load eval history for policy %d: %w", policyID, err)
	}

	if len(evalRuns) < minEvalRuns {
		return []Finding{{
			Level:    LevelInfo,
			Category: CategoryOverfitting,
			Message:  fmt.Sprintf("%d eval runs recorded, %d needed for an overfitting check", len(evalRuns), minEvalRuns),
		}}, nil
	}

	var findings []Finding

	briers := make([]float64, 0, len(evalRuns))
	for _, r := range evalRuns {
		briers = append(briers, r.Brier)
	}
	if len(briers) >= minEvalRuns {
		mid := len(briers) / 2
		earlyAvg := mean(briers[:mid])
		lateAvg := mean(briers[mid:])
		if earlyAvg > 0 && (earlyAvg-lateAvg)/earlyAvg > overfitBrierDrop {
			findings = append(findings, Finding{
				Level:    LevelWarning,
				Category: CategoryOverfitting,
				Message: fmt.Sprintf("recent Brier %.3f improved over %.3f in earlier periods by more than half, possible overfit",
					lateAvg, earlyAvg),
				Details: map[string]any{
					"early_brier":     round4(earlyAvg),
					"late_brier":      round4(lateAvg),
					"improvement_pct": round1((earlyAvg - lateAvg) / earlyAvg * 100),
				},
			})
		}
	}

	accuracies := make([]float64, 0, len(evalRuns))
	for _, r := range evalRuns {
		accuracies = append(accuracies, r.Accuracy)
	}
	if len(accuracies) >= minEvalRuns {
		m := mean(accuracies)
		variance := 0.0
		for _, a := range accuracies {
			variance += (a - m) * (a - m)
		}
		variance /= float64(len(accuracies))
		if variance > accuracyVarianceLimit {
			rounded := make([]float64, len(accuracies))
			for i, a := range accuracies {
				rounded[i] = round4(a)
			}
			findings = append(findings, Finding{
				Level:    LevelWarning,
				Category: CategoryOverfitting,
				Message:  fmt.Sprintf("accuracy variance %.4f across eval periods, performance is unstable", variance),
				Details:  map[string]any{"variance": round4(variance), "accuracies": rounded},
			})
		}
	}
	return findings, nil
}

// CheckLabelIntegrity verifies that a run's predictions were labeled.
func (c *Checker) CheckLabelIntegrity(ctx context.Context, runID int64) ([]Finding, error) {
	predictions, err := c.store.Predictions().ByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load predictions for run %d: %w", runID, err)
	}
	labels, err := c.store.Labels().ByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load labels for run %d: %w", runID, err)
	}

	totalPreds := len(predictions)
	labeled := len(labels)

	var findings []Finding
	if totalPreds > 0 && labeled == 0 {
		findings = append(findings, Finding{
			Level:    LevelWarning,
			Category: CategoryLabels,
			Message:  fmt.Sprintf("run %d has %d predictions but no labels", runID, totalPreds),
		})
	} else if totalPreds > 0 {
		rate := float64(labeled) / float64(totalPreds)
		if rate < minLabelRate {
			findings = append(findings, Finding{
				Level:    LevelWarning,
				Category: CategoryLabels,
				Message:  fmt.Sprintf("label coverage is %.0f%% (%d/%d)", rate*100, labeled, totalPreds),
			})
		}
	}
	return findings, nil
}

// Params selects which checks RunAll performs. Zero values skip a check.
type Params struct {
	RunID    int64
	PolicyID int64
	Market   string
	DateFrom time.Time
	DateTo   time.Time
}

// RunAll executes every applicable check. A check that cannot run due to
// an infrastructure error degrades to an info finding so that the other
// checks still report.
func (c *Checker) RunAll(ctx context.Context, p Params) []Finding {
	var findings []Finding

	collect := func(name string, fn func() ([]Finding, error)) {
		fs, err := fn()
		if err != nil {
			logger.Warn(ctx, "Guardrail check failed", "check", name, "error", err)
			findings = append(findings, Finding{
				Level:    LevelInfo,
				Category: name,
				Message:  fmt.Sprintf("check could not run: %v", err),
			})
			return
		}
		findings = append(findings, fs...)
	}

	if p.Market != "" && !p.DateFrom.IsZero() && !p.DateTo.IsZero() {
		collect(CategoryDataQuality, func() ([]Finding, error) {
			return c.CheckDataQuality(ctx, p.Market, p.DateFrom, p.DateTo)
		})
	}
	if p.RunID != 0 {
		collect(CategoryLabels, func() ([]Finding, error) {
			return c.CheckLabelIntegrity(ctx, p.RunID)
		})
		collect(CategoryLeakage, func() ([]Finding, error) {
			return c.CheckFutureLeakage(ctx, p.RunID)
		})
	}
	if p.PolicyID != 0 {
		collect(CategoryOverfitting, func() ([]Finding, error) {
			return c.CheckOverfitting(ctx, p.PolicyID)
		})
	}

	for _, f := range findings {
		logger.Audit(ctx, f.Level, f.Category, f.Message)
	}
	return findings
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func round1(v float64) float64 { return float64(int(v*10+0.5)) / 10 }
func round2(v float64) float64 { return float64(int(v*100+0.5)) / 100 }
func round4(v float64) float64 { return float64(int(v*10000+0.5)) / 10000 }
