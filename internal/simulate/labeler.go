package simulate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/interfaces"
	"stockcast/internal/storage"
)

// Labeler turns a prediction into its realized outcome. The primary path
// compares feature-store closing prices at the prediction date and the
// horizon end; when closes are missing it falls back to verified outcomes.
type Labeler struct {
	features storage.FeatureStore
	outcomes interfaces.OutcomeProvider // optional
}

// NewLabeler creates a Labeler. outcomes may be nil.
func NewLabeler(features storage.FeatureStore, outcomes interfaces.OutcomeProvider) *Labeler {
	return &Labeler{features: features, outcomes: outcomes}
}

// Label computes the outcome for one prediction, or (nil, nil) when the
// data needed to label it does not exist yet.
func (l *Labeler) Label(ctx context.Context, p *domain.Prediction, thresholdPct float64) (*domain.Label, error) {
	labelDate := AddBusinessDays(p.PredictionDate, p.Horizon)

	base, err := l.featureRow(ctx, p.Ticker, p.PredictionDate)
	if err != nil {
		return nil, err
	}
	target, err := l.featureRow(ctx, p.Ticker, labelDate)
	if err != nil {
		return nil, err
	}

	if base == nil || target == nil {
		return l.labelFromVerified(ctx, p, thresholdPct, labelDate)
	}
	if base.ClosePrice == nil || target.ClosePrice == nil || *base.ClosePrice == 0 {
		return nil, nil
	}

	realizedRet := (*target.ClosePrice - *base.ClosePrice) / *base.ClosePrice * 100

	// Excess return strips the market move over the same window
	var excessRet *float64
	if base.MarketRet != nil && target.MarketRet != nil {
		marketPeriod := *target.MarketRet - *base.MarketRet
		excessRet = domain.Ptr(round4(realizedRet - marketPeriod))
	}

	return buildLabel(p, round4(realizedRet), excessRet, thresholdPct, labelDate), nil
}

func (l *Labeler) featureRow(ctx context.Context, ticker string, date time.Time) (*domain.FeatureDaily, error) {
	f, err := l.features.On(ctx, ticker, date)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load feature row for %s: %w", ticker, err)
	}
	return f, nil
}

// labelFromVerified falls back to the verified-outcome provider when
// feature closes are unavailable. Excess return is unknown on this path.
func (l *Labeler) labelFromVerified(ctx context.Context, p *domain.Prediction, thresholdPct float64, labelDate time.Time) (*domain.Label, error) {
	if l.outcomes == nil {
		return nil, nil
	}
	ret, ok, err := l.outcomes.VerifiedReturn(ctx, p.Ticker, p.PredictionDate)
	if err != nil {
		return nil, fmt.Errorf("verified outcome lookup for %s: %w", p.Ticker, err)
	}
	if !ok {
		return nil, nil
	}
	return buildLabel(p, round4(ret), nil, thresholdPct, labelDate), nil
}

// buildLabel classifies a realized return against the threshold. Abstain
// predictions carry no correctness.
func buildLabel(p *domain.Prediction, realizedRet float64, excessRet *float64, thresholdPct float64, labelDate time.Time) *domain.Label {
	var label string
	switch {
	case realizedRet > thresholdPct:
		label = domain.PredictionUp
	case realizedRet < -thresholdPct:
		label = domain.PredictionDown
	default:
		label = domain.PredictionFlat
	}

	var isCorrect *bool
	if p.Prediction != domain.PredictionAbstain {
		isCorrect = domain.Ptr(p.Prediction == label)
	}

	return &domain.Label{
		PredictionID:   p.ID,
		Ticker:         p.Ticker,
		PredictionDate: p.PredictionDate,
		Horizon:        p.Horizon,
		RealizedRet:    realizedRet,
		ExcessRet:      excessRet,
		Label:          label,
		IsCorrect:      isCorrect,
		LabelDate:      labelDate,
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
