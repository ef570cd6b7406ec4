package forecast

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/interfaces"
)

// HeuristicV2 refines v1 with per-type multipliers, novelty weighting,
// time decay, session and credibility boosts, prediction-time event
// deduplication, a mild momentum signal from features, and a softmax
// probability transform.
type HeuristicV2 struct{}

var _ interfaces.Forecaster = HeuristicV2{}

// typeMultipliers amplify priors for event classes with stronger measured
// price impact.
var typeMultipliers = map[domain.EventType]float64{
	domain.EventEarnings:      1.5,
	domain.EventMA:            1.5,
	domain.EventControlChange: 1.3,
	domain.EventGuidance:      1.3,
	domain.EventRegulatory:    1.2,
	domain.EventOrderWin:      1.1,
}

func (HeuristicV2) Predict(_ context.Context, ev interfaces.Evidence, params domain.PolicyParams) (domain.ForecastResult, error) {
	if len(ev.Events) == 0 {
		return noEvidenceResult("rule-based forecast v2: no events, assuming Flat"), nil
	}

	priors := params.EventPriors

	// Dedup by (ticker, type), keeping the highest-magnitude event
	dedupMap := make(map[string]domain.Event)
	for _, evt := range ev.Events {
		key := evt.Ticker + "|" + string(evt.EventType)
		if existing, ok := dedupMap[key]; !ok || evt.Magnitude > existing.Magnitude {
			dedupMap[key] = evt
		}
	}
	deduped := make([]domain.Event, 0, len(dedupMap))
	for _, evt := range dedupMap {
		deduped = append(deduped, evt)
	}
	sort.Slice(deduped, func(i, j int) bool { return deduped[i].ID < deduped[j].ID })

	// Time decay reference: prediction date in backtests, now for live
	var refTime time.Time
	if ev.Live || ev.PredictionDate.IsZero() {
		refTime = time.Now().UTC()
	} else {
		refTime = domain.Date(ev.PredictionDate)
	}

	var positiveScore, negativeScore, totalWeight float64
	for _, evt := range deduped {
		p := prior(priors, evt.EventType)
		if m, ok := typeMultipliers[evt.EventType]; ok {
			p *= m
		}

		weight := p * evt.Credibility * evt.Magnitude
		weight *= 0.5 + evt.Novelty

		daysAgo := int(refTime.Sub(evt.EventTimestamp).Hours() / 24)
		if daysAgo < 0 {
			daysAgo = 0
		}
		weight *= math.Exp(-0.5 * float64(daysAgo))

		if evt.IsAfterMarket {
			weight *= 1.2
		}
		if evt.Credibility >= 0.8 {
			weight *= 1.3
		}

		totalWeight += weight
		switch evt.Direction {
		case domain.DirectionPositive:
			positiveScore += weight
		case domain.DirectionNegative:
			negativeScore += weight
		default:
			// Mixed/unknown events contribute a small net signal instead
			// of cancelling out. High-magnitude mixed events lean positive
			// (corporate action bias).
			if evt.Magnitude > 0.5 {
				positiveScore += weight * 0.4
				negativeScore += weight * 0.2
			} else {
				positiveScore += weight * 0.3
				negativeScore += weight * 0.3
			}
		}
	}

	// Momentum signal from features, a weak tiebreaker
	var featureSignal float64
	if ev.Features != nil {
		if ev.Features.Ret1D != nil {
			featureSignal = clamp(*ev.Features.Ret1D*5, -0.3, 0.3)
		} else if ev.Features.MarketRet != nil {
			featureSignal = clamp(*ev.Features.MarketRet*3, -0.2, 0.2)
		}
	}
	if math.Abs(featureSignal) > 0.01 {
		const featureWeight = 0.3
		if featureSignal > 0 {
			positiveScore += featureWeight * math.Abs(featureSignal)
		} else {
			negativeScore += featureWeight * math.Abs(featureSignal)
		}
		totalWeight += featureWeight * math.Abs(featureSignal)
	}

	if totalWeight == 0 {
		totalWeight = 1
	}

	directionScore := (positiveScore - negativeScore) / totalWeight

	// Evidence confidence saturates with total weight:
	// tw=1 -> 0.39, tw=2 -> 0.63, tw=3 -> 0.78
	evidenceConfidence := 1 - math.Exp(-totalWeight*0.5)

	netScore := directionScore * evidenceConfidence

	// Softmax transform, scale 2.0 for spread
	const scale = 2.0
	expUp := math.Exp(scale * netScore)
	expDown := math.Exp(-scale * netScore)
	const expFlat = 1.0
	totalExp := expUp + expDown + expFlat
	pUp := expUp / totalExp
	pDown := expDown / totalExp
	pFlat := expFlat / totalExp

	prediction, action, size := decide(pUp, pDown, params.Thresholds)

	return domain.ForecastResult{
		Prediction:   prediction,
		PUp:          round4(pUp),
		PDown:        round4(pDown),
		PFlat:        round4(pFlat),
		TradeAction:  action,
		PositionSize: round4(size),
		TopDrivers:   eventDrivers(deduped, priors, true),
		Invalidators: []string{},
		Reasoning: fmt.Sprintf("rule-based forecast v2: net score %.2f, evidence strength %.2f, %d events after dedup",
			netScore, evidenceConfidence, len(deduped)),
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
