package forecast

import (
	"context"
	"fmt"
	"math"

	"stockcast/internal/domain"
	"stockcast/internal/interfaces"
)

// HeuristicV1 is the rule-based forecaster: direction-weighted event
// scores pushed through a piecewise probability transform. It serves as
// the fallback and comparison baseline for the LLM variant.
type HeuristicV1 struct{}

var _ interfaces.Forecaster = HeuristicV1{}

func (HeuristicV1) Predict(_ context.Context, ev interfaces.Evidence, params domain.PolicyParams) (domain.ForecastResult, error) {
	if len(ev.Events) == 0 {
		return noEvidenceResult("rule-based forecast: no events, assuming Flat"), nil
	}

	priors := params.EventPriors

	var positiveScore, negativeScore, totalWeight float64
	for _, evt := range ev.Events {
		weight := prior(priors, evt.EventType) * evt.Credibility * evt.Magnitude
		totalWeight += weight
		switch evt.Direction {
		case domain.DirectionPositive:
			positiveScore += weight
		case domain.DirectionNegative:
			negativeScore += weight
		default: // mixed/unknown
			positiveScore += weight * 0.3
			negativeScore += weight * 0.3
		}
	}
	if totalWeight == 0 {
		totalWeight = 1
	}

	// netScore is in [-1, 1]
	netScore := (positiveScore - negativeScore) / totalWeight

	const baseFlat = 0.35
	var pUp, pDown, pFlat float64
	switch {
	case netScore > 0:
		pUp = baseFlat + (1-baseFlat)*math.Min(netScore, 1)*0.6
		pDown = (1 - pUp) * 0.3
		pFlat = 1 - pUp - pDown
	case netScore < 0:
		pDown = baseFlat + (1-baseFlat)*math.Min(-netScore, 1)*0.6
		pUp = (1 - pDown) * 0.3
		pFlat = 1 - pUp - pDown
	default:
		pUp, pDown, pFlat = 0.30, 0.30, 0.40
	}

	// Clamp and renormalize
	pUp = math.Max(0.05, math.Min(0.90, pUp))
	pDown = math.Max(0.05, math.Min(0.90, pDown))
	pFlat = math.Max(0.05, 1-pUp-pDown)
	total := pUp + pDown + pFlat
	pUp /= total
	pDown /= total
	pFlat /= total

	prediction, action, size := decide(pUp, pDown, params.Thresholds)

	return domain.ForecastResult{
		Prediction:   prediction,
		PUp:          round4(pUp),
		PDown:        round4(pDown),
		PFlat:        round4(pFlat),
		TradeAction:  action,
		PositionSize: round4(size),
		TopDrivers:   eventDrivers(ev.Events, priors, false),
		Invalidators: []string{},
		Reasoning:    fmt.Sprintf("rule-based forecast: net score %.2f over %d events", netScore, len(ev.Events)),
	}, nil
}
