// Package forecast implements the probabilistic forecaster variants and
// their shared decision rule.
package forecast

import (
	"fmt"
	"math"

	"stockcast/internal/domain"
	"stockcast/internal/interfaces"
)

// Forecaster selection keys accepted in TemplateConfig.Forecaster.
const (
	KindLLM         = "llm"
	KindHeuristicV1 = "heuristic_v1"
	KindHeuristicV2 = "heuristic_v2"
)

// FromPolicy selects the forecaster implementation for a policy. An
// explicit Forecaster key wins; otherwise UseV2Heuristic picks v2, and v1
// is the fallback. The oracle is only required for the LLM variant.
func FromPolicy(params domain.PolicyParams, oracle interfaces.Oracle) (interfaces.Forecaster, error) {
	switch params.Template.Forecaster {
	case KindLLM:
		if oracle == nil {
			return nil, fmt.Errorf("llm forecaster requires an oracle")
		}
		return NewLLM(oracle), nil
	case KindHeuristicV2:
		return HeuristicV2{}, nil
	case KindHeuristicV1:
		return HeuristicV1{}, nil
	case "":
		if params.Template.UseV2Heuristic {
			return HeuristicV2{}, nil
		}
		return HeuristicV1{}, nil
	default:
		return nil, fmt.Errorf("unknown forecaster %q", params.Template.Forecaster)
	}
}

// noEvidenceResult is the shared empty-events fast path: a wide Flat with
// no trade.
func noEvidenceResult(reasoning string) domain.ForecastResult {
	return domain.ForecastResult{
		Prediction:   domain.PredictionFlat,
		PUp:          0.25,
		PDown:        0.25,
		PFlat:        0.50,
		TradeAction:  domain.ActionSkip,
		PositionSize: 0,
		TopDrivers:   []domain.Driver{},
		Invalidators: []string{"no events"},
		Reasoning:    reasoning,
	}
}

// decide applies the policy thresholds to a probability triple. Size is
// proportional to directional conviction above coin-flip.
func decide(pUp, pDown float64, th domain.Thresholds) (prediction, action string, size float64) {
	switch {
	case pUp >= th.BuyP:
		return domain.PredictionUp, domain.ActionBuy, math.Min(1, (pUp-0.5)*2)
	case pDown >= th.SellP:
		return domain.PredictionDown, domain.ActionSell, math.Min(1, (pDown-0.5)*2)
	case math.Max(pUp, pDown) < th.AbstainHigh:
		return domain.PredictionAbstain, domain.ActionSkip, 0
	default:
		return domain.PredictionFlat, domain.ActionHold, 0
	}
}

// prior looks up an event-type prior with the default used for unlisted types.
func prior(priors map[domain.EventType]float64, et domain.EventType) float64 {
	if v, ok := priors[et]; ok {
		return v
	}
	return 0.3
}

func directionSign(d domain.Direction) string {
	switch d {
	case domain.DirectionPositive:
		return "+"
	case domain.DirectionNegative:
		return "-"
	default:
		return "?"
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// eventDrivers builds the top-3 driver list shared by the heuristics.
func eventDrivers(events []domain.Event, priors map[domain.EventType]float64, withNovelty bool) []domain.Driver {
	drivers := []domain.Driver{}
	for i, evt := range events {
		if i >= 3 {
			break
		}
		evidence := fmt.Sprintf("direction=%s, magnitude=%.2f, credibility=%.2f",
			evt.Direction, evt.Magnitude, evt.Credibility)
		if withNovelty {
			evidence += fmt.Sprintf(", novelty=%.2f", evt.Novelty)
		}
		drivers = append(drivers, domain.Driver{
			Feature:  fmt.Sprintf("%s: %s", evt.EventType, truncate(evt.Title, 50)),
			Sign:     directionSign(evt.Direction),
			Weight:   round2(prior(priors, evt.EventType) * evt.Credibility),
			Evidence: evidence,
		})
	}
	return drivers
}
