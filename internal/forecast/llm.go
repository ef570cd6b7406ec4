package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"stockcast/internal/domain"
	"stockcast/internal/interfaces"
	"stockcast/internal/logger"
)

// LLM is the oracle-backed forecaster. It renders the policy into a
// system prompt, the evidence into a user message, and repairs the
// model's JSON reply into a valid ForecastResult.
type LLM struct {
	oracle interfaces.Oracle
}

// NewLLM creates an LLM forecaster over the given oracle.
func NewLLM(oracle interfaces.Oracle) *LLM {
	return &LLM{oracle: oracle}
}

var _ interfaces.Forecaster = (*LLM)(nil)

const systemPromptTemplate = `You are a financial AI that analyzes news and disclosure events to forecast stock price direction as probabilities.

## Hard rules
1. **No time leakage**: never use information dated after the event timestamps you are given.
2. **Evidence required**: every stated driver must reference an input field.
3. **Probabilities sum to 1**: p_up + p_down + p_flat = 1.0 (two decimals).
4. **Similar cases**: only past cases may be referenced.
5. **Abstain is allowed**: when uncertain, choose Abstain. Better than a forced call.

## Event-type priors
%s

## Decision rule
- buy: p_up >= %.2f
- sell: p_down >= %.2f
- skip: max(p_up, p_down) < %.2f or |p_up - p_down| < %.2f
- otherwise: hold

## Horizon
- Horizon: T+%d trading days
- Label rule: return > +%.1f%% is Up, < -%.1f%% is Down, otherwise Flat

## Output format (JSON only)
` + "```json" + `
{
  "prediction": "Up|Down|Flat|Abstain",
  "p_up": 0.00,
  "p_down": 0.00,
  "p_flat": 0.00,
  "trade_action": "buy|sell|hold|skip",
  "position_size": 0.0,
  "top_drivers": [
    {"feature": "event or indicator name", "sign": "+|-", "weight": 0.0, "evidence": "supporting input"}
  ],
  "invalidators": ["conditions that would void this forecast"],
  "reasoning": "overall judgement in 2-3 sentences"
}
` + "```"

func buildSystemPrompt(params domain.PolicyParams, horizon int) string {
	var priors strings.Builder
	for _, et := range domain.EventTypes {
		if v, ok := params.EventPriors[et]; ok {
			fmt.Fprintf(&priors, "- %s: impact weight %.2f\n", et, v)
		}
	}
	priorsText := strings.TrimRight(priors.String(), "\n")
	if priorsText == "" {
		priorsText = "- defaults apply"
	}

	th := params.Thresholds
	abstainBand := th.AbstainHigh - th.AbstainLow
	return fmt.Sprintf(systemPromptTemplate,
		priorsText, th.BuyP, th.SellP, th.AbstainHigh, abstainBand,
		horizon, th.LabelThresholdPct, th.LabelThresholdPct)
}

func buildUserMessage(ev interfaces.Evidence) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Ticker: %s\n", ev.Ticker)
	if len(ev.Events) > 0 {
		fmt.Fprintf(&b, "### Events (%d)\n", len(ev.Events))
		for i, evt := range ev.Events {
			afterMarket := "no"
			if evt.IsAfterMarket {
				afterMarket = "yes"
			}
			disclosure := "no"
			if evt.IsDisclosure {
				disclosure = "yes"
			}
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, evt.EventType, evt.Title)
			fmt.Fprintf(&b, "   - direction: %s | magnitude: %.2f | credibility: %.2f\n",
				evt.Direction, evt.Magnitude, evt.Credibility)
			fmt.Fprintf(&b, "   - time: %s | after-market: %s\n",
				evt.EventTimestamp.Format("2006-01-02T15:04:05Z07:00"), afterMarket)
			fmt.Fprintf(&b, "   - source: %s | disclosure: %s\n", evt.Source, disclosure)
			if evt.Summary != "" {
				fmt.Fprintf(&b, "   - summary: %s\n", truncate(evt.Summary, 200))
			}
		}
	} else {
		b.WriteString("### Events: none\n")
	}

	if f := ev.Features; f != nil {
		b.WriteString("\n### Market features\n")
		writeFeatureLine(&b, "1-day return", f.Ret1D)
		writeFeatureLine(&b, "3-day return", f.Ret3D)
		writeFeatureLine(&b, "5-day return", f.Ret5D)
		writeFeatureLine(&b, "20-day volatility", f.Volatility20D)
		if f.MarketRet != nil {
			fmt.Fprintf(&b, "- market return: %.2f%%\n", *f.MarketRet)
		}
	}

	if len(ev.Similar) > 0 {
		fmt.Fprintf(&b, "\n### Similar past cases (%d)\n", len(ev.Similar))
		for i, sim := range ev.Similar {
			ret := "N/A"
			if sim.RealizedRet != nil {
				ret = fmt.Sprintf("%.2f", *sim.RealizedRet)
			}
			label := sim.Label
			if label == "" {
				label = "N/A"
			}
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, sim.Event.EventType, truncate(sim.Event.Title, 80))
			fmt.Fprintf(&b, "   - similarity: %.2f | realized return: %s%% | outcome: %s\n",
				sim.Similarity, ret, label)
		}
	}

	b.WriteString("\nForecast in JSON based on the information above.")
	return b.String()
}

func writeFeatureLine(b *strings.Builder, name string, v *float64) {
	if v != nil {
		fmt.Fprintf(b, "- %s: %.2f%%\n", name, *v)
	} else {
		fmt.Fprintf(b, "- %s: N/A\n", name)
	}
}

// abstainResult is the canonical fallback when the oracle fails or its
// reply cannot be repaired.
func abstainResult(invalidator, reasoning string) domain.ForecastResult {
	return domain.ForecastResult{
		Prediction:   domain.PredictionAbstain,
		PUp:          0.33,
		PDown:        0.33,
		PFlat:        0.34,
		TradeAction:  domain.ActionSkip,
		PositionSize: 0,
		TopDrivers:   []domain.Driver{},
		Invalidators: []string{invalidator},
		Reasoning:    reasoning,
	}
}

// parseResponse unmarshals the oracle reply, retrying on the outermost
// brace-delimited block when the reply wraps the JSON in prose.
func parseResponse(raw string) (domain.ForecastResult, bool) {
	var result domain.ForecastResult
	if err := json.Unmarshal([]byte(raw), &result); err == nil {
		return result, true
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(raw[start:end+1]), &result); err == nil {
			return result, true
		}
	}
	return domain.ForecastResult{}, false
}

// repair normalizes probabilities and coerces enum fields to valid values.
func repair(result domain.ForecastResult) domain.ForecastResult {
	pUp, pDown, pFlat := result.PUp, result.PDown, result.PFlat
	if pUp == 0 && pDown == 0 && pFlat == 0 {
		pUp, pDown, pFlat = 0.33, 0.33, 0.34
	}

	total := pUp + pDown + pFlat
	if total > 0 && math.Abs(total-1) > 0.01 {
		pUp /= total
		pDown /= total
		pFlat /= total
	}

	result.PUp = round4(pUp)
	result.PDown = round4(pDown)
	result.PFlat = round4(1 - result.PUp - result.PDown)

	switch result.Prediction {
	case domain.PredictionUp, domain.PredictionDown, domain.PredictionFlat, domain.PredictionAbstain:
	default:
		maxP := math.Max(pUp, math.Max(pDown, pFlat))
		switch maxP {
		case pUp:
			result.Prediction = domain.PredictionUp
		case pDown:
			result.Prediction = domain.PredictionDown
		default:
			result.Prediction = domain.PredictionFlat
		}
	}

	switch result.TradeAction {
	case domain.ActionBuy, domain.ActionSell, domain.ActionHold, domain.ActionSkip:
	default:
		result.TradeAction = domain.ActionSkip
	}

	result.PositionSize = math.Max(0, math.Min(1, result.PositionSize))

	if result.TopDrivers == nil {
		result.TopDrivers = []domain.Driver{}
	}
	if result.Invalidators == nil {
		result.Invalidators = []string{}
	}
	return result
}

func (l *LLM) Predict(ctx context.Context, ev interfaces.Evidence, params domain.PolicyParams) (domain.ForecastResult, error) {
	system := buildSystemPrompt(params, ev.Horizon)
	user := buildUserMessage(ev)

	raw, err := l.oracle.Call(ctx, system, user)
	if err != nil {
		logger.ErrorWithErr(ctx, "Oracle call failed", err, "ticker", ev.Ticker)
		return abstainResult(
			fmt.Sprintf("oracle call failed: %s", truncate(err.Error(), 100)),
			fmt.Sprintf("abstaining after oracle error: %s", truncate(err.Error(), 200)),
		), nil
	}

	result, ok := parseResponse(raw)
	if !ok {
		logger.Warn(ctx, "Failed to parse oracle response, abstaining", "ticker", ev.Ticker)
		return abstainResult("unparseable oracle response", "abstaining, oracle response could not be parsed"), nil
	}
	result = repair(result)

	// Enforce the abstain band on the final probabilities
	if math.Max(result.PUp, result.PDown) < params.Thresholds.AbstainHigh &&
		result.Prediction != domain.PredictionAbstain {
		result.Prediction = domain.PredictionAbstain
		result.TradeAction = domain.ActionSkip
		result.PositionSize = 0
	}

	return result, nil
}
