package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOracle struct {
	reply string
	err   error
}

func (f fakeOracle) Call(_ context.Context, _, _ string) (string, error) {
	return f.reply, f.err
}

func llmEvidence() interfaces.Evidence {
	return interfaces.Evidence{
		Ticker:         "005930",
		Events:         []domain.Event{positiveEvent("005930", time.Now().UTC())},
		PredictionDate: time.Now().UTC(),
		Horizon:        5,
	}
}

const validReply = `{
  "prediction": "Up",
  "p_up": 0.70,
  "p_down": 0.10,
  "p_flat": 0.20,
  "trade_action": "buy",
  "position_size": 0.4,
  "top_drivers": [{"feature": "Earnings", "sign": "+", "weight": 0.8, "evidence": "operating profit doubles"}],
  "invalidators": ["guidance withdrawal"],
  "reasoning": "strong beat"
}`

func TestLLMValidReply(t *testing.T) {
	f := NewLLM(fakeOracle{reply: validReply})

	result, err := f.Predict(context.Background(), llmEvidence(), defaultParams())
	require.NoError(t, err)

	assert.Equal(t, domain.PredictionUp, result.Prediction)
	assert.Equal(t, domain.ActionBuy, result.TradeAction)
	assert.InDelta(t, 0.70, result.PUp, 1e-9)
	assert.InDelta(t, 1.0, result.PUp+result.PDown+result.PFlat, 1e-6)
	require.Len(t, result.TopDrivers, 1)
}

func TestLLMProseWrappedReply(t *testing.T) {
	f := NewLLM(fakeOracle{reply: "Here is my forecast:\n```json\n" + validReply + "\n```\nGood luck."})

	result, err := f.Predict(context.Background(), llmEvidence(), defaultParams())
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionUp, result.Prediction)
}

func TestLLMUnparseableReplyAbstains(t *testing.T) {
	f := NewLLM(fakeOracle{reply: "I cannot produce JSON today."})

	result, err := f.Predict(context.Background(), llmEvidence(), defaultParams())
	require.NoError(t, err)

	assert.Equal(t, domain.PredictionAbstain, result.Prediction)
	assert.Equal(t, domain.ActionSkip, result.TradeAction)
	assert.InDelta(t, 0.33, result.PUp, 1e-9)
	assert.InDelta(t, 0.34, result.PFlat, 1e-9)
}

func TestLLMOracleErrorAbstains(t *testing.T) {
	f := NewLLM(fakeOracle{err: errors.New("rate limited")})

	result, err := f.Predict(context.Background(), llmEvidence(), defaultParams())
	require.NoError(t, err, "oracle failure degrades to Abstain, it does not fail the forecast")

	assert.Equal(t, domain.PredictionAbstain, result.Prediction)
	assert.Zero(t, result.PositionSize)
	require.Len(t, result.Invalidators, 1)
	assert.Contains(t, result.Invalidators[0], "oracle call failed")
}

func TestLLMAbstainBandEnforced(t *testing.T) {
	// Probabilities sum to 1 but no class clears the abstain band.
	f := NewLLM(fakeOracle{reply: `{"prediction":"Flat","p_up":0.40,"p_down":0.30,"p_flat":0.30,"trade_action":"hold","position_size":0.2}`})

	result, err := f.Predict(context.Background(), llmEvidence(), defaultParams())
	require.NoError(t, err)

	assert.Equal(t, domain.PredictionAbstain, result.Prediction)
	assert.Equal(t, domain.ActionSkip, result.TradeAction)
	assert.Zero(t, result.PositionSize)
}

func TestRepairRenormalizes(t *testing.T) {
	result := repair(domain.ForecastResult{
		Prediction:  domain.PredictionUp,
		PUp:         0.8,
		PDown:       0.4,
		PFlat:       0.4,
		TradeAction: domain.ActionBuy,
	})

	assert.InDelta(t, 0.5, result.PUp, 1e-4)
	assert.InDelta(t, 1.0, result.PUp+result.PDown+result.PFlat, 1e-6)
}

func TestRepairZeroProbabilities(t *testing.T) {
	result := repair(domain.ForecastResult{Prediction: domain.PredictionUp})

	assert.InDelta(t, 0.33, result.PUp, 1e-9)
	assert.InDelta(t, 0.33, result.PDown, 1e-9)
	assert.InDelta(t, 0.34, result.PFlat, 1e-9)
}

func TestRepairCoercesEnums(t *testing.T) {
	result := repair(domain.ForecastResult{
		Prediction:   "BULLISH",
		PUp:          0.6,
		PDown:        0.2,
		PFlat:        0.2,
		TradeAction:  "long",
		PositionSize: 3.5,
	})

	assert.Equal(t, domain.PredictionUp, result.Prediction, "unknown prediction coerces to the max-probability class")
	assert.Equal(t, domain.ActionSkip, result.TradeAction, "unknown action coerces to skip")
	assert.InDelta(t, 1.0, result.PositionSize, 1e-9)
	assert.NotNil(t, result.TopDrivers)
	assert.NotNil(t, result.Invalidators)
}

func TestBuildSystemPromptIncludesPolicy(t *testing.T) {
	prompt := buildSystemPrompt(defaultParams(), 5)

	assert.Contains(t, prompt, "Earnings: impact weight 0.80")
	assert.Contains(t, prompt, "buy: p_up >= 0.62")
	assert.Contains(t, prompt, "T+5 trading days")
}

func TestBuildUserMessage(t *testing.T) {
	ev := llmEvidence()
	ev.Features = &domain.FeatureDaily{Ret1D: domain.Ptr(1.2)}
	ev.Similar = []domain.SimilarEvent{{
		Event:       domain.Event{EventType: domain.EventEarnings, Title: "prior beat"},
		Similarity:  0.8,
		RealizedRet: domain.Ptr(3.1),
		Label:       domain.PredictionUp,
	}}

	msg := buildUserMessage(ev)

	assert.Contains(t, msg, "## Ticker: 005930")
	assert.Contains(t, msg, "[Earnings]")
	assert.Contains(t, msg, "1-day return: 1.20%")
	assert.Contains(t, msg, "similarity: 0.80")
	assert.Contains(t, msg, "outcome: Up")
}
