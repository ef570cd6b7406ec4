package simulate

import (
	"context"
	"testing"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedClose(t *testing.T, st *memory.Store, ticker string, date time.Time, close float64, marketRet *float64) {
	t.Helper()
	require.NoError(t, st.Features().Upsert(context.Background(), &domain.FeatureDaily{
		Ticker:     ticker,
		TradeDate:  date,
		Market:     "KR",
		ClosePrice: domain.Ptr(close),
		MarketRet:  marketRet,
	}))
}

func testPrediction(prediction string) *domain.Prediction {
	return &domain.Prediction{
		ID:             1,
		Ticker:         "005930",
		PredictionDate: time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC), // Wednesday
		Horizon:        2,
		Prediction:     prediction,
	}
}

func TestLabelUp(t *testing.T) {
	st := memory.NewStore()
	p := testPrediction(domain.PredictionUp)
	labelDate := AddBusinessDays(p.PredictionDate, 2) // Friday

	seedClose(t, st, "005930", p.PredictionDate, 100, nil)
	seedClose(t, st, "005930", labelDate, 105, nil)

	label, err := NewLabeler(st.Features(), nil).Label(context.Background(), p, 2.0)
	require.NoError(t, err)
	require.NotNil(t, label)

	assert.InDelta(t, 5.0, label.RealizedRet, 1e-9)
	assert.Equal(t, domain.PredictionUp, label.Label)
	require.NotNil(t, label.IsCorrect)
	assert.True(t, *label.IsCorrect)
	assert.Nil(t, label.ExcessRet, "no market returns, no excess return")
	assert.Equal(t, labelDate, label.LabelDate)
}

func TestLabelDownAndFlat(t *testing.T) {
	st := memory.NewStore()
	p := testPrediction(domain.PredictionUp)
	labelDate := AddBusinessDays(p.PredictionDate, 2)

	seedClose(t, st, "005930", p.PredictionDate, 100, nil)
	seedClose(t, st, "005930", labelDate, 96, nil)

	label, err := NewLabeler(st.Features(), nil).Label(context.Background(), p, 2.0)
	require.NoError(t, err)
	require.NotNil(t, label)
	assert.Equal(t, domain.PredictionDown, label.Label)
	assert.False(t, *label.IsCorrect)

	seedClose(t, st, "005930", labelDate, 101, nil)
	label, err = NewLabeler(st.Features(), nil).Label(context.Background(), p, 2.0)
	require.NoError(t, err)
	require.NotNil(t, label)
	assert.Equal(t, domain.PredictionFlat, label.Label, "a move inside the threshold is Flat")
}

func TestLabelAbstainHasNoCorrectness(t *testing.T) {
	st := memory.NewStore()
	p := testPrediction(domain.PredictionAbstain)
	labelDate := AddBusinessDays(p.PredictionDate, 2)

	seedClose(t, st, "005930", p.PredictionDate, 100, nil)
	seedClose(t, st, "005930", labelDate, 110, nil)

	label, err := NewLabeler(st.Features(), nil).Label(context.Background(), p, 2.0)
	require.NoError(t, err)
	require.NotNil(t, label)
	assert.Equal(t, domain.PredictionUp, label.Label)
	assert.Nil(t, label.IsCorrect, "abstain is never scored")
}

func TestLabelExcessReturn(t *testing.T) {
	st := memory.NewStore()
	p := testPrediction(domain.PredictionUp)
	labelDate := AddBusinessDays(p.PredictionDate, 2)

	seedClose(t, st, "005930", p.PredictionDate, 100, domain.Ptr(1.0))
	seedClose(t, st, "005930", labelDate, 105, domain.Ptr(3.0))

	label, err := NewLabeler(st.Features(), nil).Label(context.Background(), p, 2.0)
	require.NoError(t, err)
	require.NotNil(t, label)
	require.NotNil(t, label.ExcessRet)
	assert.InDelta(t, 3.0, *label.ExcessRet, 1e-9, "5% realized minus 2% market drift")
}

func TestLabelMissingDataReturnsNil(t *testing.T) {
	st := memory.NewStore()
	p := testPrediction(domain.PredictionUp)
	seedClose(t, st, "005930", p.PredictionDate, 100, nil)
	// horizon-end close is missing and there is no verified-outcome source

	label, err := NewLabeler(st.Features(), nil).Label(context.Background(), p, 2.0)
	require.NoError(t, err)
	assert.Nil(t, label, "unlabelable predictions stay unlabeled, not mislabeled")
}

type stubOutcomes struct {
	ret float64
	ok  bool
}

func (s stubOutcomes) VerifiedReturn(_ context.Context, _ string, _ time.Time) (float64, bool, error) {
	return s.ret, s.ok, nil
}

func TestLabelFromVerifiedFallback(t *testing.T) {
	st := memory.NewStore()
	p := testPrediction(domain.PredictionUp)

	label, err := NewLabeler(st.Features(), stubOutcomes{ret: 4.4, ok: true}).Label(context.Background(), p, 2.0)
	require.NoError(t, err)
	require.NotNil(t, label)

	assert.InDelta(t, 4.4, label.RealizedRet, 1e-9)
	assert.Equal(t, domain.PredictionUp, label.Label)
	assert.Nil(t, label.ExcessRet, "the verified path knows no market benchmark")
}
