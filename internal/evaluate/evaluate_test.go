package evaluate

import (
	"testing"
	"time"

	"stockcast/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labeledSample(prediction, actual string, pUp, pDown, pFlat float64) Sample {
	return Sample{
		Prediction: prediction,
		PUp:        pUp,
		PDown:      pDown,
		PFlat:      pFlat,
		Actual:     actual,
		EventType:  domain.EventEarnings,
	}
}

func TestBrier(t *testing.T) {
	assert.InDelta(t, 1.0, Brier(nil), 1e-9, "empty input scores worst-possible")

	perfect := []Sample{labeledSample(domain.PredictionUp, domain.PredictionUp, 1, 0, 0)}
	assert.InDelta(t, 0.0, Brier(perfect), 1e-9)

	worst := []Sample{labeledSample(domain.PredictionDown, domain.PredictionUp, 0, 1, 0)}
	assert.InDelta(t, 2.0, Brier(worst), 1e-9)

	// (0.7-1)^2 + (0.1-0)^2 + (0.2-0)^2 = 0.09 + 0.01 + 0.04 = 0.14
	typical := []Sample{labeledSample(domain.PredictionUp, domain.PredictionUp, 0.7, 0.1, 0.2)}
	assert.InDelta(t, 0.14, Brier(typical), 1e-9)

	unlabeled := []Sample{{Prediction: domain.PredictionUp, PUp: 0.9}}
	assert.InDelta(t, 1.0, Brier(unlabeled), 1e-9, "unlabeled samples do not count")
}

func TestECE(t *testing.T) {
	assert.InDelta(t, 1.0, ECE(nil, 10), 1e-9)

	// One sample, confidence 0.85, correct: |1.0 - 0.85| = 0.15
	single := []Sample{labeledSample(domain.PredictionUp, domain.PredictionUp, 0.85, 0.05, 0.10)}
	assert.InDelta(t, 0.15, ECE(single, 10), 1e-9)

	// Same bin, one right one wrong: accuracy 0.5, avg confidence 0.85
	mixed := []Sample{
		labeledSample(domain.PredictionUp, domain.PredictionUp, 0.85, 0.05, 0.10),
		labeledSample(domain.PredictionUp, domain.PredictionDown, 0.85, 0.05, 0.10),
	}
	assert.InDelta(t, 0.35, ECE(mixed, 10), 1e-9)

	abstains := []Sample{labeledSample(domain.PredictionAbstain, domain.PredictionUp, 0.33, 0.33, 0.34)}
	assert.InDelta(t, 1.0, ECE(abstains, 10), 1e-9, "abstains are excluded")
}

func TestAccuracyF1(t *testing.T) {
	samples := []Sample{
		labeledSample(domain.PredictionUp, domain.PredictionUp, 0.7, 0.1, 0.2),
		labeledSample(domain.PredictionUp, domain.PredictionDown, 0.7, 0.1, 0.2),
		labeledSample(domain.PredictionDown, domain.PredictionDown, 0.1, 0.7, 0.2),
		labeledSample(domain.PredictionAbstain, domain.PredictionUp, 0.33, 0.33, 0.34),
	}

	accuracy, f1 := AccuracyF1(samples)
	assert.InDelta(t, 2.0/3.0, accuracy, 1e-4, "abstain excluded from the denominator")
	assert.Greater(t, f1, 0.0)
	assert.LessOrEqual(t, f1, 1.0)

	accuracy, f1 = AccuracyF1(nil)
	assert.Zero(t, accuracy)
	assert.Zero(t, f1)
}

func TestAUCBinary(t *testing.T) {
	separated := []Sample{
		labeledSample(domain.PredictionUp, domain.PredictionUp, 0.9, 0.05, 0.05),
		labeledSample(domain.PredictionUp, domain.PredictionUp, 0.8, 0.10, 0.10),
		labeledSample(domain.PredictionDown, domain.PredictionDown, 0.1, 0.7, 0.2),
		labeledSample(domain.PredictionFlat, domain.PredictionFlat, 0.2, 0.2, 0.6),
	}
	auc := AUCBinary(separated)
	require.NotNil(t, auc)
	assert.InDelta(t, 1.0, *auc, 1e-9, "perfectly separated p_up scores AUC 1")

	onlyUp := []Sample{labeledSample(domain.PredictionUp, domain.PredictionUp, 0.9, 0.05, 0.05)}
	assert.Nil(t, AUCBinary(onlyUp), "single-class input has no AUC")
}

func TestByEventType(t *testing.T) {
	samples := []Sample{
		labeledSample(domain.PredictionUp, domain.PredictionUp, 0.7, 0.1, 0.2),
		{Prediction: domain.PredictionDown, PUp: 0.1, PDown: 0.7, PFlat: 0.2, Actual: domain.PredictionDown},
	}
	// second sample has no event type
	byType := ByEventType(samples)

	require.Contains(t, byType, domain.EventEarnings)
	require.Contains(t, byType, domain.EventOther)
	assert.Equal(t, 1, byType[domain.EventEarnings].Total)
	assert.InDelta(t, 1.0, byType[domain.EventOther].Accuracy, 1e-9)
}

func TestRobustness(t *testing.T) {
	assert.Nil(t, Robustness(make([]Sample, 7)).Variance, "under 8 samples there is no quartile split")

	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	samples := make([]Sample, 8)
	for i := range samples {
		s := labeledSample(domain.PredictionUp, domain.PredictionUp, 0.7, 0.1, 0.2)
		if i >= 6 {
			s.Actual = domain.PredictionDown // last quartile all wrong
		}
		s.PredictionDate = base.AddDate(0, 0, i)
		samples[i] = s
	}

	r := Robustness(samples)
	require.NotNil(t, r.Variance)
	require.Len(t, r.SplitAccuracies, 4)
	assert.InDelta(t, 1.0, *r.MaxAccuracy, 1e-9)
	assert.InDelta(t, 0.0, *r.MinAccuracy, 1e-9)
	assert.Greater(t, *r.StdDev, 0.0)
}

func TestCompute(t *testing.T) {
	samples := []Sample{
		labeledSample(domain.PredictionUp, domain.PredictionUp, 0.7, 0.1, 0.2),
		labeledSample(domain.PredictionAbstain, domain.PredictionUp, 0.33, 0.33, 0.34),
		{Prediction: domain.PredictionFlat, PUp: 0.2, PDown: 0.2, PFlat: 0.6}, // unlabeled
	}
	samples[0].ExcessRet = domain.Ptr(2.5)

	m := Compute(samples)

	assert.Equal(t, 3, m.TotalPredictions)
	assert.Equal(t, 2, m.LabeledPredictions)
	assert.Equal(t, 1, m.AbstainCount)
	assert.InDelta(t, 1.0/3.0, m.AbstainRate, 1e-4)
	assert.InDelta(t, 1.0, m.Accuracy, 1e-9)
	require.NotNil(t, m.AvgExcessReturn)
	assert.InDelta(t, 2.5, *m.AvgExcessReturn, 1e-9)
	assert.NotEmpty(t, m.ByEventType)
}
