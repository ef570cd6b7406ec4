package optimize

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/features"
	"stockcast/internal/retrieval"
	"stockcast/internal/simulate"
	"stockcast/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptimizer(st *memory.Store, seed int64) *Optimizer {
	labeler := simulate.NewLabeler(st.Features(), nil)
	similar := retrieval.New(st.Events(), st.Predictions(), st.Labels())
	sim := simulate.New(st, features.New(st.Features()), similar, labeler, nil, simulate.DefaultOptions())
	return New(st, sim, rand.New(rand.NewSource(seed)))
}

func seedBasePolicy(t *testing.T, st *memory.Store, activate bool) *domain.Policy {
	t.Helper()
	ctx := context.Background()
	policy := &domain.Policy{
		Name:    "baseline",
		Version: "v1.0",
		Market:  "KR",
		Params:  domain.DefaultPolicyParams(),
	}
	require.NoError(t, st.Policies().Insert(ctx, policy))
	if activate {
		require.NoError(t, st.Policies().Activate(ctx, "KR", policy.ID))
	}
	return policy
}

func TestMutatePriorsBounds(t *testing.T) {
	o := testOptimizer(memory.NewStore(), 42)
	priors := domain.DefaultPolicyParams().EventPriors

	for i := 0; i < 200; i++ {
		priors = o.mutatePriors(priors)
		for et, v := range priors {
			assert.GreaterOrEqual(t, v, 0.1, "prior for %s below floor", et)
			assert.LessOrEqual(t, v, 1.0, "prior for %s above ceiling", et)
		}
	}
}

func TestMutateThresholdsBounds(t *testing.T) {
	o := testOptimizer(memory.NewStore(), 42)
	th := domain.DefaultPolicyParams().Thresholds

	for i := 0; i < 200; i++ {
		th = o.mutateThresholds(th)
		assert.GreaterOrEqual(t, th.BuyP, 0.5)
		assert.LessOrEqual(t, th.BuyP, 0.8)
		assert.GreaterOrEqual(t, th.SellP, 0.5)
		assert.LessOrEqual(t, th.SellP, 0.8)
		assert.Less(t, th.AbstainLow, th.AbstainHigh, "abstain band must stay ordered")
		assert.GreaterOrEqual(t, th.LabelThresholdPct, 0.5)
		assert.LessOrEqual(t, th.LabelThresholdPct, 5.0)
	}
}

func TestMutateRetrievalChoices(t *testing.T) {
	o := testOptimizer(memory.NewStore(), 42)
	cfg := domain.DefaultPolicyParams().Retrieval

	validResults := map[int]bool{1: true, 2: true, 3: true, 5: true}
	validLookbacks := map[int]bool{180: true, 365: true, 730: true}

	for i := 0; i < 200; i++ {
		cfg = o.mutateRetrieval(cfg)
		assert.True(t, validResults[cfg.MaxResults], "max results %d not in choice set", cfg.MaxResults)
		assert.True(t, validLookbacks[cfg.LookbackDays], "lookback %d not in choice set", cfg.LookbackDays)
		assert.GreaterOrEqual(t, cfg.SimilarityThreshold, 0.3)
		assert.LessOrEqual(t, cfg.SimilarityThreshold, 0.7)
	}
}

func TestGenerateCandidates(t *testing.T) {
	st := memory.NewStore()
	ctx := context.Background()
	o := testOptimizer(st, 7)
	base := seedBasePolicy(t, st, false)

	candidates, err := o.GenerateCandidates(ctx, base, 3)
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	assert.Equal(t, "baseline_candidate_1", candidates[0].Name)
	assert.Equal(t, "v1.0-opt3", candidates[2].Version)
	for _, c := range candidates {
		assert.False(t, c.IsActive, "candidates start inactive")
		assert.Equal(t, "KR", c.Market)
		got, err := st.Policies().GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.Name, got.Name)
	}
}

func TestMetricOrdering(t *testing.T) {
	assert.True(t, lowerIsBetter("brier"))
	assert.True(t, lowerIsBetter("calibration"))
	assert.False(t, lowerIsBetter("accuracy"))

	assert.True(t, better("brier", 0.2, 0.3))
	assert.False(t, better("brier", 0.3, 0.3), "ties keep the incumbent")
	assert.True(t, better("accuracy", 0.7, 0.6))

	assert.True(t, math.IsInf(worstMetric("brier"), 1))
	assert.Zero(t, worstMetric("accuracy"))
}

func TestImprovementPct(t *testing.T) {
	assert.InDelta(t, 50.0, improvementPct("brier", 0.4, 0.2), 1e-9)
	assert.InDelta(t, -25.0, improvementPct("brier", 0.4, 0.5), 1e-9)
	assert.InDelta(t, 25.0, improvementPct("accuracy", 0.4, 0.5), 1e-9)
	assert.Zero(t, improvementPct("brier", math.Inf(1), math.Inf(1)))
}

func TestOptimizeKeepsBaselineOnTie(t *testing.T) {
	st := memory.NewStore()
	ctx := context.Background()
	o := testOptimizer(st, 11)
	base := seedBasePolicy(t, st, true)

	// No events anywhere: every policy scores the same worst-case Brier,
	// so nothing can beat the baseline.
	result, err := o.Run(ctx, Options{
		BasePolicyID:  base.ID,
		Market:        "KR",
		DateFrom:      time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		DateTo:        time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC),
		Horizon:       2,
		Candidates:    2,
		ValSplitRatio: 0.3,
		TargetMetric:  "brier",
	})
	require.NoError(t, err)

	assert.False(t, result.Promoted)
	assert.Equal(t, base.ID, result.BestPolicyID)
	assert.Equal(t, 3, result.CandidatesEvaluated)

	active, err := st.Policies().Active(ctx, "KR")
	require.NoError(t, err)
	assert.Equal(t, base.ID, active.ID, "the baseline stays active when nothing improves on it")
}
