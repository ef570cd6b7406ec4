package memory

import (
	"context"
	"testing"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyActivateIsExclusive(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	_, err := st.Policies().Active(ctx, "KR")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	a := &domain.Policy{Name: "a", Version: "v1.0", Market: "KR"}
	b := &domain.Policy{Name: "b", Version: "v1.0", Market: "KR"}
	other := &domain.Policy{Name: "c", Version: "v1.0", Market: "US"}
	require.NoError(t, st.Policies().Insert(ctx, a))
	require.NoError(t, st.Policies().Insert(ctx, b))
	require.NoError(t, st.Policies().Insert(ctx, other))

	require.NoError(t, st.Policies().Activate(ctx, "KR", a.ID))
	require.NoError(t, st.Policies().Activate(ctx, "US", other.ID))
	require.NoError(t, st.Policies().Activate(ctx, "KR", b.ID))

	active, err := st.Policies().Active(ctx, "KR")
	require.NoError(t, err)
	assert.Equal(t, b.ID, active.ID)

	old, err := st.Policies().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive, "activation must deactivate the previous policy")

	usActive, err := st.Policies().Active(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, other.ID, usActive.ID, "activation is scoped per market")
}

func TestPolicyDuplicateNameVersion(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	require.NoError(t, st.Policies().Insert(ctx, &domain.Policy{Name: "a", Version: "v1.0", Market: "KR"}))
	err := st.Policies().Insert(ctx, &domain.Policy{Name: "a", Version: "v1.0", Market: "KR"})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	require.NoError(t, st.Policies().Insert(ctx, &domain.Policy{Name: "a", Version: "v1.1", Market: "KR"}))
}

func TestPolicyActivateWrongMarket(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	p := &domain.Policy{Name: "a", Version: "v1.0", Market: "KR"}
	require.NoError(t, st.Policies().Insert(ctx, p))
	assert.ErrorIs(t, st.Policies().Activate(ctx, "US", p.ID), storage.ErrNotFound)
}

func TestEventWindowSemantics(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	from := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)

	inside := &domain.Event{Ticker: "A", Market: "KR", EventType: domain.EventEarnings, EventTimestamp: from}
	boundary := &domain.Event{Ticker: "A", Market: "KR", EventType: domain.EventEarnings, EventTimestamp: to}
	require.NoError(t, st.Events().Insert(ctx, inside))
	require.NoError(t, st.Events().Insert(ctx, boundary))

	got, err := st.Events().ByMarketWindow(ctx, "KR", from, to)
	require.NoError(t, err)
	require.Len(t, got, 1, "the window is inclusive at the start and exclusive at the end")
	assert.Equal(t, inside.ID, got[0].ID)
}

func TestEventDuplicateSourceNews(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	e := &domain.Event{Ticker: "A", Market: "KR", SourceNewsID: 5, EventType: domain.EventOther, EventTimestamp: time.Now()}
	require.NoError(t, st.Events().Insert(ctx, e))

	dup := &domain.Event{Ticker: "A", Market: "KR", SourceNewsID: 5, EventType: domain.EventOther, EventTimestamp: time.Now()}
	assert.ErrorIs(t, st.Events().Insert(ctx, dup), storage.ErrDuplicateKey)

	inserted, err := st.Events().InsertBatch(ctx, []*domain.Event{
		{Ticker: "B", Market: "KR", SourceNewsID: 5, EventType: domain.EventOther, EventTimestamp: time.Now()},
		{Ticker: "B", Market: "KR", SourceNewsID: 6, EventType: domain.EventOther, EventTimestamp: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted, "batch insert skips duplicates and keeps going")
}

func TestEventDeleteWindowAndCounts(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	day := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, st.Events().Insert(ctx, &domain.Event{
			Ticker: "A", Market: "KR", EventType: domain.EventEarnings,
			EventTimestamp: day.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, st.Events().Insert(ctx, &domain.Event{
		Ticker: "A", Market: "KR", EventType: domain.EventDividend, EventTimestamp: day,
	}))

	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	counts, err := st.Events().CountByType(ctx, "KR", from, to)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.EventEarnings])
	assert.Equal(t, 1, counts[domain.EventDividend])

	deleted, err := st.Events().DeleteWindow(ctx, "KR", from, to)
	require.NoError(t, err)
	assert.EqualValues(t, 4, deleted)

	got, err := st.Events().ByMarketWindow(ctx, "KR", from, to)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLabelOnePerPrediction(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	p := &domain.Prediction{RunID: 1, Ticker: "A", Prediction: domain.PredictionUp}
	require.NoError(t, st.Predictions().Insert(ctx, p))

	require.NoError(t, st.Labels().Insert(ctx, &domain.Label{PredictionID: p.ID, Label: domain.PredictionUp}))
	err := st.Labels().Insert(ctx, &domain.Label{PredictionID: p.ID, Label: domain.PredictionDown})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestLabelByRunJoins(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	mine := &domain.Prediction{RunID: 1, Ticker: "A"}
	theirs := &domain.Prediction{RunID: 2, Ticker: "A"}
	require.NoError(t, st.Predictions().Insert(ctx, mine))
	require.NoError(t, st.Predictions().Insert(ctx, theirs))
	require.NoError(t, st.Labels().Insert(ctx, &domain.Label{PredictionID: mine.ID}))
	require.NoError(t, st.Labels().Insert(ctx, &domain.Label{PredictionID: theirs.ID}))

	got, err := st.Labels().ByRun(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].PredictionID)
}

func TestFeatureUpsert(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	day := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

	f := &domain.FeatureDaily{Ticker: "A", TradeDate: day, ClosePrice: domain.Ptr(100.0)}
	require.NoError(t, st.Features().Upsert(ctx, f))
	firstID := f.ID

	update := &domain.FeatureDaily{Ticker: "A", TradeDate: day, ClosePrice: domain.Ptr(105.0)}
	require.NoError(t, st.Features().Upsert(ctx, update))
	assert.Equal(t, firstID, update.ID, "upsert keeps the original row identity")

	got, err := st.Features().On(ctx, "A", day)
	require.NoError(t, err)
	assert.InDelta(t, 105.0, *got.ClosePrice, 1e-9)

	_, err = st.Features().On(ctx, "A", day.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCommitDayPersistsPairs(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	preds := []*domain.Prediction{
		{RunID: 1, Ticker: "A", Prediction: domain.PredictionUp},
		{RunID: 1, Ticker: "B", Prediction: domain.PredictionAbstain},
	}
	labels := []*domain.Label{
		{Ticker: "A", Label: domain.PredictionUp},
		nil, // second prediction has no outcome yet
	}
	require.NoError(t, st.CommitDay(ctx, preds, labels))

	gotPreds, err := st.Predictions().ByRun(ctx, 1)
	require.NoError(t, err)
	require.Len(t, gotPreds, 2)

	gotLabels, err := st.Labels().ByRun(ctx, 1)
	require.NoError(t, err)
	require.Len(t, gotLabels, 1)
	assert.Equal(t, preds[0].ID, gotLabels[0].PredictionID, "label is linked to its inserted prediction")
}

func TestCommitDayRejectsMismatchedSlices(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	err := st.CommitDay(ctx, []*domain.Prediction{{RunID: 2, Ticker: "A"}}, nil)
	require.Error(t, err)

	got, err := st.Predictions().ByRun(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, got, "a rejected commit leaves nothing behind")
}

func TestFeatureCountRange(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	from := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)

	require.NoError(t, st.Features().Upsert(ctx, &domain.FeatureDaily{Ticker: "A", TradeDate: from}))
	require.NoError(t, st.Features().Upsert(ctx, &domain.FeatureDaily{Ticker: "B", TradeDate: from.AddDate(0, 0, 1)}))
	require.NoError(t, st.Features().Upsert(ctx, &domain.FeatureDaily{Ticker: "A", TradeDate: to}))

	n, err := st.Features().CountRange(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the range is inclusive at the start and exclusive at the end")
}

func TestRunUpdateMissing(t *testing.T) {
	st := NewStore()
	err := st.Runs().Update(context.Background(), &domain.SimulationRun{ID: 99})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEvalByPolicyOrdered(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, st.Evals().Insert(ctx, &domain.EvalRun{PolicyID: 1, Brier: float64(i)}))
	}

	got, err := st.Evals().ByPolicy(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.InDelta(t, 0.0, got[0].Brier, 1e-9, "eval history comes back oldest first")
	assert.InDelta(t, 2.0, got[2].Brier, 1e-9)
}
