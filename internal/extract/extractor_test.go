package extract

import (
	"context"
	"testing"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(t *testing.T) (*Extractor, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	x, err := New(st.Events(), []string{"Reuters", "DART"}, "15:30", 9)
	require.NoError(t, err)
	return x, st
}

func TestClassifyEventType(t *testing.T) {
	tests := []struct {
		title string
		want  domain.EventType
	}{
		{"Q2 operating profit beats estimates", domain.EventEarnings},
		{"Company raises full-year guidance", domain.EventGuidance},
		{"Wins contract award from defense ministry", domain.EventOrderWin},
		{"Board approves rights issue", domain.EventCapitalRaise},
		{"Shareholder lawsuit filed over disclosure", domain.EventLitigation},
		{"Regulator levies penalty on unit", domain.EventRegulatory},
		{"Founder family cedes control change to fund", domain.EventControlChange},
		{"Announces 1T won share buyback", domain.EventBuyback},
		{"Declares interim dividend", domain.EventDividend},
		{"Agrees to acquisition of battery maker", domain.EventMA},
		{"Signs supply agreement with automaker", domain.EventSupplyContract},
		{"Issues recall for faulty modules", domain.EventRecall},
		{"CEO comments on industry trends", domain.EventControlChange},
		{"Stock listed on new index", domain.EventOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyEventType(tt.title, ""), tt.title)
	}
}

func TestClassifyCanonicalOrder(t *testing.T) {
	// Text matching both Earnings and Guidance resolves to the earlier type.
	got := ClassifyEventType("Earnings call raises guidance", "")
	assert.Equal(t, domain.EventEarnings, got)
}

func TestDetermineDirection(t *testing.T) {
	assert.Equal(t, domain.DirectionUnknown, DetermineDirection(0.05))
	assert.Equal(t, domain.DirectionUnknown, DetermineDirection(-0.05))
	assert.Equal(t, domain.DirectionPositive, DetermineDirection(0.8))
	assert.Equal(t, domain.DirectionNegative, DetermineDirection(-0.8))
	assert.Equal(t, domain.DirectionMixed, DetermineDirection(0.3))
	assert.Equal(t, domain.DirectionMixed, DetermineDirection(-0.3))
}

func TestMagnitude(t *testing.T) {
	assert.InDelta(t, 0.75, Magnitude(75), 1e-9)
	assert.InDelta(t, 0.0, Magnitude(-5), 1e-9)
	assert.InDelta(t, 1.0, Magnitude(150), 1e-9)
}

func TestCredibility(t *testing.T) {
	x, _ := newTestExtractor(t)

	assert.InDelta(t, 0.9, x.Credibility(true, "blog"), 1e-9, "disclosures outrank any source")
	assert.InDelta(t, 0.6, x.Credibility(false, "Reuters"), 1e-9)
	assert.InDelta(t, 0.4, x.Credibility(false, "blog"), 1e-9)
}

func TestIsAfterMarket(t *testing.T) {
	x, _ := newTestExtractor(t)

	// UTC+9, close 15:30: 07:00 UTC is 16:00 local
	assert.True(t, x.IsAfterMarket(time.Date(2025, 6, 4, 7, 0, 0, 0, time.UTC)))
	// 01:00 UTC is 10:00 local
	assert.False(t, x.IsAfterMarket(time.Date(2025, 6, 4, 1, 0, 0, 0, time.UTC)))
	// 06:30 UTC is exactly 15:30 local
	assert.True(t, x.IsAfterMarket(time.Date(2025, 6, 4, 6, 30, 0, 0, time.UTC)))
}

func sampleNews(id int64, ts time.Time) domain.RawNews {
	return domain.RawNews{
		ID:             id,
		Ticker:         "005930",
		StockName:      "Samsung Electronics",
		Market:         "KR",
		Title:          "Q2 operating profit beats estimates",
		Source:         "Reuters",
		SourceURL:      "https://example.com/news/" + time.Now().Format("150405") + string(rune('a'+id)),
		SentimentScore: 0.8,
		NewsScore:      80,
		PublishedAt:    ts,
	}
}

func TestExtract(t *testing.T) {
	x, st := newTestExtractor(t)
	ctx := context.Background()

	ts := time.Date(2025, 6, 3, 1, 0, 0, 0, time.UTC)
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	news := []domain.RawNews{
		sampleNews(1, ts),
		sampleNews(2, ts.Add(time.Hour)),
		{ID: 3, Ticker: "005930", Market: "KR", Title: "no timestamp"}, // zero PublishedAt
	}
	news[1].SourceURL = news[0].SourceURL // in-batch duplicate

	res, err := x.Extract(ctx, "KR", news, from, to, false)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Extracted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Errors, "a bad record is counted, never aborts the batch")

	event, err := st.Events().BySourceNewsID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.EventEarnings, event.EventType)
	assert.Equal(t, domain.DirectionPositive, event.Direction)
	assert.InDelta(t, 0.8, event.Magnitude, 1e-9)
	assert.InDelta(t, 0.6, event.Credibility, 1e-9)
	assert.InDelta(t, 0.9, event.Novelty, 1e-9, "first report of this type is maximally novel")
	assert.False(t, event.IsAfterMarket)
}

func TestExtractIdempotent(t *testing.T) {
	x, _ := newTestExtractor(t)
	ctx := context.Background()

	ts := time.Date(2025, 6, 3, 1, 0, 0, 0, time.UTC)
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	news := []domain.RawNews{sampleNews(7, ts)}

	first, err := x.Extract(ctx, "KR", news, from, to, false)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Extracted)

	second, err := x.Extract(ctx, "KR", news, from, to, false)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Extracted)
	assert.Equal(t, 1, second.Skipped, "already-extracted news is skipped by source id")
}

func TestExtractRebuild(t *testing.T) {
	x, st := newTestExtractor(t)
	ctx := context.Background()

	ts := time.Date(2025, 6, 3, 1, 0, 0, 0, time.UTC)
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	news := []domain.RawNews{sampleNews(9, ts)}

	_, err := x.Extract(ctx, "KR", news, from, to, false)
	require.NoError(t, err)

	res, err := x.Extract(ctx, "KR", news, from, to, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Extracted, "rebuild re-extracts the window from scratch")

	events, err := st.Events().ByTickerWindow(ctx, "005930", from, to)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestNoveltyDecay(t *testing.T) {
	x, st := newTestExtractor(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 2, 1, 0, 0, 0, time.UTC)
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	for i := int64(0); i < 3; i++ {
		n := sampleNews(20+i, base.Add(time.Duration(i)*24*time.Hour))
		n.SourceURL = ""
		n.Title = n.Title + " day " + string(rune('A'+i)) // distinct dedup keys
		_, err := x.Extract(ctx, "KR", []domain.RawNews{n}, from, to, false)
		require.NoError(t, err)
	}

	events, err := st.Events().ByTickerWindow(ctx, "005930", from, to)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.InDelta(t, 0.9, events[0].Novelty, 1e-9)
	assert.InDelta(t, 0.6, events[1].Novelty, 1e-9)
	assert.InDelta(t, 0.3, events[2].Novelty, 1e-9)
}
