// Package extract normalizes raw news and disclosure records into typed
// events. Collection of the raw records is out of scope; the extractor
// starts from already-fetched RawNews.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/logger"
	"stockcast/internal/storage"
	"stockcast/internal/trace"
)

// eventTypeKeywords classifies news text into the event taxonomy. First
// matching type in canonical order wins.
var eventTypeKeywords = map[domain.EventType][]string{
	domain.EventEarnings:       {"operating profit", "revenue", "net income", "earnings", "quarterly", "half-year", "annual results"},
	domain.EventGuidance:       {"guidance", "outlook", "target", "forecast"},
	domain.EventOrderWin:       {"order win", "contract award", "delivery", "supply deal"},
	domain.EventCapitalRaise:   {"capital raise", "rights issue", "share issuance", "new shares"},
	domain.EventLitigation:     {"lawsuit", "litigation", "trial", "court"},
	domain.EventRegulatory:     {"regulation", "sanction", "penalty", "fine", "approval"},
	domain.EventControlChange:  {"control change", "takeover", "management", "chief executive", "ceo"},
	domain.EventBuyback:        {"buyback", "treasury shares", "share cancellation"},
	domain.EventDividend:       {"dividend", "payout", "per share"},
	domain.EventMA:             {"merger", "m&a", "acquisition", "acquires"},
	domain.EventSupplyContract: {"supply contract", "supply agreement"},
	domain.EventRecall:         {"recall", "product withdrawal"},
}

// Result counts the outcome of one extraction pass.
type Result struct {
	Extracted int
	Skipped   int
	Errors    int
}

// Extractor turns RawNews into events and persists them.
type Extractor struct {
	events         storage.EventStore
	curatedSources map[string]bool
	closeMinutes   int // market close as minutes after midnight, market-local
	utcOffsetHours int
}

// New creates an Extractor. marketClose is "HH:MM" market-local time;
// curated sources earn the mid credibility tier.
func New(events storage.EventStore, curatedSources []string, marketClose string, utcOffsetHours int) (*Extractor, error) {
	closeMinutes, err := parseClock(marketClose)
	if err != nil {
		return nil, fmt.Errorf("parse market close: %w", err)
	}
	curated := make(map[string]bool, len(curatedSources))
	for _, s := range curatedSources {
		curated[s] = true
	}
	return &Extractor{
		events:         events,
		curatedSources: curated,
		closeMinutes:   closeMinutes,
		utcOffsetHours: utcOffsetHours,
	}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Extract converts a batch of raw news into events. Records that fail
// individually are counted and skipped, never abort the batch. When
// forceRebuild is set, existing events for the market window are deleted
// first so the window is rebuilt from scratch.
func (x *Extractor) Extract(ctx context.Context, market string, news []domain.RawNews, from, to time.Time, forceRebuild bool) (Result, error) {
	ctx, span := trace.StartSpan(ctx, "extract-events")
	defer span.End()

	var res Result

	if forceRebuild {
		deleted, err := x.events.DeleteWindow(ctx, market, from, to)
		if err != nil {
			return res, fmt.Errorf("delete events for rebuild: %w", err)
		}
		logger.Info(ctx, "Deleted existing events for rebuild", "market", market, "deleted", deleted)
	}

	logger.Info(ctx, "Extracting events", "market", market, "records", len(news))

	seen := make(map[string]bool)
	pending := 0

	for _, n := range news {
		key := dedupKey(n)
		if seen[key] {
			res.Skipped++
			continue
		}
		seen[key] = true

		if !forceRebuild && n.ID != 0 {
			_, err := x.events.BySourceNewsID(ctx, n.ID)
			if err == nil {
				res.Skipped++
				continue
			}
			if !errors.Is(err, storage.ErrNotFound) {
				logger.ErrorWithErr(ctx, "Failed to check existing event", err, "news_id", n.ID)
				res.Errors++
				continue
			}
		}

		event, err := x.buildEvent(ctx, n)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to extract event", err, "news_id", n.ID)
			res.Errors++
			continue
		}

		if err := x.events.Insert(ctx, event); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				res.Skipped++
				continue
			}
			logger.ErrorWithErr(ctx, "Failed to insert event", err, "news_id", n.ID)
			res.Errors++
			continue
		}
		res.Extracted++
		pending++

		if pending >= 100 {
			logger.Debug(ctx, "Extraction progress", "extracted", res.Extracted)
			pending = 0
		}
	}

	logger.Info(ctx, "Event extraction completed",
		"extracted", res.Extracted, "skipped", res.Skipped, "errors", res.Errors)
	return res, nil
}

func (x *Extractor) buildEvent(ctx context.Context, n domain.RawNews) (*domain.Event, error) {
	ts := n.PublishedAt
	if ts.IsZero() {
		return nil, fmt.Errorf("news %d has no published time", n.ID)
	}

	eventType := ClassifyEventType(n.Title, n.Summary)
	novelty, err := x.novelty(ctx, n.Ticker, eventType, ts)
	if err != nil {
		return nil, err
	}

	return &domain.Event{
		SourceNewsID:   n.ID,
		Ticker:         n.Ticker,
		StockName:      n.StockName,
		Market:         n.Market,
		EventType:      eventType,
		Direction:      DetermineDirection(n.SentimentScore),
		Magnitude:      Magnitude(n.NewsScore),
		Novelty:        novelty,
		Credibility:    x.Credibility(n.IsDisclosure, n.Source),
		IsDisclosure:   n.IsDisclosure,
		Title:          n.Title,
		Summary:        n.Summary,
		Source:         n.Source,
		EventTimestamp: ts,
		IsAfterMarket:  x.IsAfterMarket(ts),
	}, nil
}

// ClassifyEventType matches title+summary text against the keyword table.
func ClassifyEventType(title, summary string) domain.EventType {
	text := strings.ToLower(title)
	if summary != "" {
		text += " " + strings.ToLower(summary)
	}

	for _, et := range domain.EventTypes {
		for _, kw := range eventTypeKeywords[et] {
			if strings.Contains(text, kw) {
				return et
			}
		}
	}
	return domain.EventOther
}

// DetermineDirection bands the sentiment score into a direction.
func DetermineDirection(sentiment float64) domain.Direction {
	switch {
	case sentiment < 0.1 && sentiment > -0.1:
		return domain.DirectionUnknown
	case sentiment > 0.5:
		return domain.DirectionPositive
	case sentiment < -0.5:
		return domain.DirectionNegative
	default:
		return domain.DirectionMixed
	}
}

// Magnitude normalizes a 0..100 news score into 0..1.
func Magnitude(newsScore float64) float64 {
	m := newsScore / 100
	if m < 0 {
		return 0
	}
	if m > 1 {
		return 1
	}
	return m
}

// Credibility tiers: disclosures highest, curated sources mid, rest low.
func (x *Extractor) Credibility(isDisclosure bool, source string) float64 {
	if isDisclosure {
		return 0.9
	}
	if x.curatedSources[source] {
		return 0.6
	}
	return 0.4
}

// IsAfterMarket reports whether the timestamp falls at or after the
// market close in market-local time.
func (x *Extractor) IsAfterMarket(ts time.Time) bool {
	utc := ts.UTC()
	localHour := (utc.Hour() + x.utcOffsetHours) % 24
	if localHour < 0 {
		localHour += 24
	}
	localMinutes := localHour*60 + utc.Minute()
	return localMinutes >= x.closeMinutes
}

// novelty counts same-ticker same-type events in the trailing 7 days:
// first report 0.9, second 0.6, third and later 0.3.
func (x *Extractor) novelty(ctx context.Context, ticker string, et domain.EventType, ts time.Time) (float64, error) {
	lookback := ts.AddDate(0, 0, -7)
	priorCount, err := x.events.CountPrior(ctx, ticker, et, lookback, ts)
	if err != nil {
		return 0, fmt.Errorf("count prior events: %w", err)
	}
	switch priorCount {
	case 0:
		return 0.9, nil
	case 1:
		return 0.6, nil
	default:
		return 0.3, nil
	}
}

func dedupKey(n domain.RawNews) string {
	if n.SourceURL != "" {
		return n.SourceURL
	}
	return n.Ticker + ":" + truncate(n.Title, 50)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
