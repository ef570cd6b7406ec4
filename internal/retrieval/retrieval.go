// Package retrieval finds historical events similar to a query event.
// Candidates are restricted to strictly before the prediction date, so
// retrieval can never leak future information into a forecast.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/interfaces"
	"stockcast/internal/storage"
)

// Provider retrieves similar events from storage and attaches realized
// outcomes from labeled predictions.
type Provider struct {
	events      storage.EventStore
	predictions storage.PredictionStore
	labels      storage.LabelStore
}

// New creates a retrieval Provider.
func New(events storage.EventStore, predictions storage.PredictionStore, labels storage.LabelStore) *Provider {
	return &Provider{events: events, predictions: predictions, labels: labels}
}

var _ interfaces.SimilarityProvider = (*Provider)(nil)

// Similarity scores how alike two events are, in [0, 1]: type match 0.5,
// direction match 0.2, magnitude closeness 0.2, credibility closeness 0.1.
func Similarity(event, candidate domain.Event) float64 {
	score := 0.0
	if event.EventType == candidate.EventType {
		score += 0.5
	}
	if event.Direction == candidate.Direction {
		score += 0.2
	}
	score += 0.2 * math.Max(0, 1-math.Abs(event.Magnitude-candidate.Magnitude))
	score += 0.1 * math.Max(0, 1-math.Abs(event.Credibility-candidate.Credibility))
	return score
}

// SimilarTo returns up to cfg.MaxResults events similar to ev, scored and
// ordered by descending similarity. Only events with timestamp in
// [asOf-lookback, asOf) are considered.
func (p *Provider) SimilarTo(ctx context.Context, ev domain.Event, asOf time.Time, cfg domain.RetrievalConfig) ([]domain.SimilarEvent, error) {
	day := domain.Date(asOf)
	lookbackStart := day.AddDate(0, 0, -cfg.LookbackDays)

	candidates, err := p.events.SimilarCandidates(ctx, ev.EventType, ev.Market, cfg.SameMarketOnly, lookbackStart, day)
	if err != nil {
		return nil, fmt.Errorf("query similar candidates: %w", err)
	}

	type scored struct {
		event      domain.Event
		similarity float64
	}
	var matches []scored
	for _, c := range candidates {
		if c.ID == ev.ID {
			continue
		}
		sim := Similarity(ev, c)
		if sim >= cfg.SimilarityThreshold {
			matches = append(matches, scored{event: c, similarity: sim})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].similarity > matches[j].similarity
	})
	if cfg.MaxResults > 0 && len(matches) > cfg.MaxResults {
		matches = matches[:cfg.MaxResults]
	}

	results := make([]domain.SimilarEvent, 0, len(matches))
	for _, m := range matches {
		se := domain.SimilarEvent{
			Event:      m.event,
			Similarity: math.Round(m.similarity*1000) / 1000,
		}
		if err := p.attachOutcome(ctx, &se); err != nil {
			return nil, err
		}
		results = append(results, se)
	}
	return results, nil
}

// attachOutcome fills in the realized return and label from the
// candidate's labeled prediction when one exists.
func (p *Provider) attachOutcome(ctx context.Context, se *domain.SimilarEvent) error {
	pred, err := p.predictions.ByEventID(ctx, se.Event.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup prediction for event %d: %w", se.Event.ID, err)
	}

	label, err := p.labels.ByPredictionID(ctx, pred.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup label for prediction %d: %w", pred.ID, err)
	}

	se.RealizedRet = domain.Ptr(label.RealizedRet)
	se.Label = label.Label
	return nil
}
