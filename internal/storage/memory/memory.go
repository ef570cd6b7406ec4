// Package memory implements the storage interfaces in process memory.
// It backs unit tests and database-less local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/storage"
)

// Store holds all entities in maps guarded by one mutex. IDs are assigned
// from a shared counter so cross-entity IDs never collide in tests.
type Store struct {
	mu     sync.RWMutex
	nextID int64

	policies    map[int64]*domain.Policy
	events      map[int64]*domain.Event
	predictions map[int64]*domain.Prediction
	labels      map[int64]*domain.Label
	runs        map[int64]*domain.SimulationRun
	evals       map[int64]*domain.EvalRun
	features    map[string]*domain.FeatureDaily // ticker|date
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		policies:    make(map[int64]*domain.Policy),
		events:      make(map[int64]*domain.Event),
		predictions: make(map[int64]*domain.Prediction),
		labels:      make(map[int64]*domain.Label),
		runs:        make(map[int64]*domain.SimulationRun),
		evals:       make(map[int64]*domain.EvalRun),
		features:    make(map[string]*domain.FeatureDaily),
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) Policies() storage.PolicyStore        { return (*policyStore)(s) }
func (s *Store) Events() storage.EventStore           { return (*eventStore)(s) }
func (s *Store) Predictions() storage.PredictionStore { return (*predictionStore)(s) }
func (s *Store) Labels() storage.LabelStore           { return (*labelStore)(s) }
func (s *Store) Runs() storage.RunStore               { return (*runStore)(s) }
func (s *Store) Evals() storage.EvalStore             { return (*evalStore)(s) }
func (s *Store) Features() storage.FeatureStore       { return (*featureStore)(s) }
func (s *Store) Close()                               {}

// CommitDay inserts a day's predictions and labels under one lock hold,
// so a caller never observes or leaves behind a partial day.
func (s *Store) CommitDay(_ context.Context, preds []*domain.Prediction, labels []*domain.Label) error {
	if len(labels) != len(preds) {
		return fmt.Errorf("commit day: %d predictions with %d labels", len(preds), len(labels))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for i, p := range preds {
		p.ID = s.id()
		p.CreatedAt = now
		cp := *p
		s.predictions[p.ID] = &cp

		if l := labels[i]; l != nil {
			l.PredictionID = p.ID
			l.ID = s.id()
			l.CreatedAt = now
			cl := *l
			s.labels[l.ID] = &cl
		}
	}
	return nil
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func featureKey(ticker string, date time.Time) string {
	return ticker + "|" + domain.Date(date).Format("2006-01-02")
}

// --- policies ---

type policyStore Store

var _ storage.PolicyStore = (*policyStore)(nil)

func (s *policyStore) Insert(_ context.Context, p *domain.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.policies {
		if existing.Name == p.Name && existing.Version == p.Version {
			return storage.ErrDuplicateKey
		}
	}
	p.ID = (*Store)(s).id()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	s.policies[p.ID] = &cp
	return nil
}

func (s *policyStore) GetByID(_ context.Context, id int64) (*domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *policyStore) List(_ context.Context, market string) ([]*domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Policy
	for _, p := range s.policies {
		if p.Market == market {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *policyStore) Active(_ context.Context, market string) (*domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.policies {
		if p.Market == market && p.IsActive {
			cp := *p
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *policyStore) Activate(_ context.Context, market string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.policies[id]
	if !ok || target.Market != market {
		return storage.ErrNotFound
	}
	now := time.Now().UTC()
	for _, p := range s.policies {
		if p.Market == market && p.IsActive {
			p.IsActive = false
			p.UpdatedAt = now
		}
	}
	target.IsActive = true
	target.UpdatedAt = now
	return nil
}

func (s *policyStore) UpdateLatestMetrics(_ context.Context, id int64, brier, accuracy, calibration *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.LatestBrier = brier
	p.LatestAccuracy = accuracy
	p.LatestCalibration = calibration
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// --- events ---

type eventStore Store

var _ storage.EventStore = (*eventStore)(nil)

func (s *eventStore) Insert(_ context.Context, e *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.SourceNewsID != 0 {
		for _, existing := range s.events {
			if existing.SourceNewsID == e.SourceNewsID {
				return storage.ErrDuplicateKey
			}
		}
	}
	e.ID = (*Store)(s).id()
	e.CreatedAt = time.Now().UTC()
	cp := *e
	s.events[e.ID] = &cp
	return nil
}

func (s *eventStore) InsertBatch(ctx context.Context, events []*domain.Event) (int, error) {
	inserted := 0
	for _, e := range events {
		err := s.Insert(ctx, e)
		if err == storage.ErrDuplicateKey {
			continue
		}
		if err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func (s *eventStore) GetByID(_ context.Context, id int64) (*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *eventStore) BySourceNewsID(_ context.Context, newsID int64) (*domain.Event, error) {
	if newsID == 0 {
		return nil, storage.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if e.SourceNewsID == newsID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *eventStore) CountPrior(_ context.Context, ticker string, et domain.EventType, since, until time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.events {
		if e.Ticker == ticker && e.EventType == et &&
			!e.EventTimestamp.Before(since) && e.EventTimestamp.Before(until) {
			n++
		}
	}
	return n, nil
}

func (s *eventStore) ByTickerWindow(_ context.Context, ticker string, from, to time.Time) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.Ticker == ticker && !e.EventTimestamp.Before(from) && e.EventTimestamp.Before(to) {
			out = append(out, *e)
		}
	}
	sortEventsAsc(out)
	return out, nil
}

func (s *eventStore) ByMarketWindow(_ context.Context, market string, from, to time.Time) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.Market == market && !e.EventTimestamp.Before(from) && e.EventTimestamp.Before(to) {
			out = append(out, *e)
		}
	}
	sortEventsAsc(out)
	return out, nil
}

func (s *eventStore) SimilarCandidates(_ context.Context, et domain.EventType, market string, sameMarketOnly bool, from, to time.Time) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.EventType != et {
			continue
		}
		if sameMarketOnly && e.Market != market {
			continue
		}
		if e.EventTimestamp.Before(from) || !e.EventTimestamp.Before(to) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EventTimestamp.Equal(out[j].EventTimestamp) {
			return out[i].EventTimestamp.After(out[j].EventTimestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *eventStore) CountByType(_ context.Context, market string, from, to time.Time) (map[domain.EventType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[domain.EventType]int)
	for _, e := range s.events {
		if e.Market == market && !e.EventTimestamp.Before(from) && e.EventTimestamp.Before(to) {
			counts[e.EventType]++
		}
	}
	return counts, nil
}

func (s *eventStore) DeleteWindow(_ context.Context, market string, from, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, e := range s.events {
		if e.Market == market && !e.EventTimestamp.Before(from) && e.EventTimestamp.Before(to) {
			delete(s.events, id)
			deleted++
		}
	}
	return deleted, nil
}

func sortEventsAsc(events []domain.Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].EventTimestamp.Equal(events[j].EventTimestamp) {
			return events[i].EventTimestamp.Before(events[j].EventTimestamp)
		}
		return events[i].ID < events[j].ID
	})
}

// --- predictions ---

type predictionStore Store

var _ storage.PredictionStore = (*predictionStore)(nil)

func (s *predictionStore) Insert(_ context.Context, p *domain.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = (*Store)(s).id()
	p.CreatedAt = time.Now().UTC()
	cp := *p
	s.predictions[p.ID] = &cp
	return nil
}

func (s *predictionStore) GetByID(_ context.Context, id int64) (*domain.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.predictions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *predictionStore) ByRun(_ context.Context, runID int64) ([]domain.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Prediction
	for _, p := range s.predictions {
		if p.RunID == runID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PredictionDate.Equal(out[j].PredictionDate) {
			return out[i].PredictionDate.Before(out[j].PredictionDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *predictionStore) ByEventID(_ context.Context, eventID int64) (*domain.Prediction, error) {
	if eventID == 0 {
		return nil, storage.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *domain.Prediction
	for _, p := range s.predictions {
		if p.EventID != eventID {
			continue
		}
		if best == nil || p.ID > best.ID {
			best = p
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// --- labels ---

type labelStore Store

var _ storage.LabelStore = (*labelStore)(nil)

func (s *labelStore) Insert(_ context.Context, l *domain.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.labels {
		if existing.PredictionID == l.PredictionID {
			return storage.ErrDuplicateKey
		}
	}
	l.ID = (*Store)(s).id()
	l.CreatedAt = time.Now().UTC()
	cp := *l
	s.labels[l.ID] = &cp
	return nil
}

func (s *labelStore) ByPredictionID(_ context.Context, predictionID int64) (*domain.Label, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.labels {
		if l.PredictionID == predictionID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *labelStore) ByRun(_ context.Context, runID int64) ([]domain.Label, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Label
	for _, l := range s.labels {
		p, ok := s.predictions[l.PredictionID]
		if ok && p.RunID == runID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PredictionDate.Equal(out[j].PredictionDate) {
			return out[i].PredictionDate.Before(out[j].PredictionDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// --- runs ---

type runStore Store

var _ storage.RunStore = (*runStore)(nil)

func (s *runStore) Insert(_ context.Context, r *domain.SimulationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Status == "" {
		r.Status = domain.StatusPending
	}
	r.ID = (*Store)(s).id()
	r.CreatedAt = time.Now().UTC()
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *runStore) GetByID(_ context.Context, id int64) (*domain.SimulationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *runStore) Update(_ context.Context, r *domain.SimulationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *runStore) ByPolicy(_ context.Context, policyID int64) ([]*domain.SimulationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.SimulationRun
	for _, r := range s.runs {
		if r.PolicyID == policyID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// --- eval runs ---

type evalStore Store

var _ storage.EvalStore = (*evalStore)(nil)

func (s *evalStore) Insert(_ context.Context, e *domain.EvalRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = (*Store)(s).id()
	e.CreatedAt = time.Now().UTC()
	cp := *e
	s.evals[e.ID] = &cp
	return nil
}

func (s *evalStore) ByPolicy(_ context.Context, policyID int64) ([]*domain.EvalRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.EvalRun
	for _, e := range s.evals {
		if e.PolicyID == policyID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- features ---

type featureStore Store

var _ storage.FeatureStore = (*featureStore)(nil)

func (s *featureStore) Upsert(_ context.Context, f *domain.FeatureDaily) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := featureKey(f.Ticker, f.TradeDate)
	if existing, ok := s.features[key]; ok {
		f.ID = existing.ID
		f.CreatedAt = existing.CreatedAt
	} else {
		f.ID = (*Store)(s).id()
		f.CreatedAt = time.Now().UTC()
	}
	cp := *f
	s.features[key] = &cp
	return nil
}

func (s *featureStore) On(_ context.Context, ticker string, date time.Time) (*domain.FeatureDaily, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.features[featureKey(ticker, date)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *featureStore) CountRange(_ context.Context, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, f := range s.features {
		d := domain.Date(f.TradeDate)
		if !d.Before(from) && d.Before(to) {
			n++
		}
	}
	return n, nil
}
