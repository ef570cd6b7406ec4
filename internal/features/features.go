// Package features serves daily market features from storage.
package features

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/interfaces"
	"stockcast/internal/storage"
)

// Provider adapts the feature store to the FeatureProvider interface.
// A missing row is not an error; forecasters treat nil features as
// "no market context".
type Provider struct {
	store storage.FeatureStore
}

// New creates a feature Provider.
func New(store storage.FeatureStore) *Provider {
	return &Provider{store: store}
}

var _ interfaces.FeatureProvider = (*Provider)(nil)

// FeaturesOn returns the feature row for (ticker, date), or (nil, nil)
// when none exists.
func (p *Provider) FeaturesOn(ctx context.Context, ticker string, date time.Time) (*domain.FeatureDaily, error) {
	f, err := p.store.On(ctx, ticker, date)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load features for %s: %w", ticker, err)
	}
	return f, nil
}
