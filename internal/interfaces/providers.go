package interfaces

import (
	"context"
	"time"

	"stockcast/internal/domain"
)

// FeatureProvider serves daily market features. Returns (nil, nil) when no
// row exists for the ticker/date.
type FeatureProvider interface {
	FeaturesOn(ctx context.Context, ticker string, date time.Time) (*domain.FeatureDaily, error)
}

// SimilarityProvider retrieves historical events similar to a query event,
// restricted to strictly before asOf.
type SimilarityProvider interface {
	SimilarTo(ctx context.Context, ev domain.Event, asOf time.Time, cfg domain.RetrievalConfig) ([]domain.SimilarEvent, error)
}

// OutcomeProvider serves verified realized returns when the feature store
// has no closing prices. ok is false when no verified outcome exists.
type OutcomeProvider interface {
	VerifiedReturn(ctx context.Context, ticker string, date time.Time) (ret float64, ok bool, err error)
}
