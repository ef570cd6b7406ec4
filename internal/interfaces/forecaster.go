package interfaces

import (
	"context"
	"time"

	"stockcast/internal/domain"
)

// Evidence is everything a forecaster may look at for one (ticker, day).
// Events are the lookback-window events; Features and Similar may be nil.
type Evidence struct {
	Ticker         string
	StockName      string
	Market         string
	Events         []domain.Event
	Features       *domain.FeatureDaily
	Similar        []domain.SimilarEvent
	PredictionDate time.Time
	Horizon        int
	Live           bool
}

// Forecaster turns evidence into a probabilistic three-class forecast.
type Forecaster interface {
	Predict(ctx context.Context, ev Evidence, params domain.PolicyParams) (domain.ForecastResult, error)
}
